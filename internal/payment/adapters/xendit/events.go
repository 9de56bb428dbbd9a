package xendit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
)

// xenditEvent represents a Xendit webhook event
type xenditEvent struct {
	ID      string          `json:"id"`
	Event   string          `json:"event"`
	Created string          `json:"created"`
	Data    json.RawMessage `json:"data"`

	occurredAt time.Time
}

type xenditPlan struct {
	ID         string  `json:"id"`
	CustomerID string  `json:"customer_id"`
	Status     string  `json:"status"`
	Currency   string  `json:"currency"`
	Amount     float64 `json:"amount"`
	Schedule   *struct {
		Interval          string `json:"interval"`
		AnchorDate        string `json:"anchor_date"`
		NextCycleDate     string `json:"next_cycle_date"`
		CurrentCycleStart string `json:"current_cycle_start"`
	} `json:"schedule"`
	Metadata map[string]string `json:"metadata"`
	Updated  string            `json:"updated"`
}

type xenditCycle struct {
	ID           string  `json:"id"`
	PlanID       string  `json:"plan_id"`
	CustomerID   string  `json:"customer_id"`
	Status       string  `json:"status"`
	Currency     string  `json:"currency"`
	Amount       float64 `json:"amount"`
	AttemptCount int     `json:"attempt_count"`
}

type xenditPaymentMethod struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Type       string `json:"type"`
	Card       *struct {
		CardInformation struct {
			MaskedCardNumber string `json:"masked_card_number"`
			ExpiryMonth      string `json:"expiry_month"`
			ExpiryYear       string `json:"expiry_year"`
			Network          string `json:"network"`
		} `json:"card_information"`
	} `json:"card"`
}

var eventKinds = map[string]paymentdomain.EventKind{
	"recurring.plan.activated":   paymentdomain.KindSubscriptionCreated,
	"recurring.plan.updated":     paymentdomain.KindSubscriptionUpdated,
	"recurring.plan.inactivated": paymentdomain.KindSubscriptionCanceled,
	"recurring.cycle.created":    paymentdomain.KindInvoiceCreated,
	"recurring.cycle.succeeded":  paymentdomain.KindInvoicePaid,
	"recurring.cycle.failed":     paymentdomain.KindInvoicePaymentFailed,
	"recurring.cycle.retrying":   paymentdomain.KindInvoicePaymentFailed,
	"payment_method.activated":   paymentdomain.KindPaymentMethodAttached,
	"payment_method.expired":     paymentdomain.KindPaymentMethodDetached,
}

func (a *Adapter) Envelope(payload []byte) (paymentdomain.EventEnvelope, error) {
	event, err := decodeEvent(payload)
	if err != nil {
		return paymentdomain.EventEnvelope{}, err
	}
	return paymentdomain.EventEnvelope{
		ProviderEventID: event.ID,
		ProviderType:    event.Event,
		OccurredAt:      event.occurredAt,
	}, nil
}

func (a *Adapter) ParseEvent(ctx context.Context, payload []byte) (*paymentdomain.CanonicalEvent, error) {
	event, err := decodeEvent(payload)
	if err != nil {
		return nil, err
	}

	out := &paymentdomain.CanonicalEvent{
		Provider:        ProviderName,
		ProviderEventID: event.ID,
		ProviderType:    event.Event,
		Kind:            paymentdomain.KindUnrecognized,
		OrgID:           a.orgID,
		OccurredAt:      event.occurredAt,
	}

	kind, ok := eventKinds[event.Event]
	if !ok {
		return out, nil
	}
	out.Kind = kind

	switch kind.Entity() {
	case "subscription":
		var plan xenditPlan
		if err := json.Unmarshal(event.Data, &plan); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		out.Subscription, err = mapPlan(plan)
		if err == nil && kind == paymentdomain.KindSubscriptionCanceled {
			out.Subscription.Status = paymentdomain.SubscriptionStatusCanceled
			canceledAt := out.OccurredAt
			out.Subscription.CanceledAt = &canceledAt
		}
	case "invoice":
		var cycle xenditCycle
		if err := json.Unmarshal(event.Data, &cycle); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		out.Invoice, err = mapCycle(cycle, kind)
	case "payment_method":
		var pm xenditPaymentMethod
		if err := json.Unmarshal(event.Data, &pm); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		out.PaymentMethod, err = mapPaymentMethod(pm)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// decodeEvent reads the callback envelope. Callbacks without a top-level id
// are keyed by event name, object id and object update time. The event time
// falls back to the object's update time; a recognized event with neither is
// rejected.
func decodeEvent(payload []byte) (xenditEvent, error) {
	var event xenditEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return event, paymentdomain.ErrInvalidPayload
	}
	event.Event = strings.ToLower(strings.TrimSpace(event.Event))
	if event.Event == "" || len(event.Data) == 0 {
		return event, paymentdomain.ErrInvalidEvent
	}

	var object struct {
		ID      string `json:"id"`
		Updated string `json:"updated"`
		Created string `json:"created"`
	}
	objectErr := json.Unmarshal(event.Data, &object)
	if strings.TrimSpace(event.ID) == "" {
		if objectErr != nil || object.ID == "" {
			return event, paymentdomain.ErrInvalidEvent
		}
		event.ID = event.Event + ":" + object.ID + ":" + object.Updated
	}

	for _, candidate := range []string{event.Created, object.Updated, object.Created} {
		if event.occurredAt = parseTime(candidate); !event.occurredAt.IsZero() {
			break
		}
	}
	if _, known := eventKinds[event.Event]; known && event.occurredAt.IsZero() {
		return event, fmt.Errorf("%w: %s without event time", paymentdomain.ErrInvalidEvent, event.Event)
	}
	return event, nil
}

func mapPlan(plan xenditPlan) (*paymentdomain.SubscriptionData, error) {
	if plan.ID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	data := &paymentdomain.SubscriptionData{
		ProviderSubscriptionID: plan.ID,
		ProviderCustomerID:     plan.CustomerID,
		PlanCode:               plan.Metadata["plan_code"],
		ProductTier:            plan.Metadata["product_tier"],
		Status:                 planStatus(plan.Status),
	}
	if plan.Schedule != nil {
		data.Interval = interval(plan.Schedule.Interval)
		data.CurrentPeriodStart = parseTime(plan.Schedule.CurrentCycleStart)
		if data.CurrentPeriodStart.IsZero() {
			data.CurrentPeriodStart = parseTime(plan.Schedule.AnchorDate)
		}
		data.CurrentPeriodEnd = parseTime(plan.Schedule.NextCycleDate)
	}
	return data, nil
}

func planStatus(status string) paymentdomain.SubscriptionStatus {
	switch strings.ToUpper(status) {
	case "ACTIVE":
		return paymentdomain.SubscriptionStatusActive
	case "INACTIVE":
		return paymentdomain.SubscriptionStatusCanceled
	case "REQUIRES_ACTION":
		return paymentdomain.SubscriptionStatusPastDue
	default:
		return paymentdomain.SubscriptionStatusTrialing
	}
}

func interval(value string) paymentdomain.BillingInterval {
	switch strings.ToUpper(value) {
	case "DAY":
		return paymentdomain.IntervalDay
	case "WEEK":
		return paymentdomain.IntervalWeek
	case "YEAR":
		return paymentdomain.IntervalYear
	default:
		return paymentdomain.IntervalMonth
	}
}

func mapCycle(cycle xenditCycle, kind paymentdomain.EventKind) (*paymentdomain.InvoiceData, error) {
	if cycle.ID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	currency := strings.ToUpper(cycle.Currency)
	amount := minorUnits(cycle.Amount, currency)
	data := &paymentdomain.InvoiceData{
		ProviderInvoiceID:      cycle.ID,
		ProviderSubscriptionID: cycle.PlanID,
		ProviderCustomerID:     cycle.CustomerID,
		AmountDue:              amount,
		Currency:               currency,
		AttemptCount:           cycle.AttemptCount,
		Status:                 paymentdomain.InvoiceStatusOpen,
	}
	switch kind {
	case paymentdomain.KindInvoicePaid:
		data.Status = paymentdomain.InvoiceStatusPaid
		data.AmountPaid = amount
	case paymentdomain.KindInvoicePaymentFailed:
		data.Status = paymentdomain.InvoiceStatusPaymentFailed
	}
	return data, nil
}

func mapPaymentMethod(pm xenditPaymentMethod) (*paymentdomain.PaymentMethodData, error) {
	if pm.ID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	data := &paymentdomain.PaymentMethodData{
		ProviderPaymentMethodID: pm.ID,
		ProviderCustomerID:      pm.CustomerID,
		Type:                    paymentMethodType(pm.Type),
	}
	if pm.Card != nil {
		info := pm.Card.CardInformation
		data.Brand = strings.ToLower(info.Network)
		if n := len(info.MaskedCardNumber); n >= 4 {
			data.Last4 = info.MaskedCardNumber[n-4:]
		}
		data.ExpMonth = atoi(info.ExpiryMonth)
		data.ExpYear = atoi(info.ExpiryYear)
	}
	return data, nil
}

func paymentMethodType(t string) paymentdomain.PaymentMethodType {
	switch strings.ToUpper(t) {
	case "CARD":
		return paymentdomain.PaymentMethodCard
	case "DIRECT_DEBIT", "VIRTUAL_ACCOUNT":
		return paymentdomain.PaymentMethodBank
	default:
		return paymentdomain.PaymentMethodWallet
	}
}

var zeroDecimal = map[string]bool{"IDR": true, "VND": true}

// minorUnits converts Xendit's major-unit amounts into integer minor units.
func minorUnits(amount float64, currency string) int64 {
	if zeroDecimal[currency] {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}

func majorUnits(amount int64, currency string) float64 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return float64(amount)
	}
	return float64(amount) / 100
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func atoi(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return n
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	"github.com/railzwaylabs/paygate/internal/billing/domain"
	"github.com/railzwaylabs/paygate/internal/billing/reconciler"
	"github.com/railzwaylabs/paygate/internal/config"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/router"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Router     *router.Router
	Repo       domain.Repository
	Reconciler *reconciler.Reconciler
}

type Service struct {
	log        *zap.Logger
	plans      *config.PlanCatalog
	router     *router.Router
	repo       domain.Repository
	reconciler *reconciler.Reconciler
	validate   *validator.Validate
}

func New(p Params) domain.Service {
	return &Service{
		log:        p.Log.Named("billing.service"),
		plans:      p.Cfg.Plans(),
		router:     p.Router,
		repo:       p.Repo,
		reconciler: p.Reconciler,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CreateCustomerRequest) (*domain.Customer, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	requestID := requestID(req.RequestID)

	return router.Execute(ctx, s.router, router.Operation[*domain.Customer]{
		OrgID: req.OrgID,
		Type:  paymentdomain.TransactionCustomerCreate,
		Name:  "create_customer",
		Run: func(ctx context.Context, adapter paymentdomain.Adapter) (*domain.Customer, error) {
			existing, err := s.repo.FindCustomerByOrg(ctx, req.OrgID, adapter.Name())
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return existing, nil
			}

			data, err := adapter.CreateCustomer(ctx, paymentdomain.CreateCustomerRequest{
				RequestID: requestID,
				OrgID:     req.OrgID,
				Email:     strings.TrimSpace(req.Email),
				Country:   strings.ToUpper(req.Country),
				Locale:    req.Locale,
			})
			if err != nil {
				return nil, err
			}
			data.OrgID = req.OrgID
			if err := s.apply(ctx, adapter.Name(), req.OrgID, requestID, paymentdomain.KindCustomerCreated, time.Time{}, &paymentdomain.CanonicalEvent{Customer: data}); err != nil {
				return nil, err
			}
			return s.repo.FindCustomer(ctx, adapter.Name(), data.ProviderCustomerID)
		},
	})
}

func (s *Service) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	plan, ok := s.findPlan(req.PlanCode)
	if !ok {
		return nil, domain.ErrPlanNotFound
	}

	live, err := s.repo.FindLiveSubscriptionByTier(ctx, req.OrgID, plan.ProductTier)
	if err != nil {
		return nil, err
	}
	if live != nil {
		return nil, domain.ErrActiveSubscriptionExists
	}
	requestID := requestID(req.RequestID)

	return router.Execute(ctx, s.router, router.Operation[*domain.Subscription]{
		OrgID:    req.OrgID,
		Type:     paymentdomain.TransactionSubscriptionCreate,
		Name:     "create_subscription",
		Currency: plan.Currency,
		Run: func(ctx context.Context, adapter paymentdomain.Adapter) (*domain.Subscription, error) {
			provider := adapter.Name()
			price := plan.ProviderPrices[provider]
			if price == "" && plan.Amount == 0 {
				return nil, domain.ErrPriceNotMapped
			}
			customer, err := s.repo.FindCustomerByOrg(ctx, req.OrgID, provider)
			if err != nil {
				return nil, err
			}
			if customer == nil {
				return nil, domain.ErrCustomerNotFound
			}

			data, err := adapter.CreateSubscription(ctx, paymentdomain.CreateSubscriptionRequest{
				RequestID:          requestID,
				ProviderCustomerID: customer.ProviderCustomerID,
				ProviderPriceID:    price,
				PlanCode:           plan.Code,
				ProductTier:        plan.ProductTier,
				Interval:           plan.Interval,
				Amount:             plan.Amount,
				Currency:           plan.Currency,
				TrialDays:          req.TrialDays,
			})
			if err != nil {
				return nil, err
			}
			if data.PlanCode == "" {
				data.PlanCode = plan.Code
			}
			if data.ProductTier == "" {
				data.ProductTier = plan.ProductTier
			}
			if err := s.apply(ctx, provider, req.OrgID, requestID, paymentdomain.KindSubscriptionCreated, time.Time{}, &paymentdomain.CanonicalEvent{Subscription: data}); err != nil {
				return nil, err
			}
			return s.repo.FindSubscription(ctx, provider, data.ProviderSubscriptionID)
		},
	})
}

func (s *Service) CancelSubscription(ctx context.Context, req domain.CancelSubscriptionRequest) (*domain.Subscription, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	sub, err := s.subscription(ctx, req.OrgID, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status == paymentdomain.SubscriptionStatusCanceled {
		return sub, nil
	}
	requestID := requestID(req.RequestID)

	return s.subscriptionCommand(ctx, sub, paymentdomain.TransactionSubscriptionCancel, "cancel_subscription", requestID,
		func(ctx context.Context, adapter paymentdomain.Adapter) (*paymentdomain.SubscriptionData, error) {
			return adapter.CancelSubscription(ctx, paymentdomain.CancelSubscriptionRequest{
				RequestID:              requestID,
				ProviderSubscriptionID: sub.ProviderSubscriptionID,
				AtPeriodEnd:            req.AtPeriodEnd,
			})
		})
}

func (s *Service) ResumeSubscription(ctx context.Context, req domain.ResumeSubscriptionRequest) (*domain.Subscription, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	sub, err := s.subscription(ctx, req.OrgID, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status == paymentdomain.SubscriptionStatusCanceled {
		return nil, fmt.Errorf("%w: subscription %s is canceled", domain.ErrInvalidTransition, sub.ID)
	}
	requestID := requestID(req.RequestID)

	return s.subscriptionCommand(ctx, sub, paymentdomain.TransactionSubscriptionCancel, "resume_subscription", requestID,
		func(ctx context.Context, adapter paymentdomain.Adapter) (*paymentdomain.SubscriptionData, error) {
			return adapter.ResumeSubscription(ctx, paymentdomain.ResumeSubscriptionRequest{
				RequestID:              requestID,
				ProviderSubscriptionID: sub.ProviderSubscriptionID,
			})
		})
}

func (s *Service) subscriptionCommand(
	ctx context.Context,
	sub *domain.Subscription,
	txType paymentdomain.TransactionType,
	name, requestID string,
	call func(ctx context.Context, adapter paymentdomain.Adapter) (*paymentdomain.SubscriptionData, error),
) (*domain.Subscription, error) {
	return router.Execute(ctx, s.router, router.Operation[*domain.Subscription]{
		OrgID: sub.OrgID,
		Type:  txType,
		Name:  name,
		Run: func(ctx context.Context, adapter paymentdomain.Adapter) (*domain.Subscription, error) {
			if adapter.Name() != sub.Provider {
				return nil, fmt.Errorf("%w: subscription belongs to %s", paymentdomain.ErrUnsupportedTransaction, sub.Provider)
			}
			data, err := call(ctx, adapter)
			if err != nil {
				return nil, err
			}
			kind := paymentdomain.KindSubscriptionUpdated
			if data.Status == paymentdomain.SubscriptionStatusCanceled {
				kind = paymentdomain.KindSubscriptionCanceled
			}
			if err := s.apply(ctx, sub.Provider, sub.OrgID, requestID, kind, sub.EventTime, &paymentdomain.CanonicalEvent{Subscription: data}); err != nil {
				return nil, err
			}
			return s.repo.FindSubscription(ctx, sub.Provider, sub.ProviderSubscriptionID)
		},
	})
}

func (s *Service) ListSubscriptions(ctx context.Context, orgID snowflake.ID) ([]*domain.Subscription, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.ListSubscriptions(ctx, orgID)
}

func (s *Service) AddPaymentMethod(ctx context.Context, req domain.AddPaymentMethodRequest) (*domain.PaymentMethod, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	requestID := requestID(req.RequestID)

	pm, err := router.Execute(ctx, s.router, router.Operation[*domain.PaymentMethod]{
		OrgID: req.OrgID,
		Type:  paymentdomain.TransactionPaymentMethodAttach,
		Name:  "attach_payment_method",
		Run: func(ctx context.Context, adapter paymentdomain.Adapter) (*domain.PaymentMethod, error) {
			provider := adapter.Name()
			customer, err := s.repo.FindCustomerByOrg(ctx, req.OrgID, provider)
			if err != nil {
				return nil, err
			}
			if customer == nil {
				return nil, domain.ErrCustomerNotFound
			}

			data, err := adapter.AttachPaymentMethod(ctx, paymentdomain.AttachPaymentMethodRequest{
				RequestID:          requestID,
				ProviderCustomerID: customer.ProviderCustomerID,
				Token:              strings.TrimSpace(req.Token),
			})
			if err != nil {
				return nil, err
			}
			if err := s.apply(ctx, provider, req.OrgID, requestID, paymentdomain.KindPaymentMethodAttached, time.Time{}, &paymentdomain.CanonicalEvent{PaymentMethod: data}); err != nil {
				return nil, err
			}
			return s.repo.FindPaymentMethod(ctx, provider, data.ProviderPaymentMethodID)
		},
	})
	if err != nil {
		return nil, err
	}
	if pm == nil {
		return nil, domain.ErrPaymentMethodNotFound
	}
	if req.MakeDefault && !pm.IsDefault {
		return s.reconciler.SetDefaultPaymentMethod(ctx, req.OrgID, pm.ID)
	}
	return pm, nil
}

func (s *Service) SetDefaultPaymentMethod(ctx context.Context, orgID, paymentMethodID snowflake.ID) (*domain.PaymentMethod, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.reconciler.SetDefaultPaymentMethod(ctx, orgID, paymentMethodID)
}

func (s *Service) DetachPaymentMethod(ctx context.Context, req domain.DetachPaymentMethodRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	pm, err := s.repo.FindPaymentMethodByID(ctx, req.OrgID, req.PaymentMethodID)
	if err != nil {
		return err
	}
	if pm == nil || pm.Detached {
		return domain.ErrPaymentMethodNotFound
	}
	requestID := requestID(req.RequestID)

	_, err = router.Execute(ctx, s.router, router.Operation[struct{}]{
		OrgID: req.OrgID,
		Type:  paymentdomain.TransactionPaymentMethodAttach,
		Name:  "detach_payment_method",
		Run: func(ctx context.Context, adapter paymentdomain.Adapter) (struct{}, error) {
			if adapter.Name() != pm.Provider {
				return struct{}{}, fmt.Errorf("%w: payment method belongs to %s", paymentdomain.ErrUnsupportedTransaction, pm.Provider)
			}
			err := adapter.DetachPaymentMethod(ctx, paymentdomain.DetachPaymentMethodRequest{
				RequestID:               requestID,
				ProviderPaymentMethodID: pm.ProviderPaymentMethodID,
			})
			if err != nil {
				return struct{}{}, err
			}
			data := &paymentdomain.PaymentMethodData{
				ProviderPaymentMethodID: pm.ProviderPaymentMethodID,
				ProviderCustomerID:      pm.ProviderCustomerID,
				Type:                    pm.Type,
			}
			return struct{}{}, s.apply(ctx, pm.Provider, req.OrgID, requestID, paymentdomain.KindPaymentMethodDetached, pm.EventTime, &paymentdomain.CanonicalEvent{PaymentMethod: data})
		},
	})
	return err
}

func (s *Service) ListPaymentMethods(ctx context.Context, orgID snowflake.ID) ([]*domain.PaymentMethod, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.ListPaymentMethods(ctx, orgID, "")
}

func (s *Service) ListInvoices(ctx context.Context, req domain.ListInvoicesRequest) (*domain.ListInvoicesResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	items, next, err := s.repo.ListInvoices(ctx, req.OrgID, domain.InvoiceFilter{
		Status:    req.Status,
		PageSize:  req.PageSize,
		PageToken: strings.TrimSpace(req.PageToken),
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*domain.Invoice{}
	}
	return &domain.ListInvoicesResponse{Invoices: items, NextPageToken: next}, nil
}

func (s *Service) PayInvoice(ctx context.Context, req domain.PayInvoiceRequest) (*domain.Invoice, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	invoice, err := s.invoice(ctx, req.OrgID, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status == paymentdomain.InvoiceStatusPaid {
		return invoice, nil
	}
	if domain.InvoiceTerminal(invoice.Status) {
		return nil, fmt.Errorf("%w: invoice %s is %s", domain.ErrInvalidTransition, invoice.ID, invoice.Status)
	}
	requestID := requestID(req.RequestID)

	return router.Execute(ctx, s.router, router.Operation[*domain.Invoice]{
		OrgID:    req.OrgID,
		Type:     paymentdomain.TransactionPayment,
		Name:     "charge_invoice",
		Currency: invoice.Currency,
		Run: func(ctx context.Context, adapter paymentdomain.Adapter) (*domain.Invoice, error) {
			data, err := adapter.ChargeInvoice(ctx, paymentdomain.ChargeInvoiceRequest{
				RequestID:               requestID,
				ProviderInvoiceID:       invoice.ProviderInvoiceID,
				ProviderPaymentMethodID: strings.TrimSpace(req.PaymentMethodID),
			})
			if err != nil {
				return nil, err
			}
			kind := paymentdomain.KindInvoiceCreated
			switch data.Status {
			case paymentdomain.InvoiceStatusPaid:
				kind = paymentdomain.KindInvoicePaid
			case paymentdomain.InvoiceStatusPaymentFailed:
				kind = paymentdomain.KindInvoicePaymentFailed
			}
			if err := s.apply(ctx, invoice.Provider, req.OrgID, requestID, kind, invoice.EventTime, &paymentdomain.CanonicalEvent{Invoice: data}); err != nil {
				return nil, err
			}
			return s.repo.FindInvoice(ctx, invoice.Provider, invoice.ProviderInvoiceID)
		},
	})
}

// Refund is capability-gated: providers without refunds fail with
// ErrUnsupportedTransaction before any call.
func (s *Service) Refund(ctx context.Context, req domain.RefundRequest) (*paymentdomain.RefundData, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	invoice, err := s.invoice(ctx, req.OrgID, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != paymentdomain.InvoiceStatusPaid {
		return nil, fmt.Errorf("%w: invoice %s is %s", domain.ErrInvalidTransition, invoice.ID, invoice.Status)
	}
	if req.Amount > invoice.AmountPaid {
		return nil, fmt.Errorf("%w: refund exceeds amount paid", domain.ErrInvalidRequest)
	}
	requestID := requestID(req.RequestID)

	refund, err := router.Execute(ctx, s.router, router.Operation[*paymentdomain.RefundData]{
		OrgID:    req.OrgID,
		Type:     paymentdomain.TransactionRefund,
		Name:     "refund",
		Currency: invoice.Currency,
		Run: func(ctx context.Context, adapter paymentdomain.Adapter) (*paymentdomain.RefundData, error) {
			return adapter.Refund(ctx, paymentdomain.RefundRequest{
				RequestID:         requestID,
				ProviderInvoiceID: invoice.ProviderInvoiceID,
				Amount:            req.Amount,
				Reason:            req.Reason,
			})
		},
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("refund issued",
		zap.String("org_id", req.OrgID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("provider_refund_id", refund.ProviderRefundID),
		zap.Int64("amount", refund.Amount),
	)
	return refund, nil
}

func (s *Service) ListPlans(ctx context.Context) []domain.Plan {
	configured := s.plans.All()
	out := make([]domain.Plan, 0, len(configured))
	for _, p := range configured {
		out = append(out, toPlan(p))
	}
	return out
}

func (s *Service) findPlan(code string) (domain.Plan, bool) {
	code = slug.Make(code)
	for _, p := range s.plans.All() {
		plan := toPlan(p)
		if plan.Code == code {
			return plan, true
		}
	}
	return domain.Plan{}, false
}

func toPlan(p config.PlanConfig) domain.Plan {
	code := p.Code
	if code == "" {
		code = p.Name
	}
	return domain.Plan{
		Code:           slug.Make(code),
		Name:           p.Name,
		ProductTier:    strings.ToLower(strings.TrimSpace(p.ProductTier)),
		Interval:       paymentdomain.BillingInterval(strings.ToLower(p.Interval)),
		Amount:         p.Amount,
		Currency:       strings.ToUpper(p.Currency),
		ProviderPrices: p.ProviderPrices,
	}
}

// apply folds a provider response into billing state. It carries the event
// time the caller last saw for the entity (zero for new ones), so any later
// webhook still wins over it.
func (s *Service) apply(ctx context.Context, provider string, orgID snowflake.ID, requestID string, kind paymentdomain.EventKind, seen time.Time, ev *paymentdomain.CanonicalEvent) error {
	ev.Provider = provider
	ev.OrgID = orgID
	ev.Kind = kind
	ev.ProviderEventID = "api:" + requestID
	ev.ProviderType = "api." + string(kind)
	ev.OccurredAt = seen
	ev.FromAPI = true

	outcome, err := s.reconciler.Apply(ctx, ev)
	if err != nil {
		return err
	}
	s.log.Debug("provider result applied",
		zap.String("org_id", orgID.String()),
		zap.String("kind", string(kind)),
		zap.String("outcome", string(outcome)),
	)
	return nil
}

func (s *Service) subscription(ctx context.Context, orgID, id snowflake.ID) (*domain.Subscription, error) {
	sub, err := s.repo.FindSubscriptionByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) invoice(ctx context.Context, orgID, id snowflake.ID) (*domain.Invoice, error) {
	invoice, err := s.repo.FindInvoiceByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			if verrs[0].Field() == "OrgID" {
				return domain.ErrInvalidOrganization
			}
			return fmt.Errorf("%w: %s failed %s", domain.ErrInvalidRequest, strings.ToLower(verrs[0].Field()), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func requestID(value string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	return ulid.Make().String()
}

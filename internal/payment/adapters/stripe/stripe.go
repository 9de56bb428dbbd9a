package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/observability"
	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
)

const ProviderName = "stripe"

type Options struct {
	BaseURL   string
	Timeout   time.Duration
	Tolerance time.Duration
	Client    *http.Client
	Metrics   *observability.Metrics
	Now       func() time.Time
}

type Factory struct {
	opts Options
}

func NewFactory(opts Options) *Factory {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.stripe.com"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Factory{opts: opts}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) Capabilities() paymentdomain.Capabilities {
	return paymentdomain.Capabilities{
		Transactions: []paymentdomain.TransactionType{
			paymentdomain.TransactionCustomerCreate,
			paymentdomain.TransactionSubscriptionCreate,
			paymentdomain.TransactionSubscriptionCancel,
			paymentdomain.TransactionPaymentMethodAttach,
			paymentdomain.TransactionPayment,
			paymentdomain.TransactionRefund,
			paymentdomain.TransactionPayout,
		},
		Currencies: []string{"*"},
		PaymentMethodTypes: []paymentdomain.PaymentMethodType{
			paymentdomain.PaymentMethodCard,
			paymentdomain.PaymentMethodBank,
			paymentdomain.PaymentMethodWallet,
		},
	}
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	secret, ok := adapters.ReadString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	// API key is optional for webhook-only usage
	apiKey, _ := adapters.ReadString(cfg.Config, "api_key")

	return &Adapter{
		orgID:         cfg.OrgID,
		webhookSecret: secret,
		apiKey:        strings.TrimSpace(apiKey),
		tolerance:     f.opts.Tolerance,
		now:           f.opts.Now,
		caps:          f.Capabilities(),
		transport: &adapters.Transport{
			Provider: ProviderName,
			BaseURL:  strings.TrimRight(f.opts.BaseURL, "/"),
			Timeout:  f.opts.Timeout,
			Client:   f.opts.Client,
			Metrics:  f.opts.Metrics,
		},
	}, nil
}

type Adapter struct {
	orgID         snowflake.ID
	webhookSecret string
	apiKey        string
	tolerance     time.Duration
	now           func() time.Time
	caps          paymentdomain.Capabilities
	transport     *adapters.Transport
}

func (a *Adapter) Name() string { return ProviderName }

func (a *Adapter) Capabilities() paymentdomain.Capabilities { return a.caps }

func (a *Adapter) VerifySignature(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrSignatureInvalid
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrSignatureInvalid
	}

	if a.tolerance > 0 {
		unix, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return paymentdomain.ErrSignatureInvalid
		}
		skew := a.now().Sub(time.Unix(unix, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > a.tolerance {
			return paymentdomain.ErrSignatureInvalid
		}
	}

	expected := Sign(a.webhookSecret, timestamp, payload)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrSignatureInvalid
}

// Sign computes the v1 signature for a payload signed at timestamp.
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}

package xendit

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/observability"
	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
)

const ProviderName = "xendit"

type Options struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
	Metrics *observability.Metrics
}

// Factory creates Xendit adapters
type Factory struct {
	opts Options
}

func NewFactory(opts Options) *Factory {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.xendit.co"
	}
	return &Factory{opts: opts}
}

func (f *Factory) Provider() string {
	return ProviderName
}

// Capabilities omits refunds and one-off charges; recurring cycles are
// retried by Xendit itself.
func (f *Factory) Capabilities() paymentdomain.Capabilities {
	return paymentdomain.Capabilities{
		Transactions: []paymentdomain.TransactionType{
			paymentdomain.TransactionCustomerCreate,
			paymentdomain.TransactionSubscriptionCreate,
			paymentdomain.TransactionSubscriptionCancel,
			paymentdomain.TransactionPaymentMethodAttach,
		},
		Currencies: []string{"IDR", "PHP", "THB", "VND", "MYR", "SGD"},
		PaymentMethodTypes: []paymentdomain.PaymentMethodType{
			paymentdomain.PaymentMethodCard,
			paymentdomain.PaymentMethodBank,
			paymentdomain.PaymentMethodWallet,
		},
	}
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	webhookSecret, ok := adapters.ReadString(cfg.Config, "webhook_secret")
	if !ok || strings.TrimSpace(webhookSecret) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	apiKey, ok := adapters.ReadString(cfg.Config, "api_key")
	if !ok || strings.TrimSpace(apiKey) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	return &Adapter{
		orgID:         cfg.OrgID,
		webhookSecret: strings.TrimSpace(webhookSecret),
		apiKey:        strings.TrimSpace(apiKey),
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

// Adapter implements paymentdomain.Adapter for Xendit recurring plans
type Adapter struct {
	orgID         snowflake.ID
	webhookSecret string
	apiKey        string
	caps          paymentdomain.Capabilities
	transport     *adapters.Transport
}

func (a *Adapter) Name() string { return ProviderName }

func (a *Adapter) Capabilities() paymentdomain.Capabilities { return a.caps }

// VerifySignature checks the X-Callback-Token header against the configured
// verification token.
func (a *Adapter) VerifySignature(ctx context.Context, payload []byte, headers http.Header) error {
	callbackToken := strings.TrimSpace(headers.Get("X-Callback-Token"))
	if callbackToken == "" {
		return paymentdomain.ErrSignatureInvalid
	}

	if subtle.ConstantTimeCompare([]byte(callbackToken), []byte(a.webhookSecret)) != 1 {
		return paymentdomain.ErrSignatureInvalid
	}

	return nil
}

package adapters

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/railzwaylabs/paygate/internal/observability"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
)

const maxErrorBody = 4 << 10

// Transport performs provider API calls with a bounded timeout and converts
// every failure into a *domain.ProviderError.
type Transport struct {
	Provider string
	BaseURL  string
	Timeout  time.Duration
	Client   *http.Client
	Metrics  *observability.Metrics
}

type Request struct {
	Operation      string
	Method         string
	Path           string
	Body           io.Reader
	ContentType    string
	IdempotencyKey string
	Authorize      func(*http.Request)
}

// IdempotencyKey derives a stable provider-side key from the internal request
// id, so a retried call can never create a second provider resource.
func IdempotencyKey(provider, operation, requestID string) string {
	sum := sha256.Sum256([]byte(provider + ":" + operation + ":" + requestID))
	return hex.EncodeToString(sum[:16])
}

func (t *Transport) Do(ctx context.Context, req Request, out any) error {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, t.BaseURL+req.Path, req.Body)
	if err != nil {
		return t.fail(req.Operation, "invalid_request", err.Error(), 0, false, err)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	if req.Authorize != nil {
		req.Authorize(httpReq)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	started := time.Now()
	resp, err := client.Do(httpReq)
	t.observe(req.Operation, started, resp, err)
	if err != nil {
		return t.fail(req.Operation, networkCode(err), err.Error(), 0, true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		code, message := decodeProviderError(body)
		return t.fail(req.Operation, code, message, resp.StatusCode, retryableStatus(resp.StatusCode), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return t.fail(req.Operation, "invalid_response", err.Error(), resp.StatusCode, false, err)
	}
	return nil
}

// JSONBody marshals v for a request body.
func JSONBody(v any) (io.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(raw), nil
}

func (t *Transport) fail(operation, code, message string, status int, retryable bool, err error) error {
	return &domain.ProviderError{
		Provider:   t.Provider,
		Operation:  operation,
		Code:       code,
		Message:    message,
		StatusCode: status,
		Retryable:  retryable,
		Err:        err,
	}
}

func (t *Transport) observe(operation string, started time.Time, resp *http.Response, err error) {
	if t.Metrics == nil {
		return
	}
	status := "error"
	if err == nil && resp != nil {
		status = fmt.Sprintf("%dxx", resp.StatusCode/100)
	}
	t.Metrics.ProviderCalls.WithLabelValues(t.Provider, operation, status).Inc()
	t.Metrics.ProviderDuration.WithLabelValues(t.Provider, operation).Observe(time.Since(started).Seconds())
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusConflict || status >= 500
}

func networkCode(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "network_error"
}

// decodeProviderError understands both {"error":{"code":..,"message":..}}
// and flat {"error_code":..,"message":..} bodies.
func decodeProviderError(body []byte) (string, string) {
	var nested struct {
		Error struct {
			Code    string `json:"code"`
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && (nested.Error.Code != "" || nested.Error.Type != "") {
		code := nested.Error.Code
		if code == "" {
			code = nested.Error.Type
		}
		return code, nested.Error.Message
	}

	var flat struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.ErrorCode != "" {
		return flat.ErrorCode, flat.Message
	}
	return "provider_error", string(body)
}

// ReadString reads a string value from a decrypted provider config.
func ReadString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

package domain

import (
	"context"
	"net/http"
)

// IngestResult describes an accepted delivery.
type IngestResult struct {
	Provider        string
	ProviderEventID string
	Duplicate       bool
	Unrecognized    bool
	Deferred        bool
	Status          WebhookStatus
}

type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*IngestResult, error)
	Replay(ctx context.Context, provider, providerEventID string) (*IngestResult, error)
}

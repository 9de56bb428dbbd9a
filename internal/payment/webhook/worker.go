package webhook

import (
	"github.com/nats-io/nats.go"
	"github.com/railzwaylabs/paygate/internal/events"
	"go.uber.org/zap"
)

// Worker consumes reconcile requests published by IngestWebhook in async mode.
type Worker struct {
	svc *Service
	bus *events.Bus
	log *zap.Logger
	sub *nats.Subscription
}

func NewWorker(svc *Service, bus *events.Bus, log *zap.Logger) *Worker {
	return &Worker{svc: svc, bus: bus, log: log.Named("payment.webhook.worker")}
}

func (w *Worker) Start() error {
	if !w.svc.async {
		return nil
	}
	sub, err := w.bus.SubscribeReconcile(w.svc.ProcessDeferred)
	if err != nil {
		return err
	}
	w.sub = sub
	w.log.Info("reconcile worker subscribed", zap.String("subject", w.bus.ReconcileSubject()))
	return nil
}

func (w *Worker) Stop() error {
	if w.sub == nil {
		return nil
	}
	return w.sub.Drain()
}

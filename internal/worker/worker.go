package worker

import (
	"context"
	"time"

	"swiftride/internal/models"

	"go.uber.org/zap"
)

// Store is the sweep surface: fail orders whose payment window lapsed and
// hand back the swept rows.
type Store interface {
	FailExpired(ctx context.Context, now time.Time) ([]models.Order, error)
}

// Notifier announces status changes for swept orders and retries
// undelivered notifications.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, order *models.Order)
	Redeliver(ctx context.Context, limit int) error
}

// Worker runs the periodic sweeps: expiring unpaid orders and redelivering
// notifications. Everything it does is idempotent, so overlapping runs after
// a slow tick are harmless.
type Worker struct {
	Store       Store
	Notifier    Notifier
	Interval    time.Duration
	NotifyBatch int
	Log         *zap.Logger
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		if err := w.SweepOnce(ctx); err != nil {
			w.Log.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) SweepOnce(ctx context.Context) error {
	expired, err := w.Store.FailExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if len(expired) > 0 {
		w.Log.Info("expired unpaid orders failed", zap.Int("count", len(expired)))
	}

	if w.Notifier == nil {
		return nil
	}
	for i := range expired {
		w.Notifier.OrderStatusChanged(ctx, &expired[i])
	}
	return w.Notifier.Redeliver(ctx, w.NotifyBatch)
}

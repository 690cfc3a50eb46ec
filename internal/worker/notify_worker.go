// Package worker delivers owner statements off the request path.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"backoffice/internal/amqp"
	"backoffice/internal/core"
	"backoffice/internal/export"
)

// Notifier archives and emails one owner statement.
type Notifier interface {
	NotifyOwner(ctx context.Context, key core.PropertyMonth) (export.SendResult, error)
}

type StatusLister interface {
	GetStatuses(ctx context.Context, year, month int) ([]core.MonthEndStatus, error)
}

// NotifyWorker consumes owner notifications and periodically sweeps for
// completed months whose owner was never emailed.
type NotifyWorker struct {
	notifier Notifier
	statuses StatusLister
	lookback int
	now      func() time.Time
}

// NewNotifyWorker sweeps the current month and lookback months before it.
func NewNotifyWorker(notifier Notifier, statuses StatusLister, lookback int) *NotifyWorker {
	if lookback < 0 {
		lookback = 0
	}
	return &NotifyWorker{notifier: notifier, statuses: statuses, lookback: lookback, now: time.Now}
}

// HandleOwnerNotification processes one message. It returns an error only
// when a retry could succeed; the consumer then requeues the message.
func (w *NotifyWorker) HandleOwnerNotification(ctx context.Context, msg *amqp.OwnerNotificationMessage) error {
	slog.InfoContext(ctx, "Processing owner notification",
		"message_id", msg.ID,
		"property_id", msg.PropertyID,
		"year", msg.Year,
		"month", msg.Month)

	_, err := w.notify(ctx, msg.Key())
	return err
}

func (w *NotifyWorker) notify(ctx context.Context, key core.PropertyMonth) (bool, error) {
	res, err := w.notifier.NotifyOwner(ctx, key)
	switch {
	case err == nil:
		if !res.Sent {
			slog.InfoContext(ctx, "Owner email not sent",
				"property_id", key.PropertyID,
				"year", key.Year,
				"month", key.Month,
				"reason", res.Reason)
		}
		return res.Sent, nil
	case core.IsKind(err, core.KindConflict):
		slog.InfoContext(ctx, "Owner already notified, skipping",
			"property_id", key.PropertyID, "year", key.Year, "month", key.Month)
		return false, nil
	case core.IsKind(err, core.KindValidation), core.IsKind(err, core.KindNotFound):
		slog.WarnContext(ctx, "Dropping owner notification",
			"property_id", key.PropertyID, "year", key.Year, "month", key.Month, "error", err)
		return false, nil
	}
	return false, fmt.Errorf("notify owner of %s: %w", key, err)
}

// ProcessPending notifies owners of completed months that were never
// emailed, covering messages lost while the worker was down.
func (w *NotifyWorker) ProcessPending(ctx context.Context) error {
	now := w.now()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var pending, sent, failed int
	for i := 0; i <= w.lookback; i++ {
		m := first.AddDate(0, -i, 0)
		statuses, err := w.statuses.GetStatuses(ctx, m.Year(), int(m.Month()))
		if err != nil {
			return fmt.Errorf("list statuses for %s: %w", m.Format("2006-01"), err)
		}
		for _, st := range statuses {
			if st.Status != core.StatusComplete || st.OwnerEmailSent {
				continue
			}
			pending++
			ok, err := w.notify(ctx, st.Key())
			if err != nil {
				slog.ErrorContext(ctx, "Failed to notify owner", "property_id", st.PropertyID, "error", err)
				failed++
				continue
			}
			if ok {
				sent++
			}
		}
	}

	if pending > 0 {
		slog.InfoContext(ctx, "Pending owner notifications processed",
			"pending", pending,
			"sent", sent,
			"errors", failed)
	}
	return nil
}

// Run sweeps once immediately and then every interval until ctx is done.
func (w *NotifyWorker) Run(ctx context.Context, interval time.Duration) {
	if err := w.ProcessPending(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup notification sweep failed", "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ProcessPending(ctx); err != nil {
				slog.ErrorContext(ctx, "Periodic notification sweep failed", "error", err)
			}
		}
	}
}

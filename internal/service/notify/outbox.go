package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"Guardrail/internal/domain/models"
	domrepo "Guardrail/internal/domain/repository"
	"Guardrail/pkg/queue"
)

const notificationType = "kill_notification"

// Outbox queues notifications for asynchronous delivery. A kill is already
// durable in the ledger when Notify runs, so only the fan-out is deferred.
type Outbox struct {
	q queue.Enqueuer
}

var _ domrepo.Notifier = (*Outbox)(nil)

func NewOutbox(q queue.Enqueuer) *Outbox {
	return &Outbox{q: q}
}

func (o *Outbox) Notify(ctx context.Context, k models.KillNotification) error {
	if err := o.q.Enqueue(ctx, notificationType, k); err != nil {
		return fmt.Errorf("queue notification: %w", err)
	}
	return nil
}

// Delivery is the queue job that hands queued notifications to next.
type Delivery struct {
	next domrepo.Notifier
}

var _ queue.Job = (*Delivery)(nil)

func NewDelivery(next domrepo.Notifier) *Delivery {
	return &Delivery{next: next}
}

func (d *Delivery) Type() string { return notificationType }

func (d *Delivery) Handle(ctx context.Context, payload json.RawMessage) error {
	k, err := queue.Decode[models.KillNotification](payload)
	if err != nil {
		return err
	}
	return d.next.Notify(ctx, k)
}

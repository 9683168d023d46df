package notify

import (
	"context"
	"fmt"

	"Guardrail/internal/domain/models"
	domrepo "Guardrail/internal/domain/repository"
	pkgkafka "Guardrail/pkg/kafka"
)

// Kafka publishes notifications to a topic keyed by scope.
type Kafka struct {
	pub   pkgkafka.Publisher
	topic string
}

var _ domrepo.Notifier = (*Kafka)(nil)

func NewKafka(pub pkgkafka.Publisher, topic string) *Kafka {
	return &Kafka{pub: pub, topic: topic}
}

func (n *Kafka) Notify(ctx context.Context, k models.KillNotification) error {
	if err := n.pub.Publish(ctx, n.topic, []byte(k.Record.Scope), k); err != nil {
		return fmt.Errorf("notify kafka: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"fmt"

	"Guardrail/internal/domain/models"
	domrepo "Guardrail/internal/domain/repository"
	pkgkafka "Guardrail/pkg/kafka"
)

// KafkaRecordSink streams every appended kill record to an audit topic,
// keyed by scope so records of one scope stay ordered on one partition.
type KafkaRecordSink struct {
	pub   pkgkafka.Publisher
	topic string
}

var _ domrepo.RecordSink = (*KafkaRecordSink)(nil)

func NewKafkaRecordSink(pub pkgkafka.Publisher, topic string) *KafkaRecordSink {
	return &KafkaRecordSink{pub: pub, topic: topic}
}

func (s *KafkaRecordSink) Emit(ctx context.Context, r models.KillFlagRecord) error {
	if err := s.pub.Publish(ctx, s.topic, []byte(r.Scope), r); err != nil {
		return fmt.Errorf("emit kill record %d: %w", r.Sequence, err)
	}
	return nil
}

package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Guardrail/internal/domain/models"
	domrepo "Guardrail/internal/domain/repository"
	"Guardrail/internal/services/killledger"
	pkgkafka "Guardrail/pkg/kafka"
	"Guardrail/pkg/logger"
)

// KillCreator is the ledger operation kill requests end up in.
type KillCreator interface {
	Create(ctx context.Context, req models.KillRequest) (models.KillFlagRecord, error)
}

// KillRequestHandler consumes kill requests published by other processes
// and appends them to the ledger.
type KillRequestHandler struct {
	topic    string
	ledger   KillCreator
	notifier domrepo.Notifier
	metrics  domrepo.Metrics
	log      *logger.Logger
}

func NewKillRequestHandler(topic string, ledger KillCreator, notifier domrepo.Notifier, metrics domrepo.Metrics, log *logger.Logger) *KillRequestHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &KillRequestHandler{topic: topic, ledger: ledger, notifier: notifier, metrics: metrics, log: log}
}

func (h *KillRequestHandler) Topic() string { return h.topic }

// incoming message schema: {reason, scope, ttl_seconds}
func (h *KillRequestHandler) Handle(ctx context.Context, b []byte) error {
	start := time.Now()
	var req models.KillRequest
	if err := json.Unmarshal(b, &req); err != nil {
		h.recordError("kill_request_unmarshal")
		return fmt.Errorf("decode kill request: %v: %w", err, pkgkafka.ErrPermanent)
	}

	rec, err := h.ledger.Create(ctx, req)
	if h.metrics != nil {
		h.metrics.RecordLatency("kill_request", time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, killledger.ErrInvalidRequest) {
			h.recordError("kill_request_invalid")
			return fmt.Errorf("%w: %w", pkgkafka.ErrPermanent, err)
		}
		h.recordError("kill_request_append")
		return err
	}

	h.log.Warn("kill requested",
		logger.String("scope", rec.Scope),
		logger.String("record_id", rec.ID),
		logger.String("reason", rec.Reason),
	)
	if h.notifier != nil {
		n := models.KillNotification{Record: rec, Source: "kafka"}
		if err := h.notifier.Notify(ctx, n); err != nil {
			h.recordError("notify")
			h.log.Warn("kill notification failed", logger.String("record_id", rec.ID), logger.Error(err))
		}
	}
	return nil
}

func (h *KillRequestHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

var _ pkgkafka.MessageHandler = (*KillRequestHandler)(nil)

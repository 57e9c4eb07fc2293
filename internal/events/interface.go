package events

import (
	"context"

	"github.com/spaceshq/spaces-server/internal/domain"
)

// MessageProducer publishes persisted messages for downstream consumers
// (analytics, archival). Publishing is best effort: a failure is logged
// and never fails the send that triggered it.
type MessageProducer interface {
	ProduceMessage(ctx context.Context, msg *domain.Message) error
	Close() error
}

// NoopProducer drops everything. Used when kafka is disabled in config.
type NoopProducer struct{}

func (NoopProducer) ProduceMessage(ctx context.Context, msg *domain.Message) error { return nil }

func (NoopProducer) Close() error { return nil }

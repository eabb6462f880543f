package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"abuseflow/internal/config"
	"abuseflow/internal/constants"
	pkgerrors "abuseflow/pkg/errors"
	"abuseflow/pkg/models"
	"abuseflow/pkg/tracing"
)

// MessagingChannel publishes ticket events to an external message broker so
// downstream consumers (on-call tooling, chat bridges) can pick them up.
type MessagingChannel struct {
	writer  *kafka.Writer
	enabled bool
}

func NewMessagingChannel(cfg config.MessagingChannelConfig) *MessagingChannel {
	if !cfg.Enabled {
		return &MessagingChannel{enabled: false}
	}
	return &MessagingChannel{
		enabled: true,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: constants.KafkaBatchTimeout,
			WriteTimeout: constants.KafkaWriteTimeout,
			Async:        false,
		},
	}
}

func (c *MessagingChannel) Name() string  { return "messaging" }
func (c *MessagingChannel) Enabled() bool { return c.enabled }

func (c *MessagingChannel) Send(ctx context.Context, event models.TicketEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return pkgerrors.ErrChannelSend.WithCause(err).AsFatal()
	}

	err = c.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.TicketID),
		Value:   body,
		Headers: tracing.InjectTraceContext(ctx, nil),
		Time:    time.Now(),
	})
	if err != nil {
		return pkgerrors.ErrChannelSend.WithCause(fmt.Errorf("write broker message: %w", err))
	}
	return nil
}

func (c *MessagingChannel) Close() error {
	if c.writer == nil {
		return nil
	}
	return c.writer.Close()
}

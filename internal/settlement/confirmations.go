package settlement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// RailStatus is the outcome a rail reports for one side of a settlement.
type RailStatus string

const (
	RailConfirmed RailStatus = "confirmed"
	RailFailed    RailStatus = "failed"
)

// Confirmation is a rail callback relayed over kafka.
type Confirmation struct {
	SettlementID string     `json:"settlement_id"`
	Side         Side       `json:"side"`
	Status       RailStatus `json:"status"`
	Reference    string     `json:"reference"`
	Reason       string     `json:"reason,omitempty"`
	ConfirmedAt  time.Time  `json:"confirmed_at"`
}

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewConfirmationReader joins groupID on topic, starting from the oldest
// uncommitted offset.
func NewConfirmationReader(brokers []string, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
}

// ConfirmationConsumer applies rail confirmations to settlements. Offsets
// are committed only after a message is applied or given up on.
type ConfirmationConsumer struct {
	orch        *Orchestrator
	reader      MessageReader
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
}

func NewConfirmationConsumer(orch *Orchestrator, reader MessageReader, logger *zap.Logger) *ConfirmationConsumer {
	return &ConfirmationConsumer{orch: orch, reader: reader, maxAttempts: 5, backoff: 200 * time.Millisecond, logger: logger}
}

// Apply routes one confirmation to the orchestrator.
func (c *ConfirmationConsumer) Apply(ctx context.Context, conf Confirmation) error {
	if conf.SettlementID == "" {
		return errors.Invalid.Explain("confirmation without settlement_id")
	}
	switch conf.Status {
	case RailConfirmed:
		_, err := c.orch.ConfirmSettlement(ctx, conf.SettlementID, conf.Side)
		return err
	case RailFailed:
		reason := conf.Reason
		if reason == "" {
			reason = "rail reported failure on " + string(conf.Side) + " side"
		}
		_, err := c.orch.FailSettlement(ctx, conf.SettlementID, reason)
		return err
	default:
		return errors.Invalid.Explain("unknown rail status %q", conf.Status)
	}
}

// Handle decodes and applies msg, retrying retryable failures with linear
// backoff. Malformed and permanently rejected messages are logged and dropped.
func (c *ConfirmationConsumer) Handle(ctx context.Context, msg kafka.Message) {
	var conf Confirmation
	if err := json.Unmarshal(msg.Value, &conf); err != nil {
		c.logger.Error("invalid confirmation message",
			zap.Int64("offset", msg.Offset), zap.Int("partition", msg.Partition), zap.Error(err))
		return
	}

	for attempt := 1; ; attempt++ {
		err := c.Apply(ctx, conf)
		if err == nil {
			c.logger.Debug("rail confirmation applied",
				zap.String("settlement_id", conf.SettlementID),
				zap.String("side", string(conf.Side)),
				zap.String("status", string(conf.Status)),
				zap.String("reference", conf.Reference))
			return
		}
		if !errors.Retryable(err) || attempt >= c.maxAttempts {
			c.logger.Warn("dropping rail confirmation",
				zap.String("settlement_id", conf.SettlementID),
				zap.String("side", string(conf.Side)),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}
}

// Run consumes until ctx is done.
func (c *ConfirmationConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("confirmation fetch error", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}
		c.Handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit confirmation offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

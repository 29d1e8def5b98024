package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tickfeed/config"
	"tickfeed/pkg/market"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// TickMessage is the wire format accepted on the kafka topic. Either
// instrument_id or instrument (name) identifies the pair.
type TickMessage struct {
	InstrumentID int64     `json:"instrument_id,omitempty"`
	Instrument   string    `json:"instrument,omitempty"`
	Exchange     string    `json:"exchange"`
	ObservedAt   time.Time `json:"observed_at"`
	market.TickFields
}

// KafkaConsumer reads tick messages from a topic and feeds them to the
// ingestion service. Malformed or unresolvable messages are logged and
// skipped so one bad producer cannot stall the partition.
type KafkaConsumer struct {
	reader *kafka.Reader
	index  *Index
	sink   Sink
	logger *zap.Logger
}

func NewKafkaConsumer(cfg config.KafkaConfig, index *Index, sink Sink, logger *zap.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		Topic:             cfg.Topic,
		GroupID:           cfg.GroupID,
		MinBytes:          200,
		MaxBytes:          10e6,
		MaxWait:           200 * time.Millisecond,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    10 * time.Second,
	})

	return &KafkaConsumer{
		reader: reader,
		index:  index,
		sink:   sink,
		logger: logger,
	}
}

// Run consumes until ctx is cancelled.
func (c *KafkaConsumer) Run(ctx context.Context) {
	c.logger.Info("kafka consumer started", zap.String("topic", c.reader.Config().Topic))

	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("kafka consumer stopped")
				return
			}
			c.logger.Error("kafka read error", zap.Error(err))
			continue
		}

		if err := c.handleMessage(ctx, m.Value); err != nil {
			c.logger.Warn("dropping tick message",
				zap.String("key", string(m.Key)), zap.Error(err))
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, value []byte) error {
	msg, exchange, err := decodeTickMessage(value)
	if err != nil {
		return err
	}

	instrumentID := msg.InstrumentID
	if instrumentID == 0 {
		id, ok := c.index.Lookup(msg.Instrument)
		if !ok {
			return fmt.Errorf("unknown instrument %q", msg.Instrument)
		}
		instrumentID = id
	}

	_, err = c.sink.Ingest(ctx, instrumentID, exchange, msg.TickFields, msg.ObservedAt)
	return err
}

func decodeTickMessage(value []byte) (TickMessage, market.Exchange, error) {
	var msg TickMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return msg, "", fmt.Errorf("decode tick message: %w", err)
	}

	exchange, err := market.ParseExchange(msg.Exchange)
	if err != nil {
		return msg, "", err
	}

	if msg.InstrumentID == 0 && msg.Instrument == "" {
		return msg, "", fmt.Errorf("tick message missing instrument")
	}
	return msg, exchange, nil
}

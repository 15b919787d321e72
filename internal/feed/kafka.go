package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/modules/core"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/processor"
)

// Envelope is one log on the topic, together with the block and transaction
// data a log does not carry.
type Envelope struct {
	Log       types.Log      `json:"log"`
	Timestamp uint64         `json:"timestamp"`
	From      common.Address `json:"from"`
}

// Decode parses an envelope. Logs flagged as removed by a reorg are rejected.
func Decode(value []byte) (*core.RawEvent, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, fmt.Errorf("failed to decode log envelope: %w", err)
	}
	if env.Log.Removed {
		return nil, errRemoved
	}
	if len(env.Log.Topics) == 0 {
		return nil, fmt.Errorf("log %s/%d has no topics", env.Log.TxHash.Hex(), env.Log.Index)
	}
	return &core.RawEvent{Log: &env.Log, Timestamp: env.Timestamp, From: env.From}, nil
}

var errRemoved = errors.New("log removed by reorg")

// Sink applies ordered events.
type Sink interface {
	Process(ctx context.Context, events []*core.RawEvent) (processor.Stats, error)
}

type Config struct {
	Brokers    []string
	Topic      string
	GroupID    string
	Version    string
	RetryDelay time.Duration
}

// KafkaSource feeds logs from a topic that is already in chain order. The
// topic is expected to have a single partition; offsets are marked only after
// the sink has applied the message.
type KafkaSource struct {
	group  sarama.ConsumerGroup
	cfg    Config
	sink   Sink
	logger zerolog.Logger
}

func NewKafkaSource(cfg Config, sink Sink, logger zerolog.Logger) (*KafkaSource, error) {
	saramaCfg := sarama.NewConfig()
	if cfg.Version != "" {
		version, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid kafka version %q: %w", cfg.Version, err)
		}
		saramaCfg.Version = version
	}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}

	return &KafkaSource{
		group:  group,
		cfg:    cfg,
		sink:   sink,
		logger: logger.With().Str("component", "kafka_feed").Str("topic", cfg.Topic).Logger(),
	}, nil
}

// Run consumes until ctx is cancelled. A failed session is restarted from the
// last marked offset after RetryDelay.
func (k *KafkaSource) Run(ctx context.Context) error {
	k.logger.Info().Strs("brokers", k.cfg.Brokers).Msg("Starting kafka feed")

	go func() {
		for err := range k.group.Errors() {
			k.logger.Error().Err(err).Msg("Consumer group error")
		}
	}()

	handler := &claimHandler{sink: k.sink, logger: k.logger}
	for {
		err := k.group.Consume(ctx, []string{k.cfg.Topic}, handler)
		if ctx.Err() != nil {
			k.logger.Info().Msg("Kafka feed stopped")
			return nil
		}
		if err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			k.logger.Error().Err(err).Msg("Consumer session failed, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(k.cfg.RetryDelay):
			}
		}
	}
}

func (k *KafkaSource) Close() error {
	return k.group.Close()
}

var _ sarama.ConsumerGroupHandler = (*claimHandler)(nil)

type claimHandler struct {
	sink   Sink
	logger zerolog.Logger
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handle(ctx, msg); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			session.MarkMessage(msg, "")
		}
	}
}

func (h *claimHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	event, err := Decode(msg.Value)
	if err != nil {
		// Undecodable messages would block the partition forever.
		h.logger.Warn().
			Err(err).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("Skipping message")
		return nil
	}

	if _, err := h.sink.Process(ctx, []*core.RawEvent{event}); err != nil {
		return fmt.Errorf("failed to apply message at offset %d: %w", msg.Offset, err)
	}
	return nil
}

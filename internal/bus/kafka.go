package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"klinecast/internal/domain/models"
	"klinecast/pkg/config"
	"klinecast/pkg/logger"
)

// Kafka carries sync-complete events over a kafka topic. Subscribers
// join the configured consumer group, so running several API instances
// with distinct group ids gives each one the full stream.
type Kafka struct {
	writer *kafka.Writer
	cfg    *config.Config
	buffer int
	logger *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewKafka(cfg *config.Config, lgr *logger.Logger) *Kafka {
	kc := cfg.Bus.Kafka
	writer := &kafka.Writer{
		Addr:         kafka.TCP(kc.Brokers...),
		Topic:        kc.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(kc.RequiredAcks),
		Compression:  parseCompression(kc.Compression),
		MaxAttempts:  kc.MaxAttempts,
		WriteTimeout: kc.WriteTimeout,
		ReadTimeout:  kc.ReadTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Kafka{
		writer: writer,
		cfg:    cfg,
		buffer: cfg.Bus.Buffer,
		logger: lgr,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *Kafka) Publish(ctx context.Context, ev models.SyncComplete) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}
	// Key by symbol so per-symbol ordering survives partitioning.
	msg := kafka.Message{
		Key:   []byte(ev.Symbol),
		Value: payload,
		Time:  time.Now(),
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

func (b *Kafka) Subscribe() <-chan models.SyncComplete {
	kc := b.cfg.Bus.Kafka
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kc.Brokers,
		Topic:       kc.Topic,
		GroupID:     kc.GroupID,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     time.Second,
		StartOffset: kafka.LastOffset,
	})

	out := make(chan models.SyncComplete, b.buffer)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(out)
		defer func() { _ = reader.Close() }()

		for {
			msg, err := reader.ReadMessage(b.ctx)
			if err != nil {
				if b.ctx.Err() != nil {
					return
				}
				b.logger.Warn("bus: kafka read failed", logger.Error(err))
				continue
			}
			var ev models.SyncComplete
			if err := json.Unmarshal(msg.Value, &ev); err != nil {
				b.logger.Warn("bus: bad payload on kafka topic", logger.Error(err))
				continue
			}
			select {
			case out <- ev:
			default:
				b.logger.Warn("bus subscriber full, dropping event",
					logger.String("symbol", ev.Symbol))
			}
		}
	}()

	return out
}

func (b *Kafka) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.writer.Close()
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"klinecast/internal/domain/models"
	"klinecast/pkg/config"
	"klinecast/pkg/logger"
)

// Redis bridges sync-complete events over a redis pub/sub channel so
// that separate ingestor and API processes can share one stream.
type Redis struct {
	client  *redis.Client
	channel string
	buffer  int
	logger  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs []chan models.SyncComplete
	wg   sync.WaitGroup
}

func NewRedis(cfg *config.Config, lgr *logger.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Bus.Redis.Addr,
		Password: cfg.Bus.Redis.Password,
		DB:       cfg.Bus.Redis.DB,
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := client.Ping(ctx).Err(); err != nil {
		cancel()
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{
		client:  client,
		channel: cfg.Bus.Redis.Channel,
		buffer:  cfg.Bus.Buffer,
		logger:  lgr,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (b *Redis) Publish(ctx context.Context, ev models.SyncComplete) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *Redis) Subscribe() <-chan models.SyncComplete {
	out := make(chan models.SyncComplete, b.buffer)

	b.mu.Lock()
	b.subs = append(b.subs, out)
	b.mu.Unlock()

	sub := b.client.Subscribe(b.ctx, b.channel)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(out)
		defer func() { _ = sub.Close() }()

		for {
			select {
			case <-b.ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev models.SyncComplete
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("bus: bad payload on redis channel", logger.Error(err))
					continue
				}
				select {
				case out <- ev:
				default:
					b.logger.Warn("bus subscriber full, dropping event",
						logger.String("symbol", ev.Symbol))
				}
			}
		}
	}()

	return out
}

func (b *Redis) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

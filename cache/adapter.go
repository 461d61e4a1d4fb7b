package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kasuganosora/guildsync/cache/local"
	cacheredis "github.com/kasuganosora/guildsync/cache/redis"
	"github.com/kasuganosora/guildsync/config"
)

// Cache defines the KV operations used for run coordination.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	// DelIfEqual removes key only while it still holds value.
	DelIfEqual(ctx context.Context, key string, value string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Message is a received pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// PubSub defines channel publish/subscribe operations. The cancel func
// returned by Subscribe may be called more than once.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
}

// CacheConfig holds configuration for both Redis and LocalCache.
type CacheConfig = config.CacheConfig

const relayBuf = 64

func redisConfig(cfg CacheConfig) cacheredis.Config {
	return cacheredis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// NewCache returns a Cache backed by Redis if RedisAddr is set,
// otherwise returns an in-process LocalCache.
func NewCache(cfg CacheConfig) (Cache, error) {
	if cfg.RedisAddr != "" {
		return cacheredis.NewCache(redisConfig(cfg))
	}
	return local.NewCache(local.Config{
		GCInterval: cfg.LocalGCInterval,
	})
}

// NewPubSub returns a PubSub backed by Redis if RedisAddr is set,
// otherwise an in-process LocalPubSub.
func NewPubSub(cfg CacheConfig) (PubSub, error) {
	if cfg.RedisAddr != "" {
		rps, err := cacheredis.NewPubSub(redisConfig(cfg))
		if err != nil {
			return nil, err
		}
		return &pubSub[*cacheredis.RedisMessage]{
			publish:   rps.Publish,
			subscribe: rps.Subscribe,
			convert: func(m *cacheredis.RedisMessage) *Message {
				return &Message{Channel: m.Channel, Payload: m.Payload}
			},
		}, nil
	}
	lps := local.NewPubSub(cfg.LocalPubSubBuf)
	return &pubSub[*local.LocalMessage]{
		publish:   lps.Publish,
		subscribe: lps.Subscribe,
		convert: func(m *local.LocalMessage) *Message {
			return &Message{Channel: m.Channel, Payload: m.Payload}
		},
	}, nil
}

// pubSub bridges a backend's message type to Message.
type pubSub[T any] struct {
	publish   func(ctx context.Context, channel, message string) error
	subscribe func(ctx context.Context, channels ...string) (<-chan T, func(), error)
	convert   func(T) *Message
}

func (p *pubSub[T]) Publish(ctx context.Context, channel, message string) error {
	return p.publish(ctx, channel, message)
}

func (p *pubSub[T]) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	src, cancelSrc, err := p.subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	stop := make(chan struct{})
	out := make(chan *Message, relayBuf)
	go func() {
		defer close(out)
		for v := range src {
			select {
			case out <- p.convert(v):
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			cancelSrc()
		})
	}
	return out, cancel, nil
}

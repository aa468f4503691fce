package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Broker moves raw payloads between publishers and subscribers of a channel.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Stream, error)
}

// Stream is one subscriber's view of a channel. Payloads is closed after Close.
type Stream interface {
	Payloads() <-chan []byte
	Close() error
}

// RedisBroker fans out over Redis pub/sub so every server process can reach every stream.
// Like LocalBroker it drops payloads for a subscriber whose buffer is full.
type RedisBroker struct {
	client redis.UniversalClient
	buffer int
}

func NewRedisBroker(client redis.UniversalClient) *RedisBroker {
	return &RedisBroker{client: client, buffer: 32}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Stream, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	s := &redisStream{ps: ps, out: make(chan []byte, b.buffer)}
	go s.pump(ps.Channel())
	return s, nil
}

type redisStream struct {
	ps   *redis.PubSub
	out  chan []byte
	once sync.Once
}

func (s *redisStream) pump(in <-chan *redis.Message) {
	defer close(s.out)
	for msg := range in {
		select {
		case s.out <- []byte(msg.Payload):
		default:
		}
	}
}

func (s *redisStream) Payloads() <-chan []byte { return s.out }

func (s *redisStream) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}

// LocalBroker delivers within one process. Slow subscribers lose messages rather than block publishers.
type LocalBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[*localStream]struct{}
	buffer int
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[*localStream]struct{}), buffer: 32}
}

func (b *LocalBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[channel] {
		select {
		case s.out <- payload:
		default:
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(_ context.Context, channel string) (Stream, error) {
	s := &localStream{broker: b, channel: channel, out: make(chan []byte, b.buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*localStream]struct{})
	}
	b.subs[channel][s] = struct{}{}
	return s, nil
}

func (b *LocalBroker) remove(s *localStream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[s.channel], s)
	if len(b.subs[s.channel]) == 0 {
		delete(b.subs, s.channel)
	}
	close(s.out)
}

type localStream struct {
	broker  *LocalBroker
	channel string
	out     chan []byte
	once    sync.Once
}

func (s *localStream) Payloads() <-chan []byte { return s.out }

func (s *localStream) Close() error {
	s.once.Do(func() { s.broker.remove(s) })
	return nil
}

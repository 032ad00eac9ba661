package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/park285/code-duel/internal/obslog"
	"go.uber.org/zap"
)

// MemoryBus dispatches each delivery on its own goroutine. Failing handlers
// are retried per the bus RetryPolicy; what still fails is logged and never
// reaches the publisher.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
	closed   bool
	retry    RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type MemoryOption func(*MemoryBus)

func WithRetry(p RetryPolicy) MemoryOption { return func(b *MemoryBus) { b.retry = p } }

func NewMemoryBus(opts ...MemoryOption) *MemoryBus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &MemoryBus{handlers: make(map[Topic][]Handler), retry: DefaultRetry, ctx: ctx, cancel: cancel}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBus) Subscribe(topic Topic, h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler for %s", topic)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.handlers[topic] = append(b.handlers[topic], h)
	return nil
}

func (b *MemoryBus) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	hs := append([]Handler(nil), b.handlers[env.Topic]...)
	b.wg.Add(len(hs))
	b.mu.RUnlock()

	for _, h := range hs {
		go b.dispatch(h, env)
	}
	return nil
}

func (b *MemoryBus) dispatch(h Handler, env Envelope) {
	defer b.wg.Done()
	if err := deliver(b.ctx, h, env, b.retry); err != nil {
		obslog.L().Error("bus_handler_dropped",
			zap.String("topic", string(env.Topic)),
			zap.String("match_id", env.MatchID),
			zap.Bool("permanent", IsPermanent(err)),
			zap.Error(err),
		)
	}
}

// Drain blocks until every in-flight delivery, including ones published by
// handlers, has returned.
func (b *MemoryBus) Drain() { b.wg.Wait() }

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
	b.cancel()
	return nil
}

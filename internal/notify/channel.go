package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/park285/code-duel/internal/obslog"
	"github.com/park285/code-duel/pkg/duelapi"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const ttlLatest = 24 * time.Hour

func latestKey(matchID string) string { return "duel:stream:" + strings.TrimSpace(matchID) }
func topicKey(matchID string) string  { return "duel:events:" + strings.TrimSpace(matchID) }

// Channel is a per-match latest-value stream. Publishing overwrites the stored
// message and fans it out to live subscribers; a late subscriber reads the
// stored value first so it never starts blank.
type Channel struct {
	rdb *redis.Client
}

func NewChannel(rdb *redis.Client) *Channel { return &Channel{rdb: rdb} }

func (c *Channel) Publish(ctx context.Context, matchID string, msg duelapi.StreamMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, latestKey(matchID), raw, ttlLatest)
		pipe.Publish(ctx, topicKey(matchID), raw)
		return nil
	})
	if err != nil {
		obslog.L().Warn("notify_publish_error", zap.String("match_id", matchID), zap.String("type", msg.StreamType()), zap.Error(err))
		return err
	}
	obslog.L().Debug("notify_publish", zap.String("match_id", matchID), zap.String("type", msg.StreamType()))
	return nil
}

// Latest returns the most recent message, or nil when nothing was published.
func (c *Channel) Latest(ctx context.Context, matchID string) (json.RawMessage, error) {
	raw, err := c.rdb.Get(ctx, latestKey(matchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Subscription delivers raw messages for one match.
type Subscription struct {
	ps   *redis.PubSub
	out  chan json.RawMessage
	once sync.Once
	done chan struct{}
}

// Subscribe attaches to the live feed. The caller should read Latest after
// Subscribe returns so nothing published in between is lost.
func (c *Channel) Subscribe(ctx context.Context, matchID string) (*Subscription, error) {
	ps := c.rdb.Subscribe(ctx, topicKey(matchID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	s := &Subscription{ps: ps, out: make(chan json.RawMessage, 16), done: make(chan struct{})}
	go s.pump()
	return s, nil
}

func (s *Subscription) pump() {
	defer close(s.out)
	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- json.RawMessage(m.Payload):
			case <-s.done:
				return
			}
		}
	}
}

// C is closed after Close.
func (s *Subscription) C() <-chan json.RawMessage { return s.out }

func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

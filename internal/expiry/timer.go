package expiry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/code-duel/internal/duel"
	"github.com/park285/code-duel/internal/obslog"
	"github.com/park285/code-duel/pkg/duelapi"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const timersKey = "duel:timers"

const (
	notDueRetry = 250 * time.Millisecond
	errorRetry  = 5 * time.Second
)

// Timer is the per-match durable wake-up. Every schedule is persisted in a
// sorted set (score = wake time in ms) before it is armed in memory, so a
// restarted process re-arms outstanding timers with Rearm. An entry is only
// removed once its wake-up has been handled.
type Timer struct {
	rdb     *redis.Client
	store   Expirer
	notify  Notifier
	archive Archiver

	mu     sync.Mutex
	armed  map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewTimer(rdb *redis.Client, store Expirer, notify Notifier, archive Archiver) *Timer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Timer{
		rdb:     rdb,
		store:   store,
		notify:  notify,
		archive: archive,
		armed:   make(map[string]*time.Timer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (t *Timer) Schedule(ctx context.Context, matchID string, wakeAt time.Time) error {
	err := t.rdb.ZAdd(ctx, timersKey, redis.Z{Score: float64(wakeAt.UnixMilli()), Member: matchID}).Err()
	if err != nil {
		return err
	}
	t.arm(matchID, wakeAt)
	obslog.L().Info("duel_timer_schedule", zap.String("match_id", matchID), zap.Time("wake_at", wakeAt))
	return nil
}

// Rearm arms every persisted wake-up. Past-due entries fire immediately.
func (t *Timer) Rearm(ctx context.Context) (int, error) {
	zs, err := t.rdb.ZRangeWithScores(ctx, timersKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	for _, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		t.arm(id, time.UnixMilli(int64(z.Score)))
	}
	obslog.L().Info("duel_timer_rearm", zap.Int("count", len(zs)))
	return len(zs), nil
}

func (t *Timer) arm(matchID string, wakeAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if prev, ok := t.armed[matchID]; ok {
		prev.Stop()
	}
	d := max(0, time.Until(wakeAt))
	t.armed[matchID] = time.AfterFunc(d, func() { t.fire(matchID) })
}

func (t *Timer) fire(matchID string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.armed, matchID)
	t.wg.Add(1)
	t.mu.Unlock()
	defer t.wg.Done()

	ctx, cancel := context.WithTimeout(t.ctx, 10*time.Second)
	defer cancel()

	_, err := closeMatch(ctx, t.store, t.notify, t.archive, matchID, duelapi.ReasonTimeLimit)
	switch {
	case errors.Is(err, duel.ErrNotDue):
		t.arm(matchID, time.Now().Add(notDueRetry))
		return
	case err != nil:
		obslog.L().Warn("duel_timer_fire_error", zap.String("match_id", matchID), zap.Error(err))
		t.arm(matchID, time.Now().Add(errorRetry))
		return
	}
	if err := t.rdb.ZRem(ctx, timersKey, matchID).Err(); err != nil {
		obslog.L().Warn("duel_timer_clear_error", zap.String("match_id", matchID), zap.Error(err))
	}
}

// Armed reports how many wake-ups are pending in this process.
func (t *Timer) Armed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.armed)
}

// Close stops pending wake-ups and waits for in-flight ones. Persisted
// entries are kept for the next Rearm.
func (t *Timer) Close() {
	t.mu.Lock()
	t.closed = true
	for id, tm := range t.armed {
		tm.Stop()
		delete(t.armed, id)
	}
	t.mu.Unlock()
	t.wg.Wait()
	t.cancel()
}

package expiry

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/park285/code-duel/internal/obslog"
	"github.com/park285/code-duel/pkg/duelapi"
	"go.uber.org/zap"
)

type RacingIndex interface {
	Expirer
	OverdueRacing(ctx context.Context, now time.Time) ([]string, error)
}

// Sweeper periodically closes racing matches whose time limit has passed.
// It backs up the per-match timer; both use the same guarded transition so
// only one of them ever announces the end.
type Sweeper struct {
	store    RacingIndex
	notify   Notifier
	archive  Archiver
	interval time.Duration
	now      func() time.Time

	sched gocron.Scheduler
}

func NewSweeper(store RacingIndex, notify Notifier, archive Archiver, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: store, notify: notify, archive: archive, interval: interval, now: time.Now}
}

// SweepOnce runs one pass. A failure on one match does not stop the pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ids, err := s.store.OverdueRacing(ctx, s.now())
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, id := range ids {
		ok, err := closeMatch(ctx, s.store, s.notify, s.archive, id, duelapi.ReasonDrawTimeLimit)
		if err != nil {
			obslog.L().Warn("duel_sweep_error", zap.String("match_id", id), zap.Error(err))
			continue
		}
		if ok {
			closed++
		}
	}
	if len(ids) > 0 {
		obslog.L().Info("duel_sweep", zap.Int("overdue", len(ids)), zap.Int("closed", closed))
	}
	return closed, nil
}

func (s *Sweeper) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			runCtx, cancel := context.WithTimeout(ctx, s.interval)
			defer cancel()
			if _, err := s.SweepOnce(runCtx); err != nil {
				obslog.L().Warn("duel_sweep_failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return err
	}
	sched.Start()
	s.sched = sched
	obslog.L().Info("duel_sweep_started", zap.Duration("interval", s.interval))
	return nil
}

func (s *Sweeper) Stop() error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Shutdown()
}

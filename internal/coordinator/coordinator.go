package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/park285/code-duel/internal/bus"
	"github.com/park285/code-duel/internal/duel"
	"github.com/park285/code-duel/internal/obslog"
	"github.com/park285/code-duel/pkg/duelapi"
	"go.uber.org/zap"
)

type MatchStore interface {
	Get(ctx context.Context, id string) (*duel.Match, error)
	StartRace(ctx context.Context, id string) (*duel.Match, error)
	Finish(ctx context.Context, id, winnerID string) (*duel.Match, error)
}

type Notifier interface {
	Publish(ctx context.Context, matchID string, msg duelapi.StreamMessage) error
}

// Scheduler arms the per-match expiration wake-up.
type Scheduler interface {
	Schedule(ctx context.Context, matchID string, wakeAt time.Time) error
}

// Archiver receives terminal matches. Optional.
type Archiver interface {
	SaveResult(ctx context.Context, m *duel.Match) error
}

// Coordinator reacts to joins and verdicts. It holds no locks: every state
// change goes through a conditional store transition, so handlers racing on
// the same match settle on exactly one winner and the rest are no-ops.
type Coordinator struct {
	store   MatchStore
	notify  Notifier
	timer   Scheduler
	archive Archiver
	events  bus.Publisher
	now     func() time.Time
}

type Option func(*Coordinator)

func WithArchive(a Archiver) Option         { return func(c *Coordinator) { c.archive = a } }
func WithEvents(p bus.Publisher) Option     { return func(c *Coordinator) { c.events = p } }
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func New(store MatchStore, notify Notifier, timer Scheduler, opts ...Option) *Coordinator {
	c := &Coordinator{store: store, notify: notify, timer: timer, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register subscribes the coordinator to player.joined and code.processed.
func (c *Coordinator) Register(b bus.Bus) error {
	if err := b.Subscribe(bus.TopicPlayerJoined, c.onPlayerJoined); err != nil {
		return err
	}
	return b.Subscribe(bus.TopicCodeProcessed, c.onCodeProcessed)
}

func (c *Coordinator) onPlayerJoined(ctx context.Context, env bus.Envelope) error {
	var ev duelapi.PlayerJoinedEvent
	if err := env.Decode(&ev); err != nil {
		return err
	}
	return c.HandleJoin(ctx, ev.MatchID)
}

func (c *Coordinator) onCodeProcessed(ctx context.Context, env bus.Envelope) error {
	var res duelapi.VerdictResult
	if err := env.Decode(&res); err != nil {
		return err
	}
	return c.HandleVerdict(ctx, res)
}

// HandleJoin starts the race once the roster is full. Losing the start race
// to a concurrent handler is not an error.
func (c *Coordinator) HandleJoin(ctx context.Context, matchID string) error {
	pre, err := c.store.Get(ctx, matchID)
	if err != nil {
		return err
	}
	if pre.Status != duel.StatusWaiting || len(pre.Players) < duel.MaxPlayers {
		return nil
	}

	m, err := c.store.StartRace(ctx, matchID)
	if errors.Is(err, duel.ErrStaleTransition) {
		obslog.L().Debug("duel_start_lost", zap.String("match_id", matchID))
		return nil
	}
	if err != nil {
		return err
	}
	obslog.L().Info("duel_race_start",
		zap.String("match_id", m.ID),
		zap.Strings("players", m.Players),
		zap.Int64("end_time", m.EndTime),
	)

	if err := c.notify.Publish(ctx, m.ID, duelapi.NewStartRace(m.StartTime, m.EndTime)); err != nil {
		obslog.L().Warn("duel_start_notify_error", zap.String("match_id", m.ID), zap.Error(err))
	}
	if err := c.timer.Schedule(ctx, m.ID, time.UnixMilli(m.EndTime)); err != nil {
		// the sweep still closes the match if the timer cannot be armed
		obslog.L().Error("duel_timer_schedule_error", zap.String("match_id", m.ID), zap.Error(err))
	}
	if c.events != nil {
		ev := duelapi.MatchStartedEvent{MatchID: m.ID, Duration: m.Duration, StartTime: m.StartTime, EndTime: m.EndTime}
		if err := bus.Emit(ctx, c.events, bus.TopicMatchStarted, m.ID, ev); err != nil {
			obslog.L().Warn("duel_started_emit_error", zap.String("match_id", m.ID), zap.Error(err))
		}
	}
	return nil
}

// HandleVerdict streams feedback to the submitter and, for a passing
// submission, claims the win if the match is still racing.
func (c *Coordinator) HandleVerdict(ctx context.Context, res duelapi.VerdictResult) error {
	if err := c.notify.Publish(ctx, res.MatchID, duelapi.NewCodeFeedback(res, c.now().UnixMilli())); err != nil {
		obslog.L().Warn("duel_feedback_notify_error", zap.String("match_id", res.MatchID), zap.Error(err))
	}
	if res.Action != duelapi.ActionSubmitSolution || !res.Success {
		return nil
	}

	m, err := c.store.Finish(ctx, res.MatchID, res.PlayerID)
	if errors.Is(err, duel.ErrStaleTransition) || errors.Is(err, duel.ErrInvalidArgs) {
		obslog.L().Info("duel_win_ignored",
			zap.String("match_id", res.MatchID),
			zap.String("player_id", res.PlayerID),
			zap.String("reason", err.Error()),
		)
		return nil
	}
	if err != nil {
		return err
	}
	obslog.L().Info("duel_finish", zap.String("match_id", m.ID), zap.String("winner_id", m.WinnerID))

	if err := c.notify.Publish(ctx, m.ID, duelapi.NewGameOver(m.WinnerID, duelapi.ReasonSolved)); err != nil {
		obslog.L().Warn("duel_gameover_notify_error", zap.String("match_id", m.ID), zap.Error(err))
	}
	if c.archive != nil {
		if err := c.archive.SaveResult(ctx, m); err != nil {
			obslog.L().Warn("duel_finish_archive_error", zap.String("match_id", m.ID), zap.Error(err))
		}
	}
	return nil
}

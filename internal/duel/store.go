package duel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/park285/code-duel/internal/obslog"
	"github.com/park285/code-duel/pkg/duelapi"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const maxTxRetries = 8

// Store keeps matches as JSON under duel:match:<id> and an index of racing
// matches scored by endTime. Every status change is a WATCH/MULTI transaction
// conditioned on the expected prior status.
type Store struct {
	rdb *redis.Client
	now func() time.Time
}

type StoreOption func(*Store)

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(rdb *redis.Client, opts ...StoreOption) *Store {
	s := &Store{rdb: rdb, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func matchKey(id string) string { return "duel:match:" + strings.TrimSpace(id) }
func racingKey() string         { return "duel:racing" }

// Create persists a new WAITING match. It fails with ErrMatchExists when the id is taken.
func (s *Store) Create(ctx context.Context, m *Match) error {
	if m == nil || strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.ProblemID) == "" || m.Duration <= 0 {
		return ErrInvalidArgs
	}
	now := s.now()
	m.Status = StatusWaiting
	m.CreatedAt, m.UpdatedAt = now, now
	if m.Players == nil {
		m.Players = []string{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, matchKey(m.ID), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrMatchExists
	}
	obslog.L().Info("duel_create",
		zap.String("match_id", m.ID),
		zap.String("problem_id", m.ProblemID),
		zap.Int64("duration_ms", m.Duration),
	)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Match, error) {
	return decodeMatch(s.rdb.Get(ctx, matchKey(id)).Bytes())
}

func decodeMatch(raw []byte, err error) (*Match, error) {
	if errors.Is(err, redis.Nil) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	var m Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode match: %w", err)
	}
	return &m, nil
}

// JoinResult reports whether the roster actually changed.
type JoinResult struct {
	Match *Match
	Added bool
}

// Join appends playerID to the roster with set semantics. A player already on
// the roster may re-join in any status; newcomers are only admitted while the
// match is WAITING and has a free slot.
func (s *Store) Join(ctx context.Context, id, playerID string) (*JoinResult, error) {
	playerID = strings.TrimSpace(playerID)
	if strings.TrimSpace(id) == "" || playerID == "" {
		return nil, ErrInvalidArgs
	}
	var res *JoinResult
	err := s.update(ctx, id, func(cur *Match) (bool, error) {
		if cur.HasPlayer(playerID) {
			res = &JoinResult{Match: cur}
			return false, nil
		}
		if cur.Status != StatusWaiting {
			return false, ErrNotJoinable
		}
		if len(cur.Players) >= MaxPlayers {
			return false, ErrFull
		}
		cur.Players = append(cur.Players, playerID)
		res = &JoinResult{Match: cur, Added: true}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if res.Added {
		obslog.L().Info("duel_join",
			zap.String("match_id", id),
			zap.String("player_id", playerID),
			zap.Int("players", len(res.Match.Players)),
		)
	}
	return res, nil
}

// Transition applies mutate only if the stored status equals from. A status
// mismatch yields ErrStaleTransition and nothing is written.
func (s *Store) Transition(ctx context.Context, id string, from Status, mutate func(*Match) error) (*Match, error) {
	var out *Match
	err := s.update(ctx, id, func(cur *Match) (bool, error) {
		if cur.Status != from {
			return false, ErrStaleTransition
		}
		if err := mutate(cur); err != nil {
			return false, err
		}
		out = cur
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StartRace moves a full WAITING match to RACING and fixes its time window.
func (s *Store) StartRace(ctx context.Context, id string) (*Match, error) {
	return s.Transition(ctx, id, StatusWaiting, func(m *Match) error {
		if len(m.Players) < MaxPlayers {
			return ErrStaleTransition
		}
		now := s.now().UnixMilli()
		m.Status = StatusRacing
		m.StartTime = now
		m.EndTime = now + m.Duration
		return nil
	})
}

// Finish records winnerID on a RACING match.
func (s *Store) Finish(ctx context.Context, id, winnerID string) (*Match, error) {
	return s.Transition(ctx, id, StatusRacing, func(m *Match) error {
		if !m.HasPlayer(winnerID) {
			return ErrInvalidArgs
		}
		m.Status = StatusFinished
		m.WinnerID = winnerID
		m.EndReason = duelapi.ReasonSolved
		return nil
	})
}

// Expire closes a RACING match whose endTime has passed, with no winner.
// A racing index entry whose record is gone is pruned.
func (s *Store) Expire(ctx context.Context, id, reason string) (*Match, error) {
	m, err := s.Transition(ctx, id, StatusRacing, func(m *Match) error {
		if s.now().UnixMilli() < m.EndTime {
			return ErrNotDue
		}
		m.Status = StatusExpired
		m.WinnerID = ""
		m.EndReason = reason
		return nil
	})
	if errors.Is(err, ErrMatchNotFound) {
		if zerr := s.rdb.ZRem(ctx, racingKey(), id).Err(); zerr != nil {
			obslog.L().Warn("duel_racing_prune_error", zap.String("match_id", id), zap.Error(zerr))
		}
	}
	return m, err
}

// OverdueRacing lists racing matches whose endTime is strictly before now.
func (s *Store) OverdueRacing(ctx context.Context, now time.Time) ([]string, error) {
	return s.rdb.ZRangeByScore(ctx, racingKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
}

// update runs fn inside WATCH on the match key and retries on concurrent
// modification. fn returns false to skip the write.
func (s *Store) update(ctx context.Context, id string, fn func(cur *Match) (bool, error)) error {
	key := matchKey(id)
	txf := func(tx *redis.Tx) error {
		cur, err := decodeMatch(tx.Get(ctx, key).Bytes())
		if err != nil {
			return err
		}
		prev := cur.Status
		write, err := fn(cur)
		if err != nil || !write {
			return err
		}
		cur.UpdatedAt = s.now()
		raw, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			switch {
			case cur.Status == StatusRacing && prev != StatusRacing:
				pipe.ZAdd(ctx, racingKey(), redis.Z{Score: float64(cur.EndTime), Member: cur.ID})
			case prev == StatusRacing && cur.Status != StatusRacing:
				pipe.ZRem(ctx, racingKey(), cur.ID)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		obslog.L().Debug("duel_tx_retry", zap.String("match_id", id), zap.Int("attempt", attempt+1))
	}
	return ErrStaleTransition
}

package expiry

import (
	"context"
	"errors"

	"github.com/park285/code-duel/internal/duel"
	"github.com/park285/code-duel/internal/obslog"
	"github.com/park285/code-duel/pkg/duelapi"
	"go.uber.org/zap"
)

type Expirer interface {
	Expire(ctx context.Context, id, reason string) (*duel.Match, error)
}

type Notifier interface {
	Publish(ctx context.Context, matchID string, msg duelapi.StreamMessage) error
}

type Archiver interface {
	SaveResult(ctx context.Context, m *duel.Match) error
}

// closeMatch runs the guarded RACING→EXPIRED transition and announces it.
// It reports false without error when another actor already ended the match.
func closeMatch(ctx context.Context, store Expirer, n Notifier, a Archiver, id, reason string) (bool, error) {
	m, err := store.Expire(ctx, id, reason)
	if errors.Is(err, duel.ErrStaleTransition) || errors.Is(err, duel.ErrMatchNotFound) {
		obslog.L().Debug("duel_expire_skip", zap.String("match_id", id), zap.String("reason", reason), zap.Error(err))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	obslog.L().Info("duel_expire", zap.String("match_id", id), zap.String("reason", reason))
	if err := n.Publish(ctx, id, duelapi.NewGameOver("", reason)); err != nil {
		obslog.L().Warn("duel_expire_notify_error", zap.String("match_id", id), zap.Error(err))
	}
	if a != nil {
		if err := a.SaveResult(ctx, m); err != nil {
			obslog.L().Warn("duel_expire_archive_error", zap.String("match_id", id), zap.Error(err))
		}
	}
	return true, nil
}

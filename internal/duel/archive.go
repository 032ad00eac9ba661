package duel

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/park285/code-duel/internal/obslog"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
)

// Archive stores terminal match outcomes in Postgres for history and stats.
// Redis remains the source of truth while a match is live.
type Archive struct {
	db *sql.DB
}

// NewArchiveFromDB wraps an already opened pool, sharing it with other repositories.
func NewArchiveFromDB(db *sql.DB) (*Archive, error) {
	if db == nil {
		return nil, ErrInvalidArgs
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Archive{db: db}, nil
}

// SaveResult upserts a terminal match. Non-terminal matches are ignored.
func (a *Archive) SaveResult(ctx context.Context, m *Match) error {
	if a == nil || a.db == nil || m == nil || !m.Status.Terminal() {
		return nil
	}
	players, _ := json.Marshal(m.Players)

	var winner sql.NullString
	if m.WinnerID != "" {
		winner = sql.NullString{String: m.WinnerID, Valid: true}
	}

	q := `INSERT INTO duel_results (
        match_id, problem_id, players, status, winner_id, end_reason,
        duration_ms, started_at, ended_at
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
      ) ON CONFLICT (match_id) DO UPDATE SET
        problem_id=EXCLUDED.problem_id,
        players=EXCLUDED.players,
        status=EXCLUDED.status,
        winner_id=EXCLUDED.winner_id,
        end_reason=EXCLUDED.end_reason,
        duration_ms=EXCLUDED.duration_ms,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at`

	_, err := a.db.ExecContext(ctx, q,
		m.ID, m.ProblemID, string(players), string(m.Status), winner, m.EndReason,
		m.Duration, time.UnixMilli(m.StartTime), m.UpdatedAt,
	)
	if err != nil {
		obslog.L().Error("duel_archive_error", zap.String("match_id", m.ID), zap.Error(err))
		return err
	}
	obslog.L().Info("duel_archive", zap.String("match_id", m.ID), zap.String("status", string(m.Status)))
	return nil
}

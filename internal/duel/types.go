package duel

import (
	"slices"
	"time"

	"github.com/park285/code-duel/pkg/duelapi"
)

// Status represents a match lifecycle state. Transitions only move forward:
// WAITING → RACING → FINISHED | EXPIRED.
type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusRacing   Status = "RACING"
	StatusFinished Status = "FINISHED"
	StatusExpired  Status = "EXPIRED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusFinished || s == StatusExpired }

// MaxPlayers is the roster capacity of a duel.
const MaxPlayers = 2

// Match is the persisted state of a duel. Times are epoch milliseconds.
type Match struct {
	ID        string    `json:"matchId"`
	Players   []string  `json:"players"`
	Status    Status    `json:"status"`
	ProblemID string    `json:"problemId"`
	Duration  int64     `json:"duration"`
	StartTime int64     `json:"startTime,omitempty"`
	EndTime   int64     `json:"endTime,omitempty"`
	WinnerID  string    `json:"winnerId,omitempty"`
	EndReason string    `json:"endReason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m *Match) HasPlayer(playerID string) bool { return slices.Contains(m.Players, playerID) }

// StatusDTO converts the match into its public snapshot. problem may be nil.
func (m *Match) StatusDTO(problem *duelapi.ProblemDTO) duelapi.MatchStatusDTO {
	out := duelapi.MatchStatusDTO{
		MatchID:   m.ID,
		Status:    string(m.Status),
		Players:   append([]string{}, m.Players...),
		Duration:  m.Duration,
		EndReason: m.EndReason,
		Problem:   problem,
	}
	if m.WinnerID != "" {
		w := m.WinnerID
		out.WinnerID = &w
	}
	if m.StartTime > 0 {
		st, et := m.StartTime, m.EndTime
		out.StartTime = &st
		out.EndTime = &et
	}
	return out
}

// Errors
var (
	ErrInvalidArgs     = errf("invalid arguments")
	ErrMatchNotFound   = errf("match not found")
	ErrMatchExists     = errf("match already exists")
	ErrNotJoinable     = errf("match is not accepting players")
	ErrFull            = errf("match already has two players")
	ErrStaleTransition = errf("match changed state concurrently")
	// ErrNotDue is returned when an expiration is attempted before endTime.
	ErrNotDue = errf("match time limit not reached")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

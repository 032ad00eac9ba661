package duelapi

type CreateMatchRequest struct {
	PlayerID string `json:"playerId"`
	MatchID  string `json:"matchId,omitempty"`
	Time     int    `json:"time,omitempty"`
}

type CreateMatchResponse struct {
	MatchID         string `json:"matchId"`
	Msg             string `json:"msg"`
	DurationMinutes int    `json:"durationMinutes"`
	ProblemTitle    string `json:"problemTitle"`
}

type JoinMatchRequest struct {
	PlayerID string `json:"playerId"`
	MatchID  string `json:"matchId"`
}

type ProblemSummary struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type JoinMatchResponse struct {
	Msg        string         `json:"msg"`
	State      MatchStatusDTO `json:"state"`
	DurationMs int64          `json:"durationMs"`
	Problem    ProblemSummary `json:"problem"`
}

// CodeRequest backs both /match/run and /match/submit. Type overrides the
// action implied by the path when present.
type CodeRequest struct {
	PlayerID string `json:"playerId"`
	MatchID  string `json:"matchId"`
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
	Type     Action `json:"type,omitempty"`
}

type AnalyzeRequest struct {
	PlayerID     string `json:"playerId"`
	MatchID      string `json:"matchId"`
	Code         string `json:"code"`
	Language     string `json:"language,omitempty"`
	ProblemTitle string `json:"problemTitle,omitempty"`
}

type MessageResponse struct {
	Msg string `json:"msg"`
}

// ProblemDTO is the public view of a problem; hidden test cases are never exposed.
type ProblemDTO struct {
	ID          string            `json:"id"`
	Slug        string            `json:"slug"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	TimeMinutes int               `json:"time"`
	Templates   map[string]string `json:"templates,omitempty"`
}

type MatchStatusDTO struct {
	MatchID   string      `json:"matchId"`
	Status    string      `json:"status"`
	Players   []string    `json:"players"`
	WinnerID  *string     `json:"winnerId"`
	StartTime *int64      `json:"startTime"`
	EndTime   *int64      `json:"endTime"`
	Duration  int64       `json:"duration"`
	EndReason string      `json:"endReason,omitempty"`
	Problem   *ProblemDTO `json:"problem,omitempty"`
}

package duelapi

// Stream message types pushed to match subscribers.
const (
	TypePlayerJoined = "PLAYER_JOINED"
	TypeStartRace    = "START_RACE"
	TypeCodeFeedback = "CODE_FEEDBACK"
	TypeGameOver     = "GAME_OVER"
	TypeAIAnalysis   = "AI_ANALYSIS"
	TypeSnapshot     = "SNAPSHOT"
)

// Game over reasons.
const (
	ReasonSolved        = "SOLVED"
	ReasonTimeLimit     = "TIME_LIMIT"
	ReasonDrawTimeLimit = "DRAW_TIME_LIMIT"
)

// StreamMessage is anything that can be published on a match stream.
type StreamMessage interface {
	StreamType() string
}

type PlayerJoined struct {
	Type     string   `json:"type"`
	PlayerID string   `json:"playerId"`
	Players  []string `json:"players"`
}

func (PlayerJoined) StreamType() string { return TypePlayerJoined }

type StartRace struct {
	Type      string `json:"type"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

func (StartRace) StreamType() string { return TypeStartRace }

type CodeFeedback struct {
	Type      string       `json:"type"`
	PlayerID  string       `json:"playerId"`
	Action    Action       `json:"action"`
	Success   bool         `json:"success"`
	Error     string       `json:"error,omitempty"`
	Results   []CaseResult `json:"results"`
	Timestamp int64        `json:"timestamp"`
}

func (CodeFeedback) StreamType() string { return TypeCodeFeedback }

// GameOver carries a nil Winner for both expiration reasons.
type GameOver struct {
	Type   string  `json:"type"`
	Winner *string `json:"winner"`
	Reason string  `json:"reason"`
}

func (GameOver) StreamType() string { return TypeGameOver }

type AIAnalysis struct {
	Type      string `json:"type"`
	PlayerID  string `json:"playerId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

func (AIAnalysis) StreamType() string { return TypeAIAnalysis }

// Snapshot is sent once to every new subscriber so it can reconcile
// state it may have missed before connecting.
type Snapshot struct {
	Type  string         `json:"type"`
	Match MatchStatusDTO `json:"match"`
}

func (Snapshot) StreamType() string { return TypeSnapshot }

func NewPlayerJoined(playerID string, players []string) PlayerJoined {
	return PlayerJoined{Type: TypePlayerJoined, PlayerID: playerID, Players: players}
}

func NewStartRace(start, end int64) StartRace {
	return StartRace{Type: TypeStartRace, StartTime: start, EndTime: end}
}

func NewCodeFeedback(r VerdictResult, ts int64) CodeFeedback {
	return CodeFeedback{
		Type:      TypeCodeFeedback,
		PlayerID:  r.PlayerID,
		Action:    r.Action,
		Success:   r.Success,
		Error:     r.Error,
		Results:   r.Results,
		Timestamp: ts,
	}
}

func NewGameOver(winner, reason string) GameOver {
	g := GameOver{Type: TypeGameOver, Reason: reason}
	if winner != "" {
		w := winner
		g.Winner = &w
	}
	return g
}

func NewAIAnalysis(playerID, text string, ts int64) AIAnalysis {
	return AIAnalysis{Type: TypeAIAnalysis, PlayerID: playerID, Text: text, Timestamp: ts}
}

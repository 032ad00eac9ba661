package duelapi

// Action selects how much of the hidden test suite a submission runs against.
type Action string

const (
	ActionRunTests       Action = "RUN_TESTS"
	ActionSubmitSolution Action = "SUBMIT_SOLUTION"
)

func (a Action) Valid() bool {
	return a == ActionRunTests || a == ActionSubmitSolution
}

// Verdict is the per-case classification of an execution.
type Verdict string

const (
	VerdictAccepted     Verdict = "ACCEPTED"
	VerdictWrongAnswer  Verdict = "WRONG_ANSWER"
	VerdictCompileError Verdict = "COMPILE_ERROR"
	VerdictRuntimeError Verdict = "RUNTIME_ERROR"
)

// Label is the human readable form used in feedback text.
func (v Verdict) Label() string {
	switch v {
	case VerdictAccepted:
		return "Accepted"
	case VerdictWrongAnswer:
		return "Wrong Answer"
	case VerdictCompileError:
		return "Compilation Error"
	case VerdictRuntimeError:
		return "Runtime Error"
	default:
		return string(v)
	}
}

// SubmissionJob is queued on run.code by the gateway.
type SubmissionJob struct {
	MatchID  string `json:"matchId"`
	PlayerID string `json:"playerId"`
	Code     string `json:"code"`
	Language string `json:"language"`
	Action   Action `json:"action"`
}

type CaseResult struct {
	Index   int     `json:"index"`
	Verdict Verdict `json:"verdict"`
	Output  string  `json:"output,omitempty"`
	Stderr  string  `json:"stderr,omitempty"`
}

// VerdictResult is emitted on code.processed once a job has been evaluated.
type VerdictResult struct {
	MatchID  string       `json:"matchId"`
	PlayerID string       `json:"playerId"`
	Action   Action       `json:"action"`
	Success  bool         `json:"success"`
	Error    string       `json:"error,omitempty"`
	Results  []CaseResult `json:"results"`
}

// PlayerJoinedEvent is raised on player.joined after a roster append.
type PlayerJoinedEvent struct {
	MatchID  string `json:"matchId"`
	PlayerID string `json:"playerId"`
}

// MatchStartedEvent is raised on match.started after WAITING→RACING.
type MatchStartedEvent struct {
	MatchID   string `json:"matchId"`
	Duration  int64  `json:"duration"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// AnalyzeJob is queued on analyze.code.
type AnalyzeJob struct {
	MatchID      string `json:"matchId"`
	PlayerID     string `json:"playerId"`
	Code         string `json:"code"`
	Language     string `json:"language"`
	ProblemTitle string `json:"problemTitle"`
}

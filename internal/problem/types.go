package problem

import (
	"context"

	"github.com/park285/code-duel/pkg/duelapi"
)

// TestCase is a hidden case; any entry in Outputs is an acceptable answer.
type TestCase struct {
	Input   string   `json:"input" yaml:"input"`
	Outputs []string `json:"output" yaml:"output"`
}

type Problem struct {
	ID          string            `json:"id" yaml:"id"`
	Slug        string            `json:"slug" yaml:"slug"`
	Title       string            `json:"title" yaml:"title"`
	Description string            `json:"description" yaml:"description"`
	TimeMinutes int               `json:"time" yaml:"time"`
	Templates   map[string]string `json:"templates,omitempty" yaml:"templates"`
	TestCases   []TestCase        `json:"testCases" yaml:"test_cases"`
}

// DTO strips hidden test cases.
func (p *Problem) DTO() *duelapi.ProblemDTO {
	if p == nil {
		return nil
	}
	return &duelapi.ProblemDTO{
		ID:          p.ID,
		Slug:        p.Slug,
		Title:       p.Title,
		Description: p.Description,
		TimeMinutes: p.TimeMinutes,
		Templates:   p.Templates,
	}
}

// Repository is the read side used by the gateway and the evaluator.
type Repository interface {
	Get(ctx context.Context, id string) (*Problem, error)
	// Random picks a problem uniformly among those of the given duration class.
	Random(ctx context.Context, minutes int) (*Problem, error)
}

// Writer is implemented by repositories that accept seeding.
type Writer interface {
	Upsert(ctx context.Context, p *Problem) error
}

var (
	ErrNotFound  = errf("problem not found")
	ErrNoProblem = errf("no problem for duration")
	ErrInvalid   = errf("invalid problem")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

package review

import (
	"context"
	"strings"
	"time"

	"github.com/park285/code-duel/internal/bus"
	"github.com/park285/code-duel/internal/msgcat"
	"github.com/park285/code-duel/internal/obslog"
	"github.com/park285/code-duel/pkg/duelapi"
	"go.uber.org/zap"
)

type Notifier interface {
	Publish(ctx context.Context, matchID string, msg duelapi.StreamMessage) error
}

// Reviewer answers analyze.code jobs with an AI_ANALYSIS message. When no
// generator is configured or the call fails, a loop-count heuristic is sent
// instead so the player always gets an answer.
type Reviewer struct {
	gen     Generator
	notify  Notifier
	catalog *msgcat.Catalog
	now     func() time.Time
}

type Option func(*Reviewer)

func WithCatalog(c *msgcat.Catalog) Option  { return func(r *Reviewer) { r.catalog = c } }
func WithClock(now func() time.Time) Option { return func(r *Reviewer) { r.now = now } }

// New builds a Reviewer. gen may be nil.
func New(gen Generator, notify Notifier, opts ...Option) *Reviewer {
	r := &Reviewer{gen: gen, notify: notify, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reviewer) Register(b bus.Bus) error {
	return b.Subscribe(bus.TopicAnalyzeCode, r.handle)
}

func (r *Reviewer) handle(ctx context.Context, env bus.Envelope) error {
	var job duelapi.AnalyzeJob
	if err := env.Decode(&job); err != nil {
		return err
	}
	return r.Analyze(ctx, job)
}

// Analyze produces the review for job and publishes it on the match stream.
func (r *Reviewer) Analyze(ctx context.Context, job duelapi.AnalyzeJob) error {
	if strings.TrimSpace(job.ProblemTitle) == "" {
		job.ProblemTitle = "Unknown"
	}
	obslog.L().Info("review_start", zap.String("match_id", job.MatchID), zap.String("player_id", job.PlayerID))

	text, err := r.generate(ctx, job)
	if err != nil {
		obslog.L().Warn("review_fallback", zap.String("match_id", job.MatchID), zap.Error(err))
		text = r.Fallback(job.Code, job.Language)
	}
	if job.MatchID == "" {
		return nil
	}
	return r.notify.Publish(ctx, job.MatchID, duelapi.NewAIAnalysis(job.PlayerID, text, r.now().UnixMilli()))
}

func (r *Reviewer) generate(ctx context.Context, job duelapi.AnalyzeJob) (string, error) {
	if r.gen == nil {
		return "", errNoGenerator
	}
	prompt := r.catalog.RenderOr("review.prompt", job,
		"Analyze this "+job.Language+" submission for the problem \""+job.ProblemTitle+"\".\n\n"+job.Code)
	return r.gen.Generate(ctx, prompt)
}

// Fallback estimates complexity from the number of "for" tokens.
func (r *Reviewer) Fallback(code, language string) string {
	nested := strings.Count(code, "for") >= 2
	complexity := "O(n)"
	if nested {
		complexity = "O(n²)"
	}
	data := map[string]any{"Complexity": complexity, "Language": language, "Nested": nested}
	return r.catalog.RenderOr("review.fallback", data,
		"### Automated Fallback Review\n**Time Complexity Estimate:** "+complexity+"\n")
}

var errNoGenerator = errf("review: generator not configured")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

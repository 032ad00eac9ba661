package judge

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/park285/code-duel/internal/duel"
	"github.com/park285/code-duel/internal/msgcat"
	"github.com/park285/code-duel/internal/obslog"
	"github.com/park285/code-duel/internal/problem"
	"github.com/park285/code-duel/pkg/duelapi"
	"go.uber.org/zap"
)

type MatchReader interface {
	Get(ctx context.Context, id string) (*duel.Match, error)
}

// Evaluator runs a submission against a problem's hidden cases, one case at a
// time, and folds the per-case verdicts into a single result.
type Evaluator struct {
	matches  MatchReader
	problems problem.Repository
	source   VerdictSource
	catalog  *msgcat.Catalog
	pause    time.Duration
}

type EvaluatorOption func(*Evaluator)

// WithCasePause sets the delay between consecutive cases.
func WithCasePause(d time.Duration) EvaluatorOption {
	return func(e *Evaluator) { e.pause = max(0, d) }
}

func WithCatalog(c *msgcat.Catalog) EvaluatorOption {
	return func(e *Evaluator) { e.catalog = c }
}

func NewEvaluator(matches MatchReader, problems problem.Repository, source VerdictSource, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{matches: matches, problems: problems, source: source, pause: 250 * time.Millisecond}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CaseCount returns how many leading cases an action runs: a quarter of the
// suite (rounded up, at least one) for RUN_TESTS, everything otherwise.
func CaseCount(total int, action duelapi.Action) int {
	if total <= 0 {
		return 0
	}
	if action == duelapi.ActionRunTests {
		return max(1, (total+3)/4)
	}
	return total
}

// Evaluate never returns an error; every failure is folded into the result.
func (e *Evaluator) Evaluate(ctx context.Context, job duelapi.SubmissionJob) duelapi.VerdictResult {
	res := duelapi.VerdictResult{
		MatchID:  job.MatchID,
		PlayerID: job.PlayerID,
		Action:   job.Action,
		Results:  []duelapi.CaseResult{},
	}
	fail := func(msg string) duelapi.VerdictResult {
		res.Success = false
		res.Error = msg
		obslog.L().Warn("judge_rejected",
			zap.String("match_id", job.MatchID),
			zap.String("player_id", job.PlayerID),
			zap.String("reason", msg),
		)
		return res
	}

	lang, ok := LookupLanguage(job.Language)
	if !ok {
		return fail(e.systemError("unsupported language " + job.Language))
	}
	m, err := e.matches.Get(ctx, job.MatchID)
	if err != nil {
		return fail(e.systemError(err.Error()))
	}
	if job.Action == duelapi.ActionSubmitSolution && m.Status != duel.StatusRacing {
		return fail(e.catalog.RenderOr("judge.not_racing", map[string]any{"Status": string(m.Status)},
			"Cannot submit. Match is "+string(m.Status)))
	}
	p, err := e.problems.Get(ctx, m.ProblemID)
	if err != nil {
		return fail(e.systemError(err.Error()))
	}

	cases := p.TestCases[:CaseCount(len(p.TestCases), job.Action)]
	obslog.L().Info("judge_start",
		zap.String("match_id", job.MatchID),
		zap.String("player_id", job.PlayerID),
		zap.String("action", string(job.Action)),
		zap.String("problem_id", p.ID),
		zap.Int("cases", len(cases)),
	)

	res.Success = len(cases) > 0
	for i, tc := range cases {
		if i > 0 && e.pause > 0 {
			if err := sleepWithContext(ctx, e.pause); err != nil {
				return fail(e.systemError(err.Error()))
			}
		}
		ex, err := e.source.Execute(ctx, lang, job.Code, tc.Input)
		cr := Classify(i+1, ex, err, tc.Outputs)
		res.Results = append(res.Results, cr)
		if cr.Verdict == duelapi.VerdictAccepted {
			continue
		}
		res.Success = false
		if res.Error == "" {
			res.Error = e.caseFailed(cr)
		}
		if cr.Verdict == duelapi.VerdictCompileError {
			break
		}
	}

	obslog.L().Info("judge_verdict",
		zap.String("match_id", job.MatchID),
		zap.String("player_id", job.PlayerID),
		zap.Bool("success", res.Success),
		zap.Int("ran", len(res.Results)),
	)
	return res
}

// Classify maps one execution onto a verdict. A transport failure counts as a
// runtime error so the submitter still receives feedback.
func Classify(index int, ex *Execution, err error, expected []string) duelapi.CaseResult {
	cr := duelapi.CaseResult{Index: index}
	switch {
	case err != nil || ex == nil:
		cr.Verdict = duelapi.VerdictRuntimeError
		cr.Stderr = "API Fail"
	case ex.CompileCode != 0:
		cr.Verdict = duelapi.VerdictCompileError
		cr.Stderr = ex.CompileStderr
	case ex.RunCode != 0:
		cr.Verdict = duelapi.VerdictRuntimeError
		cr.Stderr = ex.Stderr
	default:
		cr.Output = strings.TrimSpace(ex.Stdout)
		cr.Verdict = duelapi.VerdictWrongAnswer
		if OutputMatches(cr.Output, expected) {
			cr.Verdict = duelapi.VerdictAccepted
		}
	}
	return cr
}

// OutputMatches reports whether trimmed actual equals any trimmed expected answer.
func OutputMatches(actual string, expected []string) bool {
	actual = strings.TrimSpace(actual)
	for _, want := range expected {
		if strings.TrimSpace(want) == actual {
			return true
		}
	}
	return false
}

func (e *Evaluator) caseFailed(cr duelapi.CaseResult) string {
	data := map[string]any{
		"Index":   cr.Index,
		"Verdict": cr.Verdict.Label(),
		"Output":  cr.Output,
		"Stderr":  cr.Stderr,
	}
	fallback := "Test Case " + strconv.Itoa(cr.Index) + " Failed: " + cr.Verdict.Label()
	if cr.Output != "" {
		fallback += " (Output: " + cr.Output + ")"
	}
	if cr.Stderr != "" {
		fallback += " (Error: " + cr.Stderr + ")"
	}
	return e.catalog.RenderOr("judge.case_failed", data, fallback)
}

func (e *Evaluator) systemError(reason string) string {
	return e.catalog.RenderOr("judge.system_error", map[string]any{"Reason": reason}, "System Error: "+reason)
}

package judge

import (
	"context"

	"github.com/park285/code-duel/internal/bus"
	"github.com/park285/code-duel/pkg/duelapi"
)

// Worker consumes run.code jobs and emits code.processed results.
type Worker struct {
	eval *Evaluator
	out  bus.Publisher
}

func NewWorker(eval *Evaluator, out bus.Publisher) *Worker {
	return &Worker{eval: eval, out: out}
}

func (w *Worker) Register(b bus.Bus) error {
	return b.Subscribe(bus.TopicRunCode, w.Handle)
}

func (w *Worker) Handle(ctx context.Context, env bus.Envelope) error {
	var job duelapi.SubmissionJob
	if err := env.Decode(&job); err != nil {
		return err
	}
	res := w.eval.Evaluate(ctx, job)
	return bus.Emit(ctx, w.out, bus.TopicCodeProcessed, job.MatchID, res)
}

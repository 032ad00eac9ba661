package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/park285/code-duel/internal/obslog"
	"go.uber.org/zap"
)

// RetryPolicy bounds how often a failing handler is re-run for one delivery.
// Handlers are idempotent, so a retry after a transient store error is safe.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

var DefaultRetry = RetryPolicy{Attempts: 4, Backoff: 50 * time.Millisecond}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as one redelivery cannot fix, such as a malformed payload.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// deliver runs h until it succeeds, fails permanently, or the policy is used
// up. A panic counts as permanent.
func deliver(ctx context.Context, h Handler, env Envelope, p RetryPolicy) error {
	attempts := max(1, p.Attempts)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = invoke(ctx, h, env)
		if err == nil || IsPermanent(err) {
			return err
		}
		obslog.L().Warn("bus_handler_retry",
			zap.String("topic", string(env.Topic)),
			zap.String("match_id", env.MatchID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == attempts {
			break
		}
		t := time.NewTimer(p.Backoff << (attempt - 1))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}

func invoke(ctx context.Context, h Handler, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h(ctx, env)
}

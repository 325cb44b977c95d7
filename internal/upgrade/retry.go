package upgrade

import (
	"context"
	"fmt"
	"time"

	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/juju/clock"
	"github.com/juju/retry"
)

// JobLog is the job-scoped log the workflow narrates into.
type JobLog interface {
	Debugf(ctx context.Context, format string, args ...any)
	Infof(ctx context.Context, format string, args ...any)
	Warnf(ctx context.Context, format string, args ...any)
	Errorf(ctx context.Context, format string, args ...any)
}

// retryLoop runs fn until it succeeds, fails fatally or the policy is
// spent. The loop stops early when ctx is done.
type retryLoop struct {
	clock  clock.Clock
	policy models.RetryPolicy
	fatal  func(error) bool
	notify func(err error, attempt int)
}

func (l retryLoop) run(ctx context.Context, fn func() error) error {
	attempts := l.policy.MaximumAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := l.policy.RetryInterval
	if delay <= 0 {
		delay = time.Millisecond
	}
	clk := l.clock
	if clk == nil {
		clk = clock.WallClock
	}

	err := retry.Call(retry.CallArgs{
		Func:         fn,
		IsFatalError: l.fatal,
		NotifyFunc:   l.notify,
		Attempts:     attempts,
		Delay:        delay,
		Clock:        clk,
		Stop:         ctx.Done(),
	})
	switch {
	case err == nil:
		return nil
	case retry.IsAttemptsExceeded(err):
		return fmt.Errorf("gave up after %d attempts: %w", attempts, retry.LastError(err))
	case retry.IsRetryStopped(err):
		return fmt.Errorf("interrupted: %w", ctx.Err())
	}
	return err
}

// sleep waits d on clk or until ctx is done.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if clk == nil {
		clk = clock.WallClock
	}
	select {
	case <-clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

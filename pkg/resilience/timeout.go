package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
)

// WithTimeout runs fn under a time budget. fn runs on the calling goroutine
// and must honour ctx: a search still holding its snapshot cannot be
// abandoned. When the budget, not the parent, ends the context the error
// matches both apperrors.ErrTimeout and context.DeadlineExceeded.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	budgetCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(budgetCtx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: caller gave up: %w", name, err)
	case budgetCtx.Err() == context.DeadlineExceeded:
		return fmt.Errorf("%s exceeded %v: %w: %w", name, timeout, apperrors.ErrTimeout, context.DeadlineExceeded)
	default:
		return err
	}
}

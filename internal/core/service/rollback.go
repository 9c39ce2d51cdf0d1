package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rl1809/nft-marketplace/internal/core/domain"
)

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

// undoLog collects compensations for the effects of one operation.
type undoLog struct {
	key    domain.ItemKey
	logger *slog.Logger
	steps  []undoStep
}

func (u *undoLog) push(name string, fn func(ctx context.Context) error) {
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

// rollback runs compensations newest first and returns cause, joined with any
// compensation failures. Compensations run even if ctx was cancelled.
func (u *undoLog) rollback(ctx context.Context, cause error) error {
	ctx = context.WithoutCancel(ctx)

	var failed []error
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		if err := step.fn(ctx); err != nil {
			u.logger.ErrorContext(ctx, "CRITICAL rollback step failed",
				"key", u.key.String(),
				"step", step.name,
				"cause", cause,
				"error", err,
			)
			failed = append(failed, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		u.logger.WarnContext(ctx, "rolled back", "key", u.key.String(), "step", step.name)
	}
	u.steps = nil

	if len(failed) > 0 {
		return fmt.Errorf("%w; rollback incomplete: %w", cause, errors.Join(failed...))
	}
	return cause
}

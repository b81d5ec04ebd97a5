package booking

import (
	"context"
	"errors"
)

// sagaStep is one forward action of a compensating transaction. compensate is
// nil for the last step, which has nothing after it to fail.
type sagaStep struct {
	name       string
	run        func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// runSaga executes steps in order. When a step fails, the compensators of all
// completed steps run in reverse order and the step error is returned. If any
// compensator fails, a *CompensationError is returned instead.
func runSaga(ctx context.Context, steps []sagaStep) error {
	completed := make([]sagaStep, 0, len(steps))
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			if compensationErr := compensate(ctx, completed); compensationErr != nil {
				return &CompensationError{
					failedStep:      step.name,
					cause:           err,
					compensationErr: compensationErr,
				}
			}
			return err
		}
		completed = append(completed, step)
	}
	return nil
}

// compensate keeps going after a failed compensator so every completed step
// gets its rollback attempt. A cancelled request still rolls back.
func compensate(ctx context.Context, completed []sagaStep) error {
	rollbackCtx := context.WithoutCancel(ctx)
	var failures []error
	for index := len(completed) - 1; index >= 0; index-- {
		step := completed[index]
		if step.compensate == nil {
			continue
		}
		if err := step.compensate(rollbackCtx); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

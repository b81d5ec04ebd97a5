package booking

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestRunSagaCompensatesInReverseOrder(test *testing.T) {
	test.Parallel()
	var calls []string
	stepFailure := errors.New("third step failed")
	steps := []sagaStep{
		{
			name:       "first",
			run:        func(context.Context) error { calls = append(calls, "run:first"); return nil },
			compensate: func(context.Context) error { calls = append(calls, "undo:first"); return nil },
		},
		{
			name:       "second",
			run:        func(context.Context) error { calls = append(calls, "run:second"); return nil },
			compensate: func(context.Context) error { calls = append(calls, "undo:second"); return nil },
		},
		{
			name:       "third",
			run:        func(context.Context) error { calls = append(calls, "run:third"); return stepFailure },
			compensate: func(context.Context) error { calls = append(calls, "undo:third"); return nil },
		},
	}

	err := runSaga(context.Background(), steps)
	if !errors.Is(err, stepFailure) {
		test.Fatalf("expected step failure, got %v", err)
	}
	expected := []string{"run:first", "run:second", "run:third", "undo:second", "undo:first"}
	if !reflect.DeepEqual(calls, expected) {
		test.Fatalf("expected %v, got %v", expected, calls)
	}
}

func TestRunSagaAttemptsEveryCompensator(test *testing.T) {
	test.Parallel()
	firstUndone := false
	undoFailure := errors.New("undo second failed")
	steps := []sagaStep{
		{
			name:       "first",
			run:        func(context.Context) error { return nil },
			compensate: func(context.Context) error { firstUndone = true; return nil },
		},
		{
			name:       "second",
			run:        func(context.Context) error { return nil },
			compensate: func(context.Context) error { return undoFailure },
		},
		{
			name: "third",
			run:  func(context.Context) error { return errors.New("boom") },
		},
	}

	err := runSaga(context.Background(), steps)
	var compensationError *CompensationError
	if !errors.As(err, &compensationError) {
		test.Fatalf("expected compensation error, got %v", err)
	}
	if !firstUndone {
		test.Fatalf("expected first step to be compensated after second compensator failed")
	}
	if compensationError.FailedStep() != "third" || !errors.Is(err, undoFailure) || !errors.Is(err, ErrCompensationFailed) {
		test.Fatalf("unexpected compensation error: %v", err)
	}
}

func TestRunSagaCompensatesAfterCancellation(test *testing.T) {
	test.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	var compensateErr error
	steps := []sagaStep{
		{
			name: "insert",
			run:  func(context.Context) error { return nil },
			compensate: func(ctx context.Context) error {
				compensateErr = ctx.Err()
				return nil
			},
		},
		{
			name: "debit",
			run: func(context.Context) error {
				cancel()
				return context.Canceled
			},
		},
	}

	if err := runSaga(ctx, steps); !errors.Is(err, context.Canceled) {
		test.Fatalf("expected cancellation to surface, got %v", err)
	}
	if compensateErr != nil {
		test.Fatalf("expected compensation context to outlive the request, got %v", compensateErr)
	}
}

func TestRunSagaSucceedsWithoutCompensation(test *testing.T) {
	test.Parallel()
	compensated := false
	steps := []sagaStep{
		{
			name:       "only",
			run:        func(context.Context) error { return nil },
			compensate: func(context.Context) error { compensated = true; return nil },
		},
	}
	if err := runSaga(context.Background(), steps); err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if compensated {
		test.Fatalf("compensator must not run on success")
	}
}

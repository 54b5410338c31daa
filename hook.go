package karakuri

import "context"

type (
	PhaseHook             func(ctx context.Context, taskID string, from, to Phase) error
	MessageHook           func(ctx context.Context, taskID, msg string) error
	OperationRequestHook  func(ctx context.Context, op *Operation) error
	OperationResponseHook func(ctx context.Context, op *Operation, result map[string]any) error
	OperationErrorHook    func(ctx context.Context, err error, op *Operation) error
)

func defaultPhaseHook(ctx context.Context, taskID string, from, to Phase) error {
	return nil
}

func defaultMessageHook(ctx context.Context, taskID, msg string) error {
	return nil
}

func defaultOperationRequestHook(ctx context.Context, op *Operation) error {
	return nil
}

func defaultOperationResponseHook(ctx context.Context, op *Operation, result map[string]any) error {
	return nil
}

func defaultOperationErrorHook(ctx context.Context, err error, op *Operation) error {
	return nil
}

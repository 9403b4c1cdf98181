package jobs

import "context"

// ProgressReporter lets a running Handler report completion percentage
// back to the runner. Each call renews the work item's queue lease when
// RunnerOptions.RenewExtension is positive, and its distributed lock if one
// is held for the resource, so a slow but actively-progressing handler is
// not mistaken for a stuck one.
type ProgressReporter interface {
	Report(ctx context.Context, percent int, message string) error
}

// Handler processes one kind of work item, identified by Type().
type Handler interface {
	Type() string
	Handle(ctx context.Context, payload any, progress ProgressReporter) error
}

// HandlerFunc adapts a plain function to Handler for handlers that never
// report progress.
type HandlerFunc struct {
	TypeName string
	Fn       func(ctx context.Context, payload any) error
}

func (h HandlerFunc) Type() string { return h.TypeName }

func (h HandlerFunc) Handle(ctx context.Context, payload any, _ ProgressReporter) error {
	return h.Fn(ctx, payload)
}

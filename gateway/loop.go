package gateway

import "context"

// Loop serializes all handler work onto one goroutine. Gateway callbacks and
// the webhook HTTP thread submit closures through Do and block until the loop
// has executed them, which keeps the chat client single-threaded and makes
// event handlers run one at a time relative to each other.
type Loop struct {
	tasks chan func(context.Context)
}

// NewLoop returns a loop with a small submission buffer.
func NewLoop() *Loop {
	return &Loop{tasks: make(chan func(context.Context), 16)}
}

// Run drains tasks until ctx is cancelled. It must be running before any Do
// call can complete.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-l.tasks:
			task(ctx)
		}
	}
}

// Do submits fn and blocks until the loop has executed it, returning fn's
// error. fn runs with the loop's context, not the caller's; the caller's ctx
// only bounds the wait.
func (l *Loop) Do(ctx context.Context, fn func(context.Context) error) error {
	errc := make(chan error, 1)
	select {
	case l.tasks <- func(runCtx context.Context) { errc <- fn(runCtx) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

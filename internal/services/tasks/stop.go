package tasks

import (
	"context"
	"time"
)

// StopToken is a cooperative cancellation signal. It is observed at suspension points
// (waits, task starts, page transitions) and never interrupts work already in flight.
type StopToken struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewStopToken creates a token that also fires when parent is cancelled
func NewStopToken(parent context.Context) *StopToken {
	ctx, cancel := context.WithCancel(parent)
	return &StopToken{ctx: ctx, cancel: cancel}
}

// Stop sets the token; safe to call more than once
func (t *StopToken) Stop() {
	t.cancel()
}

// Stopped reports whether the token has been set
func (t *StopToken) Stopped() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the token is set
func (t *StopToken) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Context returns a context cancelled when the token is set, for waits that should end early on stop
func (t *StopToken) Context() context.Context {
	return t.ctx
}

// Sleep waits for d or until the token is set. Returns false if the wait was cut short.
func Sleep(stop *StopToken, d time.Duration) bool {
	return sleepCtx(stop.Context(), d) == nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

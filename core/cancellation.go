package orchestration

import (
	"context"
	"sync/atomic"
)

// CancelToken is a cooperative cancellation flag shared between the
// foreground and one fetch worker. Cancelling it also cancels the context
// handed out with it so blocked network reads return early.
type CancelToken struct {
	cancelled atomic.Bool
	cancel    context.CancelFunc
}

func NewCancelToken(parent context.Context) (*CancelToken, context.Context) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &CancelToken{cancel: cancel}, ctx
}

// Cancel sets the flag. It reports whether this call was the one that set it.
func (t *CancelToken) Cancel() bool {
	if !t.cancelled.CompareAndSwap(false, true) {
		return false
	}
	t.cancel()
	return true
}

func (t *CancelToken) Cancelled() bool {
	return t.cancelled.Load()
}

// release frees the context without marking the token cancelled.
func (t *CancelToken) release() {
	t.cancel()
}

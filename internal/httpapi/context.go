package httpapi

import (
	"context"
)

// serverBaseCtx is a process-level context that can be canceled on shutdown.
// Defaults to Background if not set.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
// Canceling it ends streaming sessions, which http.Server.Shutdown does not
// track once the connection is upgraded.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context carrying a's values that is canceled when
// either a or b is done. The returned cancel func must be called when the
// handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// detached keeps r's values but not its cancellation, bounded only by the
// server base context. Used for one-shot invocations that must run to
// completion even if the client goes away.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return joinContexts(context.WithoutCancel(ctx), serverBaseCtx)
}

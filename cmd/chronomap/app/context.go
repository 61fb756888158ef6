package app

import (
	"context"
	"os/signal"
	"syscall"
)

// ContextWithSignals creates a context cancelled on interrupt or
// termination, enabling graceful shutdown.
func ContextWithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// Context is a convenience wrapper around ContextWithSignals using
// context.Background() as the parent.
func Context() (context.Context, context.CancelFunc) {
	return ContextWithSignals(context.Background())
}

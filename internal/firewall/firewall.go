package firewall

import (
	"context"
	"fmt"
	"log"
)

// Enforcer durably whitelists a network identifier. Permit is idempotent:
// re-permitting an already-permitted address succeeds without side effects.
// There is no undo.
type Enforcer interface {
	Permit(ctx context.Context, addr string) error
}

// EnforcerError reports a failed firewall mutation. It is logged by the
// caller and never blocks recording the verdict.
type EnforcerError struct {
	Addr string
	Err  error
}

func (e *EnforcerError) Error() string {
	return fmt.Sprintf("permit %s failed: %v", e.Addr, e.Err)
}

func (e *EnforcerError) Unwrap() error { return e.Err }

// LogOnly is the development enforcer: it records what would have been
// permitted and mutates nothing.
type LogOnly struct {
	Logger *log.Logger
}

func (l *LogOnly) Permit(ctx context.Context, addr string) error {
	l.Logger.Printf("would permit %s (log-only mode)", addr)
	return nil
}

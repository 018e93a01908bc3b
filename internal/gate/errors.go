package gate

import (
	"fmt"

	"github.com/gatewarden/gatewarden/internal/access"
)

// StateConflictError reports an operation that is illegal for the client's
// current ledger state. It is surfaced to the caller as a rejection and is
// never silently coerced into a different operation.
type StateConflictError struct {
	Op      string
	Current access.State
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.Current)
}

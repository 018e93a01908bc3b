package provider

import (
	"context"
	"fmt"
)

// Message is one turn of a conversation as exchanged with the oracle.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Verdict is the structured judgment rendered over a finished conversation.
type Verdict struct {
	Access bool   `json:"access"`
	Reason string `json:"reason"`
}

// Oracle is the external text-judgment capability. All three call modes go
// through one interface so failure handling and request shaping stay unified
// and the whole thing can be swapped for a fake in tests.
type Oracle interface {
	// Plan derives an interrogation plan from the operator-authored policy.
	Plan(ctx context.Context, criteria, topic, personality string) (string, error)
	// Converse produces the next assistant reply for the ordered history.
	Converse(ctx context.Context, history []Message) (string, error)
	// Judge renders the access verdict for a finished conversation.
	Judge(ctx context.Context, criteria, topic, plan string, history []Message) (Verdict, error)
}

// OracleError reports a transport or format failure of the oracle. It is
// fatal to the current request and is never retried automatically.
type OracleError struct {
	Mode string // plan, converse or judge
	Err  error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle %s failed: %v", e.Mode, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// VerdictParseError reports that the oracle replied in judge mode but the
// reply was not the required structured object. The decision has not been
// consumed and the caller may retry.
type VerdictParseError struct {
	Raw string
	Err error
}

func (e *VerdictParseError) Error() string {
	return fmt.Sprintf("unparsable verdict: %v", e.Err)
}

func (e *VerdictParseError) Unwrap() error { return e.Err }

package gate

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/gatewarden/gatewarden/internal/access"
	"github.com/gatewarden/gatewarden/internal/store"
	"github.com/gatewarden/gatewarden/provider"
)

// Conversation mediates user-visible dialogue turns. It owns the
// conversation log and the ledger transitions up to pending_verdict.
type Conversation struct {
	Store  *store.Store
	Oracle provider.Oracle
	Marker Marker
	Logger *log.Logger
}

// Open returns the client's visible history, seeding the conversation for
// a new client: system turn from the policy, one assistant opening line,
// ledger to active. Safe to call repeatedly.
func (c *Conversation) Open(ctx context.Context, clientID string) ([]store.Turn, error) {
	turns, err := c.Store.ListTurns(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if len(turns) == 0 {
		pol, err := c.Store.GetPolicy(ctx)
		if err != nil {
			return nil, err
		}
		seed := conversationSystemPrompt(pol.Plan, pol.Topic, pol.Personality, c.Marker.token)
		if err := c.Store.AppendTurn(ctx, clientID, store.RoleSystem, seed); err != nil {
			return nil, err
		}
		turns = []store.Turn{{Role: store.RoleSystem, Content: seed}}
	}

	// A lone system turn means a fresh client, or a seed whose opening line
	// was lost to an oracle failure; either way the opening line is owed.
	if len(turns) == 1 && turns[0].Role == store.RoleSystem {
		c.Logger.Printf("seeding conversation for client %s", clientID)
		reply, err := c.Oracle.Converse(ctx, toMessages(turns))
		if err != nil {
			return nil, err
		}
		if err := c.Store.AppendTurn(ctx, clientID, store.RoleAssistant, reply); err != nil {
			return nil, err
		}
		if _, err := c.Store.Advance(ctx, clientID, access.StateUnseen, access.StateActive); err != nil {
			return nil, err
		}
		turns = append(turns, store.Turn{Role: store.RoleAssistant, Content: reply})
	}

	return visibleTurns(turns), nil
}

// Message runs one dialogue turn: append the user turn, ask the oracle for
// the reply, strip the termination marker, append the cleaned reply. The
// returned bool reports whether this turn ended the conversation.
//
// The user turn is appended before the oracle call so a failed turn leaves
// a consistent log behind for retry.
func (c *Conversation) Message(ctx context.Context, clientID, text string) (string, bool, error) {
	turns, err := c.Store.ListTurns(ctx, clientID)
	if err != nil {
		return "", false, err
	}
	if len(turns) == 0 {
		return "", false, &StateConflictError{Op: "chat", Current: access.StateUnseen}
	}

	if err := c.Store.AppendTurn(ctx, clientID, store.RoleUser, text); err != nil {
		return "", false, err
	}
	history := append(toMessages(turns), provider.Message{Role: store.RoleUser, Content: text})

	reply, err := c.Oracle.Converse(ctx, history)
	if err != nil {
		return "", false, err
	}

	last := c.Marker.Present(reply)
	clean := c.Marker.Strip(reply)
	if err := c.Store.AppendTurn(ctx, clientID, store.RoleAssistant, clean); err != nil {
		return "", false, err
	}

	turnID := uuid.NewString()
	c.Logger.Printf("turn %s client=%s terminal=%v reply_len=%d", turnID, clientID, last, len(clean))

	if last {
		// A lost race here means a concurrent terminal turn already moved
		// the ledger; the state is correct either way.
		won, err := c.Store.Advance(ctx, clientID, access.StateActive, access.StatePendingVerdict)
		if err != nil {
			return "", false, err
		}
		if !won {
			c.Logger.Printf("turn %s client=%s lost terminal transition to a concurrent turn", turnID, clientID)
		}
	}
	return clean, last, nil
}

// visibleTurns drops the system turn; it is never returned to UI-facing
// callers.
func visibleTurns(turns []store.Turn) []store.Turn {
	out := make([]store.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == store.RoleSystem {
			continue
		}
		out = append(out, t)
	}
	return out
}

func toMessages(turns []store.Turn) []provider.Message {
	out := make([]provider.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, provider.Message{Role: t.Role, Content: t.Content})
	}
	return out
}

package gate

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/gatewarden/gatewarden/internal/firewall"
	"github.com/gatewarden/gatewarden/internal/store"
	"github.com/gatewarden/gatewarden/provider"
)

// Decision renders and applies the terminal verdict. It owns the
// transition out of pending_verdict; its conditional write is the safety
// net against concurrent evaluations, regardless of what the caller
// checked.
type Decision struct {
	Store    *store.Store
	Oracle   provider.Oracle
	Enforcer firewall.Enforcer
	Logger   *log.Logger
}

// Evaluate judges the client's finished conversation against the policy
// and applies the outcome. On an oracle or parse failure the ledger is
// untouched and the decision remains available for retry; a half-applied
// verdict is never observable as granted.
func (d *Decision) Evaluate(ctx context.Context, clientID, addr string) (provider.Verdict, error) {
	turns, err := d.Store.ListTurns(ctx, clientID)
	if err != nil {
		return provider.Verdict{}, err
	}
	pol, err := d.Store.GetPolicy(ctx)
	if err != nil {
		return provider.Verdict{}, err
	}

	verdict, err := d.Oracle.Judge(ctx, pol.Criteria, pol.Topic, pol.Plan, toMessages(turns))
	if err != nil {
		return provider.Verdict{}, err
	}

	verdictID := uuid.NewString()
	d.Logger.Printf("verdict %s client=%s access=%v reason=%q", verdictID, clientID, verdict.Access, verdict.Reason)

	if verdict.Access {
		// A firewall failure must not re-open the decision: the verdict is
		// sound and the permit can be re-applied on a later request.
		if err := d.Enforcer.Permit(ctx, addr); err != nil {
			d.Logger.Printf("verdict %s client=%s enforcer failed: %v", verdictID, clientID, err)
		}
	}

	won, err := d.Store.RecordVerdict(ctx, clientID, verdictID, verdict)
	if err != nil {
		return provider.Verdict{}, err
	}
	if !won {
		d.Logger.Printf("verdict %s client=%s already decided by a concurrent evaluation", verdictID, clientID)
	}
	return verdict, nil
}

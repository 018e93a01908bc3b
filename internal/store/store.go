package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/gatewarden/gatewarden/internal/access"
	"github.com/gatewarden/gatewarden/provider"
)

// Store wraps the Postgres connection for the three gatekeeper stores:
// the policy row, the append-only conversation log and the access ledger.
type Store struct {
	DB *sql.DB
}

// Conversation roles persisted in the log.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Policy is the operator-configured access policy, one row per deployment.
// Plan is derived from the other three fields and regenerated whenever any
// of them changes.
type Policy struct {
	Criteria    string    `json:"criteria"`
	Topic       string    `json:"topic"`
	Personality string    `json:"personality"`
	Plan        string    `json:"plan"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Turn is one stored conversation turn. Sequence is the insertion order.
type Turn struct {
	Sequence int64  `json:"-"`
	Role     string `json:"role"`
	Content  string `json:"content"`
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return &Store{DB: db}, nil
}

// Policy operations

func (s *Store) GetPolicy(ctx context.Context) (Policy, error) {
	var p Policy
	err := s.DB.QueryRowContext(ctx,
		`SELECT criteria, topic, personality, plan, updated_at FROM guard_policy WHERE id=1`,
	).Scan(&p.Criteria, &p.Topic, &p.Personality, &p.Plan, &p.UpdatedAt)
	return p, err
}

// UpdatePolicy persists the full policy record. The caller must have
// regenerated Plan from the new inputs before calling.
func (s *Store) UpdatePolicy(ctx context.Context, p Policy) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE guard_policy SET criteria=$1, topic=$2, personality=$3, plan=$4, updated_at=NOW() WHERE id=1`,
		p.Criteria, p.Topic, p.Personality, p.Plan)
	return err
}

// Conversation log operations

// AppendTurn inserts one turn at the end of the client's log. Rows are
// immutable once written and are never rolled back on later failures.
func (s *Store) AppendTurn(ctx context.Context, clientID, role, content string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO conversation_turns (client_id, role, content) VALUES ($1,$2,$3)`,
		clientID, role, content)
	return err
}

// ListTurns returns the client's full log, including the system turn, in
// insertion order.
func (s *Store) ListTurns(ctx context.Context, clientID string) ([]Turn, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, role, content FROM conversation_turns WHERE client_id=$1 ORDER BY id`,
		clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Sequence, &t.Role, &t.Content); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Access ledger operations

// GetAccessState returns the client's ledger state; a missing row is Unseen.
func (s *Store) GetAccessState(ctx context.Context, clientID string) (access.State, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx,
		`SELECT state FROM access_states WHERE client_id=$1`, clientID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return access.StateUnseen, nil
	}
	if err != nil {
		return "", err
	}
	return access.ParseState(raw)
}

// Advance moves the ledger from one state to the next with a single-row
// conditional write. It reports false when the current state no longer
// matches from, which is how concurrent duplicates lose the race.
func (s *Store) Advance(ctx context.Context, clientID string, from, to access.State) (bool, error) {
	if !access.CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	var res sql.Result
	var err error
	if from == access.StateUnseen {
		res, err = s.DB.ExecContext(ctx,
			`INSERT INTO access_states (client_id, state) VALUES ($1,$2) ON CONFLICT (client_id) DO NOTHING`,
			clientID, to.String())
	} else {
		res, err = s.DB.ExecContext(ctx,
			`UPDATE access_states SET state=$3, updated_at=NOW() WHERE client_id=$1 AND state=$2`,
			clientID, from.String(), to.String())
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordVerdict applies the terminal transition from pending_verdict and
// stores the verdict in the same statement, so a recorded decision and its
// terminal state are never observable apart.
func (s *Store) RecordVerdict(ctx context.Context, clientID, verdictID string, v provider.Verdict) (bool, error) {
	to := access.StateDenied
	if v.Access {
		to = access.StateGranted
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE access_states
SET state=$2, verdict_id=$3, access=$4, reason=$5, decided_at=NOW(), updated_at=NOW()
WHERE client_id=$1 AND state=$6
`, clientID, to.String(), verdictID, v.Access, v.Reason, access.StatePendingVerdict.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetVerdict returns the recorded verdict for a client in a terminal state.
func (s *Store) GetVerdict(ctx context.Context, clientID string) (provider.Verdict, bool, error) {
	var v provider.Verdict
	err := s.DB.QueryRowContext(ctx,
		`SELECT access, reason FROM access_states WHERE client_id=$1 AND access IS NOT NULL`,
		clientID).Scan(&v.Access, &v.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return provider.Verdict{}, false, nil
	}
	if err != nil {
		return provider.Verdict{}, false, err
	}
	return v, true, nil
}

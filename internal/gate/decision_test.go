package gate

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/gatewarden/gatewarden/internal/firewall"
	"github.com/gatewarden/gatewarden/internal/store"
	"github.com/gatewarden/gatewarden/provider"
)

type fakeEnforcer struct {
	permitted []string
	err       error
}

func (f *fakeEnforcer) Permit(ctx context.Context, addr string) error {
	f.permitted = append(f.permitted, addr)
	return f.err
}

func newDecision(t *testing.T) (*Decision, sqlmock.Sqlmock, *fakeOracle, *fakeEnforcer, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	oracle := &fakeOracle{}
	enforcer := &fakeEnforcer{}
	d := &Decision{
		Store:    &store.Store{DB: db},
		Oracle:   oracle,
		Enforcer: enforcer,
		Logger:   log.New(io.Discard, "", 0),
	}
	return d, mock, oracle, enforcer, func() { db.Close() }
}

const recordVerdictQ = `UPDATE access_states\s+SET state=\$2, verdict_id=\$3, access=\$4, reason=\$5, decided_at=NOW\(\), updated_at=NOW\(\)\s+WHERE client_id=\$1 AND state=\$6`

func expectTranscript(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(listTurnsQ).WithArgs("10.0.0.5").
		WillReturnRows(sqlmock.NewRows([]string{"id", "role", "content"}).
			AddRow(1, store.RoleSystem, "seed").
			AddRow(2, store.RoleAssistant, "hello").
			AddRow(3, store.RoleUser, "let me in").
			AddRow(4, store.RoleAssistant, "we are done"))
	mock.ExpectQuery(getPolicyQ).WillReturnRows(policyRows())
}

func TestEvaluateGrantPermitsAndRecords(t *testing.T) {
	d, mock, oracle, enforcer, done := newDecision(t)
	defer done()
	oracle.verdict = provider.Verdict{Access: true, Reason: "satisfies the criteria"}

	expectTranscript(mock)
	mock.ExpectExec(recordVerdictQ).
		WithArgs("10.0.0.5", "granted", sqlmock.AnyArg(), true, "satisfies the criteria", "pending_verdict").
		WillReturnResult(sqlmock.NewResult(0, 1))

	v, err := d.Evaluate(context.Background(), "10.0.0.5", "10.0.0.5")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !v.Access {
		t.Fatalf("unexpected verdict %+v", v)
	}
	if len(enforcer.permitted) != 1 || enforcer.permitted[0] != "10.0.0.5" {
		t.Fatalf("expected exactly one permit, got %v", enforcer.permitted)
	}
	// The judge sees the full transcript, system turn included.
	if len(oracle.judgeIn) != 4 || oracle.judgeIn[0].Role != store.RoleSystem {
		t.Fatalf("judge transcript wrong: %+v", oracle.judgeIn)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEvaluateDenyRecordsWithoutEnforcer(t *testing.T) {
	d, mock, oracle, enforcer, done := newDecision(t)
	defer done()
	oracle.verdict = provider.Verdict{Access: false, Reason: "evasive answers"}

	expectTranscript(mock)
	mock.ExpectExec(recordVerdictQ).
		WithArgs("10.0.0.5", "denied", sqlmock.AnyArg(), false, "evasive answers", "pending_verdict").
		WillReturnResult(sqlmock.NewResult(0, 1))

	v, err := d.Evaluate(context.Background(), "10.0.0.5", "10.0.0.5")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Access {
		t.Fatalf("unexpected verdict %+v", v)
	}
	if len(enforcer.permitted) != 0 {
		t.Fatalf("denied verdict must not touch the firewall: %v", enforcer.permitted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEvaluateOracleFailureLeavesLedgerUntouched(t *testing.T) {
	d, mock, oracle, enforcer, done := newDecision(t)
	defer done()
	oracle.judgeErr = &provider.OracleError{Mode: "judge", Err: errors.New("timeout")}

	expectTranscript(mock)
	// No RecordVerdict expectation: the decision has not been consumed.

	_, err := d.Evaluate(context.Background(), "10.0.0.5", "10.0.0.5")
	var oe *provider.OracleError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OracleError, got %v", err)
	}
	if len(enforcer.permitted) != 0 {
		t.Fatalf("failed judgment must not touch the firewall: %v", enforcer.permitted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEvaluateVerdictParseFailureLeavesLedgerUntouched(t *testing.T) {
	d, mock, oracle, _, done := newDecision(t)
	defer done()
	oracle.judgeErr = &provider.VerdictParseError{Raw: "prose", Err: errors.New("not json")}

	expectTranscript(mock)

	_, err := d.Evaluate(context.Background(), "10.0.0.5", "10.0.0.5")
	var pe *provider.VerdictParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected VerdictParseError, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEvaluateEnforcerFailureStillRecordsVerdict(t *testing.T) {
	d, mock, oracle, enforcer, done := newDecision(t)
	defer done()
	oracle.verdict = provider.Verdict{Access: true, Reason: "fine"}
	enforcer.err = &firewall.EnforcerError{Addr: "10.0.0.5", Err: errors.New("iptables exited 4")}

	expectTranscript(mock)
	mock.ExpectExec(recordVerdictQ).
		WithArgs("10.0.0.5", "granted", sqlmock.AnyArg(), true, "fine", "pending_verdict").
		WillReturnResult(sqlmock.NewResult(0, 1))

	v, err := d.Evaluate(context.Background(), "10.0.0.5", "10.0.0.5")
	if err != nil {
		t.Fatalf("enforcer failure must not fail the evaluation: %v", err)
	}
	if !v.Access {
		t.Fatalf("unexpected verdict %+v", v)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEvaluateToleratesLostTerminalRace(t *testing.T) {
	d, mock, oracle, _, done := newDecision(t)
	defer done()
	oracle.verdict = provider.Verdict{Access: false, Reason: "nope"}

	expectTranscript(mock)
	mock.ExpectExec(recordVerdictQ).
		WithArgs("10.0.0.5", "denied", sqlmock.AnyArg(), false, "nope", "pending_verdict").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if _, err := d.Evaluate(context.Background(), "10.0.0.5", "10.0.0.5"); err != nil {
		t.Fatalf("lost race must be tolerated: %v", err)
	}
}

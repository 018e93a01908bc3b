package server

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/gatewarden/gatewarden/internal/access"
	"github.com/gatewarden/gatewarden/internal/firewall"
	"github.com/gatewarden/gatewarden/internal/gate"
	"github.com/gatewarden/gatewarden/internal/store"
	"github.com/gatewarden/gatewarden/provider"
)

type fakeOracle struct {
	plan     string
	planErr  error
	planIn   [3]string
	reply    string
	convErr  error
	verdict  provider.Verdict
	judgeErr error
	judges   int
}

func (f *fakeOracle) Plan(ctx context.Context, criteria, topic, personality string) (string, error) {
	f.planIn = [3]string{criteria, topic, personality}
	return f.plan, f.planErr
}

func (f *fakeOracle) Converse(ctx context.Context, history []provider.Message) (string, error) {
	if f.convErr != nil {
		return "", f.convErr
	}
	return f.reply, nil
}

func (f *fakeOracle) Judge(ctx context.Context, criteria, topic, plan string, history []provider.Message) (provider.Verdict, error) {
	f.judges++
	return f.verdict, f.judgeErr
}

type fakeEnforcer struct {
	permitted []string
	err       error
}

func (f *fakeEnforcer) Permit(ctx context.Context, addr string) error {
	f.permitted = append(f.permitted, addr)
	return f.err
}

var _ firewall.Enforcer = (*fakeEnforcer)(nil)

var (
	listTurnsQ  = regexp.QuoteMeta(`SELECT id, role, content FROM conversation_turns WHERE client_id=$1 ORDER BY id`)
	appendTurnQ = regexp.QuoteMeta(`INSERT INTO conversation_turns (client_id, role, content) VALUES ($1,$2,$3)`)
	getPolicyQ  = regexp.QuoteMeta(`SELECT criteria, topic, personality, plan, updated_at FROM guard_policy WHERE id=1`)
	getStateQ   = regexp.QuoteMeta(`SELECT state FROM access_states WHERE client_id=$1`)
	getVerdictQ = regexp.QuoteMeta(`SELECT access, reason FROM access_states WHERE client_id=$1 AND access IS NOT NULL`)
	updPolicyQ  = regexp.QuoteMeta(`UPDATE guard_policy SET criteria=$1, topic=$2, personality=$3, plan=$4, updated_at=NOW() WHERE id=1`)
	insertLedgQ = regexp.QuoteMeta(`INSERT INTO access_states (client_id, state) VALUES ($1,$2) ON CONFLICT (client_id) DO NOTHING`)
	updateLedgQ = regexp.QuoteMeta(`UPDATE access_states SET state=$3, updated_at=NOW() WHERE client_id=$1 AND state=$2`)
)

const recordVerdictQ = `UPDATE access_states\s+SET state=\$2, verdict_id=\$3, access=\$4, reason=\$5, decided_at=NOW\(\), updated_at=NOW\(\)\s+WHERE client_id=\$1 AND state=\$6`

func policyRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"criteria", "topic", "personality", "plan", "updated_at"}).
		AddRow("allow engineers", "infrastructure", "gruff doorman", "probe their work", time.Now())
}

type fixture struct {
	handler  *GateHandler
	oracle   *fakeOracle
	enforcer *fakeEnforcer
	mock     sqlmock.Sqlmock
	close    func()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	st := &store.Store{DB: db}
	oracle := &fakeOracle{}
	enforcer := &fakeEnforcer{}
	quiet := log.New(io.Discard, "", 0)
	h := &GateHandler{
		Store: st,
		Conversation: &gate.Conversation{
			Store: st, Oracle: oracle, Marker: gate.NewMarker("[end]"), Logger: quiet,
		},
		Decision: &gate.Decision{
			Store: st, Oracle: oracle, Enforcer: enforcer, Logger: quiet,
		},
		Enforcer: enforcer,
		Logger:   quiet,
	}
	return &fixture{handler: h, oracle: oracle, enforcer: enforcer, mock: mock, close: func() { db.Close() }}
}

// newGateContext builds an echo context carrying what the routing
// middleware would have resolved.
func newGateContext(t *testing.T, method, path, body, clientID string, state access.State) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("client_id", clientID)
	if state != "" {
		ctx.Set("access_state", state)
	}
	return ctx, rec
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if he.Code != code {
		t.Fatalf("expected status %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func mustStatus(t *testing.T, rec *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rec.Code != code {
		t.Fatalf("expected status %d, got %d: %s", code, rec.Code, rec.Body.String())
	}
}

package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/gatewarden/gatewarden/internal/access"
	"github.com/gatewarden/gatewarden/internal/firewall"
	"github.com/gatewarden/gatewarden/internal/gate"
	"github.com/gatewarden/gatewarden/internal/store"
	"github.com/gatewarden/gatewarden/provider"
)

// GateHandler serves the client-facing gating surface: history, chat and
// evaluate.
type GateHandler struct {
	Store        *store.Store
	Conversation *gate.Conversation
	Decision     *gate.Decision
	Enforcer     firewall.Enforcer
	Logger       *log.Logger
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse carries the assistant reply; Last is present exactly when
// the turn ended the conversation.
type ChatResponse struct {
	Response string `json:"response"`
	Last     bool   `json:"last,omitempty"`
}

// HistoryResponse is the visible conversation log.
type HistoryResponse struct {
	History []store.Turn `json:"history"`
}

// DecisionResponse wraps the verdict for GET /evaluate.
type DecisionResponse struct {
	Decision provider.Verdict `json:"decision"`
}

func (h *GateHandler) Register(e *echo.Echo, clientHeader string, rdb *redis.Client, chatPerMinute int) {
	g := e.Group("", clientIdentity(clientHeader), h.gateState)
	g.GET("/history", h.history)
	g.POST("/chat", h.chat, chatRateLimit(rdb, chatPerMinute, h.Logger))
	g.GET("/evaluate", h.evaluate)
}

func (h *GateHandler) history(c echo.Context) error {
	clientID := c.Get("client_id").(string)
	turns, err := h.Conversation.Open(c.Request().Context(), clientID)
	if err != nil {
		return dialogueError(err)
	}
	if turns == nil {
		turns = []store.Turn{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{History: turns})
}

func (h *GateHandler) chat(c echo.Context) error {
	clientID := c.Get("client_id").(string)
	state := c.Get("access_state").(access.State)

	switch state {
	case access.StateActive:
	case access.StateUnseen:
		return echo.NewHTTPError(http.StatusForbidden, "request history first")
	default:
		return echo.NewHTTPError(http.StatusForbidden, "conversation is over")
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil || req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}

	reply, last, err := h.Conversation.Message(c.Request().Context(), clientID, req.Message)
	if err != nil {
		return dialogueError(err)
	}
	metricTurns.WithLabelValues(boolLabel(last)).Inc()
	return c.JSON(http.StatusOK, ChatResponse{Response: reply, Last: last})
}

func (h *GateHandler) evaluate(c echo.Context) error {
	clientID := c.Get("client_id").(string)
	state := c.Get("access_state").(access.State)
	ctx := c.Request().Context()

	switch state {
	case access.StatePendingVerdict:
		verdict, err := h.Decision.Evaluate(ctx, clientID, clientID)
		if err != nil {
			metricOracleFailures.WithLabelValues("judge").Inc()
			return echo.NewHTTPError(http.StatusBadGateway, "could not evaluate")
		}
		metricVerdicts.WithLabelValues(verdictLabel(verdict.Access)).Inc()
		return c.JSON(http.StatusOK, DecisionResponse{Decision: verdict})

	case access.StateGranted:
		// The decision is consumed; serve the recorded verdict and re-apply
		// the idempotent permit so a failed firewall call can heal on retry.
		verdict, ok, err := h.Store.GetVerdict(ctx, clientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if !ok {
			return echo.NewHTTPError(http.StatusInternalServerError, "granted state without a recorded verdict")
		}
		if err := h.Enforcer.Permit(ctx, clientID); err != nil {
			h.Logger.Printf("re-permit %s failed: %v", clientID, err)
			metricEnforcerFailures.Inc()
		}
		return c.JSON(http.StatusOK, DecisionResponse{Decision: verdict})

	default:
		return echo.NewHTTPError(http.StatusForbidden, "too early to make decision")
	}
}

// dialogueError maps engine failures to client-visible conditions without
// leaking policy internals.
func dialogueError(err error) error {
	var sc *gate.StateConflictError
	if errors.As(err, &sc) {
		return echo.NewHTTPError(http.StatusForbidden, "request history first")
	}
	var oe *provider.OracleError
	if errors.As(err, &oe) {
		metricOracleFailures.WithLabelValues(oe.Mode).Inc()
		return echo.NewHTTPError(http.StatusBadGateway, "could not continue the conversation")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func verdictLabel(access bool) string {
	if access {
		return "granted"
	}
	return "denied"
}

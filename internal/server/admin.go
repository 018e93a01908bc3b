package server

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	appconfig "github.com/gatewarden/gatewarden/config"
	"github.com/gatewarden/gatewarden/internal/store"
	"github.com/gatewarden/gatewarden/provider"
)

// AdminHandler serves the operator policy surface.
type AdminHandler struct {
	Store  *store.Store
	Oracle provider.Oracle
	Logger *log.Logger
}

// PromptRequest is the body of POST /admin/prompt. Omitted topic and
// personality keep their current values.
type PromptRequest struct {
	Criteria    string `json:"criteria"`
	Topic       string `json:"topic,omitempty"`
	Personality string `json:"personality,omitempty"`
}

func (a *AdminHandler) Register(g *echo.Group, cfg appconfig.ServerConfig) {
	g.Use(adminAuth(cfg))
	g.GET("/prompt", a.getPrompt)
	g.POST("/prompt", a.setPrompt)
}

func (a *AdminHandler) getPrompt(c echo.Context) error {
	pol, err := a.Store.GetPolicy(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pol)
}

// setPrompt updates the policy. The plan is regenerated from the new
// inputs before anything is persisted, so the stored plan always matches
// the stored triple.
func (a *AdminHandler) setPrompt(c echo.Context) error {
	var req PromptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Criteria == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "criteria required")
	}
	ctx := c.Request().Context()

	current, err := a.Store.GetPolicy(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if req.Topic == "" {
		req.Topic = current.Topic
	}
	if req.Personality == "" {
		req.Personality = current.Personality
	}

	a.Logger.Printf("regenerating plan for updated policy")
	plan, err := a.Oracle.Plan(ctx, req.Criteria, req.Topic, req.Personality)
	if err != nil {
		metricOracleFailures.WithLabelValues("plan").Inc()
		return echo.NewHTTPError(http.StatusBadGateway, "could not generate plan")
	}

	pol := store.Policy{
		Criteria:    req.Criteria,
		Topic:       req.Topic,
		Personality: req.Personality,
		Plan:        plan,
	}
	if err := a.Store.UpdatePolicy(ctx, pol); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pol)
}

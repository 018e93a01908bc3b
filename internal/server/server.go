package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/gatewarden/gatewarden/config"
	"github.com/gatewarden/gatewarden/internal/firewall"
	"github.com/gatewarden/gatewarden/internal/gate"
	"github.com/gatewarden/gatewarden/internal/store"
	openai_provider "github.com/gatewarden/gatewarden/provider/openai"
)

// Run wires the engines to the HTTP surface and blocks serving requests.
func Run(cfg *appconfig.Config, addr string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging.
	httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		httpLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization", cfg.Server.ClientIDHeader},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	oracle := openai_provider.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.BaseURL,
		cfg.LLM.ConversationModel,
		cfg.LLM.ReasoningModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.Timeout,
	)

	var enforcer firewall.Enforcer
	fwLogger := log.New(log.Writer(), "[FW] ", log.LstdFlags)
	switch cfg.Firewall.Mode {
	case "iptables":
		enforcer = &firewall.IPTables{Binary: cfg.Firewall.Binary, Chain: cfg.Firewall.Chain, Logger: fwLogger}
	default:
		enforcer = &firewall.LogOnly{Logger: fwLogger}
	}

	conv := &gate.Conversation{
		Store:  st,
		Oracle: oracle,
		Marker: gate.NewMarker(cfg.Gate.EndMarker),
		Logger: log.New(log.Writer(), "[GATE] ", log.LstdFlags),
	}
	dec := &gate.Decision{
		Store:    st,
		Oracle:   oracle,
		Enforcer: enforcer,
		Logger:   log.New(log.Writer(), "[VERDICT] ", log.LstdFlags),
	}

	// Redis is optional; when configured it backs the per-client chat limiter.
	var rdb *redis.Client
	if cfg.Storage.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
		}
	}

	gh := &GateHandler{Store: st, Conversation: conv, Decision: dec, Enforcer: enforcer,
		Logger: log.New(log.Writer(), "[GATE] ", log.LstdFlags)}
	gh.Register(e, cfg.Server.ClientIDHeader, rdb, cfg.Gate.ChatRequestsPerMinute)

	ah := &AdminHandler{Store: st, Oracle: oracle,
		Logger: log.New(log.Writer(), "[ADMIN] ", log.LstdFlags)}
	ah.Register(e.Group("/admin"), cfg.Server)

	if addr == "" {
		addr = cfg.Server.Address
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

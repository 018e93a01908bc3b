package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	appconfig "github.com/gatewarden/gatewarden/config"
	"github.com/gatewarden/gatewarden/internal/access"
)

// clientIdentity resolves the client identifier: the trusted header when
// present, otherwise the transport remote address.
func clientIdentity(header string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(header)
			if id == "" {
				id = c.RealIP()
			}
			if id == "" {
				id = "unknown"
			}
			c.Set("client_id", id)
			return next(c)
		}
	}
}

// gateState loads the ledger state once per request and rejects denied
// clients before any engine is reached.
func (h *GateHandler) gateState(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		clientID := c.Get("client_id").(string)
		state, err := h.Store.GetAccessState(c.Request().Context(), clientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if state == access.StateDenied {
			return echo.NewHTTPError(http.StatusForbidden, "access denied")
		}
		c.Set("access_state", state)
		return next(c)
	}
}

// adminAuth compares the bearer token against the operator secret. A
// bcrypt hash is preferred when configured; plaintext comparison is
// constant-time.
func adminAuth(cfg appconfig.ServerConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			if cfg.AdminTokenBcrypt != "" {
				if bcrypt.CompareHashAndPassword([]byte(cfg.AdminTokenBcrypt), []byte(token)) != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
				}
			} else if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.AdminToken)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			return next(c)
		}
	}
}

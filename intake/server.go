package intake

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// webhook bodies are small; anything bigger is not a real delivery
const maxBodyBytes = 1 << 20

type Server struct {
	Logger   *slog.Logger
	Ingester *Ingester

	// token echoed back during platform subscription handshakes
	VerifyToken string

	echo *echo.Echo
}

func NewServer(logger *slog.Logger, ing *Ingester, verifyToken string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		Logger:      logger.With("system", "intake"),
		Ingester:    ing,
		VerifyToken: verifyToken,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/_health", srv.handleHealthCheck)
	e.GET("/webhooks/:platform", srv.handleSubscribe)
	e.POST("/webhooks/:platform", srv.handleDelivery)

	srv.echo = e
	return srv
}

func (srv *Server) Start(addr string) error {
	srv.Logger.Info("webhook server listening", "addr", addr)
	return srv.echo.Start(addr)
}

func (srv *Server) Shutdown(ctx context.Context) error {
	return srv.echo.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (srv *Server) Echo() *echo.Echo {
	return srv.echo
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := "internal error"
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if s, ok := he.Message.(string); ok {
			msg = s
		}
	} else {
		srv.Logger.Error("request failed", "err", err, "path", c.Path())
	}
	if !c.Response().Committed {
		if err2 := c.JSON(code, map[string]any{"error": msg}); err2 != nil {
			srv.Logger.Error("writing error response", "err", err2)
		}
	}
}

func (srv *Server) handleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubscribe answers the platform's subscription handshake: echo the
// challenge back, but only when the verify token matches.
func (srv *Server) handleSubscribe(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	if mode != "subscribe" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(srv.VerifyToken)) != 1 {
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	srv.Logger.Info("webhook subscription verified", "platform", c.Param("platform"))
	return c.String(http.StatusOK, challenge)
}

func (srv *Server) handleDelivery(c echo.Context) error {
	deliveriesReceived.WithLabelValues(c.Param("platform")).Inc()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	if !srv.Ingester.VerifySignature(body, c.Request().Header.Get("X-Hub-Signature-256")) {
		invalidSignatures.Inc()
		srv.Logger.Warn("webhook signature mismatch", "platform", c.Param("platform"))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	counts, err := srv.Ingester.Ingest(c.Request().Context(), body)
	if err != nil {
		// non-2xx makes the platform redeliver; dedup absorbs the repeat
		// of anything already enqueued
		return err
	}
	return c.JSON(http.StatusOK, counts)
}

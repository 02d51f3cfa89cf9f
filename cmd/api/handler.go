package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	authDelivery "jobtrack-backend/internal/auth/delivery"
	userDelivery "jobtrack-backend/internal/user/delivery"
	"jobtrack-backend/pkg/queue"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 15 * time.Second

type Handler struct {
	router         *queue.Router
	tokens         authDelivery.TokenValidator
	devices        *userDelivery.DeviceHandler
	settings       *SettingsHandler
	pushToken      string
	allowedOrigins []string
	log            zerolog.Logger
}

// Options selects the optional parts of the HTTP surface. Without Tokens
// the authenticated routes are not mounted; without PushToken the Pub/Sub
// push endpoint is not mounted.
type Options struct {
	Tokens         authDelivery.TokenValidator
	Devices        *userDelivery.DeviceHandler
	Settings       *SettingsHandler
	PushToken      string
	AllowedOrigins []string
}

func NewHandler(router *queue.Router, opts Options, log zerolog.Logger) *Handler {
	return &Handler{
		router:         router,
		tokens:         opts.Tokens,
		devices:        opts.Devices,
		settings:       opts.Settings,
		pushToken:      opts.PushToken,
		allowedOrigins: opts.AllowedOrigins,
		log:            log,
	}
}

func (h *Handler) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger(), h.cors())
	SetupRoutes(r, h)
	return r
}

// cors answers browsers only for configured origins. "*" allows any
// origin without credentials.
func (h *Handler) cors() gin.HandlerFunc {
	wildcard := slices.Contains(h.allowedOrigins, "*")
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case origin == "":
		case slices.Contains(h.allowedOrigins, origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		case wildcard:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		event := h.log.Debug()
		if status >= http.StatusInternalServerError {
			event = h.log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (h *Handler) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Package server exposes the messaging core over HTTP (gin) and relays the delivery
// bus to browsers and terminal clients over WebSocket.
package server

import (
	"context"
	"dm-lab/auth"
	"dm-lab/errors"
	"dm-lab/observability"
	"dm-lab/services"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

// Services groups the application services the HTTP layer calls.
type Services struct {
	Chat      services.IChatService
	Directory services.IDirectoryService
	Auth      services.IAuthService
	Users     services.IUserService
}

type Server struct {
	log        *slog.Logger
	address    string
	engine     *gin.Engine
	services   Services
	monitoring *observability.Monitoring
}

func NewServer(log *slog.Logger, address string, issuer auth.TokenIssuer,
	svc Services, sockets *SocketServer, monitoring *observability.Monitoring) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		log:        log,
		address:    address,
		engine:     gin.New(),
		services:   svc,
		monitoring: monitoring,
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes(issuer, sockets)
	return s
}

func (s *Server) routes(issuer auth.TokenIssuer, sockets *SocketServer) {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/debug/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.monitoring.Snapshot())
	})

	api := s.engine.Group("/api")
	api.POST("/auth/register", s.register)
	api.POST("/auth/login", s.login)

	protected := api.Group("", auth.Middleware(issuer))
	protected.GET("/conversations", s.listConversations)
	protected.POST("/conversations", s.startConversation)
	protected.GET("/conversations/:conversationId/messages", s.listMessages)
	protected.POST("/messages/send", s.sendMessage)
	protected.GET("/users", s.listUsers)

	if sockets != nil {
		s.engine.GET("/ws", auth.Middleware(issuer), sockets.Handle())
	}
}

// Handler is the root http.Handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves HTTP until ctx is done, then shuts down gracefully.
// It implements contract.Worker so the supervisor can own the listener.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", "address", s.address, "at", time.Now().UTC())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Shutting down HTTP server")
	case err, ok := <-errChan:
		if ok {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// abort writes err as {"error": "..."} with the status of its category.
// Internal failures are logged and hidden from the caller.
func (s *Server) abort(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", "path", c.FullPath(), "error", err)
		message = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

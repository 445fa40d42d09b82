// Package api assembles the gin engine for the auth relay and owns its
// lifecycle: route registration, startup, config hot reload and graceful
// shutdown.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/typedown-app/typedown/internal/api/handlers/relay"
	"github.com/typedown-app/typedown/internal/config"
	"github.com/typedown-app/typedown/internal/logging"
	"github.com/typedown-app/typedown/internal/wsrelay"
)

// Server hosts the relay routes.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	requestLog atomic.Bool
}

// New wires middleware, the relay handler and the completion-signal relay
// into a ready-to-run server.
func New(cfg *config.Config) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{}
	s.requestLog.Store(cfg.RequestLog)

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(s.requestLog.Load))
	engine.Use(logging.GinRecovery())

	ws := wsrelay.NewManager()
	handler, err := relay.New(cfg, ws)
	if err != nil {
		return nil, err
	}

	authGroup := engine.Group("/auth")
	{
		authGroup.GET("/start", handler.Start)
		authGroup.GET("/callback", handler.Callback)
		authGroup.GET("/token", handler.Token)
		authGroup.GET("/logout", handler.Logout)
		authGroup.POST("/logout", handler.Logout)
		authGroup.GET("/watch", func(c *gin.Context) {
			ws.ServeWatch(c.Writer, c.Request)
		})
	}

	s.engine = engine
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("auth relay listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// ApplyReloadableConfig applies the settings that may change at runtime.
func (s *Server) ApplyReloadableConfig(cfg *config.Config) {
	s.requestLog.Store(cfg.RequestLog)
	logging.ApplyLogLevel(cfg)
}

package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/m3rciful/walletlink/core/logger"
)

// Server serves /metrics and /healthz.
type Server struct {
	srv *http.Server
}

// NewServer builds the HTTP server for the given collectors.
func NewServer(listen string, c *Collectors) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		srv: &http.Server{
			Addr:              listen,
			Handler:           Router(c),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Router returns the gin engine with the metrics and health routes.
func Router(c *Collectors) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(c.Handler()))
	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "metrics", "http.listen",
			slog.String("status", "ok"),
			slog.String("listen", s.srv.Addr),
		)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error(ctx, "metrics", "http.listen",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/convo"
	"github.com/zulandar/switchboard/internal/intake"
	"github.com/zulandar/switchboard/internal/poll"
	"github.com/zulandar/switchboard/internal/runner"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB      *gorm.DB
	Port    int
	Out     io.Writer
	Manager *convo.Manager
	Runner  *runner.Runner
	Scorer  intake.Scorer

	Intervals poll.Intervals

	// Janitor settings. An empty cron expression disables the watchdog.
	JanitorCron  string
	StallTimeout time.Duration
}

// Start launches the API HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("server: db is required")
	}
	if opts.Manager == nil {
		return fmt.Errorf("server: manager is required")
	}
	if opts.Runner == nil {
		return fmt.Errorf("server: runner is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	registerRoutes(router, opts)

	if opts.JanitorCron != "" {
		go runJanitor(ctx, opts.DB, opts.JanitorCron, opts.StallTimeout)
	}

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Switchboard API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

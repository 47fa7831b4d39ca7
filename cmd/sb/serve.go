package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/convo"
	"github.com/zulandar/switchboard/internal/intake"
	"github.com/zulandar/switchboard/internal/poll"
	"github.com/zulandar/switchboard/internal/runner"
	"github.com/zulandar/switchboard/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Switchboard API server",
		Long:  "Runs the session engine: context store, responder pipeline, sync gateway, pipeline executor, and intake bridge behind one HTTP API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	mgr, err := convo.NewManager(convo.ManagerOpts{
		DB: gormDB,
		Responder: &convo.ExecResponder{
			Binary:  cfg.Responder.Binary,
			WorkDir: cfg.Responder.WorkDir,
		},
		AskTimeout: cfg.Responder.Timeout,
	})
	if err != nil {
		return err
	}

	jobs := runner.New(&runner.ExecBackend{
		Binary:  cfg.Pipeline.Binary,
		WorkDir: cfg.Pipeline.WorkDir,
	})

	var scorer intake.Scorer
	if cfg.Scorer.Binary != "" {
		scorer = &intake.ExecScorer{
			Binary:  cfg.Scorer.Binary,
			WorkDir: cfg.Scorer.WorkDir,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	return server.Start(ctx, server.StartOpts{
		DB:      gormDB,
		Port:    port,
		Out:     cmd.OutOrStdout(),
		Manager: mgr,
		Runner:  jobs,
		Scorer:  scorer,
		Intervals: poll.Intervals{
			ActiveMS: cfg.Server.ActivePollMS,
			IdleMS:   cfg.Server.IdlePollMS,
		},
		JanitorCron:  cfg.Janitor.Cron,
		StallTimeout: cfg.Janitor.StallTimeout,
	})
}

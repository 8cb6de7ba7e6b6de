package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/botforge"
)

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the botforge daemon: HTTP API, process supervisor and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags.ConfigPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := botforge.LoadConfig(configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(cfg.Log.NewSlogger())

	if err := botforge.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	orch, err := botforge.New(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = orch.Bootstrap(ctx)
	cancel()
	if err != nil {
		orch.Close()
		return err
	}

	api := botforge.NewHTTPServer(cfg.Daemon.Listen, cfg.Daemon.BasePath, orch)
	slog.Info("api listening", "addr", cfg.Daemon.Listen, "base_path", cfg.Daemon.BasePath)

	var metricsSrv *http.Server
	if cfg.Daemon.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", botforge.MetricsHandler())
		metricsSrv = &http.Server{
			Addr:              cfg.Daemon.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() { _ = metricsSrv.ListenAndServe() }()
		slog.Info("metrics listening", "addr", cfg.Daemon.MetricsListen)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = api.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	orch.Close()
	return nil
}

func createStatusCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show every bot known to a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(flags.URL, 0)
			snaps, err := client.StatusAll()
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Println("no bots")
				return nil
			}
			for _, s := range snaps {
				line := fmt.Sprintf("%s  %-10s  %s", s.BotID, s.Status, s.Name)
				if s.PID > 0 {
					line += fmt.Sprintf("  pid=%d", s.PID)
				}
				if s.UptimeSeconds > 0 {
					line += fmt.Sprintf("  up=%s", (time.Duration(s.UptimeSeconds) * time.Second).String())
				}
				if s.ErrorMessage != "" {
					line += "  error=" + s.ErrorMessage
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createStopCommand(flags *APIFlags) *cobra.Command {
	var name string
	var botID string
	var force bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running bot by name or id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (name == "") == (botID == "") {
				return fmt.Errorf("exactly one of --name or --id is required")
			}
			client := NewAPIClient(flags.URL, 0)
			if err := client.Stop(name, botID, force); err != nil {
				return err
			}
			fmt.Println("stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name of the bot")
	cmd.Flags().StringVar(&botID, "id", "", "bot id")
	cmd.Flags().BoolVar(&force, "force", false, "escalate to SIGKILL when the bot ignores SIGTERM")
	addAPIFlags(cmd, flags)
	return cmd
}

func createListCommand(flags *APIFlags) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's bots",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			client := NewAPIClient(flags.URL, 0)
			recs, err := client.ListForUser(userID)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("no bots")
				return nil
			}
			for _, r := range recs {
				fmt.Printf("%s  %-10s  %s\n", r.BotID, r.Status, r.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	addAPIFlags(cmd, flags)
	return cmd
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.URL, "api-url", "", "daemon API base URL (default http://localhost:8080/api)")
}

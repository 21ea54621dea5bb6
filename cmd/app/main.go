package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"trade_sim/internal/app"
	"trade_sim/internal/domain"
	"trade_sim/internal/infra"
	"trade_sim/internal/service"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd(ctx).ExecuteContext(ctx); err != nil {
		slog.Error("❌ Trade simulator failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func rootCmd(ctx context.Context) *cobra.Command {
	root := &cobra.Command{
		Use:           "trade_sim",
		Short:         "Real-time trade cost simulator for L2 order book feeds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", infra.DefaultConfigPath, "path to the YAML config file")

	root.AddCommand(runCmd(ctx))
	root.AddCommand(versionCmd())
	return root
}

func runCmd(ctx context.Context) *cobra.Command {
	var printResults bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream the configured simulations until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")

			bootstrap := app.NewBootstrap(configPath)
			if err := bootstrap.Initialize(ctx); err != nil {
				return fmt.Errorf("bootstrapping failed: %w", err)
			}
			defer bootstrap.Close()

			var extra []domain.ResultSink
			if printResults {
				extra = append(extra, stdoutSink(cmd))
			}
			if err := bootstrap.BuildSimulations(extra...); err != nil {
				return err
			}

			slog.InfoContext(ctx, "✨ Trade simulator fully operational. Press Ctrl+C to exit.")
			err := bootstrap.Run(ctx)
			slog.Info("👋 Shutting down gracefully...")
			return err
		},
	}
	cmd.Flags().BoolVar(&printResults, "print", false, "write every tick result to stdout as a JSON line")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func stdoutSink(cmd *cobra.Command) domain.ResultSink {
	var mu sync.Mutex
	enc := json.NewEncoder(cmd.OutOrStdout())
	return service.NewFuncSink("stdout", func(res domain.TickResult) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(res); err != nil {
			slog.Warn("Failed to print result", slog.Any("error", err))
		}
	})
}

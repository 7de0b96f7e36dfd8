package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/quickrecorder/internal/server"
	"github.com/audiolibrelab/quickrecorder/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control server for remote start/stop/play",
	Long: `Start the QuickRecorder control server. It exposes start, stop and play
over HTTP and pushes recorder events to websocket clients on /ws, so a
phone or a screen-reader add-on on the same network can drive recording.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		hub := server.NewHub()
		svc := service.New(cfg, cfgFile, service.WithObserver(hub.Publish))
		srv := server.New(svc, hub, cfgFile, port)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		slog.Info("Shutting down control server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return <-errCh
	},
}

func init() {
	serveCmd.Flags().Int("port", 8090, "port for the control server (overrides config)")
}

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/quickrecorder/internal/audio"
	"github.com/audiolibrelab/quickrecorder/internal/service"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the microphone until Enter or Ctrl+C",
	Long: `Record the default microphone to a new MP3 file in the records directory.
Encoded audio is appended to the file every flush interval. Press Enter or
Ctrl+C to stop; with --pipeline rp the record is played afterwards.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if dir, _ := cmd.Flags().GetString("output"); dir != "" {
			cfg.Output.Directory = dir
		}

		slog.Info("Record command started", "directory", cfg.Output.Directory, "flush_interval", cfg.Output.FlushInterval)
		svc := service.New(cfg, cfgFile, service.WithObserver(printEvent))
		return executePipeline(svc, 'r')
	},
}

func init() {
	recordCmd.Flags().StringP("output", "o", "", "records directory (overrides config)")
	recordCmd.Flags().StringVarP(&pipeline, "pipeline", "p", "", "pipeline steps: r=record, p=play (e.g., 'rp')")
}

// waitForStop blocks until Enter is pressed or SIGINT/SIGTERM arrives.
func waitForStop() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enter := make(chan struct{})
	go func() {
		bufio.NewScanner(os.Stdin).Scan()
		close(enter)
	}()

	fmt.Println("Recording... Press Enter or Ctrl+C to stop")
	select {
	case <-enter:
	case <-ctx.Done():
		fmt.Println()
	}
	slog.Info("Stopping recording...")
	return nil
}

func printEvent(ev audio.Event) {
	switch ev.Type {
	case audio.EventStarted:
		fmt.Printf("Recording to %s\n", ev.Path)
	case audio.EventFlushed:
		slog.Debug("Record flushed", "path", ev.Path, "bytes", ev.Bytes)
	case audio.EventStopped:
		if ev.Saved {
			fmt.Printf("Recording stopped: %s (%d bytes)\n", ev.Path, ev.Bytes)
		} else {
			fmt.Println("Recording stopped; no record saved.")
		}
	case audio.EventError:
		fmt.Fprintf(os.Stderr, "Recording error: %s\n", ev.Error)
	}
}

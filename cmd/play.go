package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/quickrecorder/internal/device"
	"github.com/audiolibrelab/quickrecorder/internal/play"
	"github.com/audiolibrelab/quickrecorder/internal/records"
)

var playCmd = &cobra.Command{
	Use:   "play [file]",
	Short: "Play a record, by default the most recent one",
	Long: `Play an MP3 or WAV file. Without an argument the most recent record in
the records directory is played. Playback mode follows playback.mode:
"stream" decodes and plays through the audio backend, "native" hands the
file to the platform player (MCI on Windows, vlc/mpv/ffplay elsewhere).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			latest, err := records.Latest(cfg.Output.Directory, cfg.Output.Format)
			if errors.Is(err, records.ErrNoRecords) {
				return fmt.Errorf("no records in %s", cfg.Output.Directory)
			}
			if err != nil {
				return err
			}
			path = latest
		}

		if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
			cfg.Playback.Mode = mode
		}

		opener, err := device.New(cfg.Audio.Backend)
		if err != nil {
			slog.Debug("No audio backend for stream playback", "error", err)
			opener = nil
		}
		player := play.New(cfg, opener)

		fmt.Printf("Playing %s\n", path)
		pb, err := player.Play(path)
		if err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		select {
		case <-pb.Done():
		case <-ctx.Done():
			slog.Info("Stopping playback...")
			pb.Stop()
		}
		if err := pb.Err(); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}

func init() {
	playCmd.Flags().String("mode", "", "playback mode: auto, stream, native (overrides config)")
}

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/quickrecorder/internal/codec"
	"github.com/audiolibrelab/quickrecorder/internal/config"
	"github.com/audiolibrelab/quickrecorder/internal/device"
	"github.com/audiolibrelab/quickrecorder/internal/records"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration, engines and backends",
	Long:  `Display the resolved configuration with inheritance indicators, the next record path, and the encoder engines and device backends linked into this binary. Shows which values are inherited from default vs profile-specific.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inh := cfg.Inheritance

		next, err := records.NextPath(cfg.Output.Directory, cfg.Output.Format, time.Now())
		if err != nil {
			next = fmt.Sprintf("(unavailable: %v)", err)
		}

		fmt.Printf("=== FILE PATHS ===\n")
		fmt.Printf("records_directory: %s\n", cfg.Output.Directory)
		fmt.Printf("next_record: %s\n", next)
		if latest, err := records.Latest(cfg.Output.Directory, cfg.Output.Format); err == nil {
			fmt.Printf("latest_record: %s\n", latest)
		}

		fmt.Printf("\n=== RESOLVED CONFIGURATION (%s) ===\n", inh.Profile)

		fmt.Printf("\n[Audio]\n")
		fmt.Printf("backend: %s %s\n", cfg.Audio.Backend, getInheritanceIndicator(inh.Audio.Backend))
		fmt.Printf("sample_rate: %d %s\n", cfg.Audio.SampleRate, getInheritanceIndicator(inh.Audio.SampleRate))
		fmt.Printf("frame_size: %d %s\n", cfg.Audio.FrameSize, getInheritanceIndicator(inh.Audio.FrameSize))
		fmt.Printf("channels: %d\n", cfg.Audio.Channels())

		fmt.Printf("\n[Encoder]\n")
		fmt.Printf("engine: %s %s\n", cfg.Encoder.Engine, getInheritanceIndicator(inh.Encoder.Engine))
		fmt.Printf("bitrate: %d kbps %s\n", cfg.Encoder.Bitrate, getInheritanceIndicator(inh.Encoder.Bitrate))

		fmt.Printf("\n[Output]\n")
		fmt.Printf("directory: %s %s\n", cfg.Output.Directory, getInheritanceIndicator(inh.Output.Directory))
		fmt.Printf("flush_interval: %s %s\n", cfg.Output.FlushInterval, getInheritanceIndicator(inh.Output.FlushInterval))

		fmt.Printf("\n[Playback]\n")
		fmt.Printf("mode: %s %s\n", cfg.Playback.Mode, getInheritanceIndicator(inh.Playback.Mode))
		fmt.Printf("player: %s %s\n", orNone(cfg.Playback.Player), getInheritanceIndicator(inh.Playback.Player))

		engines := []string{}
		for _, e := range codec.AvailableEngines() {
			engines = append(engines, string(e))
		}
		fmt.Printf("\n=== BUILD ===\n")
		fmt.Printf("encoder_engines: %s\n", strings.Join(engines, ", "))
		fmt.Printf("device_backends: %s\n", strings.Join(device.Backends(), ", "))

		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "(auto)"
	}
	return s
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case config.Inherited:
		return "[inherited]"
	case config.ProfileSpecific:
		return "[profile-specific]"
	default:
		return ""
	}
}

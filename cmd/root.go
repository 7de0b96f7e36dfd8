package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/quickrecorder/internal/config"

	// Device backends register themselves with the device package.
	_ "github.com/audiolibrelab/quickrecorder/internal/device/miniaudio"
	_ "github.com/audiolibrelab/quickrecorder/internal/device/portaudio"
)

var (
	cfg          *config.Config
	cfgFile      string
	pipeline     string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "quickrec",
	Short: "Record the microphone to MP3 with one command",
	Long: `QuickRecorder captures the default microphone and appends MP3 audio to
a timestamped file in the records directory at a fixed interval, so a
crash loses at most one interval of audio.

Start a take with 'quickrec record', play it back with 'quickrec play',
or control both remotely with 'quickrec serve'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Console logging first so config errors are reported consistently
		setupLogging(verboseLevel, config.LogConfig{})

		var err error
		cfg, err = config.Load(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		setupLogging(verboseLevel, cfg.Log)

		return validatePipeline()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=config log level, 1=debug")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(infoCmd)
}

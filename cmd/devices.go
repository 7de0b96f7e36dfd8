package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/quickrecorder/internal/device"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"sources"},
	Short:   "List audio devices of every linked backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Audio devices (%s)\n", runtime.GOOS)
		fmt.Printf("=======================================\n\n")

		for _, name := range device.Backends() {
			if err := listBackendDevices(name); err != nil {
				slog.Warn("Could not list devices", "backend", name, "error", err)
				fmt.Printf("%s: unavailable (%v)\n\n", name, err)
			}
		}

		fmt.Printf("Configured backend: %s\n", cfg.Audio.Backend)
		return nil
	},
}

func listBackendDevices(name string) error {
	opener, err := device.New(name)
	if err != nil {
		return err
	}
	infos, err := opener.Devices()
	if err != nil {
		return err
	}

	fmt.Printf("%s (%d found):\n", name, len(infos))
	for i, info := range infos {
		marker := ""
		if info.Default {
			marker = " [default input]"
		}
		fmt.Printf("  %d. %s (in: %d, out: %d, %.0f Hz)%s\n",
			i+1, info.Name, info.InputChannels, info.OutputChannels, info.SampleRate, marker)
	}
	fmt.Println()
	return nil
}

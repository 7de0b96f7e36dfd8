package config

import (
	"strings"
	"testing"
)

func TestValidateConfigurationFormat_ValidConfig(t *testing.T) {
	validConfig := `
active_config: memo

globals:
  output:
    records_directory: ~/Documents/QuickRecorder

configs:
  default:
    audio:
      backend: portaudio
      sample_rate: 44100
      frame_size: 1024
    encoder:
      engine: auto
      bitrate: 128
    output:
      format: mp3
      flush_interval: 10s
  memo:
    encoder:
      bitrate: 64
    playback:
      mode: native
      player: mpv
`

	rootConfig, err := ValidateConfigurationFormat(createTempConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if rootConfig.ActiveConfig != "memo" {
		t.Errorf("Expected active_config 'memo', got '%s'", rootConfig.ActiveConfig)
	}
	if len(rootConfig.Configs) != 2 {
		t.Errorf("Expected 2 configs, got %d", len(rootConfig.Configs))
	}
	if rootConfig.Configs["memo"].Playback.Player != "mpv" {
		t.Errorf("Expected memo player 'mpv', got '%s'", rootConfig.Configs["memo"].Playback.Player)
	}
}

func TestValidateConfigurationFormat_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing configs",
			content: "active_config: default\n",
			wantErr: "configs section is required",
		},
		{
			name: "active config not defined",
			content: `
active_config: studio
configs:
  default:
    encoder:
      bitrate: 128
`,
			wantErr: "active_config 'studio' not found",
		},
		{
			name: "negative flush interval",
			content: `
configs:
  default:
    output:
      flush_interval: -5s
`,
			wantErr: "flush_interval",
		},
		{
			name:    "unreadable yaml",
			content: "configs: [unterminated\n",
			wantErr: "error reading config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateConfigurationFormat(createTempConfig(t, tt.content))
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/quickrecorder/internal/codec"
)

// EnvPrefix is the prefix of environment overrides, e.g. QUICKREC_SERVER_PORT.
const EnvPrefix = "QUICKREC"

type GlobalsConfig struct {
	Output GlobalOutputConfig `mapstructure:"output" yaml:"output"`
}

type GlobalOutputConfig struct {
	RecordsDirectory string `mapstructure:"records_directory" yaml:"records_directory"`
}

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig     `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Log          LogConfig          `mapstructure:"log" yaml:"log"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Encoder  EncoderConfig  `mapstructure:"encoder" yaml:"encoder"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Playback PlaybackConfig `mapstructure:"playback" yaml:"playback"`

	// Root-level sections, copied onto the resolved profile.
	Log    LogConfig    `mapstructure:"-" yaml:"log,omitempty"`
	Server ServerConfig `mapstructure:"-" yaml:"server,omitempty"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

// Origin values reported by InheritanceInfo.
const (
	Inherited       = "inherited"
	ProfileSpecific = "profile-specific"
)

type InheritanceInfo struct {
	Profile string
	Audio   struct {
		Backend    string
		SampleRate string
		FrameSize  string
	}
	Encoder struct {
		Engine  string
		Bitrate string
	}
	Output struct {
		Directory     string
		FlushInterval string
	}
	Playback struct {
		Mode   string
		Player string
	}
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // "portaudio", "miniaudio", "auto"
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	FrameSize  int    `mapstructure:"frame_size" yaml:"frame_size"`
}

// Channels is fixed: the recorder captures mono only.
func (AudioConfig) Channels() int { return 1 }

type EncoderConfig struct {
	Engine     string `mapstructure:"engine" yaml:"engine"` // "auto", "lame", "ffmpeg"
	Bitrate    int    `mapstructure:"bitrate" yaml:"bitrate"`
	FFmpegPath string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path,omitempty"`
}

type OutputConfig struct {
	Directory     string        `mapstructure:"directory" yaml:"directory"`
	Format        string        `mapstructure:"format" yaml:"format"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

type PlaybackConfig struct {
	Mode   string `mapstructure:"mode" yaml:"mode"` // "auto", "stream", "native"
	Player string `mapstructure:"player" yaml:"player,omitempty"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days,omitempty"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			Backend:    "auto",
			SampleRate: 44100,
			FrameSize:  1024,
		},
		Encoder: EncoderConfig{
			Engine:  "auto",
			Bitrate: 128,
		},
		Output: OutputConfig{
			Directory:     DefaultRecordsDirectory(),
			Format:        "mp3",
			FlushInterval: 10 * time.Second,
		},
		Playback: PlaybackConfig{
			Mode: "auto",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Server: ServerConfig{Port: 8090},
	}
}

// DefaultRecordsDirectory is ~/Documents/QuickRecorder.
func DefaultRecordsDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, "Documents", "QuickRecorder")
}

// DefaultConfigPath is ~/.config/quickrec/config.yaml.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "quickrec", "config.yaml")
}

// Load resolves the configuration. A missing file at the default path is
// not an error: built-in defaults are used instead. An explicitly named
// file must exist.
func Load(configFile, profile string) (*Config, error) {
	if configFile == "" {
		configFile = DefaultConfigPath()
		if _, err := os.Stat(configFile); configFile == "" || errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			cfg.Inheritance = &InheritanceInfo{Profile: "built-in"}
			applyEnv(cfg)
			if err := Validate(cfg); err != nil {
				return nil, fmt.Errorf("config validation failed: %w", err)
			}
			return cfg, nil
		}
	}
	return LoadWithProfile(configFile, profile)
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// Built-in defaults sit under configs.default, which sits under the
	// selected profile.
	base := Default()
	if configName != "default" {
		if defaultProfile, ok := rootConfig.Configs["default"]; ok {
			base = mergeConfigs(base, defaultProfile)
		}
	}
	result := mergeConfigs(base, selected)
	result.Inheritance.Profile = configName

	// Global records directory takes priority over profile-specific directory
	if rootConfig.Globals != nil && rootConfig.Globals.Output.RecordsDirectory != "" {
		result.Output.Directory = rootConfig.Globals.Output.RecordsDirectory
	}
	result.Output.Directory = expandPath(result.Output.Directory)

	result.Log = mergeLog(result.Log, rootConfig.Log)
	result.Log.File = expandPath(result.Log.File)
	if rootConfig.Server.Port != 0 {
		result.Server.Port = rootConfig.Server.Port
	}
	applyEnv(result)

	if err := Validate(result); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return result, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var root RootConfig
	if err := v.Unmarshal(&root); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if _, ok := root.Configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// mergeConfigs overlays profile on base. Zero values in the profile inherit
// the base value; everything set in the profile is recorded as
// profile-specific.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{Inheritance: &InheritanceInfo{}}
	if base != nil {
		result.Audio = base.Audio
		result.Encoder = base.Encoder
		result.Output = base.Output
		result.Playback = base.Playback
		result.Log = base.Log
		result.Server = base.Server
	}

	inh := result.Inheritance
	inh.Audio.Backend = pick(&result.Audio.Backend, profileString(profile, func(c *Config) string { return c.Audio.Backend }))
	inh.Audio.SampleRate = pickInt(&result.Audio.SampleRate, profileInt(profile, func(c *Config) int { return c.Audio.SampleRate }))
	inh.Audio.FrameSize = pickInt(&result.Audio.FrameSize, profileInt(profile, func(c *Config) int { return c.Audio.FrameSize }))
	inh.Encoder.Engine = pick(&result.Encoder.Engine, profileString(profile, func(c *Config) string { return c.Encoder.Engine }))
	inh.Encoder.Bitrate = pickInt(&result.Encoder.Bitrate, profileInt(profile, func(c *Config) int { return c.Encoder.Bitrate }))
	inh.Output.Directory = pick(&result.Output.Directory, profileString(profile, func(c *Config) string { return c.Output.Directory }))
	inh.Playback.Mode = pick(&result.Playback.Mode, profileString(profile, func(c *Config) string { return c.Playback.Mode }))
	inh.Playback.Player = pick(&result.Playback.Player, profileString(profile, func(c *Config) string { return c.Playback.Player }))

	inh.Output.FlushInterval = Inherited
	if profile != nil {
		if profile.Output.FlushInterval != 0 {
			result.Output.FlushInterval = profile.Output.FlushInterval
			inh.Output.FlushInterval = ProfileSpecific
		}
		if profile.Output.Format != "" {
			result.Output.Format = profile.Output.Format
		}
		if profile.Encoder.FFmpegPath != "" {
			result.Encoder.FFmpegPath = profile.Encoder.FFmpegPath
		}
	}

	return result
}

func profileString(profile *Config, get func(*Config) string) string {
	if profile == nil {
		return ""
	}
	return get(profile)
}

func profileInt(profile *Config, get func(*Config) int) int {
	if profile == nil {
		return 0
	}
	return get(profile)
}

func pick(dst *string, v string) string {
	if v == "" {
		return Inherited
	}
	*dst = v
	return ProfileSpecific
}

func pickInt(dst *int, v int) string {
	if v == 0 {
		return Inherited
	}
	*dst = v
	return ProfileSpecific
}

func mergeLog(base, override LogConfig) LogConfig {
	if override.Level != "" {
		base.Level = override.Level
	}
	if override.File != "" {
		base.File = override.File
	}
	if override.MaxSizeMB != 0 {
		base.MaxSizeMB = override.MaxSizeMB
	}
	if override.MaxBackups != 0 {
		base.MaxBackups = override.MaxBackups
	}
	if override.MaxAgeDays != 0 {
		base.MaxAgeDays = override.MaxAgeDays
	}
	return base
}

// applyEnv lets QUICKREC_* variables override the resolved values.
func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if s := v.GetString("audio.backend"); s != "" {
		cfg.Audio.Backend = s
	}
	if n := v.GetInt("audio.sample_rate"); n != 0 {
		cfg.Audio.SampleRate = n
	}
	if s := v.GetString("encoder.engine"); s != "" {
		cfg.Encoder.Engine = s
	}
	if n := v.GetInt("encoder.bitrate"); n != 0 {
		cfg.Encoder.Bitrate = n
	}
	if s := v.GetString("output.directory"); s != "" {
		cfg.Output.Directory = expandPath(s)
	}
	if d := v.GetDuration("output.flush_interval"); d != 0 {
		cfg.Output.FlushInterval = d
	}
	if s := v.GetString("log.level"); s != "" {
		cfg.Log.Level = s
	}
	if n := v.GetInt("server.port"); n != 0 {
		cfg.Server.Port = n
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

var (
	validBackends = map[string]bool{"auto": true, "portaudio": true, "miniaudio": true}
	validEngines  = map[string]bool{"auto": true, "lame": true, "ffmpeg": true}
	validModes    = map[string]bool{"auto": true, "stream": true, "native": true}
	validLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks a resolved configuration.
func Validate(cfg *Config) error {
	if !validBackends[strings.ToLower(cfg.Audio.Backend)] {
		return fmt.Errorf("audio.backend must be auto, portaudio or miniaudio, got: %s", cfg.Audio.Backend)
	}
	if cfg.Audio.FrameSize <= 0 {
		return fmt.Errorf("audio.frame_size must be > 0, got: %d", cfg.Audio.FrameSize)
	}
	if err := codec.ValidateParams(codec.Params{
		Channels:   cfg.Audio.Channels(),
		SampleRate: cfg.Audio.SampleRate,
		Bitrate:    cfg.Encoder.Bitrate,
	}); err != nil {
		return err
	}
	if !validEngines[strings.ToLower(cfg.Encoder.Engine)] {
		return fmt.Errorf("encoder.engine must be auto, lame or ffmpeg, got: %s", cfg.Encoder.Engine)
	}
	if cfg.Output.Directory == "" {
		return fmt.Errorf("output.directory is required")
	}
	if cfg.Output.Format != "mp3" {
		return fmt.Errorf("output.format must be mp3, got: %s", cfg.Output.Format)
	}
	if cfg.Output.FlushInterval <= 0 {
		return fmt.Errorf("output.flush_interval must be > 0, got: %s", cfg.Output.FlushInterval)
	}
	if !validModes[strings.ToLower(cfg.Playback.Mode)] {
		return fmt.Errorf("playback.mode must be auto, stream or native, got: %s", cfg.Playback.Mode)
	}
	if cfg.Log.Level != "" && !validLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("log.level must be debug, info, warn or error, got: %s", cfg.Log.Level)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	return nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}
	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("config '%s' is empty", name)
		}
		if profile.Output.FlushInterval < 0 {
			return nil, fmt.Errorf("invalid config '%s': output.flush_interval must be > 0", name)
		}
	}
	if rootConfig.ActiveConfig != "" {
		if _, ok := rootConfig.Configs[rootConfig.ActiveConfig]; !ok {
			return nil, fmt.Errorf("active_config '%s' not found in configs", rootConfig.ActiveConfig)
		}
	}

	return &rootConfig, nil
}

// Package config loads the voicenotes configuration: built-in defaults, an
// optional YAML file, .env files and VOICENOTES_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRemoteEndpoint = "https://api-inference.huggingface.co/models/openai/whisper-large-v3"
	DefaultCaptureCommand = "arecord -q -f S16_LE -r 16000 -c 1 -t raw"
)

type StorageConfig struct {
	Backend string `yaml:"backend"` // file, sqlite, memory
	Path    string `yaml:"path"`
	Watch   bool   `yaml:"watch"`
}

type NotesConfig struct {
	DebounceMS      int    `yaml:"debounce_ms"`
	DefaultLanguage string `yaml:"default_language"`
}

type RecorderConfig struct {
	Engine              string `yaml:"engine"` // stream, batch
	Continuous          bool   `yaml:"continuous"`
	InterimResults      bool   `yaml:"interim_results"`
	RestartDelayMS      int    `yaml:"restart_delay_ms"`
	MinRestartSpacingMS int    `yaml:"min_restart_spacing_ms"`
	MaxRestarts         int    `yaml:"max_restarts"`
	StopTimeoutMS       int    `yaml:"stop_timeout_ms"`
}

type StreamConfig struct {
	URL                string `yaml:"url"`
	HandshakeTimeoutMS int    `yaml:"handshake_timeout_ms"`
	FrameBytes         int    `yaml:"frame_bytes"`
}

type RemoteConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Retries        int    `yaml:"retries"`
}

type LocalWhisperConfig struct {
	Enabled bool   `yaml:"enabled"`
	Binary  string `yaml:"binary"`
	Model   string `yaml:"model"`
	Threads int    `yaml:"threads"`
}

type CaptureConfig struct {
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type ExportConfig struct {
	Dir      string `yaml:"dir"`
	Format   string `yaml:"format"` // md, txt
	Timezone string `yaml:"timezone"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	Debug     bool   `yaml:"debug"`
	DebugPath string `yaml:"debug_path"`
}

type Config struct {
	Storage      StorageConfig      `yaml:"storage"`
	Notes        NotesConfig        `yaml:"notes"`
	Recorder     RecorderConfig     `yaml:"recorder"`
	Stream       StreamConfig       `yaml:"stream"`
	Remote       RemoteConfig       `yaml:"remote"`
	LocalWhisper LocalWhisperConfig `yaml:"local_whisper"`
	Capture      CaptureConfig      `yaml:"capture"`
	Export       ExportConfig       `yaml:"export"`
	Log          LogConfig          `yaml:"log"`
}

// Dir returns ~/.config/voicenotes.
func Dir() string {
	return filepath.Join(homeDir(), ".config", "voicenotes")
}

// DataDir returns ~/.local/share/voicenotes.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "voicenotes")
}

// DefaultPath is where the CLI looks for a config file when none is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return os.Getenv("HOME")
}

func Default() Config {
	return Config{
		Storage: StorageConfig{
			Backend: "file",
			Path:    filepath.Join(DataDir(), "store.json"),
			Watch:   true,
		},
		Notes: NotesConfig{
			DebounceMS:      500,
			DefaultLanguage: "en-US",
		},
		Recorder: RecorderConfig{
			Engine:              "batch",
			Continuous:          true,
			InterimResults:      true,
			RestartDelayMS:      100,
			MinRestartSpacingMS: 1000,
			MaxRestarts:         5,
			StopTimeoutMS:       2000,
		},
		Stream: StreamConfig{
			URL:                "ws://127.0.0.1:2700/recognize",
			HandshakeTimeoutMS: 5000,
			FrameBytes:         3200,
		},
		Remote: RemoteConfig{
			Enabled:        true,
			Endpoint:       DefaultRemoteEndpoint,
			TimeoutSeconds: 60,
			Retries:        0,
		},
		LocalWhisper: LocalWhisperConfig{
			Enabled: false,
			Binary:  "whisper-cli",
			Threads: 4,
		},
		Capture: CaptureConfig{
			Command:    DefaultCaptureCommand,
			SampleRate: 16000,
			Channels:   1,
		},
		Export: ExportConfig{
			Dir:      ".",
			Format:   "md",
			Timezone: "Local",
		},
		Log: LogConfig{
			Level:     "info",
			DebugPath: filepath.Join(DataDir(), "debug.ndjson"),
		},
	}
}

// Load builds the configuration. An empty path skips the YAML file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv reads KEY=VALUE files into the process environment. Missing
// files are skipped and variables already set are left alone.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Save writes cfg as YAML, creating the parent directory.
func Save(path string, cfg Config) error {
	if err := validate(cfg); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c NotesConfig) Debounce() time.Duration { return ms(c.DebounceMS) }

func (c RecorderConfig) RestartDelay() time.Duration      { return ms(c.RestartDelayMS) }
func (c RecorderConfig) MinRestartSpacing() time.Duration { return ms(c.MinRestartSpacingMS) }
func (c RecorderConfig) StopTimeout() time.Duration       { return ms(c.StopTimeoutMS) }

func (c StreamConfig) HandshakeTimeout() time.Duration { return ms(c.HandshakeTimeoutMS) }

func (c RemoteConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Location resolves the export timezone, falling back to time.Local.
func (c ExportConfig) Location() *time.Location {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Storage.Backend, "VOICENOTES_STORAGE_BACKEND")
	overrideString(&cfg.Storage.Path, "VOICENOTES_STORAGE_PATH")
	overrideBool(&cfg.Storage.Watch, "VOICENOTES_STORAGE_WATCH")
	overrideInt(&cfg.Notes.DebounceMS, "VOICENOTES_NOTES_DEBOUNCE_MS")
	overrideString(&cfg.Notes.DefaultLanguage, "VOICENOTES_NOTES_DEFAULT_LANGUAGE")
	overrideString(&cfg.Recorder.Engine, "VOICENOTES_RECORDER_ENGINE")
	overrideBool(&cfg.Recorder.Continuous, "VOICENOTES_RECORDER_CONTINUOUS")
	overrideBool(&cfg.Recorder.InterimResults, "VOICENOTES_RECORDER_INTERIM_RESULTS")
	overrideInt(&cfg.Recorder.RestartDelayMS, "VOICENOTES_RECORDER_RESTART_DELAY_MS")
	overrideInt(&cfg.Recorder.MinRestartSpacingMS, "VOICENOTES_RECORDER_MIN_RESTART_SPACING_MS")
	overrideInt(&cfg.Recorder.MaxRestarts, "VOICENOTES_RECORDER_MAX_RESTARTS")
	overrideInt(&cfg.Recorder.StopTimeoutMS, "VOICENOTES_RECORDER_STOP_TIMEOUT_MS")
	overrideString(&cfg.Stream.URL, "VOICENOTES_STREAM_URL")
	overrideInt(&cfg.Stream.HandshakeTimeoutMS, "VOICENOTES_STREAM_HANDSHAKE_TIMEOUT_MS")
	overrideInt(&cfg.Stream.FrameBytes, "VOICENOTES_STREAM_FRAME_BYTES")
	overrideBool(&cfg.Remote.Enabled, "VOICENOTES_REMOTE_ENABLED")
	overrideString(&cfg.Remote.Endpoint, "VOICENOTES_REMOTE_ENDPOINT")
	overrideString(&cfg.Remote.Token, "HUGGINGFACE_API_TOKEN")
	overrideString(&cfg.Remote.Token, "VOICENOTES_REMOTE_TOKEN")
	overrideInt(&cfg.Remote.TimeoutSeconds, "VOICENOTES_REMOTE_TIMEOUT_SECONDS")
	overrideInt(&cfg.Remote.Retries, "VOICENOTES_REMOTE_RETRIES")
	overrideBool(&cfg.LocalWhisper.Enabled, "VOICENOTES_LOCAL_WHISPER_ENABLED")
	overrideString(&cfg.LocalWhisper.Binary, "VOICENOTES_LOCAL_WHISPER_BINARY")
	overrideString(&cfg.LocalWhisper.Model, "VOICENOTES_LOCAL_WHISPER_MODEL")
	overrideInt(&cfg.LocalWhisper.Threads, "VOICENOTES_LOCAL_WHISPER_THREADS")
	overrideString(&cfg.Capture.Command, "VOICENOTES_CAPTURE_COMMAND")
	overrideInt(&cfg.Capture.SampleRate, "VOICENOTES_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "VOICENOTES_CAPTURE_CHANNELS")
	overrideString(&cfg.Export.Dir, "VOICENOTES_EXPORT_DIR")
	overrideString(&cfg.Export.Format, "VOICENOTES_EXPORT_FORMAT")
	overrideString(&cfg.Export.Timezone, "VOICENOTES_EXPORT_TIMEZONE")
	overrideString(&cfg.Log.Level, "VOICENOTES_LOG_LEVEL")
	overrideBool(&cfg.Log.Debug, "VOICENOTES_DEBUG")
	overrideString(&cfg.Log.DebugPath, "VOICENOTES_DEBUG_PATH")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	switch cfg.Storage.Backend {
	case "file", "sqlite":
		if cfg.Storage.Path == "" {
			return errors.New("storage.path must not be empty")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be file, sqlite or memory, got %q", cfg.Storage.Backend)
	}
	if cfg.Notes.DebounceMS < 0 {
		return errors.New("notes.debounce_ms must not be negative")
	}
	switch cfg.Recorder.Engine {
	case "stream":
		if cfg.Stream.URL == "" {
			return errors.New("stream.url is required for the stream engine")
		}
	case "batch":
	default:
		return fmt.Errorf("recorder.engine must be stream or batch, got %q", cfg.Recorder.Engine)
	}
	if cfg.Recorder.MaxRestarts < 1 {
		return errors.New("recorder.max_restarts must be at least 1")
	}
	if cfg.Recorder.RestartDelayMS < 0 || cfg.Recorder.MinRestartSpacingMS < 0 {
		return errors.New("recorder restart delays must not be negative")
	}
	if cfg.Recorder.StopTimeoutMS <= 0 {
		return errors.New("recorder.stop_timeout_ms must be positive")
	}
	if cfg.Remote.TimeoutSeconds <= 0 {
		return errors.New("remote.timeout_seconds must be positive")
	}
	if cfg.Remote.Retries < 0 {
		return errors.New("remote.retries must not be negative")
	}
	if cfg.Capture.SampleRate <= 0 || cfg.Capture.Channels <= 0 {
		return errors.New("capture.sample_rate and capture.channels must be positive")
	}
	switch cfg.Export.Format {
	case "md", "txt":
	default:
		return fmt.Errorf("export.format must be md or txt, got %q", cfg.Export.Format)
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	return nil
}

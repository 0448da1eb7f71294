// Package config provides the configuration structure for the tts-session-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// Defaults applied to zero-valued settings.
const (
	defaultHTTPAddr               = ":8000"
	defaultShutdownTimeoutSeconds = 10
	defaultOutputsDir             = "outputs"
	defaultCombineSweepMinutes    = 30
	defaultCleanupSweepMinutes    = 60
	defaultSampleCacheSize        = 64
	defaultNATSURL                = "nats://127.0.0.1:4222"
	defaultSynthesizeSubject      = "tts.synthesize"
	defaultCombineSubject         = "tts.combine"
	defaultArtifactBucket         = "COMBINED_AUDIO"
	defaultHistoryPath            = "data/history.db"
	defaultHistoryRetentionDays   = 7
	defaultServiceName            = "tts-session-service"
	defaultEnvironment            = "development"
	defaultLogsDir                = "logs"
	defaultProviderTimeoutSeconds = 30
	defaultGTTSLanguage           = "ko"
	defaultGTTSRequestsPerMinute  = 50
	defaultGTTSBaseURL            = "https://translate.google.com"
	defaultSKTAXBaseURL           = "https://apis.openapi.sk.com"
	defaultElevenLabsBaseURL      = "https://api.elevenlabs.io"
	defaultVoicevoxBaseURL        = "http://localhost:50021"
	defaultVoicevoxSpeaker        = 2
	defaultSupertoneBaseURL       = "https://supertoneapi.com"
	defaultCommandExtension       = "wav"
)

// Validation errors.
var (
	// ErrOutputsDirEmpty indicates that no outputs directory is configured.
	ErrOutputsDirEmpty = errors.New("storage.outputs_dir cannot be empty")
	// ErrSweepMinutes indicates a non-positive age threshold for combined artifacts.
	ErrSweepMinutes = errors.New("storage sweep minutes must be positive")
	// ErrNATSSubjectEmpty indicates an enabled NATS transport without subjects.
	ErrNATSSubjectEmpty = errors.New("nats subjects cannot be empty when nats is enabled")
	// ErrHistoryPathEmpty indicates an enabled history store without a path.
	ErrHistoryPathEmpty = errors.New("history.path cannot be empty when history is enabled")
	// ErrProviderTimeout indicates a non-positive provider timeout.
	ErrProviderTimeout = errors.New("provider timeout_seconds must be positive")
	// ErrCommandExtension indicates a command engine output format that sessions cannot number.
	ErrCommandExtension = errors.New("providers.command.extension must be a supported audio extension")
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr                   string `env:"TTS_HTTP_ADDR" toml:"addr"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

// StorageConfig holds the on-disk session layout and retention settings.
type StorageConfig struct {
	OutputsDir          string `env:"TTS_OUTPUTS_DIR" toml:"outputs_dir"`
	CombineSweepMinutes int    `toml:"combine_sweep_minutes"`
	CleanupSweepMinutes int    `toml:"cleanup_sweep_minutes"`
	SampleCacheSize     int    `toml:"sample_cache_size"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL               string `env:"NATS_URL"            toml:"url"`
	SynthesizeSubject string `toml:"synthesize_subject"`
	CombineSubject    string `toml:"combine_subject"`
	QueueGroup        string `toml:"queue_group"`
	ArtifactBucket    string `toml:"artifact_bucket"`
	Enabled           bool   `env:"NATS_ENABLED"        toml:"enabled"`
	PublishArtifacts  bool   `toml:"publish_artifacts"`
}

// GTTSConfig configures the Google Translate TTS provider.
type GTTSConfig struct {
	BaseURL           string `toml:"base_url"`
	Language          string `toml:"language"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// SKTAXConfig configures the SKT A.X provider.
type SKTAXConfig struct {
	BaseURL           string `toml:"base_url"`
	APIKey            string `env:"SKT_AX_API_KEY"  toml:"api_key"`
	DefaultVoice      string `toml:"default_voice"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// ElevenLabsConfig configures the ElevenLabs provider.
type ElevenLabsConfig struct {
	BaseURL           string `toml:"base_url"`
	APIKey            string `env:"ELEVENLABS_API_KEY" toml:"api_key"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// VoicevoxConfig configures the local Voicevox engine.
type VoicevoxConfig struct {
	BaseURL        string `env:"VOICEVOX_URL" toml:"base_url"`
	DefaultSpeaker int    `toml:"default_speaker"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// SupertoneConfig configures the Supertone provider.
type SupertoneConfig struct {
	BaseURL           string `toml:"base_url"`
	APIKey            string `env:"SUPERTONE_API_KEY" toml:"api_key"`
	DefaultVoice      string `toml:"default_voice"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// CommandConfig configures the local command-line engine. An empty command
// disables the provider.
type CommandConfig struct {
	Command        string `toml:"command"`
	Extension      string `toml:"extension"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ProvidersConfig groups every provider section.
type ProvidersConfig struct {
	GTTS       GTTSConfig       `toml:"gtts"`
	SKTAX      SKTAXConfig      `toml:"skt_ax"`
	ElevenLabs ElevenLabsConfig `toml:"elevenlabs"`
	Voicevox   VoicevoxConfig   `toml:"voicevox"`
	Supertone  SupertoneConfig  `toml:"supertone"`
	Command    CommandConfig    `toml:"command"`
}

// HistoryConfig configures the SQLite job history.
type HistoryConfig struct {
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"`
	Enabled       bool   `toml:"enabled"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	ServiceName  string `toml:"service_name"`
	Environment  string `toml:"environment"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" toml:"otlp_endpoint"`
	OTLPInsecure bool   `toml:"otlp_insecure"`
	StdoutTraces bool   `toml:"stdout_traces"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// VoicesConfig points at an optional voice catalog override.
type VoicesConfig struct {
	CatalogPath string `toml:"catalog_path"`
}

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	NATS      NATSConfig      `toml:"nats"`
	Providers ProvidersConfig `toml:"providers"`
	History   HistoryConfig   `toml:"history"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Paths     PathsConfig     `toml:"paths"`
	Voices    VoicesConfig    `toml:"voices"`
}

// Load loads the configuration through the central configurator, then applies
// environment overrides and defaults and validates the result.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finalize(&cfg)
}

// LoadFile loads the configuration from a TOML file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes a TOML document into a finalized Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	return finalize(&cfg)
}

func finalize(cfg *Config) (*Config, error) {
	envErr := env.Parse(cfg)
	if envErr != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", envErr)
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return cfg, nil
}

// ApplyDefaults fills zero-valued settings.
func (c *Config) ApplyDefaults() {
	setString(&c.Server.Addr, defaultHTTPAddr)
	setInt(&c.Server.ShutdownTimeoutSeconds, defaultShutdownTimeoutSeconds)

	setString(&c.Storage.OutputsDir, defaultOutputsDir)
	setInt(&c.Storage.CombineSweepMinutes, defaultCombineSweepMinutes)
	setInt(&c.Storage.CleanupSweepMinutes, defaultCleanupSweepMinutes)
	setInt(&c.Storage.SampleCacheSize, defaultSampleCacheSize)

	setString(&c.NATS.URL, defaultNATSURL)
	setString(&c.NATS.SynthesizeSubject, defaultSynthesizeSubject)
	setString(&c.NATS.CombineSubject, defaultCombineSubject)
	setString(&c.NATS.ArtifactBucket, defaultArtifactBucket)

	providers := &c.Providers
	setString(&providers.GTTS.BaseURL, defaultGTTSBaseURL)
	setString(&providers.GTTS.Language, defaultGTTSLanguage)
	setInt(&providers.GTTS.TimeoutSeconds, defaultProviderTimeoutSeconds)
	setInt(&providers.GTTS.RequestsPerMinute, defaultGTTSRequestsPerMinute)

	setString(&providers.SKTAX.BaseURL, defaultSKTAXBaseURL)
	setString(&providers.SKTAX.DefaultVoice, "aria")
	setInt(&providers.SKTAX.TimeoutSeconds, defaultProviderTimeoutSeconds)

	setString(&providers.ElevenLabs.BaseURL, defaultElevenLabsBaseURL)
	setInt(&providers.ElevenLabs.TimeoutSeconds, defaultProviderTimeoutSeconds)

	setString(&providers.Voicevox.BaseURL, defaultVoicevoxBaseURL)
	setInt(&providers.Voicevox.DefaultSpeaker, defaultVoicevoxSpeaker)
	setInt(&providers.Voicevox.TimeoutSeconds, defaultProviderTimeoutSeconds)

	setString(&providers.Supertone.BaseURL, defaultSupertoneBaseURL)
	setInt(&providers.Supertone.TimeoutSeconds, defaultProviderTimeoutSeconds)

	setString(&providers.Command.Extension, defaultCommandExtension)
	setInt(&providers.Command.TimeoutSeconds, defaultProviderTimeoutSeconds)

	setString(&c.History.Path, defaultHistoryPath)
	setInt(&c.History.RetentionDays, defaultHistoryRetentionDays)

	setString(&c.Telemetry.ServiceName, defaultServiceName)
	setString(&c.Telemetry.Environment, defaultEnvironment)

	setString(&c.Paths.BaseLogsDir, defaultLogsDir)
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.OutputsDir) == "" {
		return ErrOutputsDirEmpty
	}

	if c.Storage.CombineSweepMinutes <= 0 || c.Storage.CleanupSweepMinutes <= 0 {
		return fmt.Errorf("%w: combine=%d cleanup=%d",
			ErrSweepMinutes, c.Storage.CombineSweepMinutes, c.Storage.CleanupSweepMinutes)
	}

	if c.NATS.Enabled && (c.NATS.SynthesizeSubject == "" || c.NATS.CombineSubject == "") {
		return ErrNATSSubjectEmpty
	}

	if c.History.Enabled && strings.TrimSpace(c.History.Path) == "" {
		return ErrHistoryPathEmpty
	}

	timeouts := map[string]int{
		"gtts":       c.Providers.GTTS.TimeoutSeconds,
		"skt_ax":     c.Providers.SKTAX.TimeoutSeconds,
		"elevenlabs": c.Providers.ElevenLabs.TimeoutSeconds,
		"voicevox":   c.Providers.Voicevox.TimeoutSeconds,
		"supertone":  c.Providers.Supertone.TimeoutSeconds,
		"command":    c.Providers.Command.TimeoutSeconds,
	}

	for name, timeout := range timeouts {
		if timeout <= 0 {
			return fmt.Errorf("%w: %s got %d", ErrProviderTimeout, name, timeout)
		}
	}

	extension := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Providers.Command.Extension), "."))
	if !slices.Contains(core.SupportedExtensions(), extension) {
		return fmt.Errorf("%w: %q", ErrCommandExtension, c.Providers.Command.Extension)
	}

	return nil
}

func setString(target *string, fallback string) {
	if strings.TrimSpace(*target) == "" {
		*target = fallback
	}
}

func setInt(target *int, fallback int) {
	if *target == 0 {
		*target = fallback
	}
}

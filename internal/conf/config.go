// config.go: settings for the hearbird analysis service and functions to load and save them.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/gommon/bytes"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hearbird/hearbird/internal/logger"
	"github.com/hearbird/hearbird/internal/secrets"
)

// WebServerSettings contains settings for the HTTP listener.
type WebServerSettings struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"readtimeout"`
	WriteTimeout time.Duration `yaml:"writetimeout"`
	BodyLimit    string        `yaml:"bodylimit"` // request body cap, e.g. "60MiB"
}

// UploadSettings contains the upload acceptance limits.
type UploadSettings struct {
	MaxSize   string `yaml:"maxsize"`   // maximum accepted file size, e.g. "50MiB"
	StrictWAV bool   `yaml:"strictwav"` // WAV uploads must parse as RIFF/WAVE

	MaxSizeBytes int64 `yaml:"-" mapstructure:"-"` // parsed MaxSize, runtime value
}

// AnalyzerSettings describes how the external BirdNET analyzer is launched.
type AnalyzerSettings struct {
	Python    string        `yaml:"python"`    // interpreter used to run the analyzer module
	Module    string        `yaml:"module"`    // python module, birdnet_analyzer.analyze
	Timeout   time.Duration `yaml:"timeout"`   // hard wall-clock limit per run
	MaxOutput string        `yaml:"maxoutput"` // capture cap per output stream

	MaxOutputBytes int64 `yaml:"-" mapstructure:"-"`
}

// ScratchSettings controls per-request temporary directories.
type ScratchSettings struct {
	Root         string        `yaml:"root"`   // parent directory, empty for the system temp dir
	Prefix       string        `yaml:"prefix"` // directory name prefix
	MinFreeSpace string        `yaml:"minfreespace"`
	StaleAfter   time.Duration `yaml:"staleafter"` // leftover directories older than this are removed, 0 disables

	MinFreeBytes int64 `yaml:"-" mapstructure:"-"`
}

// RateLimitSettings contains per-client request limits for /analyze.
type RateLimitSettings struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"` // requests allowed per window
	Window   time.Duration `yaml:"window"`
}

// SecuritySettings contains access control settings.
type SecuritySettings struct {
	APIKeys        []string          `yaml:"apikeys"`        // accepted X-API-Key values, empty for open mode
	APIKeysFile    string            `yaml:"apikeysfile"`    // optional file with one key per line
	AllowedOrigins []string          `yaml:"allowedorigins"` // CORS origins
	RateLimit      RateLimitSettings `yaml:"ratelimit"`
}

// LogFileSettings configures optional JSON log file output.
type LogFileSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingSettings contains process logging settings.
type LoggingSettings struct {
	Level string          `yaml:"level"`
	File  LogFileSettings `yaml:"file"`
}

// SentrySettings contains optional error telemetry settings.
type SentrySettings struct {
	Enabled     bool   `yaml:"enabled"`
	DSN         string `yaml:"dsn"`
	DSNFile     string `yaml:"dsnfile"` // read the DSN from a secret file instead
	Environment string `yaml:"environment"`
}

// MetricsSettings controls the prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Settings is the complete service configuration.
type Settings struct {
	Debug     bool              `yaml:"debug"`
	WebServer WebServerSettings `yaml:"webserver"`
	Upload    UploadSettings    `yaml:"upload"`
	Analyzer  AnalyzerSettings  `yaml:"analyzer"`
	Scratch   ScratchSettings   `yaml:"scratch"`
	Security  SecuritySettings  `yaml:"security"`
	Logging   LoggingSettings   `yaml:"logging"`
	Sentry    SentrySettings    `yaml:"sentry"`
	Metrics   MetricsSettings   `yaml:"metrics"`
}

// New returns a viper instance with defaults and environment bindings
// applied. Commands bind their flags to it before calling Load.
func New() (*viper.Viper, error) {
	v := viper.New()
	setDefaultConfig(v)
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Load reads the optional configuration file and environment into Settings.
// An empty configFile searches the default config paths; a missing file
// there is not an error.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		for _, path := range GetDefaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		GetLogger().Info("Loaded configuration file", logger.String("path", v.ConfigFileUsed()))
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := settings.prepare(); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// prepare normalizes list values, resolves secrets and parses
// human-readable sizes
func (s *Settings) prepare() error {
	s.Security.AllowedOrigins = splitList(s.Security.AllowedOrigins)

	var err error
	if s.Security.APIKeys, err = resolveAPIKeys(s.Security); err != nil {
		return err
	}
	if s.Sentry.DSN, err = secrets.Resolve(s.Sentry.DSNFile, s.Sentry.DSN); err != nil {
		return fmt.Errorf("invalid sentry.dsn: %w", err)
	}

	if s.Upload.MaxSizeBytes, err = parseSize("upload.maxsize", s.Upload.MaxSize); err != nil {
		return err
	}
	if s.Analyzer.MaxOutputBytes, err = parseSize("analyzer.maxoutput", s.Analyzer.MaxOutput); err != nil {
		return err
	}
	if s.Scratch.MinFreeSpace != "" {
		if s.Scratch.MinFreeBytes, err = parseSize("scratch.minfreespace", s.Scratch.MinFreeSpace); err != nil {
			return err
		}
	}
	return nil
}

// resolveAPIKeys expands environment references in the configured keys and
// appends the keys listed in the key file
func resolveAPIKeys(sec SecuritySettings) ([]string, error) {
	var keys []string
	for _, key := range splitList(sec.APIKeys) {
		expanded, err := secrets.Expand(key)
		if err != nil {
			return nil, fmt.Errorf("invalid security.apikeys: %w", err)
		}
		if expanded != "" {
			keys = append(keys, expanded)
		}
	}

	if sec.APIKeysFile != "" {
		fileKeys, err := secrets.ReadLines(sec.APIKeysFile)
		if err != nil {
			return nil, fmt.Errorf("invalid security.apikeysfile: %w", err)
		}
		keys = append(keys, fileKeys...)
	}
	return keys, nil
}

// splitList flattens comma separated entries and trims whitespace. Values
// from environment variables arrive as a single comma separated element.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for part := range strings.SplitSeq(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseSize(key, value string) (int64, error) {
	n, err := bytes.Parse(value)
	if err != nil {
		return 0, fmt.Errorf("invalid size for %s: %w", key, err)
	}
	return n, nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hearbird"))
	}
	return append(paths, "/etc/hearbird")
}

// Redacted returns a copy of the settings safe to print: API keys and the
// Sentry DSN are masked.
func (s *Settings) Redacted() *Settings {
	out := *s
	out.Security.APIKeys = make([]string, len(s.Security.APIKeys))
	for i, key := range s.Security.APIKeys {
		out.Security.APIKeys[i] = logger.MaskSecret(key)
	}
	if out.Sentry.DSN != "" {
		out.Sentry.DSN = "[REDACTED]"
	}
	return &out
}

// WithoutSecrets returns a copy with API key values and the Sentry DSN
// removed. File references such as apikeysfile are kept, so the result can
// be saved and loaded again.
func (s *Settings) WithoutSecrets() *Settings {
	out := *s
	out.Security.APIKeys = nil
	out.Sentry.DSN = ""
	return &out
}

// ToYAML renders the settings as YAML.
func (s *Settings) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return data, nil
}

// SaveYAMLConfig writes the settings to configPath atomically.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := settings.ToYAML()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}

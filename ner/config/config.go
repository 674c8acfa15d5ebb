package config

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/biomedical-ner/ner"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Model   ModelConfig   `mapstructure:"model"`
	Decoder DecoderConfig `mapstructure:"decoder"`
	Source  SourceConfig  `mapstructure:"source"`
	Store   StoreConfig   `mapstructure:"store"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Workers int           `mapstructure:"workers"`
}

// ModelConfig locates the exported token classifier and its vocabularies.
type ModelConfig struct {
	Path       string `mapstructure:"path"`
	VocabPath  string `mapstructure:"vocabPath"`
	LabelsPath string `mapstructure:"labelsPath"`
	MaxLength  int    `mapstructure:"maxLength"`
	NumLabels  int    `mapstructure:"numLabels"`
	Lowercase  bool   `mapstructure:"lowercase"`
	// Backend selects the classifier implementation ("onnx").
	Backend           string `mapstructure:"backend"`
	ExecutionProvider string `mapstructure:"executionProvider"`
	LibraryPath       string `mapstructure:"libraryPath"`
	DeviceID          int    `mapstructure:"deviceId"`
	IntraOpThreads    int    `mapstructure:"intraOpThreads"`
}

// DecoderConfig stores label decoding settings.
type DecoderConfig struct {
	Threshold float64 `mapstructure:"threshold"`
	StrictBIO bool    `mapstructure:"strictBIO"`
}

// SourceConfig stores the transcript directory settings.
type SourceConfig struct {
	Dir            string `mapstructure:"dir"`
	IgnoreFile     string `mapstructure:"ignoreFile"`
	DebounceMillis int    `mapstructure:"debounceMillis"`
}

// StoreConfig stores history database connection details.
type StoreConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	DSN       string `mapstructure:"dsn"`
	AuthToken string `mapstructure:"authToken"`
}

// ServerConfig stores HTTP settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig stores logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Debounce returns the watch debounce period.
func (s SourceConfig) Debounce() time.Duration {
	return time.Duration(s.DebounceMillis) * time.Millisecond
}

var AppConfig Config

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("model.path", internal.DefaultModelPath)
	v.SetDefault("model.vocabPath", internal.DefaultVocabPath)
	v.SetDefault("model.labelsPath", internal.DefaultLabelsPath)
	v.SetDefault("model.maxLength", internal.DefaultMaxSeqLen)
	v.SetDefault("model.numLabels", internal.DefaultNumLabels)
	v.SetDefault("model.lowercase", true)
	v.SetDefault("model.backend", "onnx")
	v.SetDefault("model.executionProvider", "cpu")
	v.SetDefault("model.libraryPath", "")
	v.SetDefault("model.deviceId", 0)
	v.SetDefault("model.intraOpThreads", 0)

	v.SetDefault("decoder.threshold", internal.DefaultThreshold)
	v.SetDefault("decoder.strictBIO", false)

	v.SetDefault("source.dir", internal.DefaultTranscriptsDir)
	v.SetDefault("source.ignoreFile", "")
	v.SetDefault("source.debounceMillis", 250)

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.dsn", internal.DefaultDatabaseDSN)
	v.SetDefault("store.authToken", "")

	v.SetDefault("server.addr", internal.DefaultListenAddr)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("workers", 4)
}

// LoadConfig reads configuration from file or environment variables into the
// global viper instance.
func LoadConfig(configPath string) (*Config, error) {
	cfg, err := Load(viper.GetViper(), configPath)
	if err != nil {
		return nil, err
	}
	AppConfig = *cfg
	return cfg, nil
}

// Load reads configuration through v. An explicit configPath must exist; without
// one the usual locations are searched and a missing file is not an error.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	SetDefaults(v)

	v.SetEnvPrefix(internal.DefaultAppName)
	v.AutomaticEnv()                                   // NERSCAN_DECODER_THRESHOLD etc.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // decoder.threshold -> DECODER_THRESHOLD

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges that would otherwise fail deep inside the pipeline.
func (c *Config) Validate() error {
	var errs []error
	if c.Model.MaxLength <= 0 {
		errs = append(errs, fmt.Errorf("model.maxLength must be positive: %d", c.Model.MaxLength))
	}
	if c.Model.NumLabels <= 0 {
		errs = append(errs, fmt.Errorf("model.numLabels must be positive: %d", c.Model.NumLabels))
	}
	if math.IsNaN(c.Decoder.Threshold) || c.Decoder.Threshold < 0 || c.Decoder.Threshold > 1 {
		errs = append(errs, fmt.Errorf("decoder.threshold must be within [0, 1]: %v", c.Decoder.Threshold))
	}
	if c.Source.DebounceMillis < 0 {
		errs = append(errs, fmt.Errorf("source.debounceMillis must not be negative: %d", c.Source.DebounceMillis))
	}
	if c.Store.Enabled && strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("store.dsn is required when the store is enabled"))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive: %d", c.Workers))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

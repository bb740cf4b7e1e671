package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/vivabilite/internal/values"
)

// Config holds the full application configuration.
type Config struct {
	Data    DataConfig    `yaml:"data" mapstructure:"data"`
	Score   ScoreConfig   `yaml:"score" mapstructure:"score"`
	Climate ClimateConfig `yaml:"climate" mapstructure:"climate"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the data directory and its manifest.
type DataConfig struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`
	Manifest string `yaml:"manifest" mapstructure:"manifest"`
}

// ManifestPath returns the manifest path, relative entries resolved against Dir.
func (d DataConfig) ManifestPath() string {
	if d.Manifest == "" || filepath.IsAbs(d.Manifest) {
		return d.Manifest
	}
	return filepath.Join(d.Dir, d.Manifest)
}

// ScoreConfig configures the scoring engine.
type ScoreConfig struct {
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
	SegmentMaxLengthM float64 `yaml:"segment_max_length_m" mapstructure:"segment_max_length_m"`
}

// ClimateConfig configures the climate pipeline.
type ClimateConfig struct {
	Aggregation string `yaml:"aggregation" mapstructure:"aggregation"`
	File        string `yaml:"file" mapstructure:"file"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	CORSOrigins     []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	DefaultPageSize int      `yaml:"default_page_size" mapstructure:"default_page_size"`
	MaxPageSize     int      `yaml:"max_page_size" mapstructure:"max_page_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VIVABILITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.manifest", "manifest.json")
	v.SetDefault("score.concurrency", 4)
	v.SetDefault("score.segment_max_length_m", 1000.0)
	v.SetDefault("climate.aggregation", "mean")
	v.SetDefault("climate.file", "")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})
	v.SetDefault("server.default_page_size", 50)
	v.SetDefault("server.max_page_size", 500)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings needed by a command mode ("score" or "serve"). Every
// problem is reported in a single error.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "score":
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
		if c.Server.DefaultPageSize <= 0 {
			problems = append(problems, "server.default_page_size must be > 0")
		}
		if c.Server.MaxPageSize < c.Server.DefaultPageSize {
			problems = append(problems, "server.max_page_size must be >= server.default_page_size")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Data.Dir == "" {
		problems = append(problems, "data.dir is required")
	}
	if c.Score.Concurrency < 1 || c.Score.Concurrency > 64 {
		problems = append(problems, "score.concurrency must be between 1 and 64")
	}
	if c.Score.SegmentMaxLengthM < 0 {
		problems = append(problems, "score.segment_max_length_m must be >= 0")
	}
	if _, err := values.ParseStat(c.Climate.Aggregation); err != nil {
		problems = append(problems, fmt.Sprintf("climate.aggregation %q is not a statistic", c.Climate.Aggregation))
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

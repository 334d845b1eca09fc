package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	Adapter string `envconfig:"ADAPTER" default:"native"`

	PutioToken string `envconfig:"PUTIO_TOKEN"`

	QbitHost     string `envconfig:"QBIT_HOST"`
	QbitUsername string `envconfig:"QBIT_USERNAME"`
	QbitPassword string `envconfig:"QBIT_PASSWORD"`

	DownloadDir       string        `envconfig:"DOWNLOAD_DIR" required:"true"`
	AutocleanInterval time.Duration `envconfig:"AUTOCLEAN_INTERVAL" default:"1h"`
	TrackersURL       string        `envconfig:"TRACKERS_URL" default:"https://raw.githubusercontent.com/ngosang/trackerslist/master/trackers_best.txt"`
	DBPath            string        `envconfig:"DB_PATH" default:"torrents.db"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"torrent_registry"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

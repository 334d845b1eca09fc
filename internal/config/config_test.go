package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DOWNLOAD_DIR", "/downloads")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "native", cfg.Adapter)
	assert.Equal(t, "/downloads", cfg.DownloadDir)
	assert.Equal(t, time.Hour, cfg.AutocleanInterval)
	assert.Equal(t, "torrents.db", cfg.DBPath)
	assert.Equal(t, "0.0.0.0:8080", cfg.Web.BindAddress)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoadConfig_MissingDownloadDir(t *testing.T) {
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DOWNLOAD_DIR", "/downloads")
	t.Setenv("ADAPTER", "qbittorrent")
	t.Setenv("QBIT_HOST", "http://localhost:8081")
	t.Setenv("AUTOCLEAN_INTERVAL", "15m")
	t.Setenv("API_USERNAME", "admin")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:9090")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "qbittorrent", cfg.Adapter)
	assert.Equal(t, "http://localhost:8081", cfg.QbitHost)
	assert.Equal(t, 15*time.Minute, cfg.AutocleanInterval)
	assert.Equal(t, "admin", cfg.API.Username)
	assert.Equal(t, "127.0.0.1:9090", cfg.Web.BindAddress)
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{level: "DEBUG", want: slog.LevelDebug},
		{level: "debug", want: slog.LevelDebug},
		{level: "INFO", want: slog.LevelInfo},
		{level: "WARN", want: slog.LevelWarn},
		{level: "ERROR", want: slog.LevelError},
		{level: "bogus", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			assert.Equal(t, tt.want, cfg.SlogLevel())
		})
	}
}

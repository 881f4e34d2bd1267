package config_test

import (
	"testing"
	"time"

	"github.com/SunilSharmaNP/ssm/config"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values correctly", func(t *testing.T) {
		cfg, err := config.Load()
		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, "ffmpeg", cfg.FFmpegBin)
		assert.Equal(t, "ffprobe", cfg.FFprobeBin)
		assert.Equal(t, int64(2<<30), cfg.MaxFileSize)
		assert.Equal(t, int64(512<<10), cfg.URLChunkSize)
		assert.Equal(t, int64(1<<10), cfg.SizeTolerance)
		assert.Equal(t, 2, cfg.DownloadRetries)
		assert.Equal(t, 5, cfg.UploadRetries)
		assert.Equal(t, 2*time.Second, cfg.EditThrottle)
		assert.Equal(t, time.Second, cfg.CancelGrace)
		assert.Equal(t, 8048, cfg.MaxURLLength)
		assert.Equal(t, "https://api.gofile.io", cfg.GofileAPIURL)
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		t.Setenv("SSM_PORT", "9999")
		t.Setenv("SSM_MAX_CONCURRENT_JOBS", "12")
		t.Setenv("SSM_MAX_FILE_SIZE", "50MB")
		t.Setenv("SSM_PROBE_TIMEOUT", "1m30s")
		t.Setenv("SSM_AUTH_ENABLE", "true")
		t.Setenv("SSM_AUTH_KEY", "newsecret")

		cfg, err := config.Load()
		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "9999", cfg.Port)
		assert.Equal(t, 12, cfg.MaxConcurrentJobs)
		assert.Equal(t, int64(50<<20), cfg.MaxFileSize)
		assert.Equal(t, 90*time.Second, cfg.ProbeTimeout)
		assert.Equal(t, true, cfg.AuthEnable)
		assert.Equal(t, "newsecret", cfg.AuthKey)
	})

	t.Run("user dir is namespaced per user", func(t *testing.T) {
		cfg := &config.Config{DownloadDir: "downloads"}
		assert.Equal(t, "downloads/42", cfg.UserDir("42"))
	})
}

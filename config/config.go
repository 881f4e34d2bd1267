package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config holds every tunable of the merge/encode core. Values come from
// ssm_config.yaml and SSM_-prefixed environment variables, env winning.
type Config struct {
	FFmpegBin  string `mapstructure:"FFMPEG_BIN"`
	FFprobeBin string `mapstructure:"FFPROBE_BIN"`

	// DownloadDir is the temp root; each user gets a subdirectory.
	DownloadDir string `mapstructure:"DOWNLOAD_DIR"`

	// MaxFileSize is the transport hard limit for a single input or upload.
	MaxFileSize   int64 `mapstructure:"MAX_FILE_SIZE"`
	MaxURLLength  int   `mapstructure:"MAX_URL_LENGTH"`
	URLChunkSize  int64 `mapstructure:"URL_CHUNK_SIZE"`
	SizeTolerance int64 `mapstructure:"SIZE_TOLERANCE"`

	ProbeTimeout   time.Duration `mapstructure:"PROBE_TIMEOUT"`
	ConnectTimeout time.Duration `mapstructure:"CONNECT_TIMEOUT"`
	ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
	CancelGrace    time.Duration `mapstructure:"CANCEL_GRACE"`
	EditThrottle   time.Duration `mapstructure:"EDIT_THROTTLE"`

	DownloadRetries int `mapstructure:"DOWNLOAD_RETRIES"`
	UploadRetries   int `mapstructure:"UPLOAD_RETRIES"`

	MaxConcurrentJobs int `mapstructure:"MAX_CONCURRENT_JOBS"`

	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK"`

	GofileAPIURL string `mapstructure:"GOFILE_API_URL"`
	GofileToken  string `mapstructure:"GOFILE_TOKEN"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	SentryDSN   string `mapstructure:"SENTRY_DSN"`
	Environment string `mapstructure:"ENVIRONMENT"`

	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`
	Port       string `mapstructure:"PORT"`
}

// stringToDurationHookFunc parses Go duration strings during unmarshal.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable sizes ("512KB", "2GB")
// into int64 byte counts.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			// Not a size string, let other parsers handle it.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("FFMPEG_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("DOWNLOAD_DIR", "downloads")
	vp.SetDefault("MAX_FILE_SIZE", "2GB")
	vp.SetDefault("MAX_URL_LENGTH", 8048)
	vp.SetDefault("URL_CHUNK_SIZE", "512KB")
	vp.SetDefault("SIZE_TOLERANCE", "1KB")
	vp.SetDefault("PROBE_TIMEOUT", "30s")
	vp.SetDefault("CONNECT_TIMEOUT", "15s")
	vp.SetDefault("READ_TIMEOUT", "2m")
	vp.SetDefault("CANCEL_GRACE", "1s")
	vp.SetDefault("EDIT_THROTTLE", "2s")
	vp.SetDefault("DOWNLOAD_RETRIES", 2)
	vp.SetDefault("UPLOAD_RETRIES", 5)
	vp.SetDefault("MAX_CONCURRENT_JOBS", 5)
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "500MB")
	vp.SetDefault("GOFILE_API_URL", "https://api.gofile.io")
	vp.SetDefault("GOFILE_TOKEN", "")
	vp.SetDefault("REDIS_ADDR", "")
	vp.SetDefault("REDIS_PASSWORD", "")
	vp.SetDefault("SENTRY_DSN", "")
	vp.SetDefault("ENVIRONMENT", "production")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "mergebot123")
	vp.SetDefault("PORT", "8080")

	vp.SetConfigName("ssm_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/ssm/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("SSM")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// UserDir returns the per-user temp directory under the download root.
func (c *Config) UserDir(userID string) string {
	return c.DownloadDir + "/" + userID
}

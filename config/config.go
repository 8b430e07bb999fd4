// mediarender/config/config.go
package config

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Port         string `mapstructure:"PORT"`
	FFBin        string `mapstructure:"FF_BIN"`
	FFProbeBin   string `mapstructure:"FFPROBE_BIN"`
	FFGlobalArgs string `mapstructure:"FF_GLOBAL_ARGS"`
	WorkRoot     string `mapstructure:"WORK_ROOT"`
	PublicDir    string `mapstructure:"PUBLIC_DIR"`

	MaxDownloadSize  int64         `mapstructure:"MAX_DOWNLOAD_SIZE"`
	DownloadTimeout  time.Duration `mapstructure:"DOWNLOAD_TIMEOUT"`
	DownloadAttempts int           `mapstructure:"DOWNLOAD_ATTEMPTS"`
	BackoffInitial   time.Duration `mapstructure:"BACKOFF_INITIAL"`
	BackoffMax       time.Duration `mapstructure:"BACKOFF_MAX"`

	VideoTimeout  time.Duration `mapstructure:"VIDEO_TIMEOUT"`
	ImageTimeout  time.Duration `mapstructure:"IMAGE_TIMEOUT"`
	ConcatTimeout time.Duration `mapstructure:"CONCAT_TIMEOUT"`
	MuxTimeout    time.Duration `mapstructure:"MUX_TIMEOUT"`

	DriveEndpoint   string        `mapstructure:"DRIVE_ENDPOINT"`
	DriveUploadURL  string        `mapstructure:"DRIVE_UPLOAD_URL"`
	CallbackTimeout time.Duration `mapstructure:"CALLBACK_TIMEOUT"`

	ThrottleEnable   bool    `mapstructure:"THROTTLE_ENABLE"`
	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK"`

	AuthEnable         bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey            string `mapstructure:"AUTH_KEY"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
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

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
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
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("PORT", "3000")
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("FF_GLOBAL_ARGS", "-hide_banner -nostdin")
	vp.SetDefault("WORK_ROOT", "temp")
	vp.SetDefault("PUBLIC_DIR", "public")

	vp.SetDefault("MAX_DOWNLOAD_SIZE", "1GB")
	vp.SetDefault("DOWNLOAD_TIMEOUT", "60s")
	vp.SetDefault("DOWNLOAD_ATTEMPTS", 3)
	vp.SetDefault("BACKOFF_INITIAL", "1s")
	vp.SetDefault("BACKOFF_MAX", "5s")

	vp.SetDefault("VIDEO_TIMEOUT", "180s")
	vp.SetDefault("IMAGE_TIMEOUT", "30s")
	vp.SetDefault("CONCAT_TIMEOUT", "300s")
	vp.SetDefault("MUX_TIMEOUT", "180s")

	vp.SetDefault("DRIVE_ENDPOINT", "")
	vp.SetDefault("DRIVE_UPLOAD_URL", "https://www.googleapis.com/upload/drive/v3/files")
	vp.SetDefault("CALLBACK_TIMEOUT", "30s")

	vp.SetDefault("THROTTLE_ENABLE", false)
	vp.SetDefault("THROTTLE_CPU", 10.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "500MB")

	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")
	vp.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "json")
}

func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	vp := viper.New()
	setDefaults(vp)

	vp.SetConfigName("mediarender_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/mediarender/")

	if err := vp.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	vp.SetEnvPrefix("MEDIARENDER")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()
	// Hosting platforms hand the listen port over as a bare PORT.
	if err := vp.BindEnv("PORT", "MEDIARENDER_PORT", "PORT"); err != nil {
		return nil, err
	}

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

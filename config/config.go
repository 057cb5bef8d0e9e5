// photoproc/config/config.go
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT" validate:"required"`
	BaseURL  string `mapstructure:"BASE"`
	LogLevel string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`

	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY" validate:"required_if=AuthEnable true"`

	// MaxConcurrency is the global admission bound for external transform calls.
	MaxConcurrency      int           `mapstructure:"MAX_CONCURRENCY" validate:"gte=1"`
	MaxFilesCount       int           `mapstructure:"MAX_FILES_COUNT" validate:"gte=1"`
	MaxFileSize         int64         `mapstructure:"MAX_FILE_SIZE" validate:"gt=0"`
	// MaxImagePixels bounds width*height read from the image header. Zero disables it.
	MaxImagePixels      int           `mapstructure:"MAX_IMAGE_PIXELS" validate:"gte=0"`
	AllowedContentTypes []string      `mapstructure:"ALLOWED_CONTENT_TYPES" validate:"min=1"`
	TaskCleanupInterval time.Duration `mapstructure:"TASK_CLEANUP_INTERVAL" validate:"gt=0"`
	TaskMaxAge          time.Duration `mapstructure:"TASK_MAX_AGE" validate:"gt=0"`
	ShutdownTimeout     time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	StoreDriver   string `mapstructure:"STORE_DRIVER" validate:"oneof=memory sqlite postgres redis"`
	SQLitePath    string `mapstructure:"SQLITE_PATH" validate:"required_if=StoreDriver sqlite"`
	DatabaseURL   string `mapstructure:"DATABASE_URL" validate:"required_if=StoreDriver postgres"`
	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required_if=StoreDriver redis"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	PixianURL     string        `mapstructure:"PIXIAN_API_URL" validate:"required,url"`
	PixianUser    string        `mapstructure:"PIXIAN_API_USER"`
	PixianKey     string        `mapstructure:"PIXIAN_API_KEY"`
	PixianOptions string        `mapstructure:"PIXIAN_OPTIONS"`
	PixianTimeout time.Duration `mapstructure:"PIXIAN_TIMEOUT" validate:"gt=0"`
	PixianRPS     float64       `mapstructure:"PIXIAN_RPS" validate:"gte=0"`

	GeminiAPIKey     string        `mapstructure:"GEMINI_API_KEY"`
	GeminiTextModel  string        `mapstructure:"GEMINI_TEXT_MODEL" validate:"required"`
	GeminiImageModel string        `mapstructure:"GEMINI_IMAGE_MODEL" validate:"required"`
	GeminiTimeout    time.Duration `mapstructure:"GEMINI_TIMEOUT" validate:"gt=0"`

	// Zero disables the corresponding check.
	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU" validate:"gte=0,lte=100"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM" validate:"gte=0"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK" validate:"gte=0"`
	ThrottleDiskPath string  `mapstructure:"THROTTLE_DISK_PATH"`
}

// stringToDurationHookFunc parses Go duration strings such as "1h30m".
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

// stringToByteSizeHookFunc parses human-readable sizes such as "10MB".
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
			// Not a size string; let weak typing handle plain numbers.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")
	vp.SetDefault("MAX_CONCURRENCY", 5)
	vp.SetDefault("MAX_FILES_COUNT", 50)
	vp.SetDefault("MAX_FILE_SIZE", "10MB")
	vp.SetDefault("MAX_IMAGE_PIXELS", 50_000_000)
	vp.SetDefault("ALLOWED_CONTENT_TYPES", "image/jpeg,image/jpg,image/png,image/webp")
	vp.SetDefault("TASK_CLEANUP_INTERVAL", "1h")
	vp.SetDefault("TASK_MAX_AGE", "24h")
	vp.SetDefault("SHUTDOWN_TIMEOUT", "30s")
	vp.SetDefault("STORE_DRIVER", "memory")
	vp.SetDefault("SQLITE_PATH", "./data/tasks.db")
	vp.SetDefault("DATABASE_URL", "")
	vp.SetDefault("REDIS_ADDR", "")
	vp.SetDefault("REDIS_PASSWORD", "")
	vp.SetDefault("REDIS_DB", 0)
	vp.SetDefault("PIXIAN_API_URL", "https://api.pixian.ai/api/v2/remove-background")
	vp.SetDefault("PIXIAN_API_USER", "")
	vp.SetDefault("PIXIAN_API_KEY", "")
	vp.SetDefault("PIXIAN_OPTIONS", "background.color=FFFFFF test=true")
	vp.SetDefault("PIXIAN_TIMEOUT", "120s")
	vp.SetDefault("PIXIAN_RPS", 0.0)
	vp.SetDefault("GEMINI_API_KEY", "")
	vp.SetDefault("GEMINI_TEXT_MODEL", "gemini-2.0-flash")
	vp.SetDefault("GEMINI_IMAGE_MODEL", "gemini-2.0-flash-preview-image-generation")
	vp.SetDefault("GEMINI_TIMEOUT", "180s")
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "0")
	vp.SetDefault("THROTTLE_FREEDISK", "0")
	vp.SetDefault("THROTTLE_DISK_PATH", "/")

	vp.SetConfigName("photoproc_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/photoproc/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("PHOTOPROC")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The first hook that converts a value wins, so durations go before byte sizes.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints declared in the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

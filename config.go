package imageserver

import (
	"time"

	"github.com/benpate/derp"
	"github.com/go-playground/validator/v10"
)

// Config is the immutable, process-wide configuration.  It is built once at
// startup (see the config package) and passed by value to every component.
type Config struct {
	ImageRoot          string   `mapstructure:"image_root" validate:"required"`
	CacheRoot          string   `mapstructure:"cache_root" validate:"required"`
	DefaultQuality     int      `mapstructure:"default_quality" validate:"min=1,max=100"`
	MaxWidth           int      `mapstructure:"max_width" validate:"min=1"`
	MaxHeight          int      `mapstructure:"max_height" validate:"min=1"`
	MaxFileSizeMB      int      `mapstructure:"max_file_size_mb" validate:"min=1"`
	MaxPixels          int      `mapstructure:"max_pixels" validate:"min=1"`
	CacheMaxAge        int      `mapstructure:"cache_max_age" validate:"min=1"` // seconds
	UploadEnabled      bool     `mapstructure:"upload_enabled"`
	UploadAPIKey       string   `mapstructure:"upload_api_key" validate:"required_if=UploadEnabled true"`
	Address            string   `mapstructure:"address" validate:"required"`
	MetricsAddress     string   `mapstructure:"metrics_address"`
	LogLevel           string   `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat          string   `mapstructure:"log_format" validate:"oneof=json console"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	AuthMaxFailures    int      `mapstructure:"auth_max_failures" validate:"min=0"`
	AuthLockout        int      `mapstructure:"auth_lockout" validate:"min=1"`     // seconds
	JanitorInterval    int      `mapstructure:"janitor_interval" validate:"min=0"` // seconds
}

// DefaultConfig returns a Config with every optional value populated.
// ImageRoot and CacheRoot are deliberately left empty.
func DefaultConfig() Config {
	return Config{
		DefaultQuality:  85,
		MaxWidth:        4000,
		MaxHeight:       4000,
		MaxFileSizeMB:   50,
		MaxPixels:       100_000_000,
		CacheMaxAge:     604800,
		Address:         ":8080",
		LogLevel:        "info",
		LogFormat:       "json",
		AuthMaxFailures: 10,
		AuthLockout:     900,
		JanitorInterval: 3600,
	}
}

// Validate reports configuration that cannot be served.
func (config Config) Validate() error {

	if err := validator.New().Struct(config); err != nil {
		return derp.Wrap(err, "imageserver.Config.Validate", "Invalid configuration")
	}

	return nil
}

// MaxFileSize returns the largest original or upload accepted, in bytes.
func (config Config) MaxFileSize() int64 {
	return int64(config.MaxFileSizeMB) * 1024 * 1024
}

// CacheTTL returns the max-age of cached renditions.
func (config Config) CacheTTL() time.Duration {
	return time.Duration(config.CacheMaxAge) * time.Second
}

// AuthLockoutDuration returns how long a client stays locked out after too many failed credentials.
func (config Config) AuthLockoutDuration() time.Duration {
	return time.Duration(config.AuthLockout) * time.Second
}

// JanitorPeriod returns the interval between cache sweeps.  Zero disables the sweep.
func (config Config) JanitorPeriod() time.Duration {
	return time.Duration(config.JanitorInterval) * time.Second
}

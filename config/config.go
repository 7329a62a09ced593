// Package config loads an imageserver.Config from defaults, an optional
// config file, environment variables, and command-line flags (in increasing
// order of precedence).
package config

import (
	"strings"

	"github.com/benpate/derp"
	"github.com/benpate/imageserver"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"image-root":      "image_root",
	"cache-root":      "cache_root",
	"address":         "address",
	"metrics-address": "metrics_address",
	"log-level":       "log_level",
	"log-format":      "log_format",
}

// Load reads the configuration.  configFile may be empty, and flags may be nil.
// Every key can be set in the environment, using its upper-cased name
// (e.g. IMAGE_ROOT, UPLOAD_API_KEY).
func Load(configFile string, flags *pflag.FlagSet) (imageserver.Config, error) {

	const location = "config.Load"

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return imageserver.Config{}, derp.Wrap(err, location, "Unable to read config file", configFile)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return imageserver.Config{}, derp.Wrap(err, location, "Unable to bind flag", name)
				}
			}
		}
	}

	var result imageserver.Config

	if err := v.Unmarshal(&result); err != nil {
		return imageserver.Config{}, derp.Wrap(err, location, "Unable to decode configuration")
	}

	if err := result.Validate(); err != nil {
		return imageserver.Config{}, derp.Wrap(err, location, "Invalid configuration")
	}

	return result, nil
}

// RegisterFlags adds the command-line flags that Load understands.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("image-root", "", "Directory of original images (IMAGE_ROOT)")
	flags.String("cache-root", "", "Directory of resized images (CACHE_ROOT)")
	flags.String("address", "", "Listen address (ADDRESS)")
	flags.String("metrics-address", "", "Listen address for Prometheus metrics (METRICS_ADDRESS)")
	flags.String("log-level", "", "One of trace, debug, info, warn, error (LOG_LEVEL)")
	flags.String("log-format", "", "One of json, console (LOG_FORMAT)")
}

// setDefaults registers every key, so that AutomaticEnv can find all of them during Unmarshal.
func setDefaults(v *viper.Viper) {

	defaults := imageserver.DefaultConfig()

	v.SetDefault("image_root", "")
	v.SetDefault("cache_root", "")
	v.SetDefault("default_quality", defaults.DefaultQuality)
	v.SetDefault("max_width", defaults.MaxWidth)
	v.SetDefault("max_height", defaults.MaxHeight)
	v.SetDefault("max_file_size_mb", defaults.MaxFileSizeMB)
	v.SetDefault("max_pixels", defaults.MaxPixels)
	v.SetDefault("cache_max_age", defaults.CacheMaxAge)
	v.SetDefault("upload_enabled", defaults.UploadEnabled)
	v.SetDefault("upload_api_key", "")
	v.SetDefault("address", defaults.Address)
	v.SetDefault("metrics_address", "")
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
	v.SetDefault("cors_allowed_origins", []string{})
	v.SetDefault("auth_max_failures", defaults.AuthMaxFailures)
	v.SetDefault("auth_lockout", defaults.AuthLockout)
	v.SetDefault("janitor_interval", defaults.JanitorInterval)
}

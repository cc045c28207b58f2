package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = "portage"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for Portage settings.
const envPrefix = "PORTAGE"

// Load reads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise portage.yaml is searched in the CWD and $HOME. A missing config
// file is not an error; defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", DefaultAddr)
	v.SetDefault("server.base_url", DefaultBaseURL)
	v.SetDefault("server.request_timeout", DefaultRequestTimeout)

	v.SetDefault("auth.mode", DefaultAuthMode)
	v.SetDefault("auth.url", "")
	v.SetDefault("auth.timeout", DefaultAuthTimeout)
	v.SetDefault("auth.static.token", "")
	v.SetDefault("auth.static.identity.id", "")
	v.SetDefault("auth.static.identity.name", "")
	v.SetDefault("auth.static.identity.email", "")

	v.SetDefault("ratelimit.enabled", DefaultRateLimitEnabled)
	v.SetDefault("ratelimit.limit", DefaultRateLimitLimit)
	v.SetDefault("ratelimit.window", DefaultRateLimitWindow)
	v.SetDefault("ratelimit.store", DefaultRateLimitStore)
	v.SetDefault("ratelimit.cookie_name", "")
	v.SetDefault("ratelimit.redis.addr", DefaultRedisAddr)
	v.SetDefault("ratelimit.redis.password", "")
	v.SetDefault("ratelimit.redis.db", 0)

	v.SetDefault("transfer.chunk_size", DefaultChunkSize)
	v.SetDefault("transfer.inactivity_timeout", DefaultInactivityTimeout)

	v.SetDefault("notify.url", "")
	v.SetDefault("notify.timeout", DefaultNotifyTimeout)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.json", DefaultLogJSON)

	v.SetDefault("proxy.mode", DefaultProxyMode)
	v.SetDefault("proxy.host", "")
	v.SetDefault("proxy.port", 0)
	v.SetDefault("proxy.user", "")
	v.SetDefault("proxy.password", "")
	v.SetDefault("proxy.no_proxy", "")
}

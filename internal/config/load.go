package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/eliasyaoyc/fastjob/internal/errors"
)

const defaultDirPermissions = 0755

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the control plane configuration using Viper, caching the
// result for the lifetime of the process.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &cfg
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access.
func GetViper() *viper.Viper {
	return initViper()
}

// LoadWithViper loads configuration from a caller-supplied Viper instance,
// bypassing the global cache. Used by tests that want isolated config state.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// LoadFromFile loads configuration from a specific TOML file path, as named
// by the `--config-path` CLI flag.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}

	return &cfg, nil
}

// Reset clears the cached configuration. Used by tests.
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// initViper initializes Viper with configuration sources and defaults.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("FASTJOB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// findProjectConfig searches for fastjob.toml by walking up the directory
// tree from the current working directory.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, "fastjob.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// mergeConfigFiles merges configuration files in precedence order (lowest
// to highest): system < user < project < env vars.
func mergeConfigFiles(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()

	fastjobDir := filepath.Join(homeDir, ".fastjob")
	os.MkdirAll(fastjobDir, defaultDirPermissions)

	configPaths := []string{
		"/etc/fastjob/config.toml",
		filepath.Join(fastjobDir, "config.toml"),
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		configPaths = append(configPaths, projectConfig)
	}

	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err != nil {
			continue
		}

		tempViper := viper.New()
		tempViper.SetConfigFile(configPath)
		tempViper.SetConfigType("toml")

		if err := tempViper.ReadInConfig(); err != nil {
			continue
		}

		// MergeConfigMap (unlike Set) stays below AutomaticEnv in Viper's
		// lookup order, so FASTJOB_* variables still win over every file.
		if err := v.MergeConfigMap(tempViper.AllSettings()); err != nil {
			continue
		}
	}
}

// Get returns a configuration value using dot notation.
func Get(key string) interface{} {
	return initViper().Get(key)
}

// GetString returns a configuration value as a string using dot notation.
func GetString(key string) string {
	return initViper().GetString(key)
}

// GetBool returns a configuration value as a bool using dot notation.
func GetBool(key string) bool {
	return initViper().GetBool(key)
}

// GetInt returns a configuration value as an int using dot notation.
func GetInt(key string) int {
	return initViper().GetInt(key)
}

// Set sets a configuration value using dot notation (runtime override, tests only).
func Set(key string, value interface{}) {
	initViper().Set(key, value)
}

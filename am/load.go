package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/rurikawa-judge/judger/errors"
)

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the worker configuration using Viper, merging system, user,
// project, and environment sources in that precedence order.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access.
func GetViper() *viper.Viper {
	return initViper()
}

// LoadFromFile loads configuration from a specific file path, ignoring the
// layered system/user/project search and environment overrides.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}

	return &config, nil
}

// Reset clears the cached configuration (useful for testing).
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

	v.SetEnvPrefix("JUDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)

	SetDefaults(v)
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// findProjectConfig searches for judger.toml by walking up the directory
// tree from the working directory.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, "judger.toml")
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// mergeConfigFiles manually merges configuration files in precedence order
// (lowest to highest): system < cache-root persisted config < project < env.
func mergeConfigFiles(v *viper.Viper) {
	cacheRoot := v.GetString("cache.root")
	if cacheRoot == "" {
		cacheRoot = defaultCacheRoot()
	}
	os.MkdirAll(cacheRoot, DefaultDirPermissions)

	projectConfig := findProjectConfig()
	configPaths := []string{
		"/etc/judger/config.toml",               // system config, lowest precedence
		filepath.Join(cacheRoot, "config.toml"), // worker's own persisted registration
	}
	if projectConfig != "" {
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

		// Merged key by key into the config layer, which sits below env.
		if err := v.MergeConfigMap(tempViper.AllSettings()); err != nil {
			continue
		}
	}
}

// defaultCacheRoot returns ~/.cache/judger, falling back to a relative path
// if the home directory cannot be resolved.
func defaultCacheRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".judger-cache"
	}
	return filepath.Join(home, ".cache", "judger")
}

// Get returns a configuration value using dot notation.
func Get(key string) interface{} {
	return initViper().Get(key)
}

// GetString returns a configuration value as string using dot notation.
func GetString(key string) string {
	return initViper().GetString(key)
}

// GetBool returns a configuration value as bool using dot notation.
func GetBool(key string) bool {
	return initViper().GetBool(key)
}

// GetInt returns a configuration value as int using dot notation.
func GetInt(key string) int {
	return initViper().GetInt(key)
}

// GetFloat64 returns a configuration value as float64 using dot notation.
func GetFloat64(key string) float64 {
	return initViper().GetFloat64(key)
}

// Set sets a configuration value using dot notation (runtime override).
func Set(key string, value interface{}) {
	initViper().Set(key, value)
}

// PersistRegistration writes the worker's access token and identity back to
// cacheRoot/config.toml after a successful /judger/register call, so the
// next `judger run` picks it up without needing the register token again.
func PersistRegistration(cacheRoot string, cfg *WorkerConfig) error {
	if err := os.MkdirAll(cacheRoot, DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create cache root %s", cacheRoot)
	}

	doc := struct {
		Worker WorkerConfig `toml:"worker"`
	}{Worker: *cfg}

	buf := &strings.Builder{}
	if err := toml.NewEncoder(buf).Encode(doc); err != nil {
		return errors.Wrap(err, "failed to encode worker config as TOML")
	}

	path := filepath.Join(cacheRoot, "config.toml")
	if err := os.WriteFile(path, []byte(buf.String()), DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}

	// Invalidate the cached Viper instance so a subsequent Load() observes
	// the freshly persisted access token.
	Reset()
	return nil
}

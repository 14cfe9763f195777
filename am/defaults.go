package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("worker.tls", false)
	v.SetDefault("worker.alternate_name", "")
	v.SetDefault("worker.tags", []string{})
	v.SetDefault("worker.max_concurrent_jobs", 4)
	v.SetDefault("worker.container_user", "1000:1000")
	v.SetDefault("worker.build_cpu_share", 1.0)
	v.SetDefault("worker.run_cpu_share", 1.0)

	v.SetDefault("cache.root", defaultCacheRoot())

	v.SetDefault("log.json", false)
	v.SetDefault("log.theme", "gruvbox")
	v.SetDefault("log.verbosity", 0)
}

// BindSensitiveEnvVars explicitly binds secret-bearing configuration keys to
// environment variables, so tokens never need to sit in a config file.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("worker.access_token", "JUDGER_ACCESS_TOKEN")
	v.BindEnv("worker.register_token", "JUDGER_REGISTER_TOKEN")
}

// String returns a human-readable summary of the configuration, useful for
// `judger run -v` startup logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Host: %s, TLS: %t, MaxConcurrentJobs: %d, CacheRoot: %s}",
		c.Worker.Host, c.Worker.TLS, c.Worker.MaxConcurrentJobs, c.Cache.Root)
}

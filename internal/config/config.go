// Package config loads runtime configuration via viper (env-prefixed,
// matching SPEC_FULL.md §6's CLI/config surface), following the example
// corpus's pattern of a single flat Config struct populated from viper
// getters.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the server reads at startup.
type Config struct {
	HTTPAddr          string
	ContentStoreURL   string
	BoltPath          string
	DebounceIdle      time.Duration
	DebounceMaxWait   time.Duration
	RestoreSettleWait time.Duration
	LogLevel          string
	LogConsole        bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("content_store_url", "http://localhost:9090")
	v.SetDefault("bolt_path", "dacollab.db")
	v.SetDefault("debounce_idle", 2*time.Second)
	v.SetDefault("debounce_max_wait", 10*time.Second)
	v.SetDefault("restore_settle_delay", 1*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_console", false)
}

// Load reads configuration from environment variables prefixed DACOLLAB_
// (e.g. DACOLLAB_HTTP_ADDR), falling back to the defaults above.
func Load() Config {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("dacollab")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return Config{
		HTTPAddr:          v.GetString("http_addr"),
		ContentStoreURL:   v.GetString("content_store_url"),
		BoltPath:          v.GetString("bolt_path"),
		DebounceIdle:      v.GetDuration("debounce_idle"),
		DebounceMaxWait:   v.GetDuration("debounce_max_wait"),
		RestoreSettleWait: v.GetDuration("restore_settle_delay"),
		LogLevel:          v.GetString("log_level"),
		LogConsole:        v.GetBool("log_console"),
	}
}

// Package config initializes the application's configuration. It uses
// Viper to merge settings from a config file, environment variables and
// command-line flags into one view.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// InitConfig sets defaults, search paths and environment binding. It is
// called once at startup, before any service reads configuration.
func InitConfig() {
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/lifelog/")
	viper.AddConfigPath("$HOME/.lifelog")

	// --- Archive layout ---
	viper.SetDefault("archive.base_dir", "data/archive")
	viper.SetDefault("archive.manifest_path", "data/archive/manifest.json")
	viper.SetDefault("checkpoint.dir", "data/checkpoints")

	// --- Search index ---
	viper.SetDefault("index.path", "data/index/lifelog.db")
	viper.SetDefault("pipeline.batch_size", 500)
	viper.SetDefault("pipeline.max_commit_attempts", 3)
	viper.SetDefault("pipeline.retry_backoff", "250ms")

	// --- Resilience ---
	viper.SetDefault("ratelimit.default_rps", 2.0)
	viper.SetDefault("ratelimit.default_burst", 4)
	viper.SetDefault("ratelimit.max_jitter", "250ms")
	viper.SetDefault("breaker.failure_threshold", 5)
	viper.SetDefault("breaker.cooldown", "30s")

	// --- Long-term storage tier ---
	viper.SetDefault("storage.provider", "local")
	viper.SetDefault("storage.local.base_dir", "data/longterm")
	viper.SetDefault("storage.gcs.bucket_name", "")

	// --- Lifecycle events ---
	viper.SetDefault("events.provider", "noop")
	viper.SetDefault("events.topic", "lifelog-archive")
	viper.SetDefault("events.gcp_project", "")

	// --- Serving & logging ---
	viper.SetDefault("server.addr", ":8600")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.level", "")

	viper.SetEnvPrefix("LIFELOG") // e.g. LIFELOG_ARCHIVE_BASE_DIR=/var/lifelog
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Defaults and env vars still apply; a broken file should
			// not be silent though.
			fmt.Fprintf(os.Stderr, "lifelog: error reading config file: %v\n", err)
		}
	}
}

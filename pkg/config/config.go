// Package config loads the engine configuration from the environment.
// Every setting is a LOOM_-prefixed variable; unset variables fall back to
// defaults, so a bare process starts with sane behavior.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loomdb/loom/pkg/logger"
	"github.com/loomdb/loom/pkg/telemetry"
)

// ITXConfig holds the interactive-transaction engine settings.
type ITXConfig struct {
	// EvictAfter is how long a closed transaction keeps answering with its
	// terminal state before it is forgotten.
	// Env: LOOM_ITX_EVICTION_SECONDS (default 300).
	EvictAfter time.Duration
	// MailboxCapacity bounds each transaction's inbound queue.
	// Env: LOOM_ITX_MAILBOX_CAPACITY (default 100).
	MailboxCapacity int
	// DefaultTimeout is the active-phase deadline used when a transaction
	// is started without one. Env: LOOM_ITX_DEFAULT_TIMEOUT_MS (default 5000).
	DefaultTimeout time.Duration
	// AcquireTimeout bounds connection acquisition from the pool.
	// Env: LOOM_ITX_ACQUIRE_TIMEOUT_MS (default 10000).
	AcquireTimeout time.Duration
}

// Config is the full engine configuration.
type Config struct {
	Logger    logger.Config
	Telemetry telemetry.Config
	ITX       ITXConfig
}

// Load reads the configuration from LOOM_-prefixed environment variables.
func Load() Config {
	v := viper.New()
	v.SetEnvPrefix("loom")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "json")
	v.SetDefault("log-output", "stdout")

	v.SetDefault("telemetry-enabled", false)
	v.SetDefault("telemetry-service-name", "loom")
	v.SetDefault("telemetry-metrics-addr", ":9464")
	v.SetDefault("telemetry-trace-sample-ratio", 1.0)

	v.SetDefault("itx-eviction-seconds", 300)
	v.SetDefault("itx-mailbox-capacity", 100)
	v.SetDefault("itx-default-timeout-ms", 5000)
	v.SetDefault("itx-acquire-timeout-ms", 10000)

	return Config{
		Logger: logger.Config{
			Level:      v.GetString("log-level"),
			Format:     v.GetString("log-format"),
			OutputFile: v.GetString("log-output"),
		},
		Telemetry: telemetry.Config{
			Enabled:          v.GetBool("telemetry-enabled"),
			ServiceName:      v.GetString("telemetry-service-name"),
			MetricsAddr:      v.GetString("telemetry-metrics-addr"),
			TraceSampleRatio: v.GetFloat64("telemetry-trace-sample-ratio"),
		},
		ITX: ITXConfig{
			EvictAfter:      time.Duration(v.GetInt("itx-eviction-seconds")) * time.Second,
			MailboxCapacity: v.GetInt("itx-mailbox-capacity"),
			DefaultTimeout:  time.Duration(v.GetInt("itx-default-timeout-ms")) * time.Millisecond,
			AcquireTimeout:  time.Duration(v.GetInt("itx-acquire-timeout-ms")) * time.Millisecond,
		},
	}
}

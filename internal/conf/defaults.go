// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared with callers that build settings without viper.
const (
	DefaultPort            = 8000
	DefaultMaxUploadSize   = "50MiB"
	DefaultAnalyzerModule  = "birdnet_analyzer.analyze"
	DefaultAnalyzerTimeout = 5 * time.Minute
	DefaultScratchPrefix   = "birdnet_"
)

// DefaultAllowedOrigins are the development front-end origins.
var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("webserver.host", "0.0.0.0")
	v.SetDefault("webserver.port", DefaultPort)
	v.SetDefault("webserver.readtimeout", 30*time.Second)
	// Must outlast the analyzer timeout so the response can still be written
	v.SetDefault("webserver.writetimeout", DefaultAnalyzerTimeout+time.Minute)
	v.SetDefault("webserver.bodylimit", "60MiB")

	v.SetDefault("upload.maxsize", DefaultMaxUploadSize)
	v.SetDefault("upload.strictwav", true)

	v.SetDefault("analyzer.python", "python")
	v.SetDefault("analyzer.module", DefaultAnalyzerModule)
	v.SetDefault("analyzer.timeout", DefaultAnalyzerTimeout)
	v.SetDefault("analyzer.maxoutput", "1MiB")

	v.SetDefault("scratch.root", "")
	v.SetDefault("scratch.prefix", DefaultScratchPrefix)
	v.SetDefault("scratch.minfreespace", "100MiB")
	v.SetDefault("scratch.staleafter", time.Hour)

	v.SetDefault("security.apikeys", []string{})
	v.SetDefault("security.apikeysfile", "")
	v.SetDefault("security.allowedorigins", DefaultAllowedOrigins)
	v.SetDefault("security.ratelimit.enabled", true)
	v.SetDefault("security.ratelimit.requests", 5)
	v.SetDefault("security.ratelimit.window", time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "logs/hearbird.log")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.dsnfile", "")
	v.SetDefault("sentry.environment", "production")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

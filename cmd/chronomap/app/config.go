package app

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from flags,
// environment variables, .env files, and defaults.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool

	// ConfigFile is the merge-run configuration (sources, thresholds,
	// outputs), not the app settings file.
	ConfigFile string

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// LoadConfig loads configuration from all sources in order of
// precedence: command-line flags (applied later by cobra), environment
// variables, .env files, defaults.
func LoadConfig() (*Config, error) {
	loadEnvFiles()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	config := &Config{
		Verbose:    viper.GetBool("verbose"),
		Quiet:      viper.GetBool("quiet"),
		NoColor:    os.Getenv("NO_COLOR") != "",
		ConfigFile: getEnvOrDefault("CHRONOMAP_CONFIG", "merge.yaml"),
		LogLevel:   getEnvOrDefault("LOG_LEVEL", ""),
		LogFormat:  getEnvOrDefault("LOG_FORMAT", "auto"),
		LogOutput:  getEnvOrDefault("LOG_OUTPUT", "stderr"),
	}

	return config, nil
}

// UpdateFromFlags updates config values from parsed command flags so
// flags take precedence over config file and env vars.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	if noColor {
		c.NoColor = true
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// loadEnvFiles loads .env files from the working directory, ignoring
// missing files.
func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err == nil {
			_ = godotenv.Load(name)
		}
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package chronomap

import (
	"github.com/rs/zerolog"

	"github.com/chronomap/chronomap/pkg/config"
	"github.com/chronomap/chronomap/pkg/evidence"
	"github.com/chronomap/chronomap/pkg/logging"
)

// Option is a function that configures a Chronomap instance.
type Option func(*settings) error

// settings holds the assembled configuration of an instance.
type settings struct {
	configPath string
	runConfig  *config.Config
	store      evidence.Store
	logger     zerolog.Logger
}

func defaultSettings() *settings {
	return &settings{
		configPath: "merge.yaml",
		logger:     *logging.Default(),
	}
}

// WithConfigFile sets the run configuration file path.
func WithConfigFile(path string) Option {
	return func(s *settings) error {
		s.configPath = path
		return nil
	}
}

// WithConfig supplies an already-loaded run configuration, bypassing
// the config file entirely.
func WithConfig(cfg *config.Config) Option {
	return func(s *settings) error {
		s.runConfig = cfg
		return nil
	}
}

// WithStore overrides the evidence store. Without it the instance opens
// the configured sqlite path, or an in-memory store when none is set.
func WithStore(store evidence.Store) Option {
	return func(s *settings) error {
		s.store = store
		return nil
	}
}

// WithLogger sets the logger for the run.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) error {
		s.logger = logger
		return nil
	}
}

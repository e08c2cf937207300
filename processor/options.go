package processor

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/timzifer/vfunc/config"
	"github.com/timzifer/vfunc/graph"
	"github.com/timzifer/vfunc/registry"
	"github.com/timzifer/vfunc/telemetry"
	"github.com/timzifer/vfunc/value"
)

// WithLogger provides a custom logger instance for the processor.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.logger = logger
		cfg.customLogger = true
		return nil
	}
}

// WithConfigPath configures the processor to load configuration data from the provided path.
func WithConfigPath(path string, register func(ReloadFunc)) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.configPath = strings.TrimSpace(path)
		cfg.registerReload = register
		return nil
	}
}

// WithConfig supplies an already loaded configuration instance.
func WithConfig(cfgData *config.Config) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.config = cfgData
		return nil
	}
}

// WithTelemetry injects a collector instance overriding the default configuration-based behaviour.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if collector == nil {
			collector = telemetry.Noop()
		}
		cfg.telemetry = collector
		cfg.telemetryProvided = true
		return nil
	}
}

// WithRegistry replaces the type registry. The default registry holds
// Decimal, Vector and Math.
func WithRegistry(reg *registry.Registry) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if reg == nil {
			return fmt.Errorf("registry must not be nil")
		}
		cfg.registry = reg
		return nil
	}
}

// WithKind registers a custom node kind next to the built-in ones.
func WithKind(name string, factory graph.Factory) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("kind name must not be empty")
		}
		if factory == nil {
			return fmt.Errorf("kind %s factory must not be nil", name)
		}
		cfg.kinds = append(cfg.kinds, kindDefinition{name: name, factory: factory})
		return nil
	}
}

// WithVariables supplies ambient variables visible to every formula ahead of
// the graph globals.
func WithVariables(vars ...value.Variable) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.ambient = append(cfg.ambient, vars...)
		return nil
	}
}

// Package config contains the configuration consumed by the session
// engine. The engine never reads process-wide state: everything it
// needs is injected through a [Config].
package config

import (
	"github.com/apex/log"

	"github.com/raa-org/sevpn/internal/model"
)

// Config contains the session configuration. The zero value is
// invalid; construct with [NewConfig].
type Config struct {
	logger  model.Logger
	options *SessionOptions
}

// NewConfig returns a [Config] initialized with the given options.
func NewConfig(options ...Option) *Config {
	cfg := &Config{
		logger:  log.Log,
		options: &SessionOptions{},
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// Option is an option you can pass to initialize a [Config].
type Option func(config *Config)

// WithLogger configures the passed [model.Logger].
func WithLogger(logger model.Logger) Option {
	return func(config *Config) {
		config.logger = logger
	}
}

// WithSessionOptions configures the passed [SessionOptions].
func WithSessionOptions(options *SessionOptions) Option {
	return func(config *Config) {
		config.options = options
	}
}

// Logger returns the configured logger.
func (c *Config) Logger() model.Logger {
	return c.logger
}

// SessionOptions returns the configured session options.
func (c *Config) SessionOptions() *SessionOptions {
	return c.options
}

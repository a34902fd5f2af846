// logger.go - Structured logging setup for the invoicing daemon.
package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// setupLogger configures the global zerolog logger from the daemon config.
func setupLogger(cfg *Config) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	default:
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
	return nil
}

// componentLogger returns a logger tagged with a component field.
func componentLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// Package logging configures the process-wide zap logger used by every
// Flockcast component. Callers log through zap's globals (zap.S / zap.L)
// after Setup has run once in main.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Setup builds the global logger and installs it via zap.ReplaceGlobals.
// Development mode switches to the console encoder with debug level enabled.
// The returned function flushes buffered entries and should be deferred.
func Setup(development bool) func() {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op logger rather than aborting startup.
		logger = zap.NewNop()
	}

	zap.ReplaceGlobals(logger)
	return func() {
		_ = logger.Sync()
	}
}

package config

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds a JSON production logger, or a console logger when development is set.
// Logs go to stderr so stdout stays free for the MCP stdio transport.
func NewLogger(level string, development bool) (*zap.Logger, error) {
	atomic, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = atomic
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

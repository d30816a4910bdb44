package config

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// NewLogger builds a logrus logger from the logging configuration. Unknown levels fall back to
// info. Output "stdout" writes to standard output; anything else goes to standard error so the
// stdio MCP transport is never polluted.
func NewLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	var out io.Writer = os.Stderr
	if cfg.Output == "stdout" {
		out = os.Stdout
	}
	logger.SetOutput(out)

	return logger
}

// LoggingConfig returns the lite logging settings.
func (c *LiteConfig) LoggingConfig() domain.LoggingConfig {
	return domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stderr"}
}

package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggingCommand(logLevel string, verbose bool) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	if logLevel != "" {
		_ = cmd.Flags().Set("log-level", logLevel)
	}
	if verbose {
		_ = cmd.Flags().Set("verbose", "true")
	}
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		verbose  bool
		expected logrus.Level
	}{
		{"default is silent", "", false, logrus.PanicLevel},
		{"debug", "debug", false, logrus.DebugLevel},
		{"info", "info", false, logrus.InfoLevel},
		{"warn", "warn", false, logrus.WarnLevel},
		{"error", "error", false, logrus.ErrorLevel},
		{"verbose fallback", "", true, logrus.DebugLevel},
		{"log-level wins over verbose", "warn", true, logrus.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := configureLogger(newLoggingCommand(tt.logLevel, tt.verbose), "verbose")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
		})
	}
}

func TestConfigureLoggerInvalidLevel(t *testing.T) {
	_, err := configureLogger(newLoggingCommand("loud", false), "verbose")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestConfigureLoggerWithoutVerboseFlag(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")

	logger, err := configureLogger(cmd, "")
	require.NoError(t, err)
	assert.Equal(t, logrus.PanicLevel, logger.GetLevel())
}

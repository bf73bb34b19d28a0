package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queuewatch/internal/config"
)

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3-test")
	assert.Equal(t, "1.2.3-test", GetVersion())
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "queuewatch", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)

	for _, name := range []string{"config", "env-file", "log-level"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
}

func TestSubcommands(t *testing.T) {
	found := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		found[c.Name()] = true
	}

	for _, expected := range []string{"version", "serve", "sweep", "purge", "status"} {
		assert.True(t, found[expected], "expected subcommand %s to be registered", expected)
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.0.0")
	var buf bytes.Buffer
	c := newVersionCmd()
	c.SetOut(&buf)
	c.Run(c, nil)

	assert.Equal(t, "queuewatch version 1.0.0\n", buf.String())
}

func TestGetExitCode(t *testing.T) {
	collection := config.NewConfigurationErrorCollection()
	collection.AddValidation("engine.grace_window_seconds", "must be positive")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "generic", err: errors.New("boom"), want: ExitCodeError},
		{name: "single config error", err: fmt.Errorf("load: %w", config.ConfigurationError{ErrorType: config.ErrorTypeIO, Message: "missing"}), want: ExitCodeConfig},
		{name: "validation collection", err: fmt.Errorf("load: %w", collection.ErrOrNil()), want: ExitCodeConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.err)
			assert.Equal(t, tt.want, getExitCode(tt.err))
		})
	}
}

package logging

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithStacktrace(t *testing.T) {
	logger, hook := test.NewNullLogger()

	err := errors.WithStack(errors.New("test error"))
	WithStacktrace(logrus.NewEntry(logger), err).Info("test message")

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, "test message", entry.Message)
	assert.Equal(t, err, entry.Data[logrus.ErrorKey])
	assert.NotNil(t, entry.Data[Stacktrace])
}

func TestWithStacktrace_NoStack(t *testing.T) {
	logger, hook := test.NewNullLogger()

	WithStacktrace(logrus.NewEntry(logger), fmt.Errorf("plain")).Warn("test message")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	_, present := entry.Data[Stacktrace]
	assert.False(t, present)
}

type wrapped struct{ cause error }

func (w wrapped) Error() string { return "wrapped: " + w.cause.Error() }
func (w wrapped) Unwrap() error { return w.cause }

func TestExtractStack_FollowsUnwrap(t *testing.T) {
	inner := errors.New("inner")
	assert.NotNil(t, ExtractStack(wrapped{cause: inner}))
	assert.Nil(t, ExtractStack(wrapped{cause: fmt.Errorf("no stack")}))
	assert.Nil(t, ExtractStack(nil))
}

func TestConfigValidate(t *testing.T) {
	tests := map[string]struct {
		config  Config
		isValid bool
	}{
		"default": {config: DefaultConfig(), isValid: true},
		"json":    {config: Config{Level: "debug", Format: "json"}, isValid: true},
		"bad level": {
			config:  Config{Level: "loud", Format: "text"},
			isValid: false,
		},
		"bad format": {
			config:  Config{Level: "info", Format: "xml"},
			isValid: false,
		},
		"file without path": {
			config: func() Config {
				c := DefaultConfig()
				c.File.Enabled = true
				c.File.MaxSizeMb = 1
				c.File.MaxBackups = 1
				c.File.MaxAgeDays = 1
				return c
			}(),
			isValid: false,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := tc.config.Validate()
			if tc.isValid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCommandLineFormatter(t *testing.T) {
	out, err := new(CommandLineFormatter).Format(&logrus.Entry{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
}

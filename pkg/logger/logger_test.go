package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stdoutOf runs f with os.Stdout redirected and returns what was written.
func stdoutOf(t *testing.T, f func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	saved := os.Stdout
	os.Stdout = w
	t.Cleanup(func() { os.Stdout = saved })

	f()
	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		env       Enviroment
		addSource bool
		wantDebug bool
	}{
		{env: Prod},
		{env: Staging},
		{env: Dev, wantDebug: true},
		{env: Dev, addSource: true, wantDebug: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s,source=%t", tt.env, tt.addSource), func(t *testing.T) {
			out := stdoutOf(t, func() {
				log := NewLogger(tt.env, tt.addSource).With(slog.Int("partition", 1))
				log.Info("persisted snapshot", slog.String("id", "3-0-3-5"))
				log.Debug("rejected command", slog.Int64("position", 7))
			})

			assert.Contains(t, out, `"msg":"persisted snapshot"`)
			assert.Contains(t, out, `"partition":1`)
			assert.Contains(t, out, `"id":"3-0-3-5"`)
			if tt.wantDebug {
				assert.Contains(t, out, `"msg":"rejected command"`)
			} else {
				assert.NotContains(t, out, `"msg":"rejected command"`)
			}
			if tt.addSource {
				assert.Contains(t, out, "logger_test.go")
			} else {
				assert.NotContains(t, out, `"source":`)
			}
		})
	}
}

func TestNewTestLogger(t *testing.T) {
	buf, log := NewTestLogger()
	require.NotNil(t, buf)

	log.Debug("replicated entries", slog.Int("round", 2))
	out := buf.String()

	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, `msg="replicated entries"`)
	assert.Contains(t, out, "round=2")
	assert.NotContains(t, out, "source=")
}

func TestErrAttr(t *testing.T) {
	err := fmt.Errorf("failed to append position %d: %w", 4, errors.New("disk full"))
	attr := ErrAttr(err)

	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, slog.KindString, attr.Value.Kind())
	assert.Equal(t, "failed to append position 4: disk full", attr.Value.String())
}

func TestEnviromentUnmarshalText(t *testing.T) {
	tests := []struct {
		in   string
		want Enviroment
	}{
		{"prod", Prod},
		{"Production", Prod},
		{"dev", Dev},
		{"staging", Staging},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var e Enviroment
			require.NoError(t, e.UnmarshalText([]byte(tt.in)))
			assert.Equal(t, tt.want, e)
			assert.NotEmpty(t, e.String())
		})
	}

	var e Enviroment
	assert.Error(t, e.UnmarshalText([]byte("qa")))
}

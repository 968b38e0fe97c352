package pkg

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withLogger(t *testing.T, l *logrus.Logger) {
	t.Helper()
	original := DefaultLogger
	SetLogger(l)
	t.Cleanup(func() { SetLogger(original) })
}

func TestSetLogLevel(t *testing.T) {
	var buf bytes.Buffer
	withLogger(t, NewLogger(&buf))

	for _, level := range []logrus.Level{logrus.DebugLevel, logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel} {
		level := level
		t.Run(level.String(), func(t *testing.T) {
			SetLogLevel(level)
			assert.Equal(t, level, GetLogLevel())
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, level)

	_, err = ParseLogLevel("chatty")
	assert.ErrorContains(t, err, "possible levels")
}

func TestLogDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	l.SetLevel(logrus.DebugLevel)
	withLogger(t, l)

	LogDebug(ComponentPipe, "debug message", "pipe", 3)
	out := buf.String()
	assert.Contains(t, out, "debug message")
	assert.Contains(t, out, "component=pipe")
	assert.Contains(t, out, "pipe=3")
}

func TestLogLevelsFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	l.SetLevel(logrus.WarnLevel)
	withLogger(t, l)

	LogInfo(ComponentHost, "hidden")
	LogWarn(ComponentHub, "shown warn")
	LogError(ComponentHAL, "shown error")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown warn")
	assert.Contains(t, out, "component=hub")
	assert.Contains(t, out, "shown error")
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	withLogger(t, NewJSONLogger(&buf))

	LogInfo(ComponentMGR, "json message", "port", 0)
	out := buf.String()
	assert.Contains(t, out, `"msg":"json message"`)
	assert.Contains(t, out, `"component":"mgr"`)
}

func TestFields_OddArguments(t *testing.T) {
	f := Fields(ComponentHCD, "a", 1, "dangling")
	assert.Equal(t, "hcd", f["component"])
	assert.Equal(t, 1, f["a"])
	assert.Equal(t, "dangling", f["!BADKEY"])
}

package alog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false, nil)
	l.SetLevel(WARN)

	l.Info("should not appear")
	l.Warn("should appear: %d", 42)

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear: 42")
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false, nil).WithFields(F("build_id", "B123456789ab"))
	l.Info("hello")

	line := strings.TrimSpace(buf.String())
	require.Contains(t, line, "build_id=B123456789ab")
	require.Contains(t, line, "hello")
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, WARN, lvl)

	_, err = LevelFromString("nope")
	require.Error(t, err)
}

func TestFatalCallsExitFn(t *testing.T) {
	var buf bytes.Buffer
	var code int
	l := New(&buf, false, func(c int) { code = c })
	l.Fatal("boom")
	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "boom")
}

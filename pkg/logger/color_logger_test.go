package logger

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, "test --> ", LevelWarn, false)

	lg.Debugf("registry :: debug %d", 1)
	lg.Infof("registry :: info %d", 2)
	require.Empty(t, buf.String())

	lg.Warnf("registry :: warn %d", 3)
	lg.Errorf("registry error :: %d", 4)
	require.Contains(t, buf.String(), "registry :: warn 3")
	require.Contains(t, buf.String(), "registry error :: 4")
	require.NotContains(t, buf.String(), "\u001b[")
}

func TestLogger_Color(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, "", LevelDebug, true)
	lg.Errorf("boom")
	require.Contains(t, buf.String(), string(ColorRed)+"boom"+string(ColorReset))
}

func TestLogger_WrapAndDiscard(t *testing.T) {
	var buf bytes.Buffer
	lg := Wrap(log.New(&buf, "", 0))
	lg.Debugf("visible")
	require.Equal(t, "visible\n", buf.String())

	var nilLogger *Logger
	nilLogger.Errorf("ignored")
	Discard().Errorf("ignored")
}

func TestParseLevel(t *testing.T) {
	l, ok := ParseLevel("WARNING")
	require.True(t, ok)
	require.Equal(t, LevelWarn, l)

	l, ok = ParseLevel("chatty")
	require.False(t, ok)
	require.Equal(t, LevelInfo, l)
}

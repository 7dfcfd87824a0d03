package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, logrus.InfoLevel, ParseLevel(""))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("verbose"))
}

func TestNewLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := NewLogger(Options{Level: "debug", Output: &buf})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())

	log.WithField("target", "prompt").Debug("guard call")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "guard call", entry["msg"])
	assert.Equal(t, "prompt", entry["target"])
	assert.Equal(t, "debug", entry["level"])
	assert.Contains(t, entry, "time")
}

func TestNewLogger_LevelFromEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	var buf bytes.Buffer
	log, _, err := NewLogger(Options{Output: &buf})
	require.NoError(t, err)

	log.Warn("dropped")
	assert.Empty(t, buf.String())
	assert.Equal(t, logrus.ErrorLevel, log.GetLevel())
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "guard.log")
	var buf bytes.Buffer
	log, closer, err := NewLogger(Options{Output: &buf, File: path})
	require.NoError(t, err)

	log.Info("to file")
	require.NoError(t, closer.Close())
	assert.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.Contains(t, buf.String(), "to file")
}

func TestAsyncFileWriter_CloseIsIdempotent(t *testing.T) {
	w, err := NewAsyncFileWriter(filepath.Join(t.TempDir(), "a.log"), 1024)
	require.NoError(t, err)
	n, err := w.Write([]byte("line\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Infof("hello %d", 1)
		l.Errorf("boom")
		_ = l.Close()
	})
}

func TestNewWritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	l := New("reconciler", "test", &buf)
	l.Warnf("anomaly for %s\n", "m1")

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "warn", rec["level"])
	assert.Equal(t, "reconciler", rec["component"])
	assert.Equal(t, "anomaly for m1", rec["message"])
}

func TestGetLoggerWritesFileAndCaches(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Configure(dir, "debug", nil))
	t.Cleanup(CloseAllLoggers)

	a, err := GetLogger("store", "one")
	require.NoError(t, err)
	b, err := GetLogger("store", "one")
	require.NoError(t, err)
	assert.Same(t, a, b)

	a.Debugf("written")
	require.NoError(t, a.Close())

	data, err := os.ReadFile(filepath.Join(dir, "store-one.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "written")

	c, err := GetLogger("store", "one")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Configure("", "chatty", nil))
}

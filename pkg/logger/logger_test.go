package logger

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)

	_, err = New(&Config{Format: "xml"})
	assert.Error(t, err)
}

func TestLoggerWritesTypedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(&Config{Level: "debug", Output: path})
	require.NoError(t, err)

	l.With(String("component", "test")).Info("chart created",
		Int("points", 12),
		Float64("orb", 0.25),
		Bool("saved", true),
		Duration("took", 1500*time.Millisecond),
		Strings("bodies", []string{"Sun", "Moon"}),
		Error(errors.New("boom")),
	)
	l.Debug("visible at debug")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)

	first := lines[0]
	assert.Equal(t, "info", first["level"])
	assert.Equal(t, "chart created", first["message"])
	assert.Equal(t, "test", first["component"])
	assert.EqualValues(t, 12, first["points"])
	assert.EqualValues(t, 0.25, first["orb"])
	assert.Equal(t, true, first["saved"])
	assert.EqualValues(t, 1500, first["took"])
	assert.Equal(t, []interface{}{"Sun", "Moon"}, first["bodies"])
	assert.Equal(t, "boom", first["error"])
	assert.Contains(t, first["caller"], "logger_test.go")
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(&Config{Level: "warn", Output: path})
	require.NoError(t, err)
	l.Info("dropped")
	l.Warn("kept")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "dropped")
	assert.Contains(t, string(b), "kept")
}

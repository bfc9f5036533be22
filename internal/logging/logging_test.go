package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		binary  string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "vehiclelogs",
			binary:  "vehiclesim",
			want:    filepath.Join("vehiclelogs", "vehiclesim.20260212_213836.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./vehiclelogs",
			binary:  "vehiclesim",
			want:    filepath.Join(".", "vehiclelogs", "vehiclesim.20260212_213836.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "vehiclesim"),
			binary:  "hub",
			want:    filepath.Join("/var", "log", "vehiclesim", "hub.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogFilePath(tt.logsDir, tt.binary, sessionStart)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenLogFile_CreatesDirAndAppends(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	f, err := OpenLogFile(dir, "vehiclesim", start)
	require.NoError(t, err)
	_, err = f.WriteString("first\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = OpenLogFile(dir, "vehiclesim", start)
	require.NoError(t, err)
	_, err = f.WriteString("second\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(LogFilePath(dir, "vehiclesim", start))
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestOpenLogFile_DirIsFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, err := OpenLogFile(blocker, "vehiclesim", time.Now())
	assert.ErrorContains(t, err, "create logs dir")
}

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewUsesNodeKeyLayout(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo, "rollupnode", "devnet", "abc")
	logger.Debug("hidden")
	logger.Info("Loaded committed state", slog.Uint64("last_block_number", 5))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "Loaded committed state", entry["message"])
	require.Equal(t, "INFO", entry["severity"])
	require.Equal(t, "rollupnode", entry["service"])
	require.Equal(t, "devnet", entry["env"])
	require.Equal(t, "abc", entry["instance"])
	require.Contains(t, entry, "timestamp")
	require.EqualValues(t, 5, entry["last_block_number"])
}

func TestParseLevel(t *testing.T) {
	for raw, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	} {
		got, err := ParseLevel(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	_, err := ParseLevel("chatty")
	require.Error(t, err)
}

func TestSetupWritesRotatedFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "node.log")
	logger, closer, err := Setup(Options{Service: "rollupnode", Network: "devnet", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &entry))
	require.Equal(t, "hello", entry["message"])
	require.Equal(t, "devnet", entry["network"])

	_, _, err = Setup(Options{Level: "loud"})
	require.Error(t, err)
}

func TestRedactDSN(t *testing.T) {
	redacted := RedactDSN("postgres://node:s3cret@db:5432/rollup?sslmode=disable")
	require.NotContains(t, redacted, "s3cret")
	require.Contains(t, redacted, "node")
	require.Contains(t, redacted, "REDACTED")

	query := RedactDSN("postgres://db/rollup?user=node&password=s3cret")
	require.NotContains(t, query, "s3cret")

	require.Equal(t, "/var/lib/rollup/chain.db", RedactDSN("/var/lib/rollup/chain.db"))
	require.Equal(t, "", MaskValue(" "))
	require.Equal(t, "", MaskValue(""))
	require.Equal(t, RedactedValue, MaskValue("token"))
	require.Equal(t, "dsn", DSNField("dsn", "x").Key)
}

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"provider":         "firebase",
		"firebase_api_key": "AIza",
		"refresh_interval": "10m",
		"retry_delay":      float64(2 * time.Second),
		"max_retries":      5,
	})

	t.Run("loads from flags", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, ProviderFirebase, cfg.Provider)
		assert.Equal(t, "AIza", cfg.FirebaseAPIKey)
		assert.Equal(t, 10*time.Minute, cfg.RefreshInterval)
		assert.Equal(t, 2*time.Second, cfg.RetryDelay)
		assert.Equal(t, 5, cfg.MaxRetries)
		assert.Equal(t, 5*time.Minute, cfg.ExpiryThreshold, "absent keys keep defaults")
		assert.Equal(t, StoreMemory, cfg.Store)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{LocalDSN: "keep.db", RefreshInterval: 42 * time.Second}
		parseJson(cfg)

		assert.Equal(t, "keep.db", cfg.LocalDSN)
		assert.Equal(t, 42*time.Second, cfg.RefreshInterval)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})

	t.Run("missing file → panics", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", filepath.Join(dir, "nope.json")}
		require.Panics(t, func() { parseJson(&Config{}) })
	})
}

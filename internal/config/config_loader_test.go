package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = strings.Repeat("ab", 48)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsFromEnv(t *testing.T) {
	t.Setenv("BEACON_NODE_URL", "http://localhost:5052")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5052", cfg.BeaconNodeURL)
	assert.Equal(t, 90*time.Second, cfg.BeaconTimeout)
	assert.Equal(t, uint64(3), cfg.BeaconRetries)
	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(t, ":8000", cfg.MetricsAddress)
	assert.Equal(t, 10, cfg.AlertDetailLimit)
	assert.Equal(t, uint64(16), cfg.LivenessSlotOffset)
	assert.Equal(t, uint64(17), cfg.RewardsSlotOffset)
	assert.Empty(t, cfg.Watched)
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
beacon_url: http://beacon:5052
beacon_timeout: 30s
network: hoodi
fee_recipient: 0xAbCdEf0123456789aBcDeF0123456789AbCdEf01
watched_keys:
  - public_key: 0x`+strings.ToUpper(testKey)+`
    labels: ["operator:kiln", "client:teku"]
  - public_key: `+strings.Repeat("cd", 48)+`
`)
	t.Setenv("NETWORK", "holesky")
	t.Setenv("ALERT_DETAIL_LIMIT", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://beacon:5052", cfg.BeaconNodeURL)
	assert.Equal(t, 30*time.Second, cfg.BeaconTimeout)
	assert.Equal(t, "holesky", cfg.Network)
	assert.Equal(t, 3, cfg.AlertDetailLimit)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", cfg.FeeRecipient)

	require.Len(t, cfg.Watched, 2)
	assert.Equal(t, testKey, cfg.Watched[0].Pubkey.String())
	assert.Equal(t, []string{"operator:kiln", "client:teku"}, cfg.Watched[0].Labels)
	assert.Empty(t, cfg.Watched[1].Labels)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing url", `network: mainnet`},
		{"unknown field", "beacon_url: http://x\nbeacon_urls: http://y\n"},
		{"short pubkey", "beacon_url: http://x\nwatched_keys:\n  - public_key: 0xabcd\n"},
		{"reserved label", "beacon_url: http://x\nwatched_keys:\n  - public_key: " + testKey + "\n    labels: [\"scope:watched\"]\n"},
		{"empty label", "beacon_url: http://x\nwatched_keys:\n  - public_key: " + testKey + "\n    labels: [\"\"]\n"},
		{"bad fee recipient", "beacon_url: http://x\nfee_recipient: 0x1234\n"},
		{"slack token alone", "beacon_url: http://x\nslack_token: xoxb-1\n"},
		{"bad yaml", "beacon_url: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadWatched(t *testing.T) {
	path := writeConfig(t, "watched_keys:\n  - public_key: "+testKey+"\n    labels: [\"operator:a\"]\n")
	keys, err := LoadWatched(path)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, []string{"operator:a"}, keys[0].Labels)
}

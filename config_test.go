// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:3010", cfg.Addr())
	assert.Equal(t, TransportWS, cfg.Transport)
	assert.Equal(t, "8s", cfg.Timeouts.Request)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pomelo.yaml")
	content := `
host: game.example.com
port: 3014
transport: tcp
user:
  token: abc
  uid: 7
client:
  type: unity
  version: 2.1.0
timeouts:
  request: 3s
  connect: 1500ms
rate_limit:
  per_second: 20
  burst: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "game.example.com:3014", cfg.Addr())
	assert.Equal(t, TransportTCP, cfg.Transport)
	assert.Equal(t, "abc", cfg.User["token"])
	assert.Equal(t, 7, cfg.User["uid"])
	assert.Equal(t, ClientConfig{Type: "unity", Version: "2.1.0"}, cfg.Client)
	assert.Equal(t, "3s", cfg.Timeouts.Request)
	assert.Equal(t, "10s", cfg.Timeouts.Disconnect)

	o := defaultOptions()
	for _, opt := range cfg.Options() {
		opt(o)
	}
	assert.Equal(t, TransportTCP, o.transport)
	assert.Equal(t, 3*time.Second, o.requestTimeout)
	assert.Equal(t, 1500*time.Millisecond, o.connectTimeout)
	assert.Equal(t, 10*time.Second, o.disconnectTimeout)
	assert.Equal(t, "unity", o.clientType)
	assert.Equal(t, "2.1.0", o.clientVersion)
	require.NotNil(t, o.limiter)
	assert.Equal(t, 5, o.limiter.Burst())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("POMELO_HOST", "10.0.0.1")
	t.Setenv("POMELO_PORT", "4000")
	t.Setenv("POMELO_TRANSPORT", "wss")
	t.Setenv("POMELO_REQUEST_TIMEOUT", "250ms")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:4000", cfg.Addr())
	assert.Equal(t, TransportWSS, cfg.Transport)
	assert.Equal(t, "250ms", cfg.Timeouts.Request)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: [unclosed"), 0o600))
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = ""
	cfg.Port = 70000
	cfg.Transport = "carrier-pigeon"
	cfg.Timeouts.Request = "soon"
	cfg.Timeouts.Connect = "-1s"
	cfg.RateLimit = RateLimitConfig{PerSecond: 10}

	err := cfg.Validate()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 6)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "localhost:3010", Address("localhost", 3010))
	assert.Equal(t, "[::1]:3010", Address("::1", 3010))
	assert.Equal(t, "localhost", Address("localhost", 0))
}

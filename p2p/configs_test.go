package p2p

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KelvinWu602/forus-snode/swarm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const configsTestYaml = `
LOG_LEVEL: "debug"
PEER_REQUEST_TIMEOUT: "3s"
ONION_REQUEST_TIMEOUT: "10s"
HTTP_SERVER_LISTEN_PORT: ":8080"
SWARMS:
  - id: 42
    nodes:
      - ip: "10.0.0.1"
        port: 22021
        rpc_port: 22020
        pubkey_legacy: "aa"
`

// go test -run TestViper
func TestViper(t *testing.T) {
	// Env var > config > default
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configsTestYaml), 0o600))
	t.Setenv("SNODE_HTTP_SERVER_LISTEN_PORT", ":9090")

	v, err := newConfig(path)
	require.NoError(t, err)

	// check validness
	assert := assert.New(t)
	assert.Equal("debug", v.GetString("LOG_LEVEL"), "config file should override default")
	assert.Equal(3*time.Second, v.GetDuration("PEER_REQUEST_TIMEOUT"))
	assert.Equal(":9090", v.GetString("HTTP_SERVER_LISTEN_PORT"), "env should override config file")
	assert.Equal(STORAGE_TEST_RETRY_INTERVAL, v.GetDuration("STORAGE_TEST_RETRY_INTERVAL"), "should be default")
	assert.Equal(55*time.Second, v.GetDuration("STORAGE_TEST_RETRY_PERIOD"), "should be default")
	assert.False(v.GetBool("FORCE_START"))
	assert.Equal(5*time.Second, egressTimeout(v), "egress gives up before the onion request does")

	var swarms []swarm.Info
	require.NoError(t, v.UnmarshalKey("SWARMS", &swarms))
	require.Len(t, swarms, 1)
	assert.Equal(swarm.ID(42), swarms[0].ID)
	assert.Equal(uint16(22020), swarms[0].Nodes[0].RPCPort)
	assert.Equal("aa", swarms[0].Nodes[0].PubkeyLegacy)
}

// go test -run TestConfigMissingFile
func TestConfigMissingFile(t *testing.T) {
	_, err := newConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	v, err := newConfig("")
	require.NoError(t, err)
	assert.Equal(t, 25*time.Second, egressTimeout(v))
	assert.Equal(t, uint16(22021), portOf(v.GetString("HTTP_SERVER_LISTEN_PORT")))
}

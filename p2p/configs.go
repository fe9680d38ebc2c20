package p2p

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// default values, overridable by the config file or SNODE_ prefixed env vars
const ONION_REQUEST_TIMEOUT time.Duration = 30 * time.Second
const ONION_URL_TIMEOUT_MARGIN time.Duration = 5 * time.Second
const PEER_REQUEST_TIMEOUT time.Duration = 30 * time.Second
const STORAGE_TEST_RETRY_INTERVAL time.Duration = 50 * time.Millisecond
const STORAGE_TEST_RETRY_PERIOD time.Duration = 55 * time.Second
const PENDING_REQUEST_SWEEP_INTERVAL time.Duration = time.Second
const BLOCK_HEIGHT_POLL_INTERVAL time.Duration = 10 * time.Second
const DAEMON_KEYS_RETRY_INTERVAL time.Duration = 5 * time.Second
const DAEMON_REQUEST_TIMEOUT time.Duration = 10 * time.Second
const HTTP_SERVER_LISTEN_PORT string = ":22021"
const GRPC_SERVER_LISTEN_PORT string = ":22020"

var allowedOxendEndpoints = []string{"get_service_nodes", "ons_resolve"}

func setDefaults(v *viper.Viper) {
	// time
	v.SetDefault("ONION_REQUEST_TIMEOUT", ONION_REQUEST_TIMEOUT)
	v.SetDefault("PEER_REQUEST_TIMEOUT", PEER_REQUEST_TIMEOUT)
	v.SetDefault("STORAGE_TEST_RETRY_INTERVAL", STORAGE_TEST_RETRY_INTERVAL)
	v.SetDefault("STORAGE_TEST_RETRY_PERIOD", STORAGE_TEST_RETRY_PERIOD)
	v.SetDefault("PENDING_REQUEST_SWEEP_INTERVAL", PENDING_REQUEST_SWEEP_INTERVAL)
	v.SetDefault("BLOCK_HEIGHT_POLL_INTERVAL", BLOCK_HEIGHT_POLL_INTERVAL)
	v.SetDefault("DAEMON_KEYS_RETRY_INTERVAL", DAEMON_KEYS_RETRY_INTERVAL)
	v.SetDefault("DAEMON_REQUEST_TIMEOUT", DAEMON_REQUEST_TIMEOUT)
	// string
	v.SetDefault("HTTP_SERVER_LISTEN_PORT", HTTP_SERVER_LISTEN_PORT)
	v.SetDefault("GRPC_SERVER_LISTEN_PORT", GRPC_SERVER_LISTEN_PORT)
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DAEMON_RPC_URL", "http://127.0.0.1:22023")
	v.SetDefault("PUBLIC_IP", "127.0.0.1")
	v.SetDefault("SN_LEGACY_PUBKEY", "")
	v.SetDefault("SN_ED25519_PUBKEY", "")
	v.SetDefault("SN_X25519_SECKEY", "")
	// bool
	v.SetDefault("HTTP_SERVER_LISTEN_ALL", false)
	v.SetDefault("TESTNET", false)
	v.SetDefault("FORCE_START", false)
	v.SetDefault("STORAGE_IN_MEMORY", false)
}

// newConfig returns a viper instance with defaults and env overrides. A non empty configFilePath is
// read on top of the defaults.
func newConfig(configFilePath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SNODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFilePath != "" {
		v.SetConfigFile(configFilePath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// egressTimeout is kept below the onion timeout so that a timeout reply can still travel back.
func egressTimeout(v *viper.Viper) time.Duration {
	t := v.GetDuration("ONION_REQUEST_TIMEOUT") - ONION_URL_TIMEOUT_MARGIN
	if t <= 0 {
		return time.Second
	}
	return t
}

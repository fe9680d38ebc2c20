package swarm

import (
	"encoding/base32"
	"encoding/hex"
	"strings"
)

// z-base-32, used for the .snode address of a node
var base32z = base32.NewEncoding("ybndrfg8ejkmcpqxot1uwisza345h769").WithPadding(base32.NoPadding)

// Record describes one service node. All pubkeys are lowercase hex.
type Record struct {
	IP            string `mapstructure:"ip"`
	Port          uint16 `mapstructure:"port"`
	RPCPort       uint16 `mapstructure:"rpc_port"`
	PubkeyLegacy  string `mapstructure:"pubkey_legacy"`
	PubkeyEd25519 string `mapstructure:"pubkey_ed25519"`
	PubkeyX25519  string `mapstructure:"pubkey_x25519"`
}

// Equal reports whether two records refer to the same node. Only the legacy pubkey is compared.
func (r Record) Equal(other Record) bool {
	return strings.EqualFold(r.PubkeyLegacy, other.PubkeyLegacy)
}

// Address returns the deprecated "<base32z legacy pubkey>.snode" name of the node.
func (r Record) Address() string {
	raw, err := hex.DecodeString(r.PubkeyLegacy)
	if err != nil {
		return ""
	}
	return base32z.EncodeToString(raw) + ".snode"
}

// RPCAddr is the host:port peers dial to reach the node.
func (r Record) RPCAddr() string {
	return joinHostPort(r.IP, r.RPCPort)
}

package p2p

// Messages exchanged between service nodes over the snode.Peer grpc service.

type OnionRelayRequest struct {
	Payload      []byte `json:"payload"`
	EphemeralKey string `json:"ephemeral_key"`
	EncType      string `json:"enc_type"`
	HopNo        int    `json:"hop_no"`
}

// PeerReply carries [body] on success or [status, body] on failure. Onion replies always carry
// [status, body].
type PeerReply struct {
	Parts []string `json:"parts"`
}

type StorageTestRequest struct {
	Height uint64 `json:"height"`
	Tester string `json:"tester"`
	Hash   string `json:"hash"`
}

type StorageTestReply struct {
	Status    string `json:"status"`
	Answer    string `json:"answer"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// ClientRequest is a forwarded client request: Args is [method, params].
type ClientRequest struct {
	Args []string `json:"args"`
}

type InfoRequest struct{}

type InfoReply struct {
	PubkeyLegacy  string `json:"pubkey_legacy"`
	PubkeyEd25519 string `json:"pubkey_ed25519"`
	PubkeyX25519  string `json:"pubkey_x25519"`
	Ready         bool   `json:"ready"`
	Height        uint64 `json:"height"`
}

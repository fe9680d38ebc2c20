// Package onion peels single layers of onion requests. Decrypting a layer yields exactly one Outcome
// telling the node whether it is the final destination, a relay towards another node or the egress
// towards an external HTTP server.
package onion

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// EncryptType identifies the cipher used for one onion layer.
type EncryptType uint8

const (
	AESGCM EncryptType = iota
	AESCBC
	XChaCha20
)

var ErrUnknownEncryptType = errors.New("unknown encryption type")

func (t EncryptType) String() string {
	switch t {
	case AESGCM:
		return "aes-gcm"
	case AESCBC:
		return "aes-cbc"
	case XChaCha20:
		return "xchacha20"
	default:
		return fmt.Sprintf("EncryptType(%d)", uint8(t))
	}
}

// ParseEncryptType accepts the names used on the wire. An empty string means aes-gcm.
func ParseEncryptType(s string) (EncryptType, error) {
	switch s {
	case "", "aes-gcm", "gcm":
		return AESGCM, nil
	case "aes-cbc", "cbc":
		return AESCBC, nil
	case "xchacha20", "xchacha20-poly1305":
		return XChaCha20, nil
	}
	return AESGCM, fmt.Errorf("%w: %q", ErrUnknownEncryptType, s)
}

// KeySize is the size of x25519 public and secret keys.
const KeySize = 32

// X25519Pubkey is a x25519 public key.
type X25519Pubkey [KeySize]byte

// X25519Seckey is a x25519 secret key.
type X25519Seckey [KeySize]byte

var ErrBadKey = errors.New("invalid x25519 key")

// ParseX25519Pubkey accepts either 64 hex digits or 32 raw bytes.
func ParseX25519Pubkey(s string) (X25519Pubkey, error) {
	var pk X25519Pubkey
	err := parseKey(pk[:], s)
	return pk, err
}

// ParseX25519Seckey accepts either 64 hex digits or 32 raw bytes.
func ParseX25519Seckey(s string) (X25519Seckey, error) {
	var sk X25519Seckey
	err := parseKey(sk[:], s)
	return sk, err
}

func parseKey(out []byte, s string) error {
	switch len(s) {
	case 2 * KeySize:
		if _, err := hex.Decode(out, []byte(s)); err != nil {
			return fmt.Errorf("%w: %v", ErrBadKey, err)
		}
		return nil
	case KeySize:
		copy(out, s)
		return nil
	}
	return fmt.Errorf("%w: length %d", ErrBadKey, len(s))
}

func (pk X25519Pubkey) Hex() string {
	return hex.EncodeToString(pk[:])
}

func (pk X25519Pubkey) IsZero() bool {
	return pk == X25519Pubkey{}
}

// Outcome is the result of peeling one onion layer. The concrete types are FinalDestination,
// RelayToNode, RelayToServer and CiphertextError; no other type implements it.
type Outcome interface {
	isOutcome()
}

// FinalDestination means this node has to execute the inner client request itself.
type FinalDestination struct {
	Body   []byte
	JSON   bool // embed a JSON response body as JSON instead of as a string
	Base64 bool // base64 encode the encrypted response
}

// RelayToNode means the inner payload must be forwarded to another node.
type RelayToNode struct {
	Payload      []byte
	EphemeralKey X25519Pubkey
	EncType      EncryptType
	Destination  string // ed25519 pubkey (hex) of the next node
}

// RelayToServer means the inner payload must be posted to an external HTTP server.
type RelayToServer struct {
	Payload  []byte
	Protocol string
	Host     string
	Port     uint16
	Target   string
}

// CiphertextErrorKind tells apart undecryptable layers from malformed plaintext.
type CiphertextErrorKind uint8

const (
	InvalidCiphertext CiphertextErrorKind = iota
	InvalidJSON
)

func (k CiphertextErrorKind) String() string {
	if k == InvalidCiphertext {
		return "invalid ciphertext"
	}
	return "invalid json"
}

// CiphertextError means the layer could not be processed.
type CiphertextError struct {
	Kind CiphertextErrorKind
}

func (FinalDestination) isOutcome() {}
func (RelayToNode) isOutcome()      {}
func (RelayToServer) isOutcome()    {}
func (CiphertextError) isOutcome()  {}

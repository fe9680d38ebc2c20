package message

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
)

const (
	// MainnetUserPubkeySize is the length of a mainnet client pubkey: "05" followed by 64 hex digits.
	MainnetUserPubkeySize = 66
	// TestnetUserPubkeySize is the length of a testnet client pubkey.
	TestnetUserPubkeySize = 64
)

var testnet atomic.Bool

var ErrPubkeyLength = errors.New("invalid pubkey length")

// UseTestnet switches the expected client pubkey length for the whole process.
func UseTestnet(enabled bool) {
	testnet.Store(enabled)
}

// UserPubkeySize returns the pubkey length currently accepted.
func UserPubkeySize() int {
	if testnet.Load() {
		return TestnetUserPubkeySize
	}
	return MainnetUserPubkeySize
}

// UserPubkey is a client pubkey that passed the length check.
type UserPubkey struct {
	raw string
}

// ParseUserPubkey accepts s only if it has exactly UserPubkeySize characters.
func ParseUserPubkey(s string) (UserPubkey, error) {
	if len(s) != UserPubkeySize() {
		return UserPubkey{}, fmt.Errorf("%w: got %d, want %d", ErrPubkeyLength, len(s), UserPubkeySize())
	}
	return UserPubkey{raw: s}, nil
}

func (pk UserPubkey) String() string {
	return pk.raw
}

// Key returns the hex encoded 32 byte key, without the network prefix used on mainnet.
func (pk UserPubkey) Key() string {
	if len(pk.raw) == MainnetUserPubkeySize {
		return pk.raw[2:]
	}
	return pk.raw
}

// Obfuscate keeps the first two and the last three characters of a pubkey for logging.
func Obfuscate(pk string) string {
	if len(pk) < 6 {
		return pk
	}
	return pk[:2] + "..." + pk[len(pk)-3:]
}

func formatMillis(ms int64) string {
	return strconv.FormatInt(ms, 10)
}

// Package message implements the stored message item together with the hashing and validation rules
// every client supplied message has to pass before it reaches storage.
package message

import (
	"crypto/sha512"
	"encoding/hex"
	"time"
)

// MaxMessageBody is the maximum number of bytes of the data field of a stored message.
const MaxMessageBody = 102400

// MinTTL and MaxTTL bound the time to live a client may request.
const (
	MinTTL = 10 * time.Second
	MaxTTL = 14 * 24 * time.Hour
)

// TimestampTolerance is how far in the future a client timestamp may lie.
const TimestampTolerance = 10 * time.Second

// Item is a message as it is kept by the storage layer.
type Item struct {
	Hash       string        // Hash is the hex encoded ComputeMessageHash of the message.
	PubKey     string        // PubKey is the owner of the message.
	Data       string        // Data is the opaque message body.
	TTL        time.Duration // TTL is the time to live requested by the client.
	Timestamp  time.Time     // Timestamp is the client supplied creation time.
	Expiration time.Time     // Expiration is Timestamp + TTL.
}

// NewItem creates an Item and derives its hash and expiration.
func NewItem(pk UserPubkey, data string, ttl time.Duration, timestamp time.Time) Item {
	return Item{
		Hash:       HashItem(pk, data, ttl, timestamp),
		PubKey:     pk.String(),
		Data:       data,
		TTL:        ttl,
		Timestamp:  timestamp,
		Expiration: timestamp.Add(ttl),
	}
}

// HashItem computes the canonical hash of a message. The parts are timestamp (ms), ttl (ms), pubkey
// and data, in this order; reordering them changes every stored hash.
func HashItem(pk UserPubkey, data string, ttl time.Duration, timestamp time.Time) string {
	return ComputeMessageHash([][]byte{
		[]byte(formatMillis(timestamp.UnixMilli())),
		[]byte(formatMillis(ttl.Milliseconds())),
		[]byte(pk.String()),
		[]byte(data),
	}, true)
}

// ComputeMessageHash returns the SHA-512 digest of the concatenated parts, either raw or hex encoded.
func ComputeMessageHash(parts [][]byte, hexEncode bool) string {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	sum := h.Sum(nil)
	if hexEncode {
		return hex.EncodeToString(sum)
	}
	return string(sum)
}

// ValidateTTL returns true if MinTTL <= ttl <= MaxTTL.
func ValidateTTL(ttl time.Duration) bool {
	return ttl >= MinTTL && ttl <= MaxTTL
}

// ValidateTimestamp returns true if the timestamp is not too far in the future and the message
// has not already expired.
func ValidateTimestamp(timestamp time.Time, ttl time.Duration) bool {
	now := time.Now()
	if timestamp.After(now.Add(TimestampTolerance)) {
		return false
	}
	if timestamp.Add(ttl).Before(now) {
		return false
	}
	return true
}

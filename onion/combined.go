package onion

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
)

const lengthPrefixSize = 4

var ErrMalformedPayload = errors.New("malformed combined payload")

// ParseCombined splits `uint32 LE length || payload || json` into payload and the raw json block.
func ParseCombined(data []byte) ([]byte, json.RawMessage, error) {
	if len(data) < lengthPrefixSize {
		return nil, nil, ErrMalformedPayload
	}
	n := binary.LittleEndian.Uint32(data[:lengthPrefixSize])
	rest := data[lengthPrefixSize:]
	if uint64(n) > uint64(len(rest)) {
		return nil, nil, ErrMalformedPayload
	}
	return rest[:n], json.RawMessage(rest[n:]), nil
}

// EncodeCombined is the inverse of ParseCombined.
func EncodeCombined(payload []byte, meta any) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, ErrMalformedPayload
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	out := make([]byte, lengthPrefixSize, lengthPrefixSize+len(payload)+len(metaBytes))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	out = append(out, payload...)
	return append(out, metaBytes...), nil
}

// EntryMetadata is the json block of the request a client sends to the first hop.
type EntryMetadata struct {
	EphemeralKey string `json:"ephemeral_key"`
	EncType      string `json:"enc_type,omitempty"`
}

// ParseEntryRequest decodes the body of an onion request as received by the first hop.
func ParseEntryRequest(data []byte) ([]byte, X25519Pubkey, EncryptType, error) {
	ciphertext, raw, err := ParseCombined(data)
	if err != nil {
		return nil, X25519Pubkey{}, AESGCM, err
	}
	var meta EntryMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, X25519Pubkey{}, AESGCM, err
	}
	key, err := ParseX25519Pubkey(meta.EphemeralKey)
	if err != nil {
		return nil, X25519Pubkey{}, AESGCM, err
	}
	encType, err := ParseEncryptType(meta.EncType)
	if err != nil {
		return nil, X25519Pubkey{}, AESGCM, err
	}
	return ciphertext, key, encType, nil
}

// innerMetadata is the json block found after decrypting a layer. Which fields are present decides
// the Outcome.
type innerMetadata struct {
	Headers      json.RawMessage `json:"headers,omitempty"`
	JSON         *bool           `json:"json,omitempty"`
	Base64       *bool           `json:"base64,omitempty"`
	Host         *string         `json:"host,omitempty"`
	Target       string          `json:"target,omitempty"`
	Protocol     string          `json:"protocol,omitempty"`
	Port         *uint16         `json:"port,omitempty"`
	Destination  *string         `json:"destination,omitempty"`
	EphemeralKey *string         `json:"ephemeral_key,omitempty"`
	EncType      string          `json:"enc_type,omitempty"`
}

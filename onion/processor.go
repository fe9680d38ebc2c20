package onion

import (
	"encoding/json"
)

// ProcessCiphertext decrypts one layer with the key agreed with ephemKey and classifies the
// plaintext. It never panics on attacker controlled input: every failure is a CiphertextError.
func ProcessCiphertext(ce *ChannelEncryption, ciphertext []byte, ephemKey X25519Pubkey, encType EncryptType) Outcome {
	plaintext, err := ce.Decrypt(encType, ciphertext, ephemKey)
	if err != nil {
		return CiphertextError{Kind: InvalidCiphertext}
	}
	return processInnerRequest(plaintext)
}

func processInnerRequest(plaintext []byte) Outcome {
	payload, raw, err := ParseCombined(plaintext)
	if err != nil {
		return CiphertextError{Kind: InvalidJSON}
	}
	var meta innerMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return CiphertextError{Kind: InvalidJSON}
	}

	switch {
	case meta.Headers != nil:
		return FinalDestination{
			Body:   payload,
			JSON:   boolOr(meta.JSON, true),
			Base64: boolOr(meta.Base64, true),
		}

	case meta.Host != nil:
		protocol := meta.Protocol
		if protocol == "" {
			protocol = "https"
		}
		port := DefaultPort(protocol)
		if meta.Port != nil && *meta.Port != 0 {
			port = *meta.Port
		}
		return RelayToServer{
			Payload:  payload,
			Protocol: protocol,
			Host:     *meta.Host,
			Port:     port,
			Target:   meta.Target,
		}

	case meta.Destination != nil && meta.EphemeralKey != nil:
		key, err := ParseX25519Pubkey(*meta.EphemeralKey)
		if err != nil {
			return CiphertextError{Kind: InvalidJSON}
		}
		encType, err := ParseEncryptType(meta.EncType)
		if err != nil {
			return CiphertextError{Kind: InvalidJSON}
		}
		return RelayToNode{
			Payload:      payload,
			EphemeralKey: key,
			EncType:      encType,
			Destination:  *meta.Destination,
		}
	}
	return CiphertextError{Kind: InvalidJSON}
}

// DefaultPort returns 443 for https and 80 otherwise.
func DefaultPort(protocol string) uint16 {
	if protocol == "https" {
		return 443
	}
	return 80
}

func boolOr(b *bool, fallback bool) bool {
	if b == nil {
		return fallback
	}
	return *b
}

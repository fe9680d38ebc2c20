package onion

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	gcmIVSize = 12
	cbcIVSize = aes.BlockSize
)

var gcmKeySalt = []byte("LOKI")

var (
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrBadPadding         = errors.New("bad padding")
)

// ChannelEncryption encrypts and decrypts onion layers with keys derived from a x25519 agreement
// between our secret key and the remote public key.
type ChannelEncryption struct {
	seckey X25519Seckey
	pubkey X25519Pubkey
	// server is true on a node; the xchacha20 key always hashes the client key before the server key.
	server bool
}

// GenerateX25519Keypair returns a fresh random key pair.
func GenerateX25519Keypair() (X25519Pubkey, X25519Seckey, error) {
	var sk X25519Seckey
	if _, err := rand.Read(sk[:]); err != nil {
		return X25519Pubkey{}, sk, err
	}
	pk, err := PublicFromSecret(sk)
	return pk, sk, err
}

// PublicFromSecret derives the x25519 public key of sk.
func PublicFromSecret(sk X25519Seckey) (X25519Pubkey, error) {
	var pk X25519Pubkey
	pub, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return pk, err
	}
	copy(pk[:], pub)
	return pk, nil
}

// NewChannelEncryption creates the channel cipher. Nodes pass server = true, clients false.
func NewChannelEncryption(sk X25519Seckey, server bool) (*ChannelEncryption, error) {
	pk, err := PublicFromSecret(sk)
	if err != nil {
		return nil, err
	}
	return &ChannelEncryption{seckey: sk, pubkey: pk, server: server}, nil
}

// PublicKey returns our x25519 public key.
func (ce *ChannelEncryption) PublicKey() X25519Pubkey {
	return ce.pubkey
}

// Encrypt encrypts plaintext for the owner of remote.
func (ce *ChannelEncryption) Encrypt(t EncryptType, plaintext []byte, remote X25519Pubkey) ([]byte, error) {
	switch t {
	case AESGCM:
		key, err := ce.gcmKey(remote)
		if err != nil {
			return nil, err
		}
		return encryptGCM(key, plaintext)
	case AESCBC:
		key, err := ce.sharedSecret(remote)
		if err != nil {
			return nil, err
		}
		return encryptCBC(key, plaintext)
	case XChaCha20:
		key, err := ce.xchachaKey(remote)
		if err != nil {
			return nil, err
		}
		return encryptXChaCha(key, plaintext)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownEncryptType, t)
}

// Decrypt decrypts a ciphertext produced by the owner of remote.
func (ce *ChannelEncryption) Decrypt(t EncryptType, ciphertext []byte, remote X25519Pubkey) ([]byte, error) {
	switch t {
	case AESGCM:
		key, err := ce.gcmKey(remote)
		if err != nil {
			return nil, err
		}
		return decryptGCM(key, ciphertext)
	case AESCBC:
		key, err := ce.sharedSecret(remote)
		if err != nil {
			return nil, err
		}
		return decryptCBC(key, ciphertext)
	case XChaCha20:
		key, err := ce.xchachaKey(remote)
		if err != nil {
			return nil, err
		}
		return decryptXChaCha(key, ciphertext)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownEncryptType, t)
}

func (ce *ChannelEncryption) sharedSecret(remote X25519Pubkey) ([]byte, error) {
	// X25519 rejects low order points by returning an error.
	return curve25519.X25519(ce.seckey[:], remote[:])
}

func (ce *ChannelEncryption) gcmKey(remote X25519Pubkey) ([]byte, error) {
	shared, err := ce.sharedSecret(remote)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, gcmKeySalt)
	mac.Write(shared)
	return mac.Sum(nil), nil
}

func (ce *ChannelEncryption) xchachaKey(remote X25519Pubkey) ([]byte, error) {
	shared, err := ce.sharedSecret(remote)
	if err != nil {
		return nil, err
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	h.Write(shared)
	if ce.server {
		h.Write(remote[:])
		h.Write(ce.pubkey[:])
	} else {
		h.Write(ce.pubkey[:])
		h.Write(remote[:])
	}
	return h.Sum(nil), nil
}

func encryptGCM(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	out := make([]byte, gcmIVSize, gcmIVSize+len(plaintext)+gcm.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}
	return gcm.Seal(out, out[:gcmIVSize], plaintext, nil), nil
}

func decryptGCM(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcmIVSize+gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	return gcm.Open(nil, ciphertext[:gcmIVSize], ciphertext[gcmIVSize:], nil)
}

func encryptCBC(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, cbcIVSize+len(padded))
	if _, err := rand.Read(out[:cbcIVSize]); err != nil {
		return nil, err
	}
	cipher.NewCBCEncrypter(block, out[:cbcIVSize]).CryptBlocks(out[cbcIVSize:], padded)
	return out, nil
}

func decryptCBC(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < cbcIVSize+aes.BlockSize {
		return nil, ErrCiphertextTooShort
	}
	body := ciphertext[cbcIVSize:]
	if len(body)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext is not a multiple of the block size")
	}
	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, ciphertext[:cbcIVSize]).CryptBlocks(out, body)
	return pkcs7Unpad(out, aes.BlockSize)
}

func encryptXChaCha(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}
	return aead.Seal(out, out[:chacha20poly1305.NonceSizeX], plaintext, nil), nil
}

func decryptXChaCha(key, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	return aead.Open(nil, ciphertext[:chacha20poly1305.NonceSizeX], ciphertext[chacha20poly1305.NonceSizeX:], nil)
}

func pkcs7Pad(src []byte, blockSize int) []byte {
	padding := blockSize - len(src)%blockSize
	return append(append([]byte{}, src...), bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(src []byte, blockSize int) ([]byte, error) {
	length := len(src)
	if length == 0 {
		return nil, ErrBadPadding
	}
	unpadding := int(src[length-1])
	if unpadding == 0 || unpadding > blockSize || unpadding > length {
		return nil, ErrBadPadding
	}
	for _, b := range src[length-unpadding:] {
		if int(b) != unpadding {
			return nil, ErrBadPadding
		}
	}
	return src[:length-unpadding], nil
}

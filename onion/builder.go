package onion

import (
	"encoding/base64"
	"errors"
)

// Hop is one node of an onion path.
type Hop struct {
	Ed25519 string       // hex ed25519 pubkey, used by the previous hop to find this node
	X25519  X25519Pubkey // key the layer for this hop is encrypted to
}

// ServerDestination describes the external server an egress node posts to.
type ServerDestination struct {
	Protocol string
	Host     string
	Port     uint16
	Target   string
}

// Builder assembles onion requests on the client side.
type Builder struct {
	encType EncryptType
	hops    []Hop
}

// Request is a built onion request together with the key needed to read the reply.
type Request struct {
	// Body is posted to the first hop.
	Body []byte

	replyKey *ChannelEncryption
	replyPub X25519Pubkey
	encType  EncryptType
}

var ErrNoHops = errors.New("onion path has no hops")

func NewBuilder(encType EncryptType) *Builder {
	return &Builder{encType: encType}
}

// AddHop appends a hop; the first hop added is the entry node.
func (b *Builder) AddHop(h Hop) *Builder {
	b.hops = append(b.hops, h)
	return b
}

// BuildForSnode builds a request whose last hop executes the client request body.
func (b *Builder) BuildForSnode(body []byte, embedJSON bool, base64Reply bool) (*Request, error) {
	return b.build(body, map[string]any{
		"headers": "",
		"json":    embedJSON,
		"base64":  base64Reply,
	})
}

// BuildForServer builds a request whose last hop posts payload to dest.
func (b *Builder) BuildForServer(payload []byte, dest ServerDestination) (*Request, error) {
	meta := map[string]any{
		"host":   dest.Host,
		"target": dest.Target,
	}
	if dest.Protocol != "" {
		meta["protocol"] = dest.Protocol
	}
	if dest.Port != 0 {
		meta["port"] = dest.Port
	}
	return b.build(payload, meta)
}

func (b *Builder) build(innermost []byte, innerMeta map[string]any) (*Request, error) {
	if len(b.hops) == 0 {
		return nil, ErrNoHops
	}
	last := len(b.hops) - 1

	plaintext, err := EncodeCombined(innermost, innerMeta)
	if err != nil {
		return nil, err
	}
	layer, ephemPub, replyKey, err := b.seal(plaintext, b.hops[last].X25519)
	if err != nil {
		return nil, err
	}
	req := &Request{replyKey: replyKey, replyPub: b.hops[last].X25519, encType: b.encType}

	for i := last - 1; i >= 0; i-- {
		plaintext, err = EncodeCombined(layer, map[string]any{
			"destination":   b.hops[i+1].Ed25519,
			"ephemeral_key": ephemPub.Hex(),
			"enc_type":      b.encType.String(),
		})
		if err != nil {
			return nil, err
		}
		layer, ephemPub, _, err = b.seal(plaintext, b.hops[i].X25519)
		if err != nil {
			return nil, err
		}
	}

	req.Body, err = EncodeCombined(layer, EntryMetadata{
		EphemeralKey: ephemPub.Hex(),
		EncType:      b.encType.String(),
	})
	return req, err
}

func (b *Builder) seal(plaintext []byte, to X25519Pubkey) ([]byte, X25519Pubkey, *ChannelEncryption, error) {
	_, sk, err := GenerateX25519Keypair()
	if err != nil {
		return nil, X25519Pubkey{}, nil, err
	}
	ce, err := NewChannelEncryption(sk, false)
	if err != nil {
		return nil, X25519Pubkey{}, nil, err
	}
	ct, err := ce.Encrypt(b.encType, plaintext, to)
	if err != nil {
		return nil, X25519Pubkey{}, nil, err
	}
	return ct, ce.PublicKey(), ce, nil
}

// DecryptReply decrypts the wrapped reply of the final hop.
func (r *Request) DecryptReply(body []byte, base64Encoded bool) ([]byte, error) {
	if base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(string(body))
		if err != nil {
			return nil, err
		}
		body = decoded
	}
	return r.replyKey.Decrypt(r.encType, body, r.replyPub)
}

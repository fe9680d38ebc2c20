// Package swarm keeps the swarm topology known to this node and maps client pubkeys onto swarms.
package swarm

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// ID identifies a swarm on the 64 bit ring.
type ID uint64

// InvalidID marks a node that is not assigned to any swarm.
const InvalidID ID = ^ID(0)

// Info is one swarm and its members.
type Info struct {
	ID    ID       `mapstructure:"id"`
	Nodes []Record `mapstructure:"nodes"`
}

var ErrBadPubkey = errors.New("pubkey is not 32 hex encoded bytes")

// Directory answers topology questions. It is safe for concurrent use.
type Directory struct {
	lock   sync.RWMutex
	self   Record
	swarms []Info // sorted by ID
	ours   ID
}

func NewDirectory(self Record, swarms []Info) *Directory {
	d := &Directory{self: self}
	d.Update(swarms)
	return d
}

// Update replaces the whole topology.
func (d *Directory) Update(swarms []Info) {
	sorted := make([]Info, 0, len(swarms))
	for _, s := range swarms {
		if s.ID == InvalidID {
			continue
		}
		sorted = append(sorted, Info{ID: s.ID, Nodes: slices.Clone(s.Nodes)})
	}
	slices.SortFunc(sorted, func(a, b Info) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	ours := InvalidID
	for _, s := range sorted {
		if slices.ContainsFunc(s.Nodes, d.self.Equal) {
			ours = s.ID
			break
		}
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	d.swarms = sorted
	d.ours = ours
}

// Self returns the record of this node.
func (d *Directory) Self() Record {
	return d.self
}

// OurSwarm returns the id of the swarm this node belongs to, or InvalidID.
func (d *Directory) OurSwarm() ID {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.ours
}

// SwarmFor returns the swarm responsible for the hex encoded 32 byte key.
func (d *Directory) SwarmFor(keyHex string) (ID, error) {
	point, err := pubkeyToRing(keyHex)
	if err != nil {
		return InvalidID, err
	}
	d.lock.RLock()
	defer d.lock.RUnlock()
	return closestSwarm(d.swarms, point), nil
}

// IsPubkeyForUs reports whether our swarm stores the messages of keyHex.
func (d *Directory) IsPubkeyForUs(keyHex string) bool {
	id, err := d.SwarmFor(keyHex)
	if err != nil {
		return false
	}
	ours := d.OurSwarm()
	return ours != InvalidID && id == ours
}

// SnodesByPubkey returns the members of the swarm responsible for keyHex.
func (d *Directory) SnodesByPubkey(keyHex string) []Record {
	id, err := d.SwarmFor(keyHex)
	if err != nil || id == InvalidID {
		return nil
	}
	d.lock.RLock()
	defer d.lock.RUnlock()
	for _, s := range d.swarms {
		if s.ID == id {
			return slices.Clone(s.Nodes)
		}
	}
	return nil
}

// Peers returns the other members of our swarm.
func (d *Directory) Peers() []Record {
	d.lock.RLock()
	defer d.lock.RUnlock()
	for _, s := range d.swarms {
		if s.ID != d.ours {
			continue
		}
		peers := make([]Record, 0, len(s.Nodes))
		for _, n := range s.Nodes {
			if !n.Equal(d.self) {
				peers = append(peers, n)
			}
		}
		return peers
	}
	return nil
}

// IsSwarmMember reports whether the node with the given legacy pubkey is in our swarm.
func (d *Directory) IsSwarmMember(legacyHex string) bool {
	want := Record{PubkeyLegacy: legacyHex}
	d.lock.RLock()
	defer d.lock.RUnlock()
	for _, s := range d.swarms {
		if s.ID == d.ours {
			return slices.ContainsFunc(s.Nodes, want.Equal)
		}
	}
	return false
}

// FindNode looks a node up by its ed25519 or legacy pubkey.
func (d *Directory) FindNode(pubkeyHex string) (Record, bool) {
	matches := func(r Record) bool {
		return strings.EqualFold(r.PubkeyEd25519, pubkeyHex) || strings.EqualFold(r.PubkeyLegacy, pubkeyHex)
	}
	if matches(d.self) {
		return d.self, true
	}
	d.lock.RLock()
	defer d.lock.RUnlock()
	for _, s := range d.swarms {
		if i := slices.IndexFunc(s.Nodes, matches); i >= 0 {
			return s.Nodes[i], true
		}
	}
	return Record{}, false
}

// All returns every known swarm.
func (d *Directory) All() []Info {
	d.lock.RLock()
	defer d.lock.RUnlock()
	out := make([]Info, len(d.swarms))
	for i, s := range d.swarms {
		out[i] = Info{ID: s.ID, Nodes: slices.Clone(s.Nodes)}
	}
	return out
}

// pubkeyToRing folds the 32 byte key into a ring position by xoring its four 64 bit words.
func pubkeyToRing(keyHex string) (uint64, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil || len(raw) != 32 {
		return 0, ErrBadPubkey
	}
	var res uint64
	for i := 0; i < 32; i += 8 {
		res ^= binary.BigEndian.Uint64(raw[i : i+8])
	}
	return res, nil
}

// closestSwarm picks the swarm whose id is nearest to point, measuring distance around the ring.
// Ties go to the lower id.
func closestSwarm(swarms []Info, point uint64) ID {
	best := InvalidID
	var bestDist uint64
	for _, s := range swarms {
		id := uint64(s.ID)
		dist := min(id-point, point-id)
		if best == InvalidID || dist < bestDist {
			best = s.ID
			bestDist = dist
		}
	}
	return best
}

func joinHostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

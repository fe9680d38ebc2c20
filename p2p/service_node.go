package p2p

import (
	"sync/atomic"

	"github.com/KelvinWu602/forus-snode/message"
	"github.com/KelvinWu602/forus-snode/storage"
	"github.com/KelvinWu602/forus-snode/swarm"
)

// ServiceNode is what request handling needs from swarm membership and storage.
type ServiceNode interface {
	IsPubkeyForUs(pk message.UserPubkey) bool
	SnodesByPubkey(pk message.UserPubkey) []swarm.Record
	SwarmPeers() []swarm.Record
	FindNode(pubkeyHex string) (swarm.Record, bool)
	// ProcessStore returns false without error when the node cannot accept writes yet.
	ProcessStore(item message.Item) (bool, error)
	Retrieve(pubkey string, lastHash string) ([]message.Item, error)
	ProcessStorageTestReq(height uint64, tester string, hash string) (MessageTestStatus, string)
	Ready() bool
	ShuttingDown() bool
	OwnAddress() swarm.Record
}

// Store is the subset of storage.DB used by serviceNode.
type Store interface {
	Store(item message.Item) (bool, error)
	RetrieveSince(pubkey string, lastHash string, limit int) ([]message.Item, error)
	RetrieveByHash(hash string) (message.Item, bool, error)
}

var _ Store = (*storage.DB)(nil)

type serviceNode struct {
	dir          *swarm.Directory
	db           Store
	forceStart   bool
	storageReady atomic.Bool
	shuttingDown atomic.Bool
	blockHeight  atomic.Uint64
}

func newServiceNode(dir *swarm.Directory, db Store, forceStart bool) *serviceNode {
	sn := &serviceNode{dir: dir, db: db, forceStart: forceStart}
	sn.storageReady.Store(db != nil)
	return sn
}

func (sn *serviceNode) IsPubkeyForUs(pk message.UserPubkey) bool {
	return sn.dir.IsPubkeyForUs(pk.Key())
}

func (sn *serviceNode) SnodesByPubkey(pk message.UserPubkey) []swarm.Record {
	return sn.dir.SnodesByPubkey(pk.Key())
}

func (sn *serviceNode) SwarmPeers() []swarm.Record {
	return sn.dir.Peers()
}

func (sn *serviceNode) FindNode(pubkeyHex string) (swarm.Record, bool) {
	return sn.dir.FindNode(pubkeyHex)
}

func (sn *serviceNode) ProcessStore(item message.Item) (bool, error) {
	if !sn.Ready() {
		return false, nil
	}
	if _, err := sn.db.Store(item); err != nil {
		return false, err
	}
	return true, nil
}

func (sn *serviceNode) Retrieve(pubkey string, lastHash string) ([]message.Item, error) {
	return sn.db.RetrieveSince(pubkey, lastHash, 0)
}

// ProcessStorageTestReq evaluates a proof of storage challenge once. A height we have not reached yet
// and a message we do not have yet both ask the tester to retry.
func (sn *serviceNode) ProcessStorageTestReq(height uint64, tester string, hash string) (MessageTestStatus, string) {
	if height > sn.blockHeight.Load() {
		return TestRetry, ""
	}
	if !sn.dir.IsSwarmMember(tester) {
		return TestWrongRequest, ""
	}
	item, found, err := sn.db.RetrieveByHash(hash)
	if err != nil {
		return TestError, ""
	}
	if !found {
		return TestRetry, ""
	}
	return TestSuccess, item.Data
}

func (sn *serviceNode) Ready() bool {
	if sn.shuttingDown.Load() || !sn.storageReady.Load() {
		return false
	}
	return sn.forceStart || sn.blockHeight.Load() > 0
}

func (sn *serviceNode) ShuttingDown() bool {
	return sn.shuttingDown.Load()
}

func (sn *serviceNode) OwnAddress() swarm.Record {
	return sn.dir.Self()
}

func (sn *serviceNode) setBlockHeight(height uint64) {
	sn.blockHeight.Store(height)
}

func (sn *serviceNode) BlockHeight() uint64 {
	return sn.blockHeight.Load()
}

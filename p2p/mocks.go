package p2p

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/KelvinWu602/forus-snode/message"
	"github.com/KelvinWu602/forus-snode/onion"
	"github.com/KelvinWu602/forus-snode/swarm"
)

// MockServiceNode implements ServiceNode with canned answers.
type MockServiceNode struct {
	lock sync.Mutex

	Self        swarm.Record
	ForUs       bool
	Snodes      []swarm.Record
	Peers       []swarm.Record
	Known       []swarm.Record
	StoreErr    error
	Items       []message.Item
	RetrieveErr error
	// TestResults are handed out in order for successive storage test evaluations; the last one repeats.
	TestResults []MessageTestStatus
	TestAnswer  string

	stored       []message.Item
	testCalls    int
	notReady     atomic.Bool
	shuttingDown atomic.Bool
}

func NewMockServiceNode(self swarm.Record) *MockServiceNode {
	return &MockServiceNode{Self: self, ForUs: true}
}

func (m *MockServiceNode) IsPubkeyForUs(_ message.UserPubkey) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.ForUs
}

func (m *MockServiceNode) SnodesByPubkey(_ message.UserPubkey) []swarm.Record {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.Snodes
}

func (m *MockServiceNode) SwarmPeers() []swarm.Record {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.Peers
}

func (m *MockServiceNode) FindNode(pubkeyHex string) (swarm.Record, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, r := range m.Known {
		if strings.EqualFold(r.PubkeyEd25519, pubkeyHex) || strings.EqualFold(r.PubkeyLegacy, pubkeyHex) {
			return r, true
		}
	}
	return swarm.Record{}, false
}

func (m *MockServiceNode) ProcessStore(item message.Item) (bool, error) {
	if !m.Ready() {
		return false, nil
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.StoreErr != nil {
		return false, m.StoreErr
	}
	m.stored = append(m.stored, item)
	return true, nil
}

func (m *MockServiceNode) Stored() []message.Item {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]message.Item{}, m.stored...)
}

func (m *MockServiceNode) Retrieve(_ string, _ string) ([]message.Item, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.Items, m.RetrieveErr
}

func (m *MockServiceNode) ProcessStorageTestReq(_ uint64, _ string, _ string) (MessageTestStatus, string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if len(m.TestResults) == 0 {
		return TestError, ""
	}
	i := m.testCalls
	if i >= len(m.TestResults) {
		i = len(m.TestResults) - 1
	}
	m.testCalls++
	status := m.TestResults[i]
	if status == TestSuccess {
		return status, m.TestAnswer
	}
	return status, ""
}

func (m *MockServiceNode) TestCalls() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.testCalls
}

func (m *MockServiceNode) Ready() bool                { return !m.notReady.Load() && !m.shuttingDown.Load() }
func (m *MockServiceNode) SetReady(ready bool)        { m.notReady.Store(!ready) }
func (m *MockServiceNode) ShuttingDown() bool         { return m.shuttingDown.Load() }
func (m *MockServiceNode) SetShuttingDown(value bool) { m.shuttingDown.Store(value) }
func (m *MockServiceNode) OwnAddress() swarm.Record   { return m.Self }

// MockOnionHop records one SendOnion call.
type MockOnionHop struct {
	Dest    swarm.Record
	Payload []byte
	Key     onion.X25519Pubkey
	EncType onion.EncryptType
	HopNo   int
}

type MockForward struct {
	Dest   swarm.Record
	Method string
	Params json.RawMessage
}

// MockPeerTransport implements PeerTransport and records every call.
type MockPeerTransport struct {
	lock sync.Mutex

	OnionReply   []string
	OnionErr     error
	ForwardReply []string
	ForwardErr   error

	hops     []MockOnionHop
	forwards []MockForward
}

func (m *MockPeerTransport) SendOnion(_ context.Context, dest swarm.Record, payload []byte, ephemKey onion.X25519Pubkey, encType onion.EncryptType, hopNo int) ([]string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.hops = append(m.hops, MockOnionHop{Dest: dest, Payload: payload, Key: ephemKey, EncType: encType, HopNo: hopNo})
	return m.OnionReply, m.OnionErr
}

func (m *MockPeerTransport) ForwardClientRequest(_ context.Context, dest swarm.Record, method string, params json.RawMessage) ([]string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.forwards = append(m.forwards, MockForward{Dest: dest, Method: method, Params: params})
	return m.ForwardReply, m.ForwardErr
}

func (m *MockPeerTransport) Hops() []MockOnionHop {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]MockOnionHop{}, m.hops...)
}

func (m *MockPeerTransport) Forwards() []MockForward {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]MockForward{}, m.forwards...)
}

// MockEgress implements EgressClient.
type MockEgress struct {
	lock     sync.Mutex
	Response EgressResponse
	Err      error
	urls     []string
}

func (m *MockEgress) Post(_ context.Context, url string, _ []byte) (EgressResponse, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.urls = append(m.urls, url)
	return m.Response, m.Err
}

func (m *MockEgress) URLs() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string{}, m.urls...)
}

// MockDaemon implements DaemonRequester.
type MockDaemon struct {
	lock      sync.Mutex
	Parts     []string
	Err       error
	endpoints []string
}

func (m *MockDaemon) Request(_ context.Context, endpoint string, _ json.RawMessage) ([]string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.endpoints = append(m.endpoints, endpoint)
	return m.Parts, m.Err
}

func (m *MockDaemon) Endpoints() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string{}, m.endpoints...)
}

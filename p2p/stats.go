package p2p

import "sync/atomic"

type Stats struct {
	onionRequests  atomic.Uint64
	proxyRequests  atomic.Uint64
	clientRequests atomic.Uint64
	storeRequests  atomic.Uint64
	retrieveReqs   atomic.Uint64
	storageTests   atomic.Uint64
}

func (s *Stats) recordOnionRequest()  { s.onionRequests.Add(1) }
func (s *Stats) recordProxyRequest()  { s.proxyRequests.Add(1) }
func (s *Stats) recordClientRequest() { s.clientRequests.Add(1) }
func (s *Stats) recordStore()         { s.storeRequests.Add(1) }
func (s *Stats) recordRetrieve()      { s.retrieveReqs.Add(1) }
func (s *Stats) recordStorageTest()   { s.storageTests.Add(1) }

func (s *Stats) snapshot() HTTPSchemaStats {
	return HTTPSchemaStats{
		OnionRequests:  s.onionRequests.Load(),
		ProxyRequests:  s.proxyRequests.Load(),
		ClientRequests: s.clientRequests.Load(),
		StoreRequests:  s.storeRequests.Load(),
		RetrieveReqs:   s.retrieveReqs.Load(),
		StorageTests:   s.storageTests.Load(),
	}
}

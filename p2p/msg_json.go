package p2p

// Data Schemas for the operator HTTP endpoints

type HTTPSchemaStats struct {
	OnionRequests  uint64         `json:"onion_requests"`
	ProxyRequests  uint64         `json:"proxy_requests"`
	ClientRequests uint64         `json:"client_requests"`
	StoreRequests  uint64         `json:"store_requests"`
	RetrieveReqs   uint64         `json:"retrieve_requests"`
	StorageTests   uint64         `json:"storage_tests"`
	Pending        map[string]int `json:"pending,omitempty"`
	DBReads        uint64         `json:"db_reads"`
	DBWrites       uint64         `json:"db_writes"`
	BlockHeight    uint64         `json:"block_height"`
	Ready          bool           `json:"ready"`
}

type HTTPSchemaSnode struct {
	Address       string `json:"address"`
	IP            string `json:"ip"`
	Port          uint16 `json:"port"`
	RPCPort       uint16 `json:"rpc_port"`
	PubkeyLegacy  string `json:"pubkey_legacy"`
	PubkeyEd25519 string `json:"pubkey_ed25519"`
	PubkeyX25519  string `json:"pubkey_x25519"`
}

type HTTPSchemaSwarm struct {
	SwarmID uint64            `json:"swarm_id"`
	Self    HTTPSchemaSnode   `json:"self"`
	Members []HTTPSchemaSnode `json:"members"`
}

type HTTPSchemaLogEntry struct {
	Time    string            `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type HTTPSchemaLogs struct {
	Entries []HTTPSchemaLogEntry `json:"entries"`
}

package p2p

import (
	"net/http"
	"time"

	"github.com/KelvinWu602/forus-snode/onion"
	"github.com/KelvinWu602/forus-snode/swarm"
	"github.com/gin-gonic/gin"
)

// writeResponse sends res as the HTTP reply, plain text unless it carries a content type.
func writeResponse(c *gin.Context, res Response) {
	for _, h := range res.Headers {
		c.Header(h[0], h[1])
	}
	contentType := res.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	c.Data(res.Status, contentType, []byte(res.Body))
}

// awaitResponse blocks until the handler answered, the client went away or timeout passed.
func awaitResponse(c *gin.Context, reply <-chan Response, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-reply:
		writeResponse(c, res)
	case <-timer.C:
		writeResponse(c, newResponse(http.StatusGatewayTimeout, "Request time out"))
	case <-c.Request.Context().Done():
	}
}

func (n *Node) handlePostStorageRPC(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "request body is invalid", "error": err.Error()})
		return
	}
	reply := make(chan Response, 1)
	n.handler.ProcessClientReq(body, func(res Response) { reply <- res })
	awaitResponse(c, reply, n.v.GetDuration("PEER_REQUEST_TIMEOUT"))
}

func (n *Node) handlePostOnionReq(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "request body is invalid", "error": err.Error()})
		return
	}
	ciphertext, key, encType, err := onion.ParseEntryRequest(body)
	if err != nil {
		logProtocolMessageHandlerError("handlePostOnionReq", c.ClientIP(), err, len(body))
		writeResponse(c, newResponse(http.StatusBadRequest, "invalid onion request: "+err.Error()))
		return
	}
	reply := make(chan Response, 1)
	n.handler.ProcessOnionReq(ciphertext, OnionRequestMetadata{
		EphemeralKey: key,
		EncType:      encType,
		HopNo:        0,
		Callback:     func(res Response) { reply <- res },
	})
	awaitResponse(c, reply, n.v.GetDuration("ONION_REQUEST_TIMEOUT"))
}

func (n *Node) handleGetStats(c *gin.Context) {
	stats := n.stats.snapshot()
	stats.Pending = n.pending.countByKind()
	stats.DBReads, stats.DBWrites = n.db.Counters()
	stats.BlockHeight = n.sn.BlockHeight()
	stats.Ready = n.sn.Ready()
	c.IndentedJSON(http.StatusOK, stats)
}

func (n *Node) handleGetLogs(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, HTTPSchemaLogs{Entries: logHistory.snapshot()})
}

func toHTTPSchemaSnode(r swarm.Record) HTTPSchemaSnode {
	return HTTPSchemaSnode{
		Address:       r.Address(),
		IP:            r.IP,
		Port:          r.Port,
		RPCPort:       r.RPCPort,
		PubkeyLegacy:  r.PubkeyLegacy,
		PubkeyEd25519: r.PubkeyEd25519,
		PubkeyX25519:  r.PubkeyX25519,
	}
}

func (n *Node) handleGetSwarm(c *gin.Context) {
	resp := HTTPSchemaSwarm{
		SwarmID: uint64(n.dir.OurSwarm()),
		Self:    toHTTPSchemaSnode(n.dir.Self()),
		Members: []HTTPSchemaSnode{},
	}
	for _, peer := range n.dir.Peers() {
		resp.Members = append(resp.Members, toHTTPSchemaSnode(peer))
	}
	c.IndentedJSON(http.StatusOK, resp)
}

func (n *Node) handleGetConfigs(c *gin.Context) {
	// response
	c.IndentedJSON(http.StatusOK, gin.H{
		// time
		"ONION_REQUEST_TIMEOUT":          n.v.GetDuration("ONION_REQUEST_TIMEOUT"),
		"PEER_REQUEST_TIMEOUT":           n.v.GetDuration("PEER_REQUEST_TIMEOUT"),
		"STORAGE_TEST_RETRY_INTERVAL":    n.v.GetDuration("STORAGE_TEST_RETRY_INTERVAL"),
		"STORAGE_TEST_RETRY_PERIOD":      n.v.GetDuration("STORAGE_TEST_RETRY_PERIOD"),
		"PENDING_REQUEST_SWEEP_INTERVAL": n.v.GetDuration("PENDING_REQUEST_SWEEP_INTERVAL"),
		"BLOCK_HEIGHT_POLL_INTERVAL":     n.v.GetDuration("BLOCK_HEIGHT_POLL_INTERVAL"),
		"DAEMON_KEYS_RETRY_INTERVAL":     n.v.GetDuration("DAEMON_KEYS_RETRY_INTERVAL"),
		"DAEMON_REQUEST_TIMEOUT":         n.v.GetDuration("DAEMON_REQUEST_TIMEOUT"),
		// string
		"HTTP_SERVER_LISTEN_PORT": n.v.GetString("HTTP_SERVER_LISTEN_PORT"),
		"GRPC_SERVER_LISTEN_PORT": n.v.GetString("GRPC_SERVER_LISTEN_PORT"),
		"DATA_DIR":                n.v.GetString("DATA_DIR"),
		"LOG_LEVEL":               n.v.GetString("LOG_LEVEL"),
		"DAEMON_RPC_URL":          n.v.GetString("DAEMON_RPC_URL"),
		"PUBLIC_IP":               n.v.GetString("PUBLIC_IP"),
		// bool
		"HTTP_SERVER_LISTEN_ALL": n.v.GetBool("HTTP_SERVER_LISTEN_ALL"),
		"TESTNET":                n.v.GetBool("TESTNET"),
		"FORCE_START":            n.v.GetBool("FORCE_START"),
		"STORAGE_IN_MEMORY":      n.v.GetBool("STORAGE_IN_MEMORY"),
	})
}

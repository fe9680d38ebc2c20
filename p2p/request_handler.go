package p2p

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/KelvinWu602/forus-snode/message"
	"github.com/KelvinWu602/forus-snode/onion"
	"github.com/KelvinWu602/forus-snode/swarm"
	"github.com/spf13/viper"
	"golang.org/x/exp/slices"
)

// PeerTransport reaches other service nodes.
type PeerTransport interface {
	// SendOnion relays an onion layer to dest and returns its [status, body] reply.
	SendOnion(ctx context.Context, dest swarm.Record, payload []byte, ephemKey onion.X25519Pubkey, encType onion.EncryptType, hopNo int) ([]string, error)
	// ForwardClientRequest re-issues a client request to a swarm member, marked as forwarded.
	ForwardClientRequest(ctx context.Context, dest swarm.Record, method string, params json.RawMessage) ([]string, error)
}

// DaemonRequester calls the chain daemon; see daemon.Client.Request.
type DaemonRequester interface {
	Request(ctx context.Context, endpoint string, params json.RawMessage) ([]string, error)
}

// RequestHandler executes client requests and onion requests against a ServiceNode. Every entry
// point answers through its callback exactly once.
type RequestHandler struct {
	name    string
	v       *viper.Viper
	ctx     context.Context
	sn      ServiceNode
	ce      *onion.ChannelEncryption
	peers   PeerTransport
	egress  EgressClient
	daemon  DaemonRequester
	timers  Timers
	pending *pendingRequests
	stats   *Stats
}

type RequestHandlerDeps struct {
	Peers   PeerTransport
	Egress  EgressClient
	Daemon  DaemonRequester
	Timers  Timers
	Pending *pendingRequests
	Stats   *Stats
}

// NewRequestHandler creates a handler. Background work stops when ctx is cancelled.
func NewRequestHandler(ctx context.Context, name string, v *viper.Viper, sn ServiceNode, ce *onion.ChannelEncryption, deps RequestHandlerDeps) *RequestHandler {
	if deps.Pending == nil {
		deps.Pending = newPendingRequests()
	}
	if deps.Timers == nil {
		deps.Timers = newTickerTimers(deps.Pending)
	}
	if deps.Stats == nil {
		deps.Stats = &Stats{}
	}
	return &RequestHandler{
		name:    name,
		v:       v,
		ctx:     ctx,
		sn:      sn,
		ce:      ce,
		peers:   deps.Peers,
		egress:  deps.Egress,
		daemon:  deps.Daemon,
		timers:  deps.Timers,
		pending: deps.Pending,
		stats:   deps.Stats,
	}
}

// ProcessClientReq parses {"method": ..., "params": {...}} and dispatches it.
func (h *RequestHandler) ProcessClientReq(reqJSON []byte, cb ResponseCallback) {
	cb = replyOnce(h.name, "ProcessClientReq", cb)

	var body map[string]json.RawMessage
	if err := json.Unmarshal(reqJSON, &body); err != nil {
		logMsg(h.name, "ProcessClientReq", "bad client request: invalid json")
		cb(newResponse(http.StatusBadRequest, "invalid json\n"))
		return
	}
	method, ok := stringField(body, "method")
	if !ok {
		logMsg(h.name, "ProcessClientReq", "bad client request: no method field")
		cb(newResponse(http.StatusBadRequest, "invalid json: no `method` field\n"))
		return
	}
	params, ok := body["params"]
	if !ok || !isJSONObject(params) {
		logMsg(h.name, "ProcessClientReq", "bad client request: no params field")
		cb(newResponse(http.StatusBadRequest, "invalid json: no `params` field\n"))
		return
	}
	h.Dispatch(method, params, false, cb)
}

// Dispatch executes method. A successful direct store is forwarded to the rest of the swarm;
// forwarded requests are never forwarded again.
func (h *RequestHandler) Dispatch(method string, params json.RawMessage, forwarded bool, cb ResponseCallback) {
	cb = replyOnce(h.name, "Dispatch", cb)
	h.stats.recordClientRequest()

	switch method {
	case "store":
		logMsg(h.name, "Dispatch", "process client request: store")
		res := h.processStore(params)
		if res.Status == http.StatusOK && !forwarded {
			h.forwardToSwarm(method, params)
		}
		cb(res)
	case "retrieve":
		logMsg(h.name, "Dispatch", "process client request: retrieve")
		cb(h.processRetrieve(params))
	case "get_snodes_for_pubkey":
		logMsg(h.name, "Dispatch", "process client request: snodes for pubkey")
		cb(h.processSnodesByPubkey(params))
	case "oxend_request":
		logMsg(h.name, "Dispatch", "process client request: oxend_request")
		h.processOxendRequest(params, cb)
	default:
		logMsg(h.name, "Dispatch", fmt.Sprintf("bad client request: unknown method %q", method))
		cb(newResponse(http.StatusBadRequest, "no method "+method))
	}
}

func (h *RequestHandler) handleWrongSwarm(pk message.UserPubkey) Response {
	logMsg(h.name, "handleWrongSwarm", "got client request to a wrong swarm for "+message.Obfuscate(pk.String()))
	return newJSONResponse(http.StatusMisdirectedRequest, snodesToJSON(h.sn.SnodesByPubkey(pk)))
}

func (h *RequestHandler) processStore(raw json.RawMessage) Response {
	h.stats.recordStore()
	params, res, ok := requireFields(raw, "pubKey", "ttl", "timestamp", "data")
	if !ok {
		return res
	}

	var data string
	if err := json.Unmarshal(params["data"], &data); err != nil {
		return newResponse(http.StatusBadRequest, "invalid json: `data` must be a string\n")
	}
	pk, res, ok := parsePubkeyField(params["pubKey"], "Pubkey must be %d characters long\n")
	if !ok {
		return res
	}
	if len(data) > message.MaxMessageBody {
		logMsg(h.name, "processStore", fmt.Sprintf("message body too long: %d", len(data)))
		return newResponse(http.StatusBadRequest, fmt.Sprintf("Message body exceeds maximum allowed length of %d\n", message.MaxMessageBody))
	}
	if !h.sn.IsPubkeyForUs(pk) {
		return h.handleWrongSwarm(pk)
	}

	ttlMs, ok := parseUintField(params["ttl"])
	if !ok || ttlMs > uint64(message.MaxTTL.Milliseconds()) || !message.ValidateTTL(time.Duration(ttlMs)*time.Millisecond) {
		logMsg(h.name, "processStore", "forbidden, invalid TTL: "+string(params["ttl"]))
		return newResponse(http.StatusForbidden, "Provided TTL is not valid.\n")
	}
	ttl := time.Duration(ttlMs) * time.Millisecond

	tsMs, ok := parseUintField(params["timestamp"])
	if !ok || tsMs > math.MaxInt64 || !message.ValidateTimestamp(time.UnixMilli(int64(tsMs)), ttl) {
		logMsg(h.name, "processStore", "forbidden, invalid timestamp: "+string(params["timestamp"]))
		return newResponse(http.StatusNotAcceptable, "Timestamp error: check your clock\n")
	}

	item := message.NewItem(pk, data, ttl, time.UnixMilli(int64(tsMs)))
	stored, err := h.sn.ProcessStore(item)
	if err != nil {
		logError(h.name, "processStore", err, "could not store message for "+message.Obfuscate(pk.String()))
		return newResponse(http.StatusInternalServerError, err.Error())
	}
	if !stored {
		logWarn(h.name, "processStore", "service node is initializing")
		return newResponse(http.StatusServiceUnavailable, "Service node is initializing\n")
	}
	logMsg(h.name, "processStore", "stored message for "+message.Obfuscate(pk.String()))
	return newJSONResponse(http.StatusOK, `{"difficulty":1}`)
}

type retrievedMessage struct {
	Hash       string `json:"hash"`
	Expiration int64  `json:"expiration"`
	Data       string `json:"data"`
}

func (h *RequestHandler) processRetrieve(raw json.RawMessage) Response {
	h.stats.recordRetrieve()
	params, res, ok := requireFields(raw, "pubKey", "lastHash")
	if !ok {
		return res
	}
	pk, res, ok := parsePubkeyField(params["pubKey"], "Pubkey must be %d characters long\n")
	if !ok {
		return res
	}
	if !h.sn.IsPubkeyForUs(pk) {
		return h.handleWrongSwarm(pk)
	}
	var lastHash string
	if err := json.Unmarshal(params["lastHash"], &lastHash); err != nil {
		return newResponse(http.StatusBadRequest, "invalid json: `lastHash` must be a string\n")
	}

	items, err := h.sn.Retrieve(pk.String(), lastHash)
	if err != nil {
		msg := "Internal Server Error. Could not retrieve messages for " + message.Obfuscate(pk.String())
		logError(h.name, "processRetrieve", err, msg)
		return newResponse(http.StatusInternalServerError, msg)
	}

	messages := make([]retrievedMessage, 0, len(items))
	for _, item := range items {
		messages = append(messages, retrievedMessage{
			Hash:       item.Hash,
			Expiration: item.Expiration.UnixMilli(),
			Data:       item.Data,
		})
	}
	out, err := json.Marshal(map[string]any{"messages": messages})
	if err != nil {
		return newResponse(http.StatusInternalServerError, err.Error())
	}
	return newJSONResponse(http.StatusOK, string(out))
}

func (h *RequestHandler) processSnodesByPubkey(raw json.RawMessage) Response {
	params, res, ok := requireFields(raw, "pubKey")
	if !ok {
		return res
	}
	pk, res, ok := parsePubkeyField(params["pubKey"], "Pubkey must be %d hex digits long\n")
	if !ok {
		return res
	}
	return newJSONResponse(http.StatusOK, snodesToJSON(h.sn.SnodesByPubkey(pk)))
}

func (h *RequestHandler) processOxendRequest(raw json.RawMessage, cb ResponseCallback) {
	var params map[string]json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		cb(newResponse(http.StatusBadRequest, "invalid json\n"))
		return
	}
	endpoint, ok := stringField(params, "endpoint")
	if !ok {
		cb(newResponse(http.StatusBadRequest, "missing 'endpoint'"))
		return
	}
	if !slices.Contains(allowedOxendEndpoints, endpoint) {
		cb(newResponse(http.StatusBadRequest, "Endpoint not allowed: "+endpoint))
		return
	}
	var oxendParams json.RawMessage
	if p, found := params["params"]; found {
		if !isJSONObject(p) {
			cb(newResponse(http.StatusBadRequest, "invalid oxend 'params' argument"))
			return
		}
		oxendParams = p
	}
	if h.daemon == nil {
		cb(newResponse(http.StatusBadRequest, "Unknown oxend error"))
		return
	}

	h.pending.track("oxend", func() {
		ctx, cancel := context.WithTimeout(h.ctx, h.v.GetDuration("DAEMON_REQUEST_TIMEOUT"))
		defer cancel()
		parts, err := h.daemon.Request(ctx, endpoint, oxendParams)
		if err != nil {
			logError(h.name, "processOxendRequest", err, "oxend request failed")
		}
		if err == nil && len(parts) >= 2 && parts[0] == "200" {
			cb(newJSONResponse(http.StatusOK, `{"result":`+parts[1]+`}`))
			return
		}
		if len(parts) >= 2 && parts[1] != "" {
			cb(newResponse(http.StatusBadRequest, parts[1]))
			return
		}
		cb(newResponse(http.StatusBadRequest, "Unknown oxend error"))
	})
}

// forwardToSwarm re-issues a stored message to the other members of our swarm. Replies only get logged.
func (h *RequestHandler) forwardToSwarm(method string, params json.RawMessage) {
	if h.peers == nil {
		return
	}
	for _, peer := range h.sn.SwarmPeers() {
		peer := peer
		h.pending.track("forward", func() {
			ctx, cancel := context.WithTimeout(h.ctx, h.v.GetDuration("PEER_REQUEST_TIMEOUT"))
			defer cancel()
			parts, err := h.peers.ForwardClientRequest(ctx, peer, method, params)
			if err != nil {
				logError(h.name, "forwardToSwarm", err, "failed to forward "+method+" to "+peer.PubkeyLegacy)
				return
			}
			if len(parts) > 1 {
				logWarn(h.name, "forwardToSwarm", fmt.Sprintf("%s forwarded to %s failed: %v", method, peer.PubkeyLegacy, parts))
			}
		})
	}
}

type snodeJSON struct {
	Address       string `json:"address"`
	PubkeyLegacy  string `json:"pubkey_legacy"`
	PubkeyX25519  string `json:"pubkey_x25519"`
	PubkeyEd25519 string `json:"pubkey_ed25519"`
	Port          string `json:"port"`
	IP            string `json:"ip"`
}

func snodesToJSON(snodes []swarm.Record) string {
	out := make([]snodeJSON, 0, len(snodes))
	for _, sn := range snodes {
		out = append(out, snodeJSON{
			Address:       sn.Address(),
			PubkeyLegacy:  sn.PubkeyLegacy,
			PubkeyX25519:  sn.PubkeyX25519,
			PubkeyEd25519: sn.PubkeyEd25519,
			Port:          strconv.Itoa(int(sn.Port)),
			IP:            sn.IP,
		})
	}
	b, _ := json.Marshal(map[string][]snodeJSON{"snodes": out})
	return string(b)
}

// helpers
// ==========================================

// requireFields decodes params and checks the fields exist, in order.
func requireFields(raw json.RawMessage, fields ...string) (map[string]json.RawMessage, Response, bool) {
	var params map[string]json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, newResponse(http.StatusBadRequest, "invalid json\n"), false
	}
	for _, field := range fields {
		if _, found := params[field]; !found {
			return nil, newResponse(http.StatusBadRequest, fmt.Sprintf("invalid json: no `%s` field\n", field)), false
		}
	}
	return params, Response{}, true
}

func parsePubkeyField(raw json.RawMessage, errFormat string) (message.UserPubkey, Response, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if pk, err := message.ParseUserPubkey(s); err == nil {
			return pk, Response{}, true
		}
	}
	return message.UserPubkey{}, newResponse(http.StatusBadRequest, fmt.Sprintf(errFormat, message.UserPubkeySize())), false
}

// parseUintField accepts a non negative json integer or a string holding one.
func parseUintField(raw json.RawMessage) (uint64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		raw = []byte(s)
	}
	n, err := strconv.ParseUint(string(raw), 10, 64)
	return n, err == nil
}

func stringField(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, found := obj[key]
	raw = bytes.TrimSpace(raw)
	if !found || len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func isJSONObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

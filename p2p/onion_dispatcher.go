package p2p

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/KelvinWu602/forus-snode/onion"
)

// only targets with this suffix may be proxied to
const onionURLTargetSuffix = "/lsrpc"

// OnionRequestMetadata travels with one onion request through this node.
type OnionRequestMetadata struct {
	EphemeralKey onion.X25519Pubkey
	EncType      onion.EncryptType
	HopNo        int
	Callback     ResponseCallback
}

// ProcessOnionReq peels one layer of ciphertext and routes the request. data.Callback receives
// exactly one Response.
func (h *RequestHandler) ProcessOnionReq(ciphertext []byte, data OnionRequestMetadata) {
	data.Callback = replyOnce(h.name, "ProcessOnionReq", data.Callback)

	if !h.sn.Ready() {
		data.Callback(newResponse(http.StatusServiceUnavailable, "Snode not ready: "+h.sn.OwnAddress().PubkeyEd25519))
		return
	}
	logMsg(h.name, "ProcessOnionReq", fmt.Sprintf("process onion request, hop %d", data.HopNo))
	h.stats.recordOnionRequest()

	switch outcome := onion.ProcessCiphertext(h.ce, ciphertext, data.EphemeralKey, data.EncType).(type) {
	case onion.FinalDestination:
		h.processOnionFinal(outcome, data)
	case onion.RelayToNode:
		h.processOnionRelayToNode(outcome, data)
	case onion.RelayToServer:
		h.processOnionRelayToServer(outcome, data)
	case onion.CiphertextError:
		h.processOnionError(outcome, data)
	default:
		data.Callback(newResponse(http.StatusInternalServerError, "unknown onion outcome"))
	}
}

func (h *RequestHandler) processOnionFinal(info onion.FinalDestination, data OnionRequestMetadata) {
	logMsg(h.name, "processOnionFinal", "we are the final destination of the onion request")
	reply := func(res Response) {
		data.Callback(h.wrapProxyResponse(res, data.EphemeralKey, data.EncType, info.JSON, info.Base64))
	}
	if !h.sn.Ready() {
		reply(newResponse(http.StatusServiceUnavailable, "Snode not ready"))
		return
	}
	h.ProcessClientReq(info.Body, reply)
}

func (h *RequestHandler) processOnionRelayToNode(info onion.RelayToNode, data OnionRequestMetadata) {
	dest, found := h.sn.FindNode(info.Destination)
	if !found {
		msg := "Next node not found: " + info.Destination
		logWarn(h.name, "processOnionRelayToNode", msg)
		data.Callback(newResponse(http.StatusBadGateway, msg))
		return
	}
	if h.peers == nil {
		data.Callback(newResponse(http.StatusGatewayTimeout, "Request time out"))
		return
	}

	logMsg(h.name, "processOnionRelayToNode", "relay onion request to "+dest.PubkeyLegacy)
	cb := data.Callback
	h.pending.track("onion_relay", func() {
		ctx, cancel := context.WithTimeout(h.ctx, h.v.GetDuration("PEER_REQUEST_TIMEOUT"))
		defer cancel()
		parts, err := h.peers.SendOnion(ctx, dest, info.Payload, info.EphemeralKey, info.EncType, data.HopNo+1)
		if err != nil {
			logError(h.name, "processOnionRelayToNode", err, "onion relay request time out")
			cb(newResponse(http.StatusGatewayTimeout, "Request time out"))
			return
		}
		// at least [status, body]; extra parts are ignored
		if len(parts) < 2 {
			logMsg(h.name, "processOnionRelayToNode", "invalid response, expected at least 2 parts")
			cb(newResponse(http.StatusInternalServerError, "Invalid response from snode"))
			return
		}
		res := newJSONResponse(http.StatusInternalServerError, parts[1])
		if code, err := strconv.Atoi(parts[0]); err == nil {
			res.Status = code
			res.Phrase = http.StatusText(code)
		}
		if res.Status != http.StatusOK {
			logMsg(h.name, "processOnionRelayToNode", "onion request relay failed with: "+res.Body)
		}
		cb(res)
	})
}

func (h *RequestHandler) processOnionRelayToServer(info onion.RelayToServer, data OnionRequestMetadata) {
	logMsg(h.name, "processOnionRelayToServer", "forward request to url: "+info.Host+info.Target)
	if !(info.Protocol == "http" || info.Protocol == "https") || !isOnionURLTargetAllowed(info.Target) {
		data.Callback(h.wrapProxyResponse(newResponse(http.StatusBadRequest, "Invalid url"), data.EphemeralKey, data.EncType, false, true))
		return
	}
	if h.egress == nil {
		data.Callback(h.wrapProxyResponse(newResponse(http.StatusBadGateway, "egress disabled"), data.EphemeralKey, data.EncType, false, true))
		return
	}

	url := onionURL(info)
	h.stats.recordProxyRequest()
	cb := data.Callback
	h.pending.track("proxy", func() {
		var res Response
		out, err := h.egress.Post(h.ctx, url, info.Payload)
		if err != nil {
			logMsg(h.name, "processOnionRelayToServer", fmt.Sprintf("onion proxied request to %s failed: %v", url, err))
			var egressErr *EgressError
			if errors.As(err, &egressErr) && egressErr.Timeout {
				res = newResponse(http.StatusGatewayTimeout, err.Error())
			} else {
				res = newResponse(http.StatusBadGateway, err.Error())
			}
		} else {
			res = egressResponseToResponse(out)
		}
		cb(h.wrapProxyResponse(res, data.EphemeralKey, data.EncType, false, true))
	})
}

func (h *RequestHandler) processOnionError(err onion.CiphertextError, data OnionRequestMetadata) {
	switch err.Kind {
	case onion.InvalidCiphertext:
		data.Callback(newResponse(http.StatusBadRequest, "Invalid ciphertext"))
	default:
		data.Callback(h.wrapProxyResponse(newResponse(http.StatusBadRequest, "Invalid json"), data.EphemeralKey, data.EncType, false, true))
	}
}

// wrapProxyResponse encrypts res for the client that owns clientKey. With embedJSON a json body is
// embedded as is, otherwise it travels as a json string.
func (h *RequestHandler) wrapProxyResponse(res Response, clientKey onion.X25519Pubkey, encType onion.EncryptType, embedJSON bool, base64Encode bool) Response {
	var body []byte
	if embedJSON && res.isJSON() && json.Valid([]byte(res.Body)) {
		body = []byte(fmt.Sprintf(`{"status":%d,"body":%s}`, res.Status, res.Body))
	} else {
		body, _ = json.Marshal(struct {
			Status int    `json:"status"`
			Body   string `json:"body"`
		}{res.Status, res.Body})
	}

	ciphertext, err := h.ce.Encrypt(encType, body, clientKey)
	if err != nil {
		logError(h.name, "wrapProxyResponse", err, "failed to encrypt onion response")
		return newResponse(http.StatusInternalServerError, "failed to encrypt response")
	}
	out := string(ciphertext)
	if base64Encode {
		out = base64.StdEncoding.EncodeToString(ciphertext)
	}
	return newJSONResponse(http.StatusOK, out)
}

func isOnionURLTargetAllowed(target string) bool {
	return strings.HasSuffix(target, onionURLTargetSuffix)
}

// onionURL omits the port when it is the protocol default.
func onionURL(info onion.RelayToServer) string {
	var sb strings.Builder
	sb.WriteString(info.Protocol)
	sb.WriteString("://")
	sb.WriteString(info.Host)
	if info.Port != onion.DefaultPort(info.Protocol) {
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(int(info.Port)))
	}
	if !strings.HasPrefix(info.Target, "/") {
		sb.WriteString("/")
	}
	sb.WriteString(info.Target)
	return sb.String()
}

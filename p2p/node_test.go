package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KelvinWu602/forus-snode/message"
	"github.com/KelvinWu602/forus-snode/onion"
	"github.com/KelvinWu602/forus-snode/swarm"
	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNodeSeckey = strings.Repeat("5a", 32)

const testNodeConfig = `
HTTP_SERVER_LISTEN_PORT: ":0"
GRPC_SERVER_LISTEN_PORT: ":0"
DATA_DIR: %q
LOG_LEVEL: "error"
DAEMON_RPC_URL: "http://127.0.0.1:1"
FORCE_START: true
PEER_REQUEST_TIMEOUT: "2s"
SN_LEGACY_PUBKEY: %q
SN_ED25519_PUBKEY: %q
SN_X25519_SECKEY: %q
SWARMS:
  - id: 0
    nodes:
      - ip: "127.0.0.1"
        port: 22021
        rpc_port: 22020
        pubkey_legacy: %q
        pubkey_ed25519: %q
      - ip: "127.0.0.1"
        port: 1
        rpc_port: 1
        pubkey_legacy: %q
        pubkey_ed25519: %q
`

func startTestNode(t *testing.T) *Node {
	dir := t.TempDir()
	cfg := fmt.Sprintf(testNodeConfig, filepath.Join(dir, "db"),
		testSelf.PubkeyLegacy, testSelf.PubkeyEd25519, testNodeSeckey,
		testSelf.PubkeyLegacy, testSelf.PubkeyEd25519,
		testPeers[0].PubkeyLegacy, testPeers[0].PubkeyEd25519)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	node, err := StartNode(path)
	require.NoError(t, err)
	t.Cleanup(node.Shutdown)
	return node
}

func testNodeX25519(t *testing.T) onion.X25519Pubkey {
	sk, err := onion.ParseX25519Seckey(testNodeSeckey)
	require.NoError(t, err)
	pk, err := onion.PublicFromSecret(sk)
	require.NoError(t, err)
	return pk
}

func postJSON(t *testing.T, url string, body string) *resty.Response {
	t.Helper()
	resp, err := resty.New().R().SetBody(body).Post(url)
	require.NoError(t, err)
	return resp
}

// go test -run TestNodeClientAPI
func TestNodeClientAPI(t *testing.T) {
	assert := assert.New(t)
	node := startTestNode(t)
	base := "http://" + node.HTTPAddr()

	resp := postJSON(t, base+"/storage_rpc/v1", storeBody(testPubkey, "86400000", nowMs(), "over http"))
	assert.Equal(http.StatusOK, resp.StatusCode(), resp.String())
	assert.JSONEq(`{"difficulty":1}`, resp.String())
	assert.Contains(resp.Header().Get("Content-Type"), "application/json")

	resp = postJSON(t, base+"/storage_rpc/v1", fmt.Sprintf(`{"method":"retrieve","params":{"pubKey":%q,"lastHash":""}}`, testPubkey))
	assert.Equal(http.StatusOK, resp.StatusCode())
	var retrieved struct {
		Messages []retrievedMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(resp.Body(), &retrieved))
	require.Len(t, retrieved.Messages, 1)
	assert.Equal("over http", retrieved.Messages[0].Data)

	resp = postJSON(t, base+"/storage_rpc/v1", `{"method":"store"}`)
	assert.Equal(http.StatusBadRequest, resp.StatusCode())
	assert.Equal("invalid json: no `params` field\n", string(resp.Body()))

	resp, err := resty.New().R().Get(base + "/get_stats/v1")
	require.NoError(t, err)
	var stats HTTPSchemaStats
	require.NoError(t, json.Unmarshal(resp.Body(), &stats))
	assert.Equal(uint64(2), stats.ClientRequests, "requests failing to parse never reach dispatch")
	assert.Equal(uint64(1), stats.StoreRequests)
	assert.Equal(uint64(1), stats.RetrieveReqs)
	assert.Equal(uint64(1), stats.DBWrites)
	assert.True(stats.Ready)
}

// go test -run TestNodeOnionEntry
func TestNodeOnionEntry(t *testing.T) {
	assert := assert.New(t)
	node := startTestNode(t)
	url := "http://" + node.HTTPAddr() + "/onion_req/v2"

	body := fmt.Sprintf(`{"method":"get_snodes_for_pubkey","params":{"pubKey":%q}}`, testPubkey)
	req, err := onion.NewBuilder(onion.XChaCha20).
		AddHop(onion.Hop{Ed25519: testSelf.PubkeyEd25519, X25519: testNodeX25519(t)}).
		BuildForSnode([]byte(body), true, true)
	require.NoError(t, err)

	resp, err := resty.New().R().SetBody(req.Body).Post(url)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode(), resp.String())
	plain, err := req.DecryptReply(resp.Body(), true)
	require.NoError(t, err)

	var out wrapped
	require.NoError(t, json.Unmarshal(plain, &out))
	assert.Equal(http.StatusOK, out.Status)
	assert.Contains(string(out.Body), testPeers[0].PubkeyLegacy)

	resp, err = resty.New().R().SetBody([]byte("short")).Post(url)
	require.NoError(t, err)
	assert.Equal(http.StatusBadRequest, resp.StatusCode())
}

// go test -run TestNodeSwarmAndConfigs
func TestNodeSwarmAndConfigs(t *testing.T) {
	assert := assert.New(t)
	node := startTestNode(t)
	base := "http://" + node.HTTPAddr()

	resp, err := resty.New().R().Get(base + "/swarm/v1")
	require.NoError(t, err)
	var sw HTTPSchemaSwarm
	require.NoError(t, json.Unmarshal(resp.Body(), &sw))
	assert.Equal(uint64(0), sw.SwarmID)
	assert.Equal(testSelf.PubkeyLegacy, sw.Self.PubkeyLegacy)
	assert.Equal(testNodeX25519(t).Hex(), sw.Self.PubkeyX25519)
	require.Len(t, sw.Members, 1)
	assert.Equal(testPeers[0].PubkeyLegacy, sw.Members[0].PubkeyLegacy)

	resp, err = resty.New().R().Get(base + "/get_logs/v1")
	require.NoError(t, err)
	assert.Equal(http.StatusOK, resp.StatusCode())
	var logs HTTPSchemaLogs
	require.NoError(t, json.Unmarshal(resp.Body(), &logs))

	resp, err = resty.New().R().Get(base + "/configs")
	require.NoError(t, err)
	var configs map[string]any
	require.NoError(t, json.Unmarshal(resp.Body(), &configs))
	assert.Equal(true, configs["FORCE_START"])
	assert.Equal("error", configs["LOG_LEVEL"])
}

// go test -run TestNodePeerRPC
func TestNodePeerRPC(t *testing.T) {
	assert := assert.New(t)
	node := startTestNode(t)
	dest := swarm.Record{IP: "127.0.0.1", RPCPort: portOf(node.GRPCAddr())}

	client := newGRPCPeerClient()
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := client.Info(ctx, dest)
	require.NoError(t, err)
	assert.True(info.Ready)
	assert.Equal(testSelf.PubkeyLegacy, info.PubkeyLegacy)
	assert.Equal(testNodeX25519(t).Hex(), info.PubkeyX25519)

	ts := time.Now()
	params := fmt.Sprintf(`{"pubKey":%q,"ttl":86400000,"timestamp":%d,"data":"from a peer"}`, testPubkey, ts.UnixMilli())
	parts, err := client.ForwardClientRequest(ctx, dest, "store", json.RawMessage(params))
	require.NoError(t, err)
	require.Len(t, parts, 1, "success replies carry only the body")
	assert.JSONEq(`{"difficulty":1}`, parts[0])

	parts, err = client.ForwardClientRequest(ctx, dest, "fly", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal([]string{"400", "no method fly"}, parts)

	pk, err := message.ParseUserPubkey(testPubkey)
	require.NoError(t, err)
	hash := message.HashItem(pk, "from a peer", 24*time.Hour, time.UnixMilli(ts.UnixMilli()))
	reply, err := client.StorageTest(ctx, dest, 0, testPeers[0].PubkeyLegacy, hash)
	require.NoError(t, err)
	assert.Equal("success", reply.Status)
	assert.Equal("from a peer", reply.Answer)

	reply, err = client.StorageTest(ctx, dest, 0, strings.Repeat("77", 32), hash)
	require.NoError(t, err)
	assert.Equal("wrong_request", reply.Status)

	// an onion layer relayed by a previous hop
	req, err := onion.NewBuilder(onion.AESGCM).
		AddHop(onion.Hop{Ed25519: testSelf.PubkeyEd25519, X25519: testNodeX25519(t)}).
		BuildForSnode([]byte(`{"method":"fly","params":{}}`), true, true)
	require.NoError(t, err)
	ciphertext, key, encType, err := onion.ParseEntryRequest(req.Body)
	require.NoError(t, err)
	parts, err = client.SendOnion(ctx, dest, ciphertext, key, encType, 1)
	require.NoError(t, err)
	require.Len(t, parts, 2, "onion replies always carry the status")
	assert.Equal("200", parts[0])
	plain, err := req.DecryptReply([]byte(parts[1]), true)
	require.NoError(t, err)
	assert.Contains(string(plain), `"status":400`)
}

// go test -run TestNodeShutdownIsIdempotent
func TestNodeShutdownIsIdempotent(t *testing.T) {
	node := startTestNode(t)
	node.Shutdown()
	node.Shutdown()
	assert.True(t, node.sn.ShuttingDown())
	assert.False(t, node.sn.Ready())
}

// go test -run TestNodeShutdownAnswersStorageTest
func TestNodeShutdownAnswersStorageTest(t *testing.T) {
	assert := assert.New(t)
	node := startTestNode(t)
	dest := swarm.Record{IP: "127.0.0.1", RPCPort: portOf(node.GRPCAddr())}

	client := newGRPCPeerClient()
	defer client.Close()

	// unknown hash from a swarm member keeps retrying for STORAGE_TEST_RETRY_PERIOD
	type result struct {
		reply *StorageTestReply
		err   error
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan result, 1)
	go func() {
		reply, err := client.StorageTest(ctx, dest, 0, testPeers[0].PubkeyLegacy, strings.Repeat("cd", 64))
		done <- result{reply, err}
	}()
	assert.Eventually(func() bool { return node.timers.timers.getSize() == 1 }, 2*time.Second, 5*time.Millisecond)

	started := time.Now()
	node.Shutdown()
	assert.Less(time.Since(started), shutdownGracePeriod)

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal("retry", res.reply.Status)
		assert.Empty(res.reply.Answer)
	case <-time.After(2 * time.Second):
		t.Fatal("storage test rpc still blocked after shutdown")
	}
}

package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/KelvinWu602/forus-snode/daemon"
	"github.com/KelvinWu602/forus-snode/message"
	"github.com/KelvinWu602/forus-snode/onion"
	"github.com/KelvinWu602/forus-snode/storage"
	"github.com/KelvinWu602/forus-snode/swarm"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
)

const shutdownGracePeriod = 5 * time.Second

type Node struct {
	name string
	v    *viper.Viper

	ctx    context.Context
	cancel context.CancelFunc

	dir     *swarm.Directory
	db      *storage.DB
	sn      *serviceNode
	handler *RequestHandler
	peers   *grpcPeerClient
	daemon  *daemon.Client
	timers  *tickerTimers
	pending *pendingRequests
	stats   *Stats

	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener

	shutdownOnce sync.Once
}

// MakeServerAndStart starts a node configured by ./config.yaml when present, defaults and SNODE_ env
// vars otherwise.
func MakeServerAndStart() *Node {
	path := ""
	if fileExists("config.yaml") {
		path = "config.yaml"
	}
	return StartNodeInternal(path)
}

// StartNodeInternal starts a node and exits the process if it cannot.
func StartNodeInternal(configFilePath string) *Node {
	node, err := StartNode(configFilePath)
	if err != nil {
		logger.Fatalf("failed to start node: %v", err)
	}
	return node
}

// StartNode loads the config, our keys and the swarm topology, opens storage, then starts the HTTP and
// grpc servers and the background workers.
func StartNode(configFilePath string) (*Node, error) {
	v, err := newConfig(configFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", configFilePath, err)
	}
	setLogLevel(v.GetString("LOG_LEVEL"))
	message.UseTestnet(v.GetBool("TESTNET"))

	ctx, cancel := context.WithCancel(context.Background())
	node := &Node{
		name:    "node",
		v:       v,
		ctx:     ctx,
		cancel:  cancel,
		daemon:  daemon.NewClient(v.GetString("DAEMON_RPC_URL"), v.GetDuration("DAEMON_REQUEST_TIMEOUT")),
		pending: newPendingRequests(),
		stats:   &Stats{},
		peers:   newGRPCPeerClient(),
	}
	node.timers = newTickerTimers(node.pending)
	daemon.SetLogger(logger)

	if err := node.start(); err != nil {
		node.Shutdown()
		return nil, err
	}
	return node, nil
}

func (node *Node) start() error {
	self, ce, err := node.loadKeys()
	if err != nil {
		return err
	}
	var swarms []swarm.Info
	if err := node.v.UnmarshalKey("SWARMS", &swarms); err != nil {
		return fmt.Errorf("invalid SWARMS config: %w", err)
	}
	node.dir = swarm.NewDirectory(self, swarms)
	logMsg(node.name, "start", fmt.Sprintf("joined swarm %d with %d peers", node.dir.OurSwarm(), len(node.dir.Peers())))

	node.db, err = storage.Open(storage.Config{
		Path:     node.v.GetString("DATA_DIR"),
		InMemory: node.v.GetBool("STORAGE_IN_MEMORY"),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	node.sn = newServiceNode(node.dir, node.db, node.v.GetBool("FORCE_START"))

	node.handler = NewRequestHandler(node.ctx, node.name, node.v, node.sn, ce, RequestHandlerDeps{
		Peers:   node.peers,
		Egress:  newRestyEgress(egressTimeout(node.v)),
		Daemon:  node.daemon,
		Timers:  node.timers,
		Pending: node.pending,
		Stats:   node.stats,
	})

	if err := node.startGRPCServer(); err != nil {
		return err
	}
	if err := node.startHTTPServer(); err != nil {
		return err
	}

	go node.sweepPendingRequestsWorker(node.v.GetDuration("PENDING_REQUEST_SWEEP_INTERVAL"))
	go node.pollBlockHeightWorker(node.v.GetDuration("BLOCK_HEIGHT_POLL_INTERVAL"))
	return nil
}

// loadKeys uses the keys from the config when an x25519 secret key is configured, otherwise it waits for
// the daemon to hand them out.
func (node *Node) loadKeys() (swarm.Record, *onion.ChannelEncryption, error) {
	self := swarm.Record{
		IP:            node.v.GetString("PUBLIC_IP"),
		Port:          portOf(node.v.GetString("HTTP_SERVER_LISTEN_PORT")),
		RPCPort:       portOf(node.v.GetString("GRPC_SERVER_LISTEN_PORT")),
		PubkeyLegacy:  node.v.GetString("SN_LEGACY_PUBKEY"),
		PubkeyEd25519: node.v.GetString("SN_ED25519_PUBKEY"),
	}
	seckeyHex := node.v.GetString("SN_X25519_SECKEY")

	if seckeyHex == "" {
		privkeys, err := node.daemon.ServiceNodePrivkeys(node.ctx, node.v.GetDuration("DAEMON_KEYS_RETRY_INTERVAL"))
		if err != nil {
			return swarm.Record{}, nil, err
		}
		pubkeys, err := node.daemon.ServiceNodePubkeys(node.ctx)
		if err != nil {
			return swarm.Record{}, nil, err
		}
		seckeyHex = privkeys.X25519
		self.PubkeyLegacy = pubkeys.Legacy
		self.PubkeyEd25519 = pubkeys.Ed25519
	}

	seckey, err := onion.ParseX25519Seckey(seckeyHex)
	if err != nil {
		return swarm.Record{}, nil, fmt.Errorf("invalid x25519 secret key: %w", err)
	}
	ce, err := onion.NewChannelEncryption(seckey, true)
	if err != nil {
		return swarm.Record{}, nil, err
	}
	self.PubkeyX25519 = ce.PublicKey().Hex()
	logMsg(node.name, "loadKeys", "x25519 pubkey: "+self.PubkeyX25519)
	return self, ce, nil
}

func (node *Node) startGRPCServer() error {
	lis, err := net.Listen("tcp", node.v.GetString("GRPC_SERVER_LISTEN_PORT"))
	if err != nil {
		return fmt.Errorf("failed to listen grpc: %w", err)
	}
	node.grpcListener = lis
	node.grpcServer = newGRPCServer(&grpcPeerHandler{h: node.handler, sn: node.sn})
	go func() {
		logMsg(node.name, "startGRPCServer", "grpc server listening on "+lis.Addr().String())
		if err := node.grpcServer.Serve(lis); err != nil {
			logError(node.name, "startGRPCServer", err, "grpc server stopped")
		}
	}()
	return nil
}

func (node *Node) startHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/storage_rpc/v1", node.handlePostStorageRPC)
	router.POST("/onion_req/v2", node.handlePostOnionReq)
	router.GET("/get_stats/v1", node.handleGetStats)
	router.GET("/get_logs/v1", node.handleGetLogs)
	router.GET("/swarm/v1", node.handleGetSwarm)
	router.GET("/configs", node.handleGetConfigs)

	addr := node.v.GetString("HTTP_SERVER_LISTEN_PORT")
	if !node.v.GetBool("HTTP_SERVER_LISTEN_ALL") {
		addr = "127.0.0.1" + addr
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen http: %w", err)
	}
	node.httpListener = lis
	node.httpServer = &http.Server{Handler: router}
	go func() {
		logMsg(node.name, "startHTTPServer", "http server listening on "+lis.Addr().String())
		if err := node.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logError(node.name, "startHTTPServer", err, "http server stopped")
		}
	}()
	return nil
}

// HTTPAddr is where the client API listens, useful when it was configured with port 0.
func (node *Node) HTTPAddr() string {
	if node.httpListener == nil {
		return ""
	}
	return node.httpListener.Addr().String()
}

func (node *Node) GRPCAddr() string {
	if node.grpcListener == nil {
		return ""
	}
	return node.grpcListener.Addr().String()
}

// Shutdown stops accepting requests, lets in flight work finish for a grace period and closes storage.
// It is safe to call more than once.
func (node *Node) Shutdown() {
	node.shutdownOnce.Do(func() {
		logMsg(node.name, "Shutdown", "shutting down")
		if node.sn != nil {
			node.sn.shuttingDown.Store(true)
		}
		node.timers.finishAll()

		if node.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
			if err := node.httpServer.Shutdown(ctx); err != nil {
				logError(node.name, "Shutdown", err, "http server shutdown")
			}
			cancel()
		}
		if node.grpcServer != nil {
			node.grpcServer.GracefulStop()
		}
		node.cancel()
		if !node.pending.wait(shutdownGracePeriod) {
			logWarn(node.name, "Shutdown", fmt.Sprintf("pending requests left: %v", node.pending.countByKind()))
		}
		node.peers.Close()
		if node.db != nil {
			if err := node.db.Close(); err != nil {
				logError(node.name, "Shutdown", err, "failed to close storage")
			}
		}
	})
}

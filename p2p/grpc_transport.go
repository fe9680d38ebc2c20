package p2p

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/KelvinWu602/forus-snode/onion"
	"github.com/KelvinWu602/forus-snode/swarm"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/peer"
)

// Peers talk grpc with a json codec, so no generated code is needed.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

var errBadArgs = errors.New("forwarded request needs [method, params]")

// server side
// ==========================================

type peerServer interface {
	OnionRequest(context.Context, *OnionRelayRequest) (*PeerReply, error)
	StorageTest(context.Context, *StorageTestRequest) (*StorageTestReply, error)
	ClientRequest(context.Context, *ClientRequest) (*PeerReply, error)
	Info(context.Context, *InfoRequest) (*InfoReply, error)
}

func unaryHandler[REQ any, RESP any](method string, call func(peerServer, context.Context, *REQ) (*RESP, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(REQ)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(peerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/snode.Peer/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(peerServer), ctx, req.(*REQ))
			})
		},
	}
}

var peerServiceDesc = grpc.ServiceDesc{
	ServiceName: "snode.Peer",
	HandlerType: (*peerServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("OnionRequest", peerServer.OnionRequest),
		unaryHandler("StorageTest", peerServer.StorageTest),
		unaryHandler("ClientRequest", peerServer.ClientRequest),
		unaryHandler("Info", peerServer.Info),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "snode/peer",
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok {
		return p.Addr.String()
	}
	return "unknown"
}

func newGRPCServer(impl peerServer) *grpc.Server {
	s := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	s.RegisterService(&peerServiceDesc, impl)
	return s
}

// grpcPeerHandler answers peers by feeding their requests into a RequestHandler.
type grpcPeerHandler struct {
	h  *RequestHandler
	sn *serviceNode
}

func (p *grpcPeerHandler) OnionRequest(ctx context.Context, req *OnionRelayRequest) (*PeerReply, error) {
	reply := make(chan Response, 1)
	respond := func(res Response) { reply <- res }

	key, err := onion.ParseX25519Pubkey(req.EphemeralKey)
	if err != nil {
		logProtocolMessageHandlerError("OnionRequest", peerAddr(ctx), err, req.EphemeralKey)
		respond(newResponse(http.StatusBadRequest, "invalid ephemeral key"))
	} else if encType, err := onion.ParseEncryptType(req.EncType); err != nil {
		logProtocolMessageHandlerError("OnionRequest", peerAddr(ctx), err, req.EncType)
		respond(newResponse(http.StatusBadRequest, "invalid enc_type"))
	} else {
		p.h.ProcessOnionReq(req.Payload, OnionRequestMetadata{
			EphemeralKey: key,
			EncType:      encType,
			HopNo:        req.HopNo,
			Callback:     respond,
		})
	}

	select {
	case res := <-reply:
		return &PeerReply{Parts: []string{strconv.Itoa(res.Status), res.Body}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *grpcPeerHandler) StorageTest(ctx context.Context, req *StorageTestRequest) (*StorageTestReply, error) {
	reply := make(chan *StorageTestReply, 1)
	p.h.ProcessStorageTestReq(req.Height, req.Tester, req.Hash, func(status MessageTestStatus, answer string, elapsed time.Duration) {
		reply <- &StorageTestReply{Status: status.String(), Answer: answer, ElapsedMs: elapsed.Milliseconds()}
	})
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *grpcPeerHandler) ClientRequest(ctx context.Context, req *ClientRequest) (*PeerReply, error) {
	if len(req.Args) < 2 {
		logProtocolMessageHandlerError("ClientRequest", peerAddr(ctx), errBadArgs, req.Args)
		return &PeerReply{Parts: []string{strconv.Itoa(http.StatusBadRequest), errBadArgs.Error()}}, nil
	}
	reply := make(chan Response, 1)
	p.h.Dispatch(req.Args[0], json.RawMessage(req.Args[1]), true, func(res Response) { reply <- res })
	select {
	case res := <-reply:
		if res.Status == http.StatusOK {
			return &PeerReply{Parts: []string{res.Body}}, nil
		}
		return &PeerReply{Parts: []string{strconv.Itoa(res.Status), res.Body}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *grpcPeerHandler) Info(_ context.Context, _ *InfoRequest) (*InfoReply, error) {
	self := p.sn.OwnAddress()
	return &InfoReply{
		PubkeyLegacy:  self.PubkeyLegacy,
		PubkeyEd25519: self.PubkeyEd25519,
		PubkeyX25519:  self.PubkeyX25519,
		Ready:         p.sn.Ready(),
		Height:        p.sn.BlockHeight(),
	}, nil
}

// client side
// ==========================================

// grpcPeerClient implements PeerTransport. Connections are dialed lazily and kept per address.
type grpcPeerClient struct {
	conns *MutexMap[string, *grpc.ClientConn]
}

func newGRPCPeerClient() *grpcPeerClient {
	return &grpcPeerClient{conns: NewMutexMap[string, *grpc.ClientConn]()}
}

func (c *grpcPeerClient) conn(addr string) (*grpc.ClientConn, error) {
	return c.conns.getOrSet(addr, func() (*grpc.ClientConn, error) {
		return grpc.Dial(addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
		)
	})
}

func (c *grpcPeerClient) invoke(ctx context.Context, dest swarm.Record, method string, in any, out any) error {
	conn, err := c.conn(dest.RPCAddr())
	if err != nil {
		return err
	}
	return conn.Invoke(ctx, "/snode.Peer/"+method, in, out)
}

func (c *grpcPeerClient) SendOnion(ctx context.Context, dest swarm.Record, payload []byte, ephemKey onion.X25519Pubkey, encType onion.EncryptType, hopNo int) ([]string, error) {
	out := new(PeerReply)
	err := c.invoke(ctx, dest, "OnionRequest", &OnionRelayRequest{
		Payload:      payload,
		EphemeralKey: ephemKey.Hex(),
		EncType:      encType.String(),
		HopNo:        hopNo,
	}, out)
	if err != nil {
		return nil, err
	}
	return out.Parts, nil
}

func (c *grpcPeerClient) ForwardClientRequest(ctx context.Context, dest swarm.Record, method string, params json.RawMessage) ([]string, error) {
	out := new(PeerReply)
	if err := c.invoke(ctx, dest, "ClientRequest", &ClientRequest{Args: []string{method, string(params)}}, out); err != nil {
		return nil, err
	}
	return out.Parts, nil
}

func (c *grpcPeerClient) StorageTest(ctx context.Context, dest swarm.Record, height uint64, tester string, hash string) (*StorageTestReply, error) {
	out := new(StorageTestReply)
	if err := c.invoke(ctx, dest, "StorageTest", &StorageTestRequest{Height: height, Tester: tester, Hash: hash}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *grpcPeerClient) Info(ctx context.Context, dest swarm.Record) (*InfoReply, error) {
	out := new(InfoReply)
	if err := c.invoke(ctx, dest, "Info", &InfoRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *grpcPeerClient) Close() {
	c.conns.deleteIf(func(addr string, conn *grpc.ClientConn) bool {
		if err := conn.Close(); err != nil {
			logError("grpcPeerClient", "Close", err, "failed to close connection to "+addr)
		}
		return true
	})
}

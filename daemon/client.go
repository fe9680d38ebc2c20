// Package daemon talks to the local chain daemon over its JSON-RPC interface.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func SetLogger(l *logrus.Logger) {
	if l != nil {
		log = l
	}
}

var (
	ErrNoPrivkey   = errors.New("service node private key is empty")
	ErrRPCResponse = errors.New("unexpected daemon rpc response")
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Client is a JSON-RPC client for the chain daemon.
type Client struct {
	http *resty.Client
}

// NewClient creates a client posting to <baseURL>/json_rpc with the given per request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// Request calls endpoint and returns the reply as parts: ["200", result] on success, or
// [code, message] when the daemon or the transport failed. params may be nil.
func (c *Client) Request(ctx context.Context, endpoint string, params json.RawMessage) ([]string, error) {
	result, err := c.call(ctx, endpoint, params)
	if err != nil {
		var re *rpcError
		if errors.As(err, &re) {
			return []string{strconv.Itoa(re.Code), re.Message}, nil
		}
		return nil, err
	}
	return []string{"200", string(result)}, nil
}

// GetInfo returns the current chain height.
func (c *Client) GetInfo(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "get_info", nil)
	if err != nil {
		return 0, err
	}
	var info struct {
		Height uint64 `json:"height"`
	}
	if err := json.Unmarshal(result, &info); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRPCResponse, err)
	}
	return info.Height, nil
}

// Privkeys are the service node secret keys, hex encoded.
type Privkeys struct {
	Legacy  string `json:"service_node_privkey"`
	Ed25519 string `json:"service_node_ed25519_privkey"`
	X25519  string `json:"service_node_x25519_privkey"`
}

// ServiceNodePrivkeys asks the daemon for our keys, retrying every retryInterval until it succeeds or
// ctx is cancelled.
func (c *Client) ServiceNodePrivkeys(ctx context.Context, retryInterval time.Duration) (Privkeys, error) {
	log.Info("retrieving service node keys from the daemon")
	for {
		keys, err := c.privkeys(ctx)
		if err == nil {
			log.Info("retrieved service node keys")
			return keys, nil
		}
		log.Errorf("error retrieving private keys from the daemon: %v; retrying in %v", err, retryInterval)
		select {
		case <-ctx.Done():
			return Privkeys{}, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Pubkeys are the service node public keys, hex encoded.
type Pubkeys struct {
	Legacy  string `json:"service_node_pubkey"`
	Ed25519 string `json:"service_node_ed25519_pubkey"`
	X25519  string `json:"service_node_x25519_pubkey"`
}

func (c *Client) ServiceNodePubkeys(ctx context.Context) (Pubkeys, error) {
	result, err := c.call(ctx, "get_service_node_key", nil)
	if err != nil {
		return Pubkeys{}, err
	}
	var keys Pubkeys
	if err := json.Unmarshal(result, &keys); err != nil {
		return Pubkeys{}, fmt.Errorf("%w: %v", ErrRPCResponse, err)
	}
	return keys, nil
}

func (c *Client) privkeys(ctx context.Context) (Privkeys, error) {
	result, err := c.call(ctx, "get_service_node_privkey", nil)
	if err != nil {
		return Privkeys{}, err
	}
	var keys Privkeys
	if err := json.Unmarshal(result, &keys); err != nil {
		return Privkeys{}, fmt.Errorf("%w: %v", ErrRPCResponse, err)
	}
	if keys.Legacy == "" {
		return Privkeys{}, ErrNoPrivkey
	}
	return keys, nil
}

func (c *Client) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	var out rpcResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(rpcRequest{JSONRPC: "2.0", ID: "0", Method: method, Params: params}).
		SetResult(&out).
		Post("/json_rpc")
	if err != nil {
		return nil, fmt.Errorf("daemon rpc %s: %w", method, err)
	}
	if resp.IsError() {
		return nil, &rpcError{Code: resp.StatusCode(), Message: resp.String()}
	}
	if out.Error != nil {
		return nil, out.Error
	}
	if len(out.Result) == 0 {
		return nil, fmt.Errorf("%w: empty result for %s", ErrRPCResponse, method)
	}
	return out.Result, nil
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("daemon rpc error %d: %s", e.Code, e.Message)
}

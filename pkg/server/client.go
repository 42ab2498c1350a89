package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/entangled-chain/node/pkg/protocol"
)

// HTTPPeerClient implements node.PeerClient over the protocol surface this
// package serves. It is the transport that carries the already-defined
// semantic protocol messages, kept separate from that semantic layer.
type HTTPPeerClient struct {
	httpClient *http.Client
}

// NewHTTPPeerClient builds an HTTPPeerClient. The caller is responsible for
// bounding each call with a context deadline; this client does not impose
// its own.
func NewHTTPPeerClient() *HTTPPeerClient {
	return &HTTPPeerClient{httpClient: &http.Client{}}
}

func (c *HTTPPeerClient) do(ctx context.Context, method, url string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("peer call to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer %s returned status %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}

func (c *HTTPPeerClient) NodeInfo(ctx context.Context, peerURL string) (protocol.NodeInfo, error) {
	var info protocol.NodeInfo
	err := c.do(ctx, http.MethodGet, peerURL+"/node_info", nil, &info)
	return info, err
}

func (c *HTTPPeerClient) EntanglementRequest(ctx context.Context, peerURL string, req protocol.EntanglementRequest) error {
	return c.do(ctx, http.MethodPost, peerURL+"/entanglement_request", req, nil)
}

func (c *HTTPPeerClient) ReceivePairKey(ctx context.Context, peerURL string, key int) error {
	return c.do(ctx, http.MethodPost, peerURL+"/receive_pair_key", protocol.ReceivePairKeyRequest{Key: key}, nil)
}

func (c *HTTPPeerClient) ReceivePeers(ctx context.Context, peerURL string, peers map[string]string) error {
	return c.do(ctx, http.MethodPost, peerURL+"/receive_peers", protocol.ReceivePeersRequest(peers), nil)
}

func (c *HTTPPeerClient) ReceiveTransaction(ctx context.Context, peerURL string, tx protocol.TransactionEnvelope) error {
	return c.do(ctx, http.MethodPost, peerURL+"/receive_transaction", tx, nil)
}

func (c *HTTPPeerClient) ReceivePrediction(ctx context.Context, peerURL, nodeID string, prediction int) error {
	return c.do(ctx, http.MethodPost, peerURL+"/receive_prediction", protocol.ReceivePredictionRequest{NodeID: nodeID, Prediction: prediction}, nil)
}

func (c *HTTPPeerClient) ReceiveScore(ctx context.Context, peerURL, nodeID string, score int) error {
	return c.do(ctx, http.MethodPost, peerURL+"/receive_score", protocol.ReceiveScoreRequest{NodeID: nodeID, Score: score}, nil)
}

func (c *HTTPPeerClient) ReceiveBlocks(ctx context.Context, peerURL string, req protocol.ReceiveBlocksRequest) error {
	return c.do(ctx, http.MethodPost, peerURL+"/receive_blocks", req, nil)
}

func (c *HTTPPeerClient) Blockchain(ctx context.Context, peerURL string) (protocol.BlockchainSnapshot, error) {
	var snap protocol.BlockchainSnapshot
	err := c.do(ctx, http.MethodGet, peerURL+"/blockchain", nil, &snap)
	return snap, err
}

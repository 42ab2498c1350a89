// Package protocol defines the named request/response shapes exchanged
// between peers. The transport (pkg/server) marshals these to and from JSON;
// this package carries no transport-specific code.
package protocol

import (
	"github.com/entangled-chain/node/pkg/block"
	"github.com/entangled-chain/node/pkg/txn"
	"github.com/google/uuid"
)

// RunNodeRequest is the body of POST /run_node.
type RunNodeRequest struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
	URL  string `json:"url"`
}

// NodeInfo is the full node snapshot returned by GET /node_info.
type NodeInfo struct {
	NodeID           string            `json:"node_id"`
	URL              string            `json:"url"`
	Peers            map[string]string `json:"peers"`
	EntangledPairID  string            `json:"entangled_pair_id,omitempty"`
	Key              int               `json:"key,omitempty"`
	EntangledPairKey int               `json:"entangled_pair_key,omitempty"`
}

// EntanglementRequest is the body of POST /entanglement_request. RequestID is
// a correlation id for this exchange: the recipient logs it when it accepts
// the pairing, and the requester logs it when the call fails.
type EntanglementRequest struct {
	RemotePeerID string `json:"remote_peer_id"`
	RequestID    string `json:"request_id"`
}

// ReceivePairKeyRequest is the body of POST /receive_pair_key.
type ReceivePairKeyRequest struct {
	Key int `json:"key"`
}

// ReceivePeersRequest is the body of POST /receive_peers: peer_id -> url.
type ReceivePeersRequest map[string]string

// ReceivePredictionRequest is the body of POST /receive_prediction.
type ReceivePredictionRequest struct {
	NodeID     string `json:"node_id"`
	Prediction int    `json:"prediction"`
}

// ReceiveScoreRequest is the body of POST /receive_score.
type ReceiveScoreRequest struct {
	NodeID string `json:"node_id"`
	Score  int    `json:"score"`
}

// ReceiveBlocksRequest is the body of POST /receive_blocks: the full pair.
type ReceiveBlocksRequest struct {
	Block          *block.Block          `json:"block"`
	CoherenceBlock *block.CoherenceBlock `json:"coherence_block"`
	EntangledHash  string                `json:"entangled_hash"`
	NodeID         string                `json:"node_id"`
}

// BlockchainSnapshot is the body returned by GET /blockchain.
type BlockchainSnapshot struct {
	Chain          []*block.Block          `json:"chain"`
	CoherenceChain []*block.CoherenceBlock `json:"coherence_chain"`
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewRequestID returns a fresh correlation id for an outbound request. Node
// identity is never derived from this; see pkg/node for identity assignment.
func NewRequestID() string {
	return uuid.NewString()
}

// TransactionEnvelope is accepted by /add_transaction and /receive_transaction.
type TransactionEnvelope = txn.Transaction

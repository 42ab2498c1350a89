package node

import (
	"context"
	"time"

	"github.com/entangled-chain/node/pkg/protocol"
)

// PeerCallTimeout bounds every outbound peer call. Timeouts and connection
// errors are best-effort: the caller logs and continues rather than
// propagating a fatal error, matching the single blocking-point rule of the
// concurrency model.
const PeerCallTimeout = 5 * time.Second

// PeerClient is the semantic boundary to the peer-to-peer transport. The
// concrete implementation (HTTP, in pkg/server) is an external collaborator;
// this package only depends on the interface so its consensus and pairing
// logic can be exercised without a network.
type PeerClient interface {
	NodeInfo(ctx context.Context, peerURL string) (protocol.NodeInfo, error)
	EntanglementRequest(ctx context.Context, peerURL string, req protocol.EntanglementRequest) error
	ReceivePairKey(ctx context.Context, peerURL string, key int) error
	ReceivePeers(ctx context.Context, peerURL string, peers map[string]string) error
	ReceiveTransaction(ctx context.Context, peerURL string, tx protocol.TransactionEnvelope) error
	ReceivePrediction(ctx context.Context, peerURL string, nodeID string, prediction int) error
	ReceiveScore(ctx context.Context, peerURL string, nodeID string, score int) error
	ReceiveBlocks(ctx context.Context, peerURL string, req protocol.ReceiveBlocksRequest) error
	Blockchain(ctx context.Context, peerURL string) (protocol.BlockchainSnapshot, error)
}

// withTimeout wraps ctx with PeerCallTimeout, the sole blocking-point
// contract every outbound call in this package honors.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, PeerCallTimeout)
}

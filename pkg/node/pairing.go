package node

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/entangled-chain/node/pkg/protocol"
)

// FindPair queries every peer's node_info, collects those with no entangled
// partner, picks one uniformly at random, marks it as this node's partner,
// and sends it an entanglement_request. Pairing is symmetric and irrevocable
// for the node's lifetime: a second call on an already-paired node fails.
func (n *Node) FindPair(ctx context.Context) error {
	n.mu.Lock()
	if n.entangledPairID != "" {
		n.mu.Unlock()
		return ErrAlreadyPaired
	}
	peers := make(map[string]string, len(n.peers))
	for id, url := range n.peers {
		peers[id] = url
	}
	selfID := n.nodeID
	n.mu.Unlock()

	var candidates []string
	for id, url := range peers {
		if id == selfID {
			continue
		}
		callCtx, cancel := withTimeout(ctx)
		info, err := n.peerClient.NodeInfo(callCtx, url)
		cancel()
		if err != nil {
			n.logger.Printf("find_pair: node_info from %s failed: %v", id, err)
			continue
		}
		if info.EntangledPairID == "" {
			candidates = append(candidates, id)
		}
	}

	if len(candidates) == 0 {
		return ErrNoUnpairedPeers
	}

	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(candidates))))
	if err != nil {
		return fmt.Errorf("select pairing candidate: %w", err)
	}
	chosenID := candidates[idx.Int64()]
	chosenURL := peers[chosenID]

	n.mu.Lock()
	if n.entangledPairID != "" {
		n.mu.Unlock()
		return ErrAlreadyPaired
	}
	n.entangledPairID = chosenID
	n.mu.Unlock()

	requestID := protocol.NewRequestID()
	callCtx, cancel := withTimeout(ctx)
	err = n.peerClient.EntanglementRequest(callCtx, chosenURL, protocol.EntanglementRequest{RemotePeerID: selfID, RequestID: requestID})
	cancel()
	if err != nil {
		n.logger.Printf("find_pair[%s]: entanglement_request to %s failed: %v", requestID, chosenID, err)
	}
	n.metrics.setPaired(true)
	return nil
}

// HandleEntanglementRequest is the responder side of pairing. requesterID
// must already, per the requester's own node_info, point its
// entangled_pair_id at this node; that is verified with a callback before
// accepting, so a request cannot unilaterally pair a node. requestID is
// logged only, to correlate this exchange with the requester's own logs.
func (n *Node) HandleEntanglementRequest(ctx context.Context, requesterID, requesterURL, requestID string) error {
	n.mu.Lock()
	alreadyPaired := n.entangledPairID != ""
	selfID := n.nodeID
	n.mu.Unlock()
	if alreadyPaired {
		return ErrAlreadyPaired
	}

	callCtx, cancel := withTimeout(ctx)
	info, err := n.peerClient.NodeInfo(callCtx, requesterURL)
	cancel()
	if err != nil {
		return fmt.Errorf("verify requester: %w", err)
	}
	if info.EntangledPairID != selfID {
		return fmt.Errorf("requester %s does not point its pairing at this node", requesterID)
	}

	n.mu.Lock()
	if n.entangledPairID != "" {
		n.mu.Unlock()
		return ErrAlreadyPaired
	}
	n.entangledPairID = requesterID
	n.mu.Unlock()
	n.metrics.setPaired(true)
	n.logger.Printf("entanglement_request[%s]: paired with %s", requestID, requesterID)
	return nil
}

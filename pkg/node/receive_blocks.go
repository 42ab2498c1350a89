package node

import (
	"github.com/entangled-chain/node/pkg/block"
	"github.com/entangled-chain/node/pkg/consensus"
)

// ReceiveBlocks handles an inbound (Block, CoherenceBlock) pair broadcast by
// the winner of a round. If fewer than half of this node's peers have
// contributed both a prediction and a score locally, the sender is
// penalized: it claims to have won a round this node never observed enough
// of. The pair is otherwise validated against the current chain tip and,
// if acceptable, appended; any other mismatch is a silent rejection.
func (n *Node) ReceiveBlocks(senderID string, incomingBlock *block.Block, incomingCoherence *block.CoherenceBlock, entangledHash string) {
	n.mu.Lock()
	peerCount := len(n.peers)
	predictionCount := len(n.consensusPredictions)
	scoreCount := len(n.predictionScores)
	n.mu.Unlock()

	if 2*predictionCount < peerCount || 2*scoreCount < peerCount {
		n.penalize(senderID)
	}

	chain := n.chain.Chain()
	coherenceChain := n.chain.CoherenceChain()
	entangled := n.chain.EntangledBlocks()

	candidateChain := append(append([]*block.Block(nil), chain...), incomingBlock)
	candidateCoherence := append(append([]*block.CoherenceBlock(nil), coherenceChain...), incomingCoherence)
	candidateEntangled := make(map[string]consensus.EntangledPair, len(entangled)+1)
	for k, v := range entangled {
		candidateEntangled[k] = v
	}
	candidateEntangled[entangledHash] = consensus.EntangledPair{Block: incomingBlock, CoherenceBlock: incomingCoherence}

	if !consensus.ValidateChain(candidateChain, candidateCoherence, candidateEntangled) {
		return
	}

	n.chain.AppendBlocks(incomingBlock, incomingCoherence, entangledHash)
	n.clearActual()
	n.resetRound()
}

package node

import (
	"context"

	"github.com/entangled-chain/node/pkg/consensus"
	"github.com/entangled-chain/node/pkg/protocol"
)

// maxScoreRetries bounds the BlockGen<->ScoreBroadcast retry loop: a bounded
// retry keeps a single bad coherence_key draw from looping forever.
const maxScoreRetries = 16

// MaybeStartRound transitions Idle->KeyGen when the mempool has reached the
// transaction limit. It is a no-op outside of StateIdle or below the limit.
func (n *Node) MaybeStartRound(ctx context.Context) error {
	n.mu.Lock()
	idle := n.state == StateIdle
	n.mu.Unlock()
	if !idle {
		return nil
	}
	if n.chain.MempoolLen() < n.chain.TransactionLimit() {
		return nil
	}
	return n.runRound(ctx)
}

// runRound drives Idle->KeyGen->BlockGen->PredictionBroadcast->ScoreBroadcast,
// then enters AwaitQuorum, resolving the round at once if quorum is already
// reached. Score invalidity restarts BlockGen up to maxScoreRetries times
// before the round is abandoned.
func (n *Node) runRound(ctx context.Context) error {
	n.logStateTransition(StateKeyGen)
	if err := n.GenerateAndPostKey(ctx); err != nil {
		n.resetRound()
		return err
	}

	for attempt := 0; attempt < maxScoreRetries; attempt++ {
		n.logStateTransition(StateBlockGen)

		selfID, pairID, key, pairKey := n.identitySnapshot()
		b, cb, err := n.chain.CreateBlock(selfID, pairID, key, pairKey)
		if err != nil {
			n.resetRound()
			return err
		}
		entangledHash := consensus.Entangle(b, cb)
		cb.EntangledHash = entangledHash
		b.CoherenceBlockHash = cb.Hash

		n.mu.Lock()
		n.actualBlock, n.actualCoherenceBlock, n.actualEntangledHash = b, cb, entangledHash
		n.mu.Unlock()

		n.logStateTransition(StatePredictionBroadcast)
		prediction, err := consensus.GeneratePrediction(selfID, pairID)
		if err != nil {
			n.resetRound()
			return err
		}
		n.recordPrediction(selfID, prediction)
		n.broadcastPrediction(ctx, selfID, prediction)

		score := consensus.ComputeScore(prediction, 0, key, pairKey, cb.CoherenceKey)
		if !score.Valid {
			continue
		}

		n.logStateTransition(StateScoreBroadcast)
		n.recordScore(selfID, score.Value)
		n.broadcastScore(ctx, selfID, score.Value)

		n.logStateTransition(StateAwaitQuorum)
		n.checkQuorumAndResolve(ctx)
		return nil
	}

	n.resetRound()
	return errConsensusIncomplete
}

func (n *Node) identitySnapshot() (selfID, pairID string, key, pairKey int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nodeID, n.entangledPairID, n.key, n.entangledPairKey
}

func (n *Node) broadcastPrediction(ctx context.Context, selfID string, prediction int) {
	for id, url := range n.Peers() {
		if id == selfID {
			continue
		}
		callCtx, cancel := withTimeout(ctx)
		if err := n.peerClient.ReceivePrediction(callCtx, url, selfID, prediction); err != nil {
			n.logger.Printf("broadcast prediction to %s failed: %v", id, err)
		}
		cancel()
	}
}

func (n *Node) broadcastScore(ctx context.Context, selfID string, score int) {
	for id, url := range n.Peers() {
		if id == selfID {
			continue
		}
		callCtx, cancel := withTimeout(ctx)
		if err := n.peerClient.ReceiveScore(callCtx, url, selfID, score); err != nil {
			n.logger.Printf("broadcast score to %s failed: %v", id, err)
		}
		cancel()
	}
}

func (n *Node) recordPrediction(senderID string, prediction int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, seen := n.consensusPredictions[senderID]; !seen {
		n.roundOrder = append(n.roundOrder, senderID)
	}
	n.consensusPredictions[senderID] = prediction
}

func (n *Node) recordScore(senderID string, score int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.predictionScores[senderID] = score
}

// ReceivePrediction handles an inbound prediction from senderID. If the
// local mempool has not reached the transaction limit, the sender is
// penalized: it should not be running a round yet.
func (n *Node) ReceivePrediction(senderID string, prediction int) {
	if n.chain.MempoolLen() < n.chain.TransactionLimit() {
		n.penalize(senderID)
		return
	}
	switch n.checkPenalty(senderID) {
	case penaltyDropTemporary, penaltyDropPermanent:
		return
	}
	n.recordPrediction(senderID, prediction)
}

// ReceiveScore handles an inbound score from senderID, applying the same
// penalty gate as ReceivePrediction, and re-checks quorum on acceptance.
func (n *Node) ReceiveScore(ctx context.Context, senderID string, score int) {
	if n.chain.MempoolLen() < n.chain.TransactionLimit() {
		n.penalize(senderID)
		return
	}
	switch n.checkPenalty(senderID) {
	case penaltyDropTemporary, penaltyDropPermanent:
		return
	}
	n.recordScore(senderID, score)
	n.checkQuorumAndResolve(ctx)
}

// quorumThreshold is max(2, 0.5*len(peers)).
func quorumThreshold(peerCount int) int {
	half := peerCount / 2
	if peerCount%2 != 0 {
		half++
	}
	if half < 2 {
		return 2
	}
	return half
}

// checkQuorumAndResolve transitions AwaitQuorum->{Mine|Lose} once both
// tables have reached quorum size. It is safe to call repeatedly; it is a
// no-op before quorum and after the round has already resolved.
func (n *Node) checkQuorumAndResolve(ctx context.Context) {
	n.mu.Lock()
	if n.state != StateAwaitQuorum {
		n.mu.Unlock()
		return
	}
	peerCount := len(n.peers)
	predictionCount := len(n.consensusPredictions)
	scoreCount := len(n.predictionScores)
	threshold := quorumThreshold(peerCount)
	reached := predictionCount == scoreCount && predictionCount >= threshold
	if !reached {
		n.mu.Unlock()
		return
	}
	scores := make(map[string]int, len(n.predictionScores))
	for k, v := range n.predictionScores {
		scores[k] = v
	}
	order := append([]string(nil), n.roundOrder...)
	selfID := n.nodeID
	n.mu.Unlock()

	winner, found := consensus.WinnerOf(scores, order)
	if !found {
		return
	}

	if winner == selfID {
		n.mine(ctx)
	} else {
		n.lose()
	}
}

// mine appends the staged block triple to the chain, broadcasts it, and
// returns the node to Idle.
func (n *Node) mine(ctx context.Context) {
	n.logStateTransition(StateMine)
	b, cb, entangledHash := n.snapshotActual()
	if b == nil || cb == nil {
		n.resetRound()
		return
	}

	n.chain.AppendBlocks(b, cb, entangledHash)
	n.clearActual()

	selfID := n.ID()
	req := protocol.ReceiveBlocksRequest{
		Block:          b,
		CoherenceBlock: cb,
		EntangledHash:  entangledHash,
		NodeID:         selfID,
	}
	for id, url := range n.Peers() {
		if id == selfID {
			continue
		}
		callCtx, cancel := withTimeout(ctx)
		if err := n.peerClient.ReceiveBlocks(callCtx, url, req); err != nil {
			n.logger.Printf("broadcast blocks to %s failed: %v", id, err)
		}
		cancel()
	}

	if !n.chain.Validate() {
		n.logger.Printf("%s: chain failed re-validation after mining", selfID)
	}
	n.metrics.recordMined()
	n.resetRound()
}

// lose discards the staged block triple; the mempool clears later, when the
// winner's blocks arrive via ReceiveBlocks.
func (n *Node) lose() {
	n.logStateTransition(StateLose)
	n.clearActual()
	n.resetRound()
}

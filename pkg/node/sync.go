package node

import (
	"context"

	"github.com/entangled-chain/node/pkg/consensus"
	"github.com/entangled-chain/node/pkg/protocol"
)

// SyncBlockchain fetches /blockchain from every peer and adopts a candidate
// chain iff it is longer (both chain and coherence_chain) than the local
// chain AND at least 50% of queried peers report the exact same pair. A peer
// advertising a longer, uncorroborated chain is penalized.
func (n *Node) SyncBlockchain(ctx context.Context) {
	peers := n.Peers()
	selfID := n.ID()

	type snapshot struct {
		peerID string
		data   protocol.BlockchainSnapshot
	}
	var fetched []snapshot
	for id, url := range peers {
		if id == selfID {
			continue
		}
		callCtx, cancel := withTimeout(ctx)
		data, err := n.peerClient.Blockchain(callCtx, url)
		cancel()
		if err != nil {
			n.logger.Printf("sync: fetch blockchain from %s failed: %v", id, err)
			continue
		}
		fetched = append(fetched, snapshot{peerID: id, data: data})
	}
	if len(fetched) == 0 {
		return
	}

	localLen := n.chain.Len()
	localCoherenceLen := len(n.chain.CoherenceChain())

	type candidate struct {
		peerIDs []string
		data    protocol.BlockchainSnapshot
	}
	var groups []candidate
	for _, s := range fetched {
		if len(s.data.Chain) <= localLen || len(s.data.CoherenceChain) <= localCoherenceLen {
			continue
		}
		placed := false
		for i := range groups {
			if sameChain(groups[i].data, s.data) {
				groups[i].peerIDs = append(groups[i].peerIDs, s.peerID)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, candidate{peerIDs: []string{s.peerID}, data: s.data})
		}
	}

	queried := len(fetched)
	var winner *candidate
	for i := range groups {
		if len(groups[i].peerIDs)*2 >= queried {
			winner = &groups[i]
			break
		}
	}

	if winner == nil {
		for _, s := range fetched {
			if len(s.data.Chain) > localLen && len(s.data.CoherenceChain) > localCoherenceLen {
				n.penalize(s.peerID)
			}
		}
		return
	}

	entangled := make(map[string]consensus.EntangledPair, len(winner.data.Chain))
	for i := range winner.data.Chain {
		if i >= len(winner.data.CoherenceChain) {
			break
		}
		cb := winner.data.CoherenceChain[i]
		entangled[cb.EntangledHash] = consensus.EntangledPair{
			Block:          winner.data.Chain[i],
			CoherenceBlock: cb,
		}
	}
	if !consensus.ValidateChain(winner.data.Chain, winner.data.CoherenceChain, entangled) {
		return
	}

	n.chain.ReplaceWith(winner.data.Chain, winner.data.CoherenceChain, entangled)

	for _, s := range fetched {
		corroborated := false
		for _, id := range winner.peerIDs {
			if id == s.peerID {
				corroborated = true
				break
			}
		}
		if !corroborated && len(s.data.Chain) > localLen {
			n.penalize(s.peerID)
		}
	}
}

// sameChain compares two blockchain snapshots by their block and coherence
// block hashes; equal content hashes already imply equal content.
func sameChain(a, b protocol.BlockchainSnapshot) bool {
	if len(a.Chain) != len(b.Chain) || len(a.CoherenceChain) != len(b.CoherenceChain) {
		return false
	}
	for i := range a.Chain {
		if a.Chain[i].Hash != b.Chain[i].Hash {
			return false
		}
	}
	for i := range a.CoherenceChain {
		if a.CoherenceChain[i].Hash != b.CoherenceChain[i].Hash {
			return false
		}
	}
	return true
}

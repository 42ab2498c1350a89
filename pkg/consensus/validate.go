package consensus

import "github.com/entangled-chain/node/pkg/block"

// EntangledPair is the stored value of an entangled_blocks map entry.
type EntangledPair struct {
	Block          *block.Block
	CoherenceBlock *block.CoherenceBlock
}

// ValidateChain walks chain and coherenceChain in parallel, checking equal
// length, genesis linkage, index continuity, block/coherence-block cross
// references, entangled-pair membership, and entanglement-hash recomputation.
// A coherence_block_hash mismatch on the Block is self-healed: corrected in
// place rather than rejected. Every other mismatch fails validation.
//
// entangledBlocks is keyed by entangled hash, mirroring the blockchain's own
// entangled_blocks table.
func ValidateChain(chain []*block.Block, coherenceChain []*block.CoherenceBlock, entangledBlocks map[string]EntangledPair) bool {
	// equal length
	if len(chain) != len(coherenceChain) {
		return false
	}
	if len(chain) == 0 {
		return true
	}

	// genesis linkage
	if chain[0].PreviousHash != "0" || coherenceChain[0].PreviousHash != "0" {
		return false
	}

	for i := range chain {
		b := chain[i]
		cb := coherenceChain[i]

		// previous-hash linkage
		if i > 0 {
			if b.PreviousHash != chain[i-1].Hash {
				return false
			}
			if cb.PreviousHash != coherenceChain[i-1].Hash {
				return false
			}
		}

		// index continuity
		if uint64(i) != b.Index || uint64(i) != cb.Index {
			return false
		}

		// block/coherence-block cross reference, with self-heal
		if b.Hash != cb.BlockHash {
			return false
		}
		if b.CoherenceBlockHash != cb.Hash {
			b.CoherenceBlockHash = cb.Hash
		}

		// entangled-pair membership
		pair, ok := entangledBlocks[cb.EntangledHash]
		if !ok {
			return false
		}
		if pair.Block == nil || pair.CoherenceBlock == nil || pair.Block.Hash != b.Hash || pair.CoherenceBlock.Hash != cb.Hash {
			return false
		}

		// entanglement-hash recomputation
		if Entangle(b, cb) != cb.EntangledHash {
			return false
		}
	}

	return true
}

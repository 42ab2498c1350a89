// Package consensus implements the entanglement consensus algorithm:
// entanglement hashing, per-round predictions, the score formula, winner
// selection, and chain-wide validation of the dual chain.
package consensus

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"

	"github.com/entangled-chain/node/pkg/block"
	"github.com/entangled-chain/node/pkg/wallet"
)

// HashPrefix is the marker every entanglement hash carries.
const HashPrefix = wallet.AddressPrefix

// scoreModulus bounds predictions, prediction buckets, and key buckets.
const scoreModulus = 100000

// Entangle computes SHA-256(block.hash || coherence_block.hash || node_key ||
// entangled_node_key), hex-encoded and HashPrefix-marked.
func Entangle(b *block.Block, cb *block.CoherenceBlock) string {
	h := sha256.New()
	h.Write([]byte(b.Hash))
	h.Write([]byte(cb.Hash))
	h.Write([]byte(strconv.Itoa(cb.NodeKey)))
	h.Write([]byte(strconv.Itoa(cb.EntangledNodeKey)))
	return HashPrefix + hex.EncodeToString(h.Sum(nil))
}

// IsValidBlock recomputes the entanglement hash for (b, cb) and compares it
// with the supplied entangledHash.
func IsValidBlock(b *block.Block, cb *block.CoherenceBlock, entangledHash string) bool {
	return Entangle(b, cb) == entangledHash
}

// GeneratePrediction computes a node's per-round prediction:
// int(SHA-256(node_id || entangled_pair_id || rand[1000,9999]), 16) mod scoreModulus.
func GeneratePrediction(nodeID, entangledPairID string) (int, error) {
	r, err := randomInRange(1000, 9999)
	if err != nil {
		return 0, fmt.Errorf("generate prediction randomness: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(nodeID))
	h.Write([]byte(entangledPairID))
	h.Write([]byte(strconv.Itoa(r)))
	return modBucket(h.Sum(nil), scoreModulus), nil
}

// Score is the outcome of the score formula: whether the round is valid, and
// the signed integer score when it is.
type Score struct {
	Valid bool
	Value int
}

// ComputeScore runs the score formula. pairPrediction is accepted for
// signature compatibility with a future extension and does not currently
// participate in the computation.
func ComputeScore(nodePrediction, pairPrediction, nodeKey, pairKey, coherenceKey int) Score {
	_ = pairPrediction

	predictionBucket := modBucket(hashInts(nodePrediction, nodeKey, pairKey), scoreModulus)
	keyBucket := modBucket(hashInts(coherenceKey, nodeKey, pairKey), scoreModulus)

	valid := predictionBucket == keyBucket
	if !valid {
		lower := float64(keyBucket) * 0.5
		upper := float64(keyBucket) * 1.5
		pb := float64(predictionBucket)
		valid = pb >= lower && pb <= upper
	}

	return Score{
		Valid: valid,
		Value: predictionBucket - keyBucket,
	}
}

// EntanglementCheckOK is the informational check from the design notes: it is
// not used by IsValidBlock but is exposed for diagnostics/logging.
func EntanglementCheckOK(nodePrediction, pairPrediction, coherenceKey int) bool {
	sum := nodePrediction + pairPrediction
	if sum < 0 {
		sum = -sum
	}
	if sum == coherenceKey {
		return true
	}
	tolerance := float64(coherenceKey) * 0.10
	diff := float64(sum - coherenceKey)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// WinnerOf returns the node_id with the numerically smallest score, breaking
// ties by the supplied iteration order (first seen wins).
func WinnerOf(scores map[string]int, order []string) (string, bool) {
	var winner string
	var best int
	found := false
	for _, id := range order {
		s, ok := scores[id]
		if !ok {
			continue
		}
		if !found || s < best {
			winner, best, found = id, s, true
		}
	}
	return winner, found
}

func hashInts(values ...int) []byte {
	h := sha256.New()
	for _, v := range values {
		h.Write([]byte(strconv.Itoa(v)))
	}
	return h.Sum(nil)
}

func modBucket(digest []byte, modulus int64) int {
	n := new(big.Int).SetBytes(digest)
	return int(new(big.Int).Mod(n, big.NewInt(modulus)).Int64())
}

func randomInRange(lo, hi int) (int, error) {
	span := big.NewInt(int64(hi - lo + 1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, err
	}
	return lo + int(n.Int64()), nil
}

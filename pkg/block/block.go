// Package block implements the two linked chain-element types: Block and its
// sibling CoherenceBlock, and their content hashes.
package block

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/entangled-chain/node/pkg/txn"
	"github.com/entangled-chain/node/pkg/wallet"
)

// HashPrefix is the marker every content hash in this system carries.
const HashPrefix = wallet.AddressPrefix

// coherenceKeyModulus bounds coherence keys to [0, 100000).
const coherenceKeyModulus = 100000

// Block is the primary chain element carrying ordered transactions.
type Block struct {
	Index              uint64             `json:"index"`
	PreviousHash       string             `json:"previous_hash"`
	CoherenceBlockHash string             `json:"coherence_block_hash,omitempty"`
	Timestamp          int64              `json:"timestamp"`
	Transactions       []*txn.Transaction `json:"transactions"`
	Hash               string             `json:"hash"`
}

// New builds a Block and computes its hash if not already set.
func New(index uint64, previousHash string, transactions []*txn.Transaction, timestamp int64) *Block {
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}
	b := &Block{
		Index:        index,
		PreviousHash: previousHash,
		Timestamp:    timestamp,
		Transactions: transactions,
	}
	b.Hash = b.computeHash()
	return b
}

// computeHash is HashPrefix + SHA-256 of the concatenation of the stringified
// index, previous hash, timestamp, and transaction hashes.
func (b *Block) computeHash() string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatUint(b.Index, 10)))
	h.Write([]byte(b.PreviousHash))
	h.Write([]byte(strconv.FormatInt(b.Timestamp, 10)))
	for _, t := range b.Transactions {
		h.Write([]byte(t.Hash))
	}
	return HashPrefix + hex.EncodeToString(h.Sum(nil))
}

// CoherenceBlock carries the identities and per-round keys of the two nodes
// that produced the paired Block.
type CoherenceBlock struct {
	Index            uint64 `json:"index"`
	PreviousHash     string `json:"previous_hash"`
	NodeID           string `json:"node_id"`
	EntangledNodeID  string `json:"entangled_node_id"`
	NodeKey          int    `json:"node_key"`
	EntangledNodeKey int    `json:"entangled_node_key"`
	BlockHash        string `json:"block_hash"`
	CoherenceKey     int    `json:"coherence_key"`
	EntangledHash    string `json:"entangled_hash,omitempty"`
	Timestamp        int64  `json:"timestamp"`
	Hash             string `json:"hash"`
}

// CoherenceBlockParams groups the paired-node identity and key material a
// CoherenceBlock is constructed from.
type CoherenceBlockParams struct {
	Index            uint64
	PreviousHash     string
	NodeID           string
	EntangledNodeID  string
	NodeKey          int
	EntangledNodeKey int
	BlockHash        string
	CoherenceKey     int // pass 0 to have one generated
	Timestamp        int64
}

// NewCoherenceBlock builds a CoherenceBlock, generating CoherenceKey and
// Timestamp when absent, and computes its hash.
func NewCoherenceBlock(p CoherenceBlockParams) (*CoherenceBlock, error) {
	if p.Timestamp == 0 {
		p.Timestamp = time.Now().Unix()
	}
	if p.CoherenceKey == 0 {
		key, err := deriveCoherenceKey(p.NodeKey, p.EntangledNodeKey)
		if err != nil {
			return nil, fmt.Errorf("derive coherence key: %w", err)
		}
		p.CoherenceKey = key
	}

	cb := &CoherenceBlock{
		Index:            p.Index,
		PreviousHash:     p.PreviousHash,
		NodeID:           p.NodeID,
		EntangledNodeID:  p.EntangledNodeID,
		NodeKey:          p.NodeKey,
		EntangledNodeKey: p.EntangledNodeKey,
		BlockHash:        p.BlockHash,
		CoherenceKey:     p.CoherenceKey,
		Timestamp:        p.Timestamp,
	}
	cb.Hash = cb.computeHash()
	return cb, nil
}

// deriveCoherenceKey computes int(SHA-256(node_key || entangled_node_key ||
// rand[1000,9999]), 16) mod coherenceKeyModulus.
func deriveCoherenceKey(nodeKey, entangledNodeKey int) (int, error) {
	r, err := randomInRange(1000, 9999)
	if err != nil {
		return 0, err
	}
	h := sha256.New()
	h.Write([]byte(strconv.Itoa(nodeKey)))
	h.Write([]byte(strconv.Itoa(entangledNodeKey)))
	h.Write([]byte(strconv.Itoa(r)))
	sum := new(big.Int).SetBytes(h.Sum(nil))
	return int(new(big.Int).Mod(sum, big.NewInt(coherenceKeyModulus)).Int64()), nil
}

// randomInRange returns a cryptographically random integer in [lo, hi].
func randomInRange(lo, hi int) (int, error) {
	span := big.NewInt(int64(hi - lo + 1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, fmt.Errorf("generate random in range: %w", err)
	}
	return lo + int(n.Int64()), nil
}

// computeHash mirrors Block's hashing shape over the coherence block's own
// identifying fields.
func (cb *CoherenceBlock) computeHash() string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatUint(cb.Index, 10)))
	h.Write([]byte(cb.PreviousHash))
	h.Write([]byte(cb.NodeID))
	h.Write([]byte(cb.EntangledNodeID))
	h.Write([]byte(strconv.Itoa(cb.NodeKey)))
	h.Write([]byte(strconv.Itoa(cb.EntangledNodeKey)))
	h.Write([]byte(cb.BlockHash))
	h.Write([]byte(strconv.Itoa(cb.CoherenceKey)))
	h.Write([]byte(strconv.FormatInt(cb.Timestamp, 10)))
	return HashPrefix + hex.EncodeToString(h.Sum(nil))
}

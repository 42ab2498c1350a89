package node

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strconv"
)

const keyModulus = 100000

// GenerateAndPostKey generates this round's entanglement key and posts it to
// the partner via receive_pair_key. Must be called while paired.
func (n *Node) GenerateAndPostKey(ctx context.Context) error {
	n.mu.Lock()
	pairID := n.entangledPairID
	selfID := n.nodeID
	n.mu.Unlock()
	if pairID == "" {
		return ErrNotPaired
	}

	key, err := generateRoundKey(selfID, pairID)
	if err != nil {
		return fmt.Errorf("generate round key: %w", err)
	}

	n.mu.Lock()
	n.key = key
	pairURL := n.peers[pairID]
	n.mu.Unlock()

	callCtx, cancel := withTimeout(ctx)
	err = n.peerClient.ReceivePairKey(callCtx, pairURL, key)
	cancel()
	if err != nil {
		n.logger.Printf("post pair key to %s failed: %v", pairID, err)
	}
	return nil
}

// ReceivePairKey stores an incoming per-round key from the partner.
func (n *Node) ReceivePairKey(key int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entangledPairKey = key
}

// generateRoundKey computes int(SHA-256(node_id || pair_id ||
// rand[1000,9999]), 16) mod keyModulus.
func generateRoundKey(nodeID, pairID string) (int, error) {
	r, err := randIntInRange(1000, 9999)
	if err != nil {
		return 0, err
	}
	h := sha256.New()
	h.Write([]byte(nodeID))
	h.Write([]byte(pairID))
	h.Write([]byte(strconv.Itoa(r)))
	sum := new(big.Int).SetBytes(h.Sum(nil))
	return int(new(big.Int).Mod(sum, big.NewInt(keyModulus)).Int64()), nil
}

func randIntInRange(lo, hi int) (int, error) {
	span := big.NewInt(int64(hi - lo + 1))
	v, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, err
	}
	return lo + int(v.Int64()), nil
}

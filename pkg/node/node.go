// Package node implements the Node Orchestrator: peer registry, pair
// discovery, the multi-phase consensus state machine, mining, longest-chain
// synchronization, and the penalty table.
//
// All mutations to Node state execute under a single mutex; this is the
// single-writer discipline the concurrency model requires. Outbound peer
// calls never hold the lock.
package node

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/entangled-chain/node/pkg/block"
	"github.com/entangled-chain/node/pkg/chain"
)

// State names the consensus state machine's positions.
type State string

const (
	StateIdle                State = "Idle"
	StateKeyGen              State = "KeyGen"
	StateBlockGen            State = "BlockGen"
	StatePredictionBroadcast State = "PredictionBroadcast"
	StateScoreBroadcast      State = "ScoreBroadcast"
	StateAwaitQuorum         State = "AwaitQuorum"
	StateMine                State = "Mine"
	StateLose                State = "Lose"
)

// DefaultMaxPenalizationTime and DefaultMaxPenalties mirror the network's
// published defaults.
const (
	DefaultMaxPenalizationTime = 600 * time.Second
	DefaultMaxPenalties        = 3
)

// Node is one participant in the entanglement network.
type Node struct {
	mu sync.Mutex

	nodeID string
	url    string
	peers  map[string]string // peer_id -> url

	entangledPairID  string
	key              int
	entangledPairKey int

	consensusPredictions map[string]int
	predictionScores     map[string]int
	roundOrder           []string // first-seen order, used for winner tie-break

	actualBlock          *block.Block
	actualCoherenceBlock *block.CoherenceBlock
	actualEntangledHash  string

	penalizedNodes      map[string]time.Time
	timesPenalized      map[string]int
	maxPenalizationTime time.Duration
	maxPenalties        int

	state State

	chain      *chain.Blockchain
	peerClient PeerClient
	logger     *log.Logger
	metrics    *Metrics
}

// Config carries the penalty-table tunables an operator may override.
type Config struct {
	MaxPenalizationTime time.Duration
	MaxPenalties        int
}

// NewNode constructs a Node. nodeID is assigned by the caller from the size
// of the bootstrapped peer map at construction time, not a random
// identifier; the ZeroNode genesis pairing relies on small, stable string
// identities.
func NewNode(nodeID, url string, bootstrapPeers map[string]string, bc *chain.Blockchain, client PeerClient, cfg Config, logger *log.Logger) *Node {
	if cfg.MaxPenalizationTime == 0 {
		cfg.MaxPenalizationTime = DefaultMaxPenalizationTime
	}
	if cfg.MaxPenalties == 0 {
		cfg.MaxPenalties = DefaultMaxPenalties
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Node] ", log.LstdFlags)
	}

	peers := make(map[string]string, len(bootstrapPeers)+1)
	for id, u := range bootstrapPeers {
		peers[id] = u
	}
	peers[nodeID] = url

	return &Node{
		nodeID:               nodeID,
		url:                  url,
		peers:                peers,
		consensusPredictions: make(map[string]int),
		predictionScores:     make(map[string]int),
		penalizedNodes:       make(map[string]time.Time),
		timesPenalized:       make(map[string]int),
		maxPenalizationTime:  cfg.MaxPenalizationTime,
		maxPenalties:         cfg.MaxPenalties,
		state:                StateIdle,
		chain:                bc,
		peerClient:           client,
		logger:               logger,
		metrics:              newMetrics(),
	}
}

// ID returns this node's identity.
func (n *Node) ID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nodeID
}

// URL returns this node's advertised address.
func (n *Node) URL() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.url
}

// State returns the current consensus state machine position.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// EntangledPairID returns the current partner id, or "" if unpaired.
func (n *Node) EntangledPairID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.entangledPairID
}

// Chain returns the underlying Blockchain.
func (n *Node) Chain() *chain.Blockchain { return n.chain }

// Peers returns a snapshot copy of the peer registry.
func (n *Node) Peers() map[string]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]string, len(n.peers))
	for k, v := range n.peers {
		out[k] = v
	}
	return out
}

// ReceivePeers union-merges an incoming peer map into the local registry.
func (n *Node) ReceivePeers(incoming map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, url := range incoming {
		if _, known := n.peers[id]; !known {
			n.peers[id] = url
		}
	}
	n.metrics.setPeerCount(len(n.peers))
}

// Bootstrap registers this node in its own peer map (already done at
// construction) and broadcasts the full map to every other peer.
func (n *Node) Bootstrap(ctx context.Context) {
	for id, url := range n.Peers() {
		if id == n.ID() {
			continue
		}
		callCtx, cancel := withTimeout(ctx)
		err := n.peerClient.ReceivePeers(callCtx, url, n.Peers())
		cancel()
		if err != nil {
			n.logger.Printf("bootstrap: broadcast peers to %s failed: %v", id, err)
		}
	}
}

// snapshotActual returns the currently staged block triple, or nils if none.
func (n *Node) snapshotActual() (*block.Block, *block.CoherenceBlock, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.actualBlock, n.actualCoherenceBlock, n.actualEntangledHash
}

// clearActual discards the staged block triple.
func (n *Node) clearActual() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.actualBlock, n.actualCoherenceBlock, n.actualEntangledHash = nil, nil, ""
}

// resetRound clears the per-round prediction/score tables and state, ready
// for the next Idle->KeyGen transition.
func (n *Node) resetRound() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.consensusPredictions = make(map[string]int)
	n.predictionScores = make(map[string]int)
	n.roundOrder = nil
	n.state = StateIdle
}

// logStateTransition is a small helper so every transition is logged
// uniformly; library code logs tersely, matching the ambient logging style.
func (n *Node) logStateTransition(to State) {
	n.mu.Lock()
	n.state = to
	id := n.nodeID
	n.mu.Unlock()
	n.logger.Printf("%s -> %s", id, to)
}

var errConsensusIncomplete = fmt.Errorf("consensus round did not complete")

package node

import (
	"context"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/entangled-chain/node/pkg/chain"
	"github.com/entangled-chain/node/pkg/consensus"
	"github.com/entangled-chain/node/pkg/protocol"
	"github.com/entangled-chain/node/pkg/txn"
)

// noopPeerClient answers every call with success and empty data; tests that
// care about specific responses override the relevant field.
type noopPeerClient struct {
	nodeInfoByURL map[string]protocol.NodeInfo
}

func (c *noopPeerClient) NodeInfo(ctx context.Context, url string) (protocol.NodeInfo, error) {
	if c.nodeInfoByURL != nil {
		if info, ok := c.nodeInfoByURL[url]; ok {
			return info, nil
		}
	}
	return protocol.NodeInfo{}, nil
}
func (c *noopPeerClient) EntanglementRequest(ctx context.Context, url string, req protocol.EntanglementRequest) error {
	return nil
}
func (c *noopPeerClient) ReceivePairKey(ctx context.Context, url string, key int) error { return nil }
func (c *noopPeerClient) ReceivePeers(ctx context.Context, url string, peers map[string]string) error {
	return nil
}
func (c *noopPeerClient) ReceiveTransaction(ctx context.Context, url string, tx protocol.TransactionEnvelope) error {
	return nil
}
func (c *noopPeerClient) ReceivePrediction(ctx context.Context, url, nodeID string, prediction int) error {
	return nil
}
func (c *noopPeerClient) ReceiveScore(ctx context.Context, url, nodeID string, score int) error {
	return nil
}
func (c *noopPeerClient) ReceiveBlocks(ctx context.Context, url string, req protocol.ReceiveBlocksRequest) error {
	return nil
}
func (c *noopPeerClient) Blockchain(ctx context.Context, url string) (protocol.BlockchainSnapshot, error) {
	return protocol.BlockchainSnapshot{}, nil
}

func testLogger() *log.Logger {
	return log.New(log.Writer(), "[test] ", 0)
}

func newTestNode(t *testing.T, nodeID string, peers map[string]string, client PeerClient) *Node {
	t.Helper()
	bc, err := chain.New(4)
	if err != nil {
		t.Fatalf("chain.New() error = %v", err)
	}
	return NewNode(nodeID, "http://"+nodeID, peers, bc, client, Config{}, testLogger())
}

func TestReceivePeersUnionMerge(t *testing.T) {
	n := newTestNode(t, "0", nil, &noopPeerClient{})
	n.ReceivePeers(map[string]string{"1": "http://1", "2": "http://2"})
	peers := n.Peers()
	if len(peers) != 3 { // self + 1 + 2
		t.Fatalf("expected 3 peers after merge, got %d", len(peers))
	}
	if peers["1"] != "http://1" {
		t.Fatalf("expected peer 1 url preserved, got %q", peers["1"])
	}
}

func TestReceivePeersDoesNotOverwriteExisting(t *testing.T) {
	n := newTestNode(t, "0", map[string]string{"1": "http://original"}, &noopPeerClient{})
	n.ReceivePeers(map[string]string{"1": "http://attacker"})
	if n.Peers()["1"] != "http://original" {
		t.Fatal("expected union-merge to preserve the first-known url for an id")
	}
}

func TestFindPairFailsWhenNoUnpairedPeers(t *testing.T) {
	client := &noopPeerClient{nodeInfoByURL: map[string]protocol.NodeInfo{
		"http://1": {NodeID: "1", EntangledPairID: "someone-else"},
	}}
	n := newTestNode(t, "0", map[string]string{"1": "http://1"}, client)
	err := n.FindPair(context.Background())
	if err != ErrNoUnpairedPeers {
		t.Fatalf("expected ErrNoUnpairedPeers, got %v", err)
	}
}

func TestFindPairSucceedsAndIsIrrevocable(t *testing.T) {
	client := &noopPeerClient{nodeInfoByURL: map[string]protocol.NodeInfo{
		"http://1": {NodeID: "1"},
	}}
	n := newTestNode(t, "0", map[string]string{"1": "http://1"}, client)
	if err := n.FindPair(context.Background()); err != nil {
		t.Fatalf("FindPair() error = %v", err)
	}
	if n.EntangledPairID() != "1" {
		t.Fatalf("expected pair id 1, got %q", n.EntangledPairID())
	}
	if err := n.FindPair(context.Background()); err != ErrAlreadyPaired {
		t.Fatalf("expected ErrAlreadyPaired on second call, got %v", err)
	}
}

func TestHandleEntanglementRequestVerifiesRequesterPointsBack(t *testing.T) {
	client := &noopPeerClient{nodeInfoByURL: map[string]protocol.NodeInfo{
		"http://1": {NodeID: "1", EntangledPairID: ""}, // requester does NOT point back
	}}
	n := newTestNode(t, "0", map[string]string{"1": "http://1"}, client)
	err := n.HandleEntanglementRequest(context.Background(), "1", "http://1", "req-1")
	if err == nil {
		t.Fatal("expected error when requester does not point its pairing back at this node")
	}
	if n.EntangledPairID() != "" {
		t.Fatal("expected pairing to remain unset")
	}
}

func TestHandleEntanglementRequestAcceptsVerifiedRequester(t *testing.T) {
	client := &noopPeerClient{nodeInfoByURL: map[string]protocol.NodeInfo{
		"http://1": {NodeID: "1", EntangledPairID: "0"},
	}}
	n := newTestNode(t, "0", map[string]string{"1": "http://1"}, client)
	if err := n.HandleEntanglementRequest(context.Background(), "1", "http://1", "req-2"); err != nil {
		t.Fatalf("HandleEntanglementRequest() error = %v", err)
	}
	if n.EntangledPairID() != "1" {
		t.Fatalf("expected pair id 1, got %q", n.EntangledPairID())
	}
}

func TestPenaltyLifecycle(t *testing.T) {
	n := newTestNode(t, "0", nil, &noopPeerClient{})
	n.maxPenalizationTime = 50 * time.Millisecond
	n.maxPenalties = 3

	n.penalize("P")
	if n.PenaltyCount("P") != 1 {
		t.Fatalf("expected penalty count 1, got %d", n.PenaltyCount("P"))
	}
	if n.checkPenalty("P") != penaltyDropTemporary {
		t.Fatal("expected temporary drop immediately after a penalty")
	}

	time.Sleep(60 * time.Millisecond)
	if n.checkPenalty("P") != penaltyAccept {
		t.Fatal("expected penalty to expire after max_penalization_time")
	}

	n.penalize("P")
	n.penalize("P")
	if n.PenaltyCount("P") != 3 {
		t.Fatalf("expected 3 total penalties, got %d", n.PenaltyCount("P"))
	}
	if n.checkPenalty("P") != penaltyDropPermanent {
		t.Fatal("expected permanent drop after max_penalties")
	}
}

func TestQuorumThreshold(t *testing.T) {
	cases := map[int]int{0: 2, 1: 2, 2: 2, 3: 2, 4: 2, 5: 3, 8: 4, 9: 5}
	for peers, want := range cases {
		if got := quorumThreshold(peers); got != want {
			t.Errorf("quorumThreshold(%d) = %d, want %d", peers, got, want)
		}
	}
}

func TestReceivePredictionPenalizesBelowThreshold(t *testing.T) {
	n := newTestNode(t, "0", nil, &noopPeerClient{})
	n.ReceivePrediction("1", 42)
	if n.PenaltyCount("1") != 1 {
		t.Fatalf("expected sender penalized for predicting below mempool threshold, got count %d", n.PenaltyCount("1"))
	}
}

// routerPeerClient routes every call to the addressed Node's own exported
// methods, so two in-process Nodes can run a full round against each other
// without a network.
type routerPeerClient struct {
	byURL map[string]*Node
}

func (r *routerPeerClient) node(url string) (*Node, error) {
	n, ok := r.byURL[url]
	if !ok {
		return nil, fmt.Errorf("no node registered at %s", url)
	}
	return n, nil
}

func (r *routerPeerClient) NodeInfo(ctx context.Context, url string) (protocol.NodeInfo, error) {
	n, err := r.node(url)
	if err != nil {
		return protocol.NodeInfo{}, err
	}
	return protocol.NodeInfo{
		NodeID:          n.ID(),
		URL:             n.URL(),
		Peers:           n.Peers(),
		EntangledPairID: n.EntangledPairID(),
	}, nil
}

func (r *routerPeerClient) EntanglementRequest(ctx context.Context, url string, req protocol.EntanglementRequest) error {
	n, err := r.node(url)
	if err != nil {
		return err
	}
	requesterURL, ok := n.Peers()[req.RemotePeerID]
	if !ok {
		return fmt.Errorf("requester %s unknown to %s", req.RemotePeerID, url)
	}
	return n.HandleEntanglementRequest(ctx, req.RemotePeerID, requesterURL, req.RequestID)
}

func (r *routerPeerClient) ReceivePairKey(ctx context.Context, url string, key int) error {
	n, err := r.node(url)
	if err != nil {
		return err
	}
	n.ReceivePairKey(key)
	return nil
}

func (r *routerPeerClient) ReceivePeers(ctx context.Context, url string, peers map[string]string) error {
	n, err := r.node(url)
	if err != nil {
		return err
	}
	n.ReceivePeers(peers)
	return nil
}

func (r *routerPeerClient) ReceiveTransaction(ctx context.Context, url string, tx protocol.TransactionEnvelope) error {
	n, err := r.node(url)
	if err != nil {
		return err
	}
	n.Chain().AddTransaction(&tx)
	return nil
}

func (r *routerPeerClient) ReceivePrediction(ctx context.Context, url, nodeID string, prediction int) error {
	n, err := r.node(url)
	if err != nil {
		return err
	}
	n.ReceivePrediction(nodeID, prediction)
	return nil
}

func (r *routerPeerClient) ReceiveScore(ctx context.Context, url, nodeID string, score int) error {
	n, err := r.node(url)
	if err != nil {
		return err
	}
	n.ReceiveScore(ctx, nodeID, score)
	return nil
}

func (r *routerPeerClient) ReceiveBlocks(ctx context.Context, url string, req protocol.ReceiveBlocksRequest) error {
	n, err := r.node(url)
	if err != nil {
		return err
	}
	n.ReceiveBlocks(req.NodeID, req.Block, req.CoherenceBlock, req.EntangledHash)
	return nil
}

func (r *routerPeerClient) Blockchain(ctx context.Context, url string) (protocol.BlockchainSnapshot, error) {
	n, err := r.node(url)
	if err != nil {
		return protocol.BlockchainSnapshot{}, err
	}
	return protocol.BlockchainSnapshot{Chain: n.Chain().Chain(), CoherenceChain: n.Chain().CoherenceChain()}, nil
}

// TestTwoNodeConsensusRoundConverges pairs two nodes that share one genesis,
// drives each through one full round via routerPeerClient, and checks both
// land on the same mined block regardless of which one wins the round.
func TestTwoNodeConsensusRoundConverges(t *testing.T) {
	bc0, err := chain.New(1)
	if err != nil {
		t.Fatalf("chain.New() error = %v", err)
	}
	bc1, err := chain.New(1)
	if err != nil {
		t.Fatalf("chain.New() error = %v", err)
	}
	// every chain.New draws its own random genesis; inbound blocks only link
	// onto the receiver's chain when both nodes start from the same one.
	bc1.ReplaceWith(bc0.Chain(), bc0.CoherenceChain(), bc0.EntangledBlocks())
	bc0.AddTransaction(txn.New("alice", "bob", 1, "", 1, 1000))
	bc1.AddTransaction(txn.New("alice", "bob", 1, "", 1, 1000))

	router := &routerPeerClient{byURL: map[string]*Node{}}
	n0 := NewNode("0", "http://0", map[string]string{"1": "http://1"}, bc0, router, Config{}, testLogger())
	n1 := NewNode("1", "http://1", map[string]string{"0": "http://0"}, bc1, router, Config{}, testLogger())
	router.byURL["http://0"] = n0
	router.byURL["http://1"] = n1

	if err := n0.FindPair(context.Background()); err != nil {
		t.Fatalf("FindPair() error = %v", err)
	}
	if n0.EntangledPairID() != "1" || n1.EntangledPairID() != "0" {
		t.Fatalf("expected mutual pairing, got n0=%q n1=%q", n0.EntangledPairID(), n1.EntangledPairID())
	}

	ctx := context.Background()
	if err := n0.runRound(ctx); err != nil {
		t.Fatalf("n0 runRound() error = %v", err)
	}
	if err := n1.runRound(ctx); err != nil {
		t.Fatalf("n1 runRound() error = %v", err)
	}

	if n0.Chain().Len() != 2 || n1.Chain().Len() != 2 {
		t.Fatalf("expected both chains to grow to length 2, got n0=%d n1=%d", n0.Chain().Len(), n1.Chain().Len())
	}
	if n0.Chain().Chain()[1].Hash != n1.Chain().Chain()[1].Hash {
		t.Fatal("expected both nodes to converge on the same mined block")
	}
}

// TestReceiveBlocksRejectsTamperedBlock checks that a block whose hash no
// longer matches its coherence block's recorded block_hash is rejected
// rather than appended.
func TestReceiveBlocksRejectsTamperedBlock(t *testing.T) {
	bc, err := chain.New(1)
	if err != nil {
		t.Fatalf("chain.New() error = %v", err)
	}
	bc.AddTransaction(txn.New("alice", "bob", 1, "", 1, 1000))
	n := NewNode("0", "http://0", nil, bc, &noopPeerClient{}, Config{}, testLogger())

	b, cb, err := bc.CreateBlock("1", "2", 10, 20)
	if err != nil {
		t.Fatalf("CreateBlock() error = %v", err)
	}
	entangledHash := consensus.Entangle(b, cb)
	cb.EntangledHash = entangledHash
	b.CoherenceBlockHash = cb.Hash

	b.Hash = "Φxtampered"

	n.ReceiveBlocks("1", b, cb, entangledHash)

	if n.Chain().Len() != 1 {
		t.Fatalf("expected tampered block to be rejected, chain length = %d", n.Chain().Len())
	}
}

// cannedBlockchainClient answers Blockchain() with a fixed snapshot per peer
// URL; every other call is a no-op, for tests that only exercise sync.
type cannedBlockchainClient struct {
	noopPeerClient
	snapshots map[string]protocol.BlockchainSnapshot
}

func (c *cannedBlockchainClient) Blockchain(ctx context.Context, url string) (protocol.BlockchainSnapshot, error) {
	snap, ok := c.snapshots[url]
	if !ok {
		return protocol.BlockchainSnapshot{}, fmt.Errorf("no snapshot for %s", url)
	}
	return snap, nil
}

func buildTwoBlockChain(t *testing.T, sender, receiver string) *chain.Blockchain {
	t.Helper()
	bc, err := chain.New(1)
	if err != nil {
		t.Fatalf("chain.New() error = %v", err)
	}
	bc.AddTransaction(txn.New(sender, receiver, 1, "", 1, 1000))
	b, cb, err := bc.CreateBlock(sender, receiver, 7, 9)
	if err != nil {
		t.Fatalf("CreateBlock() error = %v", err)
	}
	bc.AppendBlocks(b, cb, cb.EntangledHash)
	return bc
}

// TestSyncBlockchainAdoptsCorroboratedLongerChain checks that a longer chain
// reported by a majority of queried peers is adopted, and that a peer
// reporting a longer but uncorroborated chain is penalized.
func TestSyncBlockchainAdoptsCorroboratedLongerChain(t *testing.T) {
	winner := buildTwoBlockChain(t, "alice", "bob")
	divergent := buildTwoBlockChain(t, "carol", "dave")

	winnerSnapshot := protocol.BlockchainSnapshot{Chain: winner.Chain(), CoherenceChain: winner.CoherenceChain()}
	divergentSnapshot := protocol.BlockchainSnapshot{Chain: divergent.Chain(), CoherenceChain: divergent.CoherenceChain()}

	localBC, err := chain.New(1)
	if err != nil {
		t.Fatalf("chain.New() error = %v", err)
	}
	client := &cannedBlockchainClient{snapshots: map[string]protocol.BlockchainSnapshot{
		"http://1": winnerSnapshot,
		"http://2": winnerSnapshot,
		"http://3": divergentSnapshot,
	}}
	n := NewNode("0", "http://0", map[string]string{"1": "http://1", "2": "http://2", "3": "http://3"}, localBC, client, Config{}, testLogger())

	n.SyncBlockchain(context.Background())

	if n.Chain().Len() != 2 {
		t.Fatalf("expected local chain to adopt the corroborated longer chain, got length %d", n.Chain().Len())
	}
	if n.Chain().Chain()[1].Hash != winnerSnapshot.Chain[1].Hash {
		t.Fatal("expected adopted chain to match the corroborated snapshot")
	}
	if n.PenaltyCount("1") != 0 || n.PenaltyCount("2") != 0 {
		t.Fatal("expected corroborating peers to remain unpenalized")
	}
	if n.PenaltyCount("3") != 1 {
		t.Fatalf("expected the uncorroborated longer-chain peer to be penalized once, got %d", n.PenaltyCount("3"))
	}
}

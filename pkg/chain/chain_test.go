package chain

import (
	"testing"

	"github.com/entangled-chain/node/pkg/txn"
)

func TestNewBuildsValidGenesis(t *testing.T) {
	bc, err := New(DefaultTransactionLimit)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if bc.Len() != 1 {
		t.Fatalf("expected genesis chain length 1, got %d", bc.Len())
	}
	blocks := bc.Chain()
	if blocks[0].Index != 0 {
		t.Fatalf("expected genesis index 0, got %d", blocks[0].Index)
	}
	if blocks[0].PreviousHash != "0" {
		t.Fatalf("expected genesis previous_hash '0', got %q", blocks[0].PreviousHash)
	}
	coherence := bc.CoherenceChain()
	if coherence[0].BlockHash != blocks[0].Hash {
		t.Fatal("expected genesis coherence block_hash to match genesis block hash")
	}
	if len(bc.EntangledBlocks()) != 1 {
		t.Fatalf("expected exactly one entangled pair after genesis, got %d", len(bc.EntangledBlocks()))
	}
	if !bc.Validate() {
		t.Fatal("expected genesis chain to validate")
	}
}

func TestCreateBlockRefusesBelowLimit(t *testing.T) {
	bc, err := New(4)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	bc.AddTransaction(txn.New("a", "b", 1, "", 1, 1000))
	_, _, err = bc.CreateBlock("n0", "n1", 1, 2)
	if err != ErrMempoolBelowLimit {
		t.Fatalf("expected ErrMempoolBelowLimit, got %v", err)
	}
}

func TestCreateBlockAndAppendGrowsChain(t *testing.T) {
	bc, err := New(2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	bc.AddTransaction(txn.New("a", "b", 1, "", 1, 1000))
	bc.AddTransaction(txn.New("a", "b", 1, "", 2, 1000))

	b, cb, err := bc.CreateBlock("n0", "n1", 5, 6)
	if err != nil {
		t.Fatalf("CreateBlock() error = %v", err)
	}
	if b.Index != 1 {
		t.Fatalf("expected new block index 1, got %d", b.Index)
	}

	bc.AppendBlocks(b, cb, cb.EntangledHash)
	if bc.Len() != 2 {
		t.Fatalf("expected chain length 2 after append, got %d", bc.Len())
	}
	if bc.MempoolLen() != 0 {
		t.Fatal("expected mempool to be cleared after append")
	}
	if !bc.Validate() {
		t.Fatal("expected chain to validate after append")
	}
}

func TestApplyBalancesMovesNativeAmount(t *testing.T) {
	bc, err := New(1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	bc.CreditNative("alice", 10)
	bc.AddTransaction(txn.New("alice", "bob", 4, "", 1, 1000))

	b, cb, err := bc.CreateBlock("n0", "n1", 1, 2)
	if err != nil {
		t.Fatalf("CreateBlock() error = %v", err)
	}
	bc.AppendBlocks(b, cb, cb.EntangledHash)

	if bc.NativeBalance("alice") != 6 {
		t.Fatalf("expected alice balance 6, got %v", bc.NativeBalance("alice"))
	}
	if bc.NativeBalance("bob") != 4 {
		t.Fatalf("expected bob balance 4, got %v", bc.NativeBalance("bob"))
	}
}

func TestApplyBalancesInsufficientLeavesUnchanged(t *testing.T) {
	bc, err := New(1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	bc.AddTransaction(txn.New("alice", "bob", 100, "", 1, 1000))

	b, cb, err := bc.CreateBlock("n0", "n1", 1, 2)
	if err != nil {
		t.Fatalf("CreateBlock() error = %v", err)
	}
	bc.AppendBlocks(b, cb, cb.EntangledHash)

	if bc.NativeBalance("alice") != 0 || bc.NativeBalance("bob") != 0 {
		t.Fatal("expected balances to remain unchanged on insufficient funds")
	}
}

func TestBlockAndCoherenceBlockLookup(t *testing.T) {
	bc, err := New(DefaultTransactionLimit)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	genesis := bc.Chain()[0]
	genesisCoherence := bc.CoherenceChain()[0]

	if _, err := bc.BlockByHash(genesis.Hash); err != nil {
		t.Fatalf("BlockByHash() error = %v", err)
	}
	if _, err := bc.CoherenceBlockByHash(genesisCoherence.Hash); err != nil {
		t.Fatalf("CoherenceBlockByHash() error = %v", err)
	}
	if _, err := bc.BlockByHash("does-not-exist"); err != ErrBlockNotFound {
		t.Fatalf("expected ErrBlockNotFound, got %v", err)
	}
}

// Package chain holds the Blockchain state: the dual chain of Block and
// CoherenceBlock records, the entangled-blocks index, the pending-transaction
// mempool, balances, and NFT ownership.
//
// A Blockchain is single-writer: callers must not mutate it concurrently.
// The node orchestrator package serializes all access to state it owns,
// matching the concurrency model this package assumes; Blockchain itself
// additionally guards its own fields with a mutex so it can be embedded
// safely behind that discipline without becoming a second source of races.
package chain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/entangled-chain/node/pkg/block"
	"github.com/entangled-chain/node/pkg/consensus"
	"github.com/entangled-chain/node/pkg/txn"
	"github.com/entangled-chain/node/pkg/wallet"
)

// DefaultTransactionLimit is the default mempool threshold that triggers
// block production.
const DefaultTransactionLimit = 4

// zeroNodeID is the synthetic identity used by both sides of the genesis
// entangled pair: genesis is self-paired.
const zeroNodeID = "0"

// Blockchain is the dual-chain ledger state.
type Blockchain struct {
	mu sync.Mutex

	chain           []*block.Block
	coherenceChain  []*block.CoherenceBlock
	entangledBlocks map[string]consensus.EntangledPair

	currentChainIndex          uint64
	currentCoherenceChainIndex uint64

	pendingTransactions []*txn.Transaction
	transactionLimit    int

	balances map[string]float64
	nfts     map[string]map[string]float64
}

// New constructs an empty Blockchain with the given transaction limit (use
// DefaultTransactionLimit when in doubt) and runs genesis.
func New(transactionLimit int) (*Blockchain, error) {
	if transactionLimit <= 0 {
		transactionLimit = DefaultTransactionLimit
	}
	bc := &Blockchain{
		entangledBlocks:  make(map[string]consensus.EntangledPair),
		transactionLimit: transactionLimit,
		balances:         make(map[string]float64),
		nfts:             make(map[string]map[string]float64),
	}
	if err := bc.buildGenesis(); err != nil {
		return nil, err
	}
	return bc, nil
}

// buildGenesis constructs a fresh wallet, a synthetic zero-to-zero
// transaction, the genesis Block, and a genesis CoherenceBlock bound to the
// synthetic ZeroNode, then entangles and appends them. On validation failure
// the just-inserted entangled_blocks entry is removed before the error
// surfaces, undoing the partial insert.
func (bc *Blockchain) buildGenesis() error {
	genesisWallet, err := wallet.New("", "", 0, 0)
	if err != nil {
		return fmt.Errorf("%w: build genesis wallet: %v", ErrGenesisFailed, err)
	}

	genesisTx := txn.New(zeroNodeID, zeroNodeID, 0, "", 0, time.Now().Unix())
	if err := genesisTx.Sign(genesisWallet); err != nil {
		return fmt.Errorf("%w: sign genesis transaction: %v", ErrGenesisFailed, err)
	}
	ok, err := genesisTx.VerifySignature()
	if err != nil || !ok {
		return fmt.Errorf("%w: genesis transaction signature invalid", ErrGenesisFailed)
	}

	genesisBlock := block.New(0, "0", []*txn.Transaction{genesisTx}, 0)

	zeroNodeKey, err := randomKey()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGenesisFailed, err)
	}
	zeroPairKey, err := randomKey()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGenesisFailed, err)
	}

	genesisCoherence, err := block.NewCoherenceBlock(block.CoherenceBlockParams{
		Index:            0,
		PreviousHash:     "0",
		NodeID:           zeroNodeID,
		EntangledNodeID:  zeroNodeID,
		NodeKey:          zeroNodeKey,
		EntangledNodeKey: zeroPairKey,
		BlockHash:        genesisBlock.Hash,
	})
	if err != nil {
		return fmt.Errorf("%w: build genesis coherence block: %v", ErrGenesisFailed, err)
	}

	genesisBlock.CoherenceBlockHash = genesisCoherence.Hash
	entangledHash := consensus.Entangle(genesisBlock, genesisCoherence)
	genesisCoherence.EntangledHash = entangledHash

	bc.entangledBlocks[entangledHash] = consensus.EntangledPair{
		Block:          genesisBlock,
		CoherenceBlock: genesisCoherence,
	}

	valid := consensus.ValidateChain(
		[]*block.Block{genesisBlock},
		[]*block.CoherenceBlock{genesisCoherence},
		bc.entangledBlocks,
	)
	if !valid {
		delete(bc.entangledBlocks, entangledHash)
		return ErrGenesisFailed
	}

	bc.chain = append(bc.chain, genesisBlock)
	bc.coherenceChain = append(bc.coherenceChain, genesisCoherence)
	bc.currentChainIndex = 1
	bc.currentCoherenceChainIndex = 1
	return nil
}

// AddTransaction admits tx to the mempool. It is not deduplicated, not even
// by object identity; callers are expected to only submit a transaction once.
func (bc *Blockchain) AddTransaction(tx *txn.Transaction) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.pendingTransactions = append(bc.pendingTransactions, tx)
}

// PendingTransactions returns a snapshot copy of the current mempool.
func (bc *Blockchain) PendingTransactions() []*txn.Transaction {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	out := make([]*txn.Transaction, len(bc.pendingTransactions))
	copy(out, bc.pendingTransactions)
	return out
}

// MempoolLen returns the current mempool size.
func (bc *Blockchain) MempoolLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.pendingTransactions)
}

// TransactionLimit returns the configured mempool threshold.
func (bc *Blockchain) TransactionLimit() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.transactionLimit
}

// CreateBlock builds the next (Block, CoherenceBlock) pair from the current
// mempool using the proposing node's identity and per-round keys. It refuses
// when the mempool has fewer than transactionLimit transactions.
func (bc *Blockchain) CreateBlock(nodeID, entangledNodeID string, nodeKey, entangledNodeKey int) (*block.Block, *block.CoherenceBlock, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if len(bc.pendingTransactions) < bc.transactionLimit {
		return nil, nil, ErrMempoolBelowLimit
	}

	previousHash := "0"
	if n := len(bc.chain); n > 0 {
		previousHash = bc.chain[n-1].Hash
	}
	previousCoherenceHash := "0"
	if n := len(bc.coherenceChain); n > 0 {
		previousCoherenceHash = bc.coherenceChain[n-1].Hash
	}

	txs := make([]*txn.Transaction, len(bc.pendingTransactions))
	copy(txs, bc.pendingTransactions)

	newBlock := block.New(bc.currentChainIndex, previousHash, txs, 0)

	newCoherence, err := block.NewCoherenceBlock(block.CoherenceBlockParams{
		Index:            bc.currentCoherenceChainIndex,
		PreviousHash:     previousCoherenceHash,
		NodeID:           nodeID,
		EntangledNodeID:  entangledNodeID,
		NodeKey:          nodeKey,
		EntangledNodeKey: entangledNodeKey,
		BlockHash:        newBlock.Hash,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build coherence block: %w", err)
	}

	newBlock.CoherenceBlockHash = newCoherence.Hash
	newCoherence.EntangledHash = consensus.Entangle(newBlock, newCoherence)

	return newBlock, newCoherence, nil
}

// AppendBlocks appends an already-entangled (Block, CoherenceBlock) pair,
// bumps both chain indices, clears the mempool, and records the pair in
// entangled_blocks. Callers must have already validated the pair.
func (bc *Blockchain) AppendBlocks(b *block.Block, cb *block.CoherenceBlock, entangledHash string) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	bc.chain = append(bc.chain, b)
	bc.coherenceChain = append(bc.coherenceChain, cb)
	bc.entangledBlocks[entangledHash] = consensus.EntangledPair{Block: b, CoherenceBlock: cb}
	bc.currentChainIndex++
	bc.currentCoherenceChainIndex++

	bc.applyBalances(b.Transactions)
	bc.pendingTransactions = nil
}

// applyBalances updates balances/nfts for every transaction in txs.
// Insufficient balance silently leaves balances unchanged rather than
// erroring: a block already passed consensus, so balance enforcement here is
// best-effort bookkeeping, not a rejection point.
func (bc *Blockchain) applyBalances(txs []*txn.Transaction) {
	for _, t := range txs {
		if t.IsNativeTransfer() {
			if bc.balances[t.Sender] >= t.Amount {
				bc.balances[t.Sender] -= t.Amount
				bc.balances[t.Receiver] += t.Amount
			}
			continue
		}

		senderNFTs := bc.nfts[t.Sender]
		if senderNFTs == nil {
			continue
		}
		if _, owns := senderNFTs[t.ContractCode]; !owns {
			continue
		}
		delete(senderNFTs, t.ContractCode)
		if bc.nfts[t.Receiver] == nil {
			bc.nfts[t.Receiver] = make(map[string]float64)
		}
		bc.nfts[t.Receiver][t.ContractCode] = t.Amount
	}
}

// NativeBalance returns the native balance of address.
func (bc *Blockchain) NativeBalance(address string) float64 {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.balances[address]
}

// CreditNative adds amount to address's native balance; used for seeding test
// and bootstrap state outside of transaction application.
func (bc *Blockchain) CreditNative(address string, amount float64) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.balances[address] += amount
}

// Chain returns a snapshot copy of the Block chain.
func (bc *Blockchain) Chain() []*block.Block {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	out := make([]*block.Block, len(bc.chain))
	copy(out, bc.chain)
	return out
}

// CoherenceChain returns a snapshot copy of the CoherenceBlock chain.
func (bc *Blockchain) CoherenceChain() []*block.CoherenceBlock {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	out := make([]*block.CoherenceBlock, len(bc.coherenceChain))
	copy(out, bc.coherenceChain)
	return out
}

// Len returns the current chain length.
func (bc *Blockchain) Len() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.chain)
}

// Tip returns the last Block and CoherenceBlock, or nil, nil if the chain is empty.
func (bc *Blockchain) Tip() (*block.Block, *block.CoherenceBlock) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if len(bc.chain) == 0 {
		return nil, nil
	}
	return bc.chain[len(bc.chain)-1], bc.coherenceChain[len(bc.coherenceChain)-1]
}

// Validate runs chain-wide invariant validation over the current state.
func (bc *Blockchain) Validate() bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return consensus.ValidateChain(bc.chain, bc.coherenceChain, bc.entangledBlocks)
}

// BlockByHash looks up a Block by its content hash.
func (bc *Blockchain) BlockByHash(hash string) (*block.Block, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	for _, b := range bc.chain {
		if b.Hash == hash {
			return b, nil
		}
	}
	return nil, ErrBlockNotFound
}

// CoherenceBlockByHash looks up a CoherenceBlock by its content hash.
func (bc *Blockchain) CoherenceBlockByHash(hash string) (*block.CoherenceBlock, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	for _, cb := range bc.coherenceChain {
		if cb.Hash == hash {
			return cb, nil
		}
	}
	return nil, ErrCoherenceBlockNotFound
}

// ReplaceWith atomically swaps in a longer, corroborated chain during sync.
func (bc *Blockchain) ReplaceWith(newChain []*block.Block, newCoherenceChain []*block.CoherenceBlock, newEntangled map[string]consensus.EntangledPair) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.chain = newChain
	bc.coherenceChain = newCoherenceChain
	bc.entangledBlocks = newEntangled
	bc.currentChainIndex = uint64(len(newChain))
	bc.currentCoherenceChainIndex = uint64(len(newCoherenceChain))
}

// EntangledBlocks returns a snapshot copy of the entangled-blocks index.
func (bc *Blockchain) EntangledBlocks() map[string]consensus.EntangledPair {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	out := make(map[string]consensus.EntangledPair, len(bc.entangledBlocks))
	for k, v := range bc.entangledBlocks {
		out[k] = v
	}
	return out
}

// randomKey returns a cryptographically random integer in [0, 100000), used
// for the synthetic ZeroNode's independently generated entanglement keys.
func randomKey() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(100000))
	if err != nil {
		return 0, fmt.Errorf("generate random key: %w", err)
	}
	return int(n.Int64()), nil
}

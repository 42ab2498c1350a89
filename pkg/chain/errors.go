package chain

import "errors"

// Sentinel errors for chain operations.
var (
	// ErrGenesisFailed is returned when the genesis pair fails consensus validation.
	ErrGenesisFailed = errors.New("genesis validation failed")

	// ErrMempoolBelowLimit is returned when create_block is attempted without
	// enough pending transactions.
	ErrMempoolBelowLimit = errors.New("mempool has fewer than transaction_limit transactions")

	// ErrBlockNotFound is returned by hash lookups that miss.
	ErrBlockNotFound = errors.New("block not found")

	// ErrCoherenceBlockNotFound is returned by hash lookups that miss.
	ErrCoherenceBlockNotFound = errors.New("coherence block not found")
)

package node

import "errors"

// Sentinel errors for node operations.
var (
	// ErrAlreadyPaired is returned when pairing is attempted on a node that
	// already has an entangled partner.
	ErrAlreadyPaired = errors.New("node already paired")

	// ErrNoUnpairedPeers is returned when find_pair finds no candidate.
	ErrNoUnpairedPeers = errors.New("no unpaired peers available")

	// ErrPeerUnknown is returned when an operation references a peer id not
	// present in the peer registry.
	ErrPeerUnknown = errors.New("peer unknown")

	// ErrUninitialized is returned when an operation requires a chain that
	// has not yet been constructed.
	ErrUninitialized = errors.New("node uninitialized")

	// ErrNotPaired is returned when an operation requires an entangled
	// partner that has not yet been established.
	ErrNotPaired = errors.New("node not paired")
)

package wallet

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signature is a recoverable ECDSA signature in (r, s, v) form, v already
// offset by 27 to match the convention used throughout this system.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// Sign produces a recoverable signature over a 32-byte hash. hashHex may
// carry the AddressPrefix marker; it is stripped before decoding.
func (w *Wallet) Sign(hashHex string) (Signature, error) {
	raw, err := decodeHash(hashHex)
	if err != nil {
		return Signature{}, err
	}

	sig, err := crypto.Sign(raw, w.privateKey)
	if err != nil {
		return Signature{}, fmt.Errorf("sign: %w", err)
	}

	return Signature{
		R: hex.EncodeToString(sig[:32]),
		S: hex.EncodeToString(sig[32:64]),
		V: int(sig[64]) + 27,
	}, nil
}

// Verify recovers the public key from sig over hashHex and checks it matches
// pubKeyHex (a hex-encoded compressed public key).
func Verify(hashHex string, sig Signature, pubKeyHex string) (bool, error) {
	raw, err := decodeHash(hashHex)
	if err != nil {
		return false, err
	}

	r, err := hex.DecodeString(sig.R)
	if err != nil || len(r) != 32 {
		return false, fmt.Errorf("malformed signature r")
	}
	s, err := hex.DecodeString(sig.S)
	if err != nil || len(s) != 32 {
		return false, fmt.Errorf("malformed signature s")
	}
	if sig.V != 27 && sig.V != 28 {
		return false, fmt.Errorf("unsupported recovery id %d", sig.V)
	}

	full := make([]byte, 65)
	copy(full[:32], r)
	copy(full[32:64], s)
	full[64] = byte(sig.V - 27)

	recoveredPub, err := crypto.Ecrecover(raw, full)
	if err != nil {
		return false, fmt.Errorf("recover public key: %w", err)
	}

	pubKey, err := crypto.UnmarshalPubkey(recoveredPub)
	if err != nil {
		return false, fmt.Errorf("unmarshal recovered key: %w", err)
	}
	recoveredCompressed := crypto.CompressPubkey(pubKey)

	wantPub, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("malformed public key")
	}

	if len(recoveredCompressed) != len(wantPub) {
		return false, nil
	}
	for i := range recoveredCompressed {
		if recoveredCompressed[i] != wantPub[i] {
			return false, nil
		}
	}
	return true, nil
}

// decodeHash strips the AddressPrefix marker if present and hex-decodes the
// remainder, requiring exactly 32 bytes.
func decodeHash(hashHex string) ([]byte, error) {
	trimmed := hashHex
	if len(trimmed) >= len(AddressPrefix) && trimmed[:len(AddressPrefix)] == AddressPrefix {
		trimmed = trimmed[len(AddressPrefix):]
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode hash: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(raw))
	}
	return raw, nil
}

// Package wallet implements hierarchical-deterministic key derivation,
// address generation, and recoverable ECDSA signing for ledger accounts.
//
// Derivation follows BIP-39 (mnemonic/seed) and a secp256k1 BIP-32 child-key
// derivation walked along a fixed path, using the same curve and hashing
// primitives the rest of this module relies on (github.com/ethereum/go-ethereum/crypto).
package wallet

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/FactomProject/go-bip39"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the two-character UTF-8 marker every address and hash in
// this system carries. It is part of the stored value, not display-only
// formatting: it must round-trip byte-for-byte.
const AddressPrefix = "Φx"

// derivation path m/44'/60'/account'/0/index, hardened offset per BIP-32.
const hardenedOffset = 0x80000000

const (
	purposeIndex  = 44
	coinTypeIndex = 60
	changeIndex   = 0
)

// entropyBits is the amount of entropy behind the generated mnemonic; at 128
// bits BIP-39 appends a 4-bit checksum and splits the 132 bits into twelve
// 11-bit word indices.
const entropyBits = 128

// Wallet holds one derived keypair and the mnemonic/passphrase it came from.
// The mnemonic is retained only so GetRecoveryKey can hand it back out; it is
// never transmitted or logged.
type Wallet struct {
	mnemonic   string
	passphrase string
	account    uint32
	index      uint32

	privateKey    *ecdsa.PrivateKey
	compressedPub []byte
	address       string
}

// New derives a wallet along m/44'/60'/account'/0/index. If mnemonic is empty a
// fresh 128-bit-entropy mnemonic is generated.
func New(mnemonic, passphrase string, account, index uint32) (*Wallet, error) {
	if mnemonic == "" {
		entropy, err := bip39.NewEntropy(entropyBits)
		if err != nil {
			return nil, fmt.Errorf("generate entropy: %w", err)
		}
		mnemonic, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, fmt.Errorf("derive mnemonic: %w", err)
		}
	} else if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, passphrase)

	priv, err := derivePrivateKey(seed, account, index)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	w := &Wallet{
		mnemonic:      mnemonic,
		passphrase:    passphrase,
		account:       account,
		index:         index,
		privateKey:    priv,
		compressedPub: crypto.CompressPubkey(&priv.PublicKey),
	}
	w.address = deriveAddress(&priv.PublicKey)
	return w, nil
}

// derivePrivateKey walks HMAC-SHA512("Bitcoin seed", seed) and then the
// hardened/normal child-key chain m/44'/60'/account'/0/index, all modulo the
// secp256k1 group order.
func derivePrivateKey(seed []byte, account, index uint32) (*ecdsa.PrivateKey, error) {
	masterKey, masterChain := hmacSHA512Split([]byte("Bitcoin seed"), seed)

	k, c := masterKey, masterChain
	var err error
	for _, childIndex := range []uint32{
		purposeIndex + hardenedOffset,
		coinTypeIndex + hardenedOffset,
		account + hardenedOffset,
		changeIndex,
		index,
	} {
		k, c, err = deriveChild(k, c, childIndex)
		if err != nil {
			return nil, err
		}
	}

	return crypto.ToECDSA(k)
}

// hmacSHA512Split returns (left 32 bytes, right 32 bytes) of HMAC-SHA512(key, data).
func hmacSHA512Split(key, data []byte) ([]byte, []byte) {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}

// deriveChild computes one step of CKDpriv: hardened when childIndex has its
// top bit set, normal otherwise.
func deriveChild(parentKey, parentChain []byte, childIndex uint32) (childKey, childChain []byte, err error) {
	var data []byte
	if childIndex&hardenedOffset != 0 {
		data = append([]byte{0x00}, parentKey...)
	} else {
		parentPriv, err := crypto.ToECDSA(parentKey)
		if err != nil {
			return nil, nil, fmt.Errorf("parent key invalid: %w", err)
		}
		data = crypto.CompressPubkey(&parentPriv.PublicKey)
	}
	data = append(data, byte(childIndex>>24), byte(childIndex>>16), byte(childIndex>>8), byte(childIndex))

	il, ir := hmacSHA512Split(parentChain, data)

	n := crypto.S256().Params().N
	ilInt := new(big.Int).SetBytes(il)
	if ilInt.Cmp(n) >= 0 {
		return nil, nil, fmt.Errorf("derived scalar exceeds curve order, index %d", childIndex)
	}
	kInt := new(big.Int).SetBytes(parentKey)
	childInt := new(big.Int).Add(ilInt, kInt)
	childInt.Mod(childInt, n)
	if childInt.Sign() == 0 {
		return nil, nil, fmt.Errorf("derived zero key, index %d", childIndex)
	}

	childKeyBytes := make([]byte, 32)
	childInt.FillBytes(childKeyBytes)
	return childKeyBytes, ir, nil
}

// deriveAddress takes keccak-256 of the uncompressed public key (omitting its
// leading 0x04 byte), keeps the last 20 bytes, and applies an EIP-55-style
// checksum using keccak-256 of the lower-case hex address.
func deriveAddress(pub *ecdsa.PublicKey) string {
	uncompressed := crypto.FromECDSAPub(pub) // 0x04 || X || Y
	hash := crypto.Keccak256(uncompressed[1:])
	raw := hash[len(hash)-20:]
	return AddressPrefix + checksumHex(raw)
}

// checksumHex renders raw as lower-case hex, then upper-cases each hex digit
// whose corresponding keccak-256(lowerHex) nibble is >= 8.
func checksumHex(raw []byte) string {
	lower := hex.EncodeToString(raw)
	hash := crypto.Keccak256([]byte(lower))
	hashHex := hex.EncodeToString(hash)

	out := make([]byte, len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c >= '0' && c <= '9' {
			out[i] = c
			continue
		}
		nibble := hashHex[i]
		var value int
		if nibble >= 'a' {
			value = int(nibble-'a') + 10
		} else {
			value = int(nibble - '0')
		}
		if value >= 8 {
			out[i] = c - 'a' + 'A'
		} else {
			out[i] = c
		}
	}
	return string(out)
}

// Address returns the Φx-prefixed, checksummed account address.
func (w *Wallet) Address() string { return w.address }

// CompressedPublicKey returns the 33-byte compressed secp256k1 public key.
func (w *Wallet) CompressedPublicKey() []byte {
	out := make([]byte, len(w.compressedPub))
	copy(out, w.compressedPub)
	return out
}

// GetRecoveryKey returns URL-safe base64 of the UTF-8 mnemonic.
func (w *Wallet) GetRecoveryKey() string {
	return base64.URLEncoding.EncodeToString([]byte(w.mnemonic))
}

// FromRecoveryKey reverses GetRecoveryKey and re-derives the wallet.
func FromRecoveryKey(recoveryKey, passphrase string, account, index uint32) (*Wallet, error) {
	mnemonicBytes, err := base64.URLEncoding.DecodeString(recoveryKey)
	if err != nil {
		return nil, fmt.Errorf("decode recovery key: %w", err)
	}
	return New(string(mnemonicBytes), passphrase, account, index)
}

// Wipe overwrites the private key and chain-derived material with fixed
// constants. This is a best-effort, advisory contract: Go's garbage collector
// may have already copied the backing bytes elsewhere, so this does not
// guarantee the key material is unrecoverable from process memory.
func (w *Wallet) Wipe() {
	if w.privateKey != nil && w.privateKey.D != nil {
		w.privateKey.D.SetInt64(-1)
	}
	for i := range w.compressedPub {
		w.compressedPub[i] = 0xFF
	}
	w.mnemonic = ""
	w.passphrase = ""
}

// PrivateKey exposes the derived key for signing. Callers in this module use
// it only through Sign; it is exported so the node orchestrator can hold a
// wallet per role without re-deriving keys.
func (w *Wallet) PrivateKey() *ecdsa.PrivateKey { return w.privateKey }

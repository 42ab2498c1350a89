// Package txn implements the canonical transfer record: construction,
// canonical content hashing, and the transport representation carried over
// the protocol surface.
package txn

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/entangled-chain/node/pkg/wallet"
)

// HashPrefix is the marker every content hash and address in this system
// carries, reused here rather than redefined.
const HashPrefix = wallet.AddressPrefix

// Transaction is a transfer record: either a native balance move or, when
// ContractCode is set, a transfer of the NFT identified by that code.
//
// Signature is optional on construction; a Transaction only becomes
// admissible to a mempool once signed. The signature triple is never part of
// the content hash.
type Transaction struct {
	Sender       string  `json:"sender"`
	Receiver     string  `json:"receiver"`
	Amount       float64 `json:"amount"`
	ContractCode string  `json:"contract_code,omitempty"`
	Timestamp    int64   `json:"timestamp"`
	Nonce        uint64  `json:"nonce"`

	Signature *wallet.Signature `json:"signature,omitempty"`
	PublicKey string            `json:"public_key,omitempty"`

	Hash string `json:"hash"`
}

// New builds a Transaction and computes its content hash. Timestamp defaults
// to the current wall-clock time when zero.
func New(sender, receiver string, amount float64, contractCode string, nonce uint64, timestamp int64) *Transaction {
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}
	t := &Transaction{
		Sender:       sender,
		Receiver:     receiver,
		Amount:       amount,
		ContractCode: contractCode,
		Timestamp:    timestamp,
		Nonce:        nonce,
	}
	t.Hash = t.computeHash()
	return t
}

// computeHash is the SHA-256 of the canonical, key-sorted serialization of
// {sender, receiver, amount, contract_code, timestamp, nonce}, prefixed with
// HashPrefix. The signature triple never participates.
func (t *Transaction) computeHash() string {
	fields := map[string]string{
		"sender":        t.Sender,
		"receiver":      t.Receiver,
		"amount":        strconv.FormatFloat(t.Amount, 'g', -1, 64),
		"contract_code": t.ContractCode,
		"timestamp":     strconv.FormatInt(t.Timestamp, 10),
		"nonce":         strconv.FormatUint(t.Nonce, 10),
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(fields[k])
		sb.WriteByte(';')
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return HashPrefix + hex.EncodeToString(sum[:])
}

// Sign signs the transaction's content hash with w and attaches the
// signature and compressed public key.
func (t *Transaction) Sign(w *wallet.Wallet) error {
	sig, err := w.Sign(t.Hash)
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	t.Signature = &sig
	t.PublicKey = hex.EncodeToString(w.CompressedPublicKey())
	return nil
}

// VerifySignature checks the attached signature against the attached public
// key and this transaction's content hash. It fails if any of signature,
// public key, or hash is absent.
func (t *Transaction) VerifySignature() (bool, error) {
	if t.Signature == nil {
		return false, fmt.Errorf("transaction carries no signature")
	}
	if t.PublicKey == "" {
		return false, fmt.Errorf("transaction carries no public key")
	}
	if t.Hash == "" {
		return false, fmt.Errorf("transaction carries no hash")
	}
	return wallet.Verify(t.Hash, *t.Signature, t.PublicKey)
}

// IsNativeTransfer reports whether this transaction moves native balance
// rather than an NFT.
func (t *Transaction) IsNativeTransfer() bool {
	return t.ContractCode == ""
}

// Package solana is a minimal Solana JSON-RPC client covering signature
// history and transaction detail lookups.
package solana

import "context"

// RPCClient is the read-only slice of the JSON-RPC API used to walk an
// address's history.
type RPCClient interface {
	// GetSignaturesForAddress returns signatures newest first. opts may be nil.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetTransaction returns nil, nil when the node has no such transaction.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)
}

// SignaturesOpts bounds one getSignaturesForAddress page. Zero values are omitted.
type SignaturesOpts struct {
	Before string // exclusive upper cursor: return only older signatures
	Until  string
	Limit  int // node maximum is 1000
}

// SignatureInfo is one entry of a getSignaturesForAddress page.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// Failed reports whether the transaction was committed with an error.
func (s SignatureInfo) Failed() bool {
	return s.Err != nil
}

// Transaction is the subset of getTransaction output kept by the collector.
type Transaction struct {
	Signature string
	Slot      int64
	BlockTime int64 // 0 when the node does not know it
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta holds execution status and program logs.
type TransactionMeta struct {
	Err         interface{}
	LogMessages []string
}

// TransactionMessage holds the account list of the signed message.
type TransactionMessage struct {
	AccountKeys []string
}

// Failed reports whether execution ended in an error.
func (t *Transaction) Failed() bool {
	return t.Meta != nil && t.Meta.Err != nil
}

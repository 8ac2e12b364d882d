// Package stub provides an in-memory solana.RPCClient for tests.
package stub

import (
	"context"
	"errors"
	"sync"

	"solana-swap-watch/internal/solana"
)

// ErrNotFound is returned when a transaction is not found.
var ErrNotFound = errors.New("not found")

// RPCClient implements solana.RPCClient for testing.
// Signatures are stored newest first, as the node returns them.
type RPCClient struct {
	mu           sync.Mutex
	Transactions map[string]*solana.Transaction
	Signatures   map[string][]solana.SignatureInfo
	TxErrors     map[string]error

	// SignatureCalls records the options of every GetSignaturesForAddress call.
	SignatureCalls []solana.SignaturesOpts
}

// Compile-time interface check.
var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions: make(map[string]*solana.Transaction),
		Signatures:   make(map[string][]solana.SignatureInfo),
		TxErrors:     make(map[string]error),
	}
}

// GetTransaction retrieves a transaction by signature from the stub store.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.TxErrors[signature]; ok {
		return nil, err
	}
	tx, ok := c.Transactions[signature]
	if !ok {
		return nil, ErrNotFound
	}
	return tx, nil
}

// GetSignaturesForAddress returns up to opts.Limit signatures older than opts.Before.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var o solana.SignaturesOpts
	if opts != nil {
		o = *opts
	}
	c.SignatureCalls = append(c.SignatureCalls, o)

	sigs := c.Signatures[address]
	start := 0
	if o.Before != "" {
		start = len(sigs)
		for i, s := range sigs {
			if s.Signature == o.Before {
				start = i + 1
				break
			}
		}
	}
	sigs = sigs[start:]

	if o.Limit > 0 && o.Limit < len(sigs) {
		sigs = sigs[:o.Limit]
	}

	out := make([]solana.SignatureInfo, len(sigs))
	copy(out, sigs)
	return out, nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// AddSignatures adds signatures for an address to the stub store.
func (c *RPCClient) AddSignatures(address string, sigs []solana.SignatureInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Signatures[address] = sigs
}

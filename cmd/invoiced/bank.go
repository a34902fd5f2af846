// bank.go - In-memory payment rail backing the invoice lifecycle.
package main

import (
	"fmt"
	"sync"

	"confinvoice/internal/ledger"
)

// MemoryBank keeps plaintext balances per party and moves funds between them.
// The payment rail is deliberately public: only invoice terms are confidential,
// never the settlement transfer itself.
type MemoryBank struct {
	mu       sync.Mutex
	balances map[ledger.Identity]uint64
}

// NewMemoryBank creates an empty bank.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{balances: make(map[ledger.Identity]uint64)}
}

// Credit adds funds to an account, creating it if needed.
func (b *MemoryBank) Credit(id ledger.Identity, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[id] += amount
}

// Balance returns the current balance of an account.
func (b *MemoryBank) Balance(id ledger.Identity) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[id]
}

// Transfer moves amount from one account to another. Insufficient funds fail
// the whole transfer; partial moves never happen.
func (b *MemoryBank) Transfer(from, to ledger.Identity, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[from] < amount {
		return fmt.Errorf("account %s holds %d, needs %d", from.Hex(), b.balances[from], amount)
	}
	b.balances[from] -= amount
	b.balances[to] += amount
	return nil
}

var _ ledger.Transferer = (*MemoryBank)(nil)

// store.go - Persistent invoice store with per-party sent/received indexes.
//
// The store is an append-only record table: invoices are never destroyed, only
// their status advances. It is persisted as a single JSON file.
//
// NOTE: Store is not thread-safe by itself; the Lifecycle serializes access.

package ledger

import (
	"encoding/json"
	"fmt"
	"os"
)

// Store holds all invoice records plus the two identity-keyed id indexes.
type Store struct {
	invoices map[InvoiceID]*Invoice
	log      []InvoiceID // insertion order, for persistence
	sent     map[Identity][]InvoiceID
	received map[Identity][]InvoiceID
	seq      uint64 // creation sequence marker, feeds id derivation
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		invoices: make(map[InvoiceID]*Invoice),
		sent:     make(map[Identity][]InvoiceID),
		received: make(map[Identity][]InvoiceID),
	}
}

// Get looks up an invoice. The boolean distinguishes "never created" from any
// stored record; callers must not treat a zero Invoice as absence.
func (s *Store) Get(id InvoiceID) (*Invoice, bool) {
	inv, ok := s.invoices[id]
	return inv, ok
}

// Has reports whether an id is already used.
func (s *Store) Has(id InvoiceID) bool {
	_, ok := s.invoices[id]
	return ok
}

// Put inserts a new invoice and appends it to both party indexes as one unit.
// Fails loudly on id reuse rather than overwrite.
func (s *Store) Put(inv *Invoice) error {
	if _, exists := s.invoices[inv.ID]; exists {
		return fmt.Errorf("store: id %s: %w", inv.ID.Hex(), ErrIDCollision)
	}
	s.invoices[inv.ID] = inv
	s.log = append(s.log, inv.ID)
	s.sent[inv.Sender] = append(s.sent[inv.Sender], inv.ID)
	s.received[inv.Recipient] = append(s.received[inv.Recipient], inv.ID)
	return nil
}

// NextSeq advances and returns the creation sequence marker.
func (s *Store) NextSeq() uint64 {
	s.seq++
	return s.seq
}

// Sent returns the ids sent by a party, in insertion order.
func (s *Store) Sent(party Identity) []InvoiceID {
	return append([]InvoiceID(nil), s.sent[party]...)
}

// Received returns the ids received by a party, in insertion order.
func (s *Store) Received(party Identity) []InvoiceID {
	return append([]InvoiceID(nil), s.received[party]...)
}

// Len returns the number of stored invoices.
func (s *Store) Len() int { return len(s.invoices) }

// storeFile is the on-disk JSON form: the insertion-ordered record log plus
// the sequence marker. Indexes are rebuilt on load.
type storeFile struct {
	Invoices []*Invoice `json:"invoices"`
	Seq      uint64     `json:"seq"`
}

// SaveToFile saves the store to a JSON file, overwriting any existing file.
func (s *Store) SaveToFile(path string) error {
	invoices := make([]*Invoice, 0, len(s.log))
	for _, id := range s.log {
		invoices = append(invoices, s.invoices[id])
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(storeFile{Invoices: invoices, Seq: s.seq})
}

// LoadStoreFromFile loads a store from a JSON file, rebuilding both indexes
// in the original insertion order.
func LoadStoreFromFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var sf storeFile
	if err := json.NewDecoder(f).Decode(&sf); err != nil {
		return nil, fmt.Errorf("store load: %w", err)
	}
	s := NewStore()
	s.seq = sf.Seq
	for _, inv := range sf.Invoices {
		if err := s.Put(inv); err != nil {
			return nil, fmt.Errorf("store load: %w", err)
		}
	}
	return s, nil
}

package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"confinvoice/internal/confidential"
)

func testInvoice(n byte, sender, recipient Identity) *Invoice {
	var id InvoiceID
	id[0] = n
	return &Invoice{
		ID:        id,
		Sender:    sender,
		Recipient: recipient,
		Amount:    confidential.Sealed{Backend: "fake", Owner: sender, C: []byte{n}},
		DueDate:   confidential.Sealed{Backend: "fake", Owner: sender, C: []byte{n}},
		Notes:     confidential.Sealed{Backend: "fake", Owner: sender, C: []byte{n}},
		CreatedAt: time.Unix(int64(n), 0).UTC(),
		Status:    StatusPending,
	}
}

func TestStorePutAndIndexes(t *testing.T) {
	s := NewStore()
	inv1 := testInvoice(1, alice, bob)
	inv2 := testInvoice(2, alice, carol)
	inv3 := testInvoice(3, bob, alice)

	for _, inv := range []*Invoice{inv1, inv2, inv3} {
		if err := s.Put(inv); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	if got, ok := s.Get(inv2.ID); !ok || got.Recipient != carol {
		t.Errorf("Get returned %v, %v", got, ok)
	}
	if _, ok := s.Get(InvoiceID{0xee}); ok {
		t.Error("Get of unknown id must report absence")
	}

	sent := s.Sent(alice)
	if len(sent) != 2 || sent[0] != inv1.ID || sent[1] != inv2.ID {
		t.Errorf("alice sent index = %v, want insertion order [1 2]", sent)
	}
	if recv := s.Received(alice); len(recv) != 1 || recv[0] != inv3.ID {
		t.Errorf("alice received index = %v", recv)
	}
}

func TestStoreRejectsIDReuse(t *testing.T) {
	s := NewStore()
	if err := s.Put(testInvoice(1, alice, bob)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	err := s.Put(testInvoice(1, bob, carol))
	if !errors.Is(err, ErrIDCollision) {
		t.Fatalf("re-derived id: err = %v, want ErrIDCollision", err)
	}
	// The original record must survive untouched.
	if inv, _ := s.Get(testInvoice(1, alice, bob).ID); inv.Sender != alice {
		t.Error("collision overwrote an existing invoice")
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	s := NewStore()
	s.NextSeq()
	s.NextSeq()
	for n := byte(1); n <= 3; n++ {
		if err := s.Put(testInvoice(n, alice, bob)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	inv, _ := s.Get(InvoiceID{2})
	inv.Status = StatusPaid

	path := filepath.Join(t.TempDir(), "ledger.json")
	if err := s.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}
	loaded, err := LoadStoreFromFile(path)
	if err != nil {
		t.Fatalf("LoadStoreFromFile failed: %v", err)
	}

	if loaded.Len() != 3 {
		t.Fatalf("loaded %d invoices, want 3", loaded.Len())
	}
	if got, _ := loaded.Get(InvoiceID{2}); got.Status != StatusPaid {
		t.Errorf("status not preserved: %s", got.Status)
	}
	if seq := loaded.NextSeq(); seq != 3 {
		t.Errorf("sequence marker = %d, want 3", seq)
	}
	sent := loaded.Sent(alice)
	if len(sent) != 3 || sent[0] != (InvoiceID{1}) || sent[2] != (InvoiceID{3}) {
		t.Errorf("index order not preserved: %v", sent)
	}
}

func TestLoadStoreMissingFile(t *testing.T) {
	_, err := LoadStoreFromFile(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want fs not-exist", err)
	}
}

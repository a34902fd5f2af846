package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"confinvoice/internal/confidential"
)

// fakeService implements confidential.Service for lifecycle tests without the
// cost of real proofs. A submission's C field carries the decimal value and an
// empty Proof marks it invalid.
type fakeService struct {
	nonce uint64
}

func (f *fakeService) Validate(sub confidential.Submission) (confidential.Garbled, error) {
	if len(sub.Proof) == 0 {
		return confidential.Garbled{}, confidential.ErrInvalidProof
	}
	v, ok := new(big.Int).SetString(sub.C, 10)
	if !ok {
		return confidential.Garbled{}, confidential.ErrInvalidProof
	}
	return confidential.NewGarbled(v.Bytes()), nil
}

func (f *fakeService) Seal(g confidential.Garbled, owner confidential.KeyID) (confidential.Sealed, error) {
	n := atomic.AddUint64(&f.nonce, 1)
	return confidential.Sealed{
		Backend: "fake",
		Owner:   owner,
		Nonce:   []byte(strconv.FormatUint(n, 10)),
		C:       g.Opaque(),
	}, nil
}

func (f *fakeService) Reseal(s confidential.Sealed, viewer confidential.KeyID) (confidential.Sealed, error) {
	return f.Seal(confidential.NewGarbled(s.C), viewer)
}

func (f *fakeService) Onboard(s confidential.Sealed) (confidential.Garbled, error) {
	return confidential.NewGarbled(s.C), nil
}

func (f *fakeService) Equal(a, b confidential.Garbled) (confidential.GarbledBool, error) {
	if bytes.Equal(a.Opaque(), b.Opaque()) {
		return confidential.NewGarbledBool(1), nil
	}
	return confidential.NewGarbledBool(0), nil
}

func (f *fakeService) Reveal(gb confidential.GarbledBool) (bool, error) {
	return gb.Opaque() == 1, nil
}

func (f *fakeService) LiftPublic(v *big.Int) (confidential.Garbled, error) {
	return confidential.NewGarbled(v.Bytes()), nil
}

// fakeBank records transfers and can be told to fail.
type fakeBank struct {
	fail      bool
	transfers []string
}

func (b *fakeBank) Transfer(from, to Identity, amount uint64) error {
	if b.fail {
		return errors.New("rail down")
	}
	b.transfers = append(b.transfers, fmt.Sprintf("%s->%s:%d", from.Hex()[:4], to.Hex()[:4], amount))
	return nil
}

func submission(v uint64) confidential.Submission {
	return confidential.Submission{C: strconv.FormatUint(v, 10), Proof: []byte{1}}
}

func badSubmission() confidential.Submission {
	return confidential.Submission{C: "42"}
}

var (
	alice = Identity{0xa1}
	bob   = Identity{0xb0}
	carol = Identity{0xc4}
)

func newTestLifecycle(t *testing.T, policy Policy, bank *fakeBank) (*Lifecycle, *Bus) {
	t.Helper()
	bus := NewBus()
	lc, err := NewLifecycle(Config{
		Store:    NewStore(),
		Service:  &fakeService{},
		Transfer: bank,
		Emitter:  bus,
		Policy:   policy,
	})
	if err != nil {
		t.Fatalf("NewLifecycle failed: %v", err)
	}
	return lc, bus
}

func mustCreate(t *testing.T, lc *Lifecycle, amount uint64) InvoiceID {
	t.Helper()
	id, err := lc.CreateInvoice(alice, bob, submission(amount), submission(1735689600), submission(7))
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	return id
}

func drain(ch <-chan Event) []Event {
	var evs []Event
	for {
		select {
		case ev := <-ch:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func TestCreateInvoice(t *testing.T) {
	lc, bus := newTestLifecycle(t, Policy{VerifyAmount: true}, &fakeBank{})
	events := bus.Subscribe()

	id := mustCreate(t, lc, 1000)

	sent := lc.SentInvoices(alice)
	if len(sent) != 1 || sent[0] != id {
		t.Errorf("sender index = %v, want [%s]", sent, id.Hex())
	}
	received := lc.ReceivedInvoices(bob)
	if len(received) != 1 || received[0] != id {
		t.Errorf("recipient index = %v, want [%s]", received, id.Hex())
	}
	if got := lc.SentInvoices(bob); len(got) != 0 {
		t.Errorf("bob's sent index should be empty, got %v", got)
	}

	evs := drain(events)
	if len(evs) != 1 || evs[0].Kind != EventInvoiceCreated {
		t.Fatalf("events = %v, want one %s", evs, EventInvoiceCreated)
	}
	if evs[0].Sender != alice || evs[0].Recipient != bob || evs[0].InvoiceID != id {
		t.Errorf("created event carries wrong parties: %+v", evs[0])
	}

	disc, err := lc.GetInvoice(alice, id)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if disc.Status != StatusPending {
		t.Errorf("new invoice status = %s, want pending", disc.Status)
	}
}

func TestCreateInvoiceRejectsBadInput(t *testing.T) {
	lc, _ := newTestLifecycle(t, Policy{VerifyAmount: true}, &fakeBank{})

	if _, err := lc.CreateInvoice(alice, Identity{}, submission(1), submission(2), submission(3)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero recipient: err = %v, want ErrInvalidInput", err)
	}
	if _, err := lc.CreateInvoice(alice, alice, submission(1), submission(2), submission(3)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("self-addressed: err = %v, want ErrInvalidInput", err)
	}
	if _, err := lc.CreateInvoice(alice, bob, badSubmission(), submission(2), submission(3)); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("bad proof: err = %v, want ErrInvalidProof", err)
	}
	if len(lc.SentInvoices(alice)) != 0 {
		t.Error("failed creations must not touch indexes")
	}
}

func TestPayInvoice(t *testing.T) {
	bank := &fakeBank{}
	lc, bus := newTestLifecycle(t, Policy{VerifyAmount: true}, bank)
	id := mustCreate(t, lc, 1000)
	events := bus.Subscribe()

	if err := lc.PayInvoice(bob, id, 1000); err != nil {
		t.Fatalf("PayInvoice failed: %v", err)
	}
	if len(bank.transfers) != 1 {
		t.Fatalf("transfers = %v, want exactly one", bank.transfers)
	}
	want := fmt.Sprintf("%s->%s:1000", bob.Hex()[:4], alice.Hex()[:4])
	if bank.transfers[0] != want {
		t.Errorf("transfer = %s, want %s", bank.transfers[0], want)
	}

	disc, err := lc.GetInvoice(bob, id)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if disc.Status != StatusPaid {
		t.Errorf("status = %s, want paid", disc.Status)
	}

	evs := drain(events)
	if len(evs) == 0 || evs[0].Kind != EventInvoicePaid || evs[0].Actor != bob {
		t.Errorf("expected paid event with payer, got %v", evs)
	}

	// Terminal: a second payment is illegal.
	if err := lc.PayInvoice(bob, id, 1000); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second pay: err = %v, want ErrInvalidState", err)
	}
}

func TestPayInvoiceMismatch(t *testing.T) {
	bank := &fakeBank{}
	lc, _ := newTestLifecycle(t, Policy{VerifyAmount: true}, bank)
	id := mustCreate(t, lc, 1000)

	if err := lc.PayInvoice(bob, id, 999); !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("err = %v, want ErrPaymentMismatch", err)
	}
	if len(bank.transfers) != 0 {
		t.Errorf("no funds may move on mismatch, got %v", bank.transfers)
	}
	disc, _ := lc.GetInvoice(bob, id)
	if disc.Status != StatusPending {
		t.Errorf("status = %s, want pending after mismatch", disc.Status)
	}
}

func TestPayInvoiceWithoutVerification(t *testing.T) {
	bank := &fakeBank{}
	lc, _ := newTestLifecycle(t, Policy{VerifyAmount: false}, bank)
	id := mustCreate(t, lc, 1000)

	// The relaxed variant accepts any attached payment.
	if err := lc.PayInvoice(bob, id, 999); err != nil {
		t.Fatalf("PayInvoice failed: %v", err)
	}
	disc, _ := lc.GetInvoice(bob, id)
	if disc.Status != StatusPaid {
		t.Errorf("status = %s, want paid", disc.Status)
	}
}

func TestPayInvoiceAuthorization(t *testing.T) {
	lc, _ := newTestLifecycle(t, Policy{VerifyAmount: true}, &fakeBank{})
	id := mustCreate(t, lc, 1000)

	if err := lc.PayInvoice(alice, id, 1000); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("sender paying: err = %v, want ErrUnauthorized", err)
	}
	if err := lc.PayInvoice(carol, id, 1000); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("third party paying: err = %v, want ErrUnauthorized", err)
	}
}

func TestTransferFailureRollsBack(t *testing.T) {
	bank := &fakeBank{fail: true}
	lc, _ := newTestLifecycle(t, Policy{VerifyAmount: true}, bank)
	id := mustCreate(t, lc, 1000)

	if err := lc.PayInvoice(bob, id, 1000); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	disc, _ := lc.GetInvoice(bob, id)
	if disc.Status != StatusPending {
		t.Errorf("status = %s, want pending after failed transfer", disc.Status)
	}
}

func TestMarkLate(t *testing.T) {
	lc, bus := newTestLifecycle(t, Policy{VerifyAmount: true}, &fakeBank{})
	id := mustCreate(t, lc, 1000)
	events := bus.Subscribe()

	if err := lc.MarkLate(bob, id); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("recipient marking late: err = %v, want ErrUnauthorized", err)
	}
	if err := lc.MarkLate(alice, id); err != nil {
		t.Fatalf("MarkLate failed: %v", err)
	}

	evs := drain(events)
	if len(evs) != 1 || evs[0].Kind != EventInvoiceMarkedLate {
		t.Errorf("expected marked-late event, got %v", evs)
	}

	// Late is terminal: payment and re-marking are illegal.
	if err := lc.PayInvoice(bob, id, 1000); !errors.Is(err, ErrInvalidState) {
		t.Errorf("pay after late: err = %v, want ErrInvalidState", err)
	}
	if err := lc.MarkLate(alice, id); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double mark late: err = %v, want ErrInvalidState", err)
	}
}

func TestUnknownInvoice(t *testing.T) {
	lc, _ := newTestLifecycle(t, Policy{VerifyAmount: true}, &fakeBank{})
	var id InvoiceID
	id[0] = 0xff

	if err := lc.PayInvoice(bob, id, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("pay: err = %v, want ErrNotFound", err)
	}
	if err := lc.MarkLate(alice, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("mark late: err = %v, want ErrNotFound", err)
	}
	if _, err := lc.GetInvoice(alice, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("get: err = %v, want ErrNotFound", err)
	}
}

func TestDisclosureAuthorization(t *testing.T) {
	lc, _ := newTestLifecycle(t, Policy{VerifyAmount: true}, &fakeBank{})
	id := mustCreate(t, lc, 1000)

	if _, err := lc.GetInvoice(carol, id); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("third party: err = %v, want ErrUnauthorized", err)
	}
	if _, err := lc.GetInvoice(alice, id); err != nil {
		t.Errorf("sender: %v", err)
	}
	if _, err := lc.GetInvoice(bob, id); err != nil {
		t.Errorf("recipient: %v", err)
	}
}

func TestDisclosureIsIdempotent(t *testing.T) {
	lc, _ := newTestLifecycle(t, Policy{VerifyAmount: true}, &fakeBank{})
	id := mustCreate(t, lc, 1000)

	d1, err := lc.GetInvoice(bob, id)
	if err != nil {
		t.Fatalf("first disclosure failed: %v", err)
	}
	d2, err := lc.GetInvoice(bob, id)
	if err != nil {
		t.Fatalf("second disclosure failed: %v", err)
	}

	// Fresh viewer-bound ciphertexts each time...
	if bytes.Equal(d1.Amount.Nonce, d2.Amount.Nonce) {
		t.Error("re-disclosure must produce a distinct ciphertext")
	}
	// ...that open to the same plaintext (fake backend stores it in C).
	if !bytes.Equal(d1.Amount.C, d2.Amount.C) {
		t.Error("re-disclosure changed the underlying value")
	}
	if d1.Amount.Owner != bob || d2.Amount.Owner != bob {
		t.Error("disclosure must be sealed for the viewer")
	}
}

func TestIDCollisionAndRetry(t *testing.T) {
	store := NewStore()
	fixedTime := time.Unix(1735689600, 0)
	fixedNonce := []byte{0xde, 0xad}
	lc, err := NewLifecycle(Config{
		Store:       store,
		Service:     &fakeService{},
		Transfer:    &fakeBank{},
		Policy:      Policy{VerifyAmount: true},
		NonceSource: func() []byte { return fixedNonce },
		Clock:       func() time.Time { return fixedTime },
	})
	if err != nil {
		t.Fatalf("NewLifecycle failed: %v", err)
	}

	// Occupy the id the second creation will derive (sequence marker 2).
	taken := deriveID(alice, bob, fixedTime.UTC(), 2, fixedNonce)
	if err := store.Put(&Invoice{ID: taken, Sender: carol, Recipient: alice}); err != nil {
		t.Fatalf("seeding colliding invoice failed: %v", err)
	}

	if _, err := lc.CreateInvoice(alice, bob, submission(1), submission(2), submission(3)); err != nil {
		t.Fatalf("first creation failed: %v", err)
	}
	if _, err := lc.CreateInvoice(alice, bob, submission(1), submission(2), submission(3)); !errors.Is(err, ErrIDCollision) {
		t.Fatalf("colliding creation: err = %v, want ErrIDCollision", err)
	}
	// The retry draws a fresh sequence marker and succeeds.
	if _, err := lc.CreateInvoice(alice, bob, submission(1), submission(2), submission(3)); err != nil {
		t.Fatalf("retry after collision failed: %v", err)
	}
}

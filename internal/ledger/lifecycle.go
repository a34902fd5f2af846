// lifecycle.go - The invoice state machine.
//
// Orchestrates creation, payment, lateness-marking, and disclosure against the
// store, the access controller, and the confidential-value service. Every
// mutating operation runs as one atomic unit under the lifecycle lock: either
// all record/index writes and the event commit together, or nothing does.

package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"confinvoice/internal/confidential"
)

// Transferer moves plaintext payment funds. The payable "attached value" of
// the source protocol is modeled as an explicit from-account, since nothing in
// Go carries ambient value with a call.
type Transferer interface {
	Transfer(from, to Identity, amount uint64) error
}

// TransferFunc adapts a function to the Transferer interface.
type TransferFunc func(from, to Identity, amount uint64) error

func (f TransferFunc) Transfer(from, to Identity, amount uint64) error {
	return f(from, to, amount)
}

// Policy selects between the two payment-check variants. With VerifyAmount the
// attached payment is compared against the confidential amount before funds
// move; without it any attached payment settles the invoice.
type Policy struct {
	VerifyAmount bool
}

// Config wires a Lifecycle. Store, Service, and Transfer are required.
type Config struct {
	Store    *Store
	Service  confidential.Service
	Transfer Transferer
	Emitter  Emitter
	Policy   Policy

	// NonceSource overrides the id-derivation entropy. Nil means a random
	// uuid per creation; tests use it to force collisions.
	NonceSource func() []byte

	// Clock overrides the creation timestamp source. Nil means time.Now.
	Clock func() time.Time
}

// Lifecycle is the invoice state machine. Safe for concurrent use: operations
// serialize on one lock, matching the indivisible read-modify-write the
// protocol requires per invoice.
type Lifecycle struct {
	mu       sync.Mutex
	store    *Store
	access   AccessController
	svc      confidential.Service
	transfer Transferer
	emitter  Emitter
	policy   Policy
	nonce    func() []byte
	clock    func() time.Time
}

// NewLifecycle validates the wiring and returns a ready lifecycle.
func NewLifecycle(cfg Config) (*Lifecycle, error) {
	if cfg.Store == nil || cfg.Service == nil || cfg.Transfer == nil {
		return nil, errors.New("lifecycle: store, service, and transfer are required")
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = NewBus()
	}
	nonce := cfg.NonceSource
	if nonce == nil {
		nonce = func() []byte {
			u := uuid.New()
			return u[:]
		}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Lifecycle{
		store:    cfg.Store,
		svc:      cfg.Service,
		transfer: cfg.Transfer,
		emitter:  emitter,
		policy:   cfg.Policy,
		nonce:    nonce,
		clock:    clock,
	}, nil
}

// CreateInvoice validates the three confidential submissions, seals them under
// the caller's key, and persists a Pending invoice with both index entries.
// Fails with ErrIDCollision when the derived id is taken; the caller retries.
func (l *Lifecycle) CreateInvoice(caller, recipient Identity, amount, dueDate, notes confidential.Submission) (InvoiceID, error) {
	if caller.IsZero() || recipient.IsZero() {
		return InvoiceID{}, fmt.Errorf("createInvoice: zero identity: %w", ErrInvalidInput)
	}
	if recipient == caller {
		return InvoiceID{}, fmt.Errorf("createInvoice: self-addressed invoice: %w", ErrInvalidInput)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sealedAmount, err := l.validateAndSeal(amount, caller)
	if err != nil {
		return InvoiceID{}, fmt.Errorf("createInvoice: amount: %w", err)
	}
	sealedDue, err := l.validateAndSeal(dueDate, caller)
	if err != nil {
		return InvoiceID{}, fmt.Errorf("createInvoice: due date: %w", err)
	}
	sealedNotes, err := l.validateAndSeal(notes, caller)
	if err != nil {
		return InvoiceID{}, fmt.Errorf("createInvoice: notes: %w", err)
	}

	now := l.clock().UTC()
	id := deriveID(caller, recipient, now, l.store.NextSeq(), l.nonce())
	if l.store.Has(id) {
		return InvoiceID{}, fmt.Errorf("createInvoice: id %s: %w", id.Hex(), ErrIDCollision)
	}

	inv := &Invoice{
		ID:        id,
		Sender:    caller,
		Recipient: recipient,
		Amount:    sealedAmount,
		DueDate:   sealedDue,
		Notes:     sealedNotes,
		CreatedAt: now,
		Status:    StatusPending,
	}
	if err := l.store.Put(inv); err != nil {
		return InvoiceID{}, fmt.Errorf("createInvoice: %w", err)
	}

	ev := newEvent(EventInvoiceCreated, id)
	ev.Sender = caller
	ev.Recipient = recipient
	l.emitter.Emit(ev)
	return id, nil
}

// PayInvoice settles a Pending invoice. With amount verification enabled the
// attached payment is compared against the confidential amount; only the
// equality bit is ever decrypted. Funds move before the status commits, so a
// failed transfer leaves the invoice untouched.
func (l *Lifecycle) PayInvoice(caller Identity, id InvoiceID, payment uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, ok := l.store.Get(id)
	if !ok {
		return fmt.Errorf("payInvoice %s: %w", id.Hex(), ErrNotFound)
	}
	if err := l.access.AuthorizePay(inv, caller); err != nil {
		return err
	}
	if inv.Status != StatusPending {
		return fmt.Errorf("payInvoice %s: status %s: %w", id.Hex(), inv.Status, ErrInvalidState)
	}

	if l.policy.VerifyAmount {
		match, err := l.paymentMatches(inv, payment)
		if err != nil {
			return fmt.Errorf("payInvoice %s: %w", id.Hex(), err)
		}
		if !match {
			return fmt.Errorf("payInvoice %s: %w", id.Hex(), ErrPaymentMismatch)
		}
	}

	if err := l.transfer.Transfer(caller, inv.Sender, payment); err != nil {
		return fmt.Errorf("payInvoice %s: %v: %w", id.Hex(), err, ErrTransferFailed)
	}
	inv.Status = StatusPaid

	ev := newEvent(EventInvoicePaid, id)
	ev.Actor = caller
	l.emitter.Emit(ev)
	return nil
}

// MarkLate moves a Pending invoice to Late. Irreversible.
func (l *Lifecycle) MarkLate(caller Identity, id InvoiceID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, ok := l.store.Get(id)
	if !ok {
		return fmt.Errorf("markLate %s: %w", id.Hex(), ErrNotFound)
	}
	if err := l.access.AuthorizeMarkLate(inv, caller); err != nil {
		return err
	}
	if inv.Status != StatusPending {
		return fmt.Errorf("markLate %s: status %s: %w", id.Hex(), inv.Status, ErrInvalidState)
	}
	inv.Status = StatusLate

	l.emitter.Emit(newEvent(EventInvoiceMarkedLate, id))
	return nil
}

// Disclosure is the authorized view of one invoice: public metadata plus the
// three confidential fields re-sealed for the viewer.
type Disclosure struct {
	ID        InvoiceID           `json:"id"`
	Sender    Identity            `json:"sender"`
	Recipient Identity            `json:"recipient"`
	CreatedAt time.Time           `json:"created_at"`
	Status    Status              `json:"status"`
	Amount    confidential.Sealed `json:"amount"`
	DueDate   confidential.Sealed `json:"due_date"`
	Notes     confidential.Sealed `json:"notes"`
}

// GetInvoice re-seals each confidential field for the caller and returns it
// with the public metadata. The stored ciphertexts are never altered, so
// repeated disclosure yields fresh, distinct viewer-bound ciphertexts of the
// same plaintext.
func (l *Lifecycle) GetInvoice(caller Identity, id InvoiceID) (*Disclosure, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, ok := l.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("getInvoice %s: %w", id.Hex(), ErrNotFound)
	}
	if err := l.access.AuthorizeView(inv, caller); err != nil {
		return nil, err
	}

	amount, err := l.svc.Reseal(inv.Amount, caller)
	if err != nil {
		return nil, fmt.Errorf("getInvoice %s: amount: %w", id.Hex(), err)
	}
	dueDate, err := l.svc.Reseal(inv.DueDate, caller)
	if err != nil {
		return nil, fmt.Errorf("getInvoice %s: due date: %w", id.Hex(), err)
	}
	notes, err := l.svc.Reseal(inv.Notes, caller)
	if err != nil {
		return nil, fmt.Errorf("getInvoice %s: notes: %w", id.Hex(), err)
	}

	ev := newEvent(EventInvoiceDisclosed, id)
	ev.Actor = caller
	l.emitter.Emit(ev)

	return &Disclosure{
		ID:        inv.ID,
		Sender:    inv.Sender,
		Recipient: inv.Recipient,
		CreatedAt: inv.CreatedAt,
		Status:    inv.Status,
		Amount:    amount,
		DueDate:   dueDate,
		Notes:     notes,
	}, nil
}

// SentInvoices returns the caller's own sent index, insertion order.
func (l *Lifecycle) SentInvoices(caller Identity) []InvoiceID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Sent(caller)
}

// ReceivedInvoices returns the caller's own received index, insertion order.
func (l *Lifecycle) ReceivedInvoices(caller Identity) []InvoiceID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Received(caller)
}

// validateAndSeal runs one submission through the service: proof check, then
// sealing under the owner's key.
func (l *Lifecycle) validateAndSeal(sub confidential.Submission, owner Identity) (confidential.Sealed, error) {
	g, err := l.svc.Validate(sub)
	if err != nil {
		return confidential.Sealed{}, fmt.Errorf("%v: %w", err, ErrInvalidProof)
	}
	sealed, err := l.svc.Seal(g, owner)
	if err != nil {
		return confidential.Sealed{}, err
	}
	return sealed, nil
}

// paymentMatches compares the stored confidential amount against the attached
// plaintext payment entirely in the garbled domain.
func (l *Lifecycle) paymentMatches(inv *Invoice, payment uint64) (bool, error) {
	stored, err := l.svc.Onboard(inv.Amount)
	if err != nil {
		return false, err
	}
	attached, err := l.svc.LiftPublic(new(big.Int).SetUint64(payment))
	if err != nil {
		return false, err
	}
	eq, err := l.svc.Equal(stored, attached)
	if err != nil {
		return false, err
	}
	return l.svc.Reveal(eq)
}

// invoice.go - Invoice record, status state machine, and id derivation.

package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"confinvoice/internal/confidential"
)

// Identity names a ledger party. It is the party's confidential-engine KeyID;
// the zero value is never a valid identity.
type Identity = confidential.KeyID

// Status is the invoice lifecycle state. Transitions are monotonic:
// Pending -> Paid or Pending -> Late, both terminal.
type Status uint8

const (
	StatusPending Status = iota
	StatusPaid
	StatusLate
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPaid:
		return "paid"
	case StatusLate:
		return "late"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// InvoiceID is the 256-bit invoice identifier.
type InvoiceID [32]byte

// Hex returns the lowercase hex form of the id.
func (id InvoiceID) Hex() string { return hex.EncodeToString(id[:]) }

// MarshalText implements encoding.TextMarshaler.
func (id InvoiceID) MarshalText() ([]byte, error) { return []byte(id.Hex()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *InvoiceID) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invoice id: %w", err)
	}
	if len(b) != len(id) {
		return fmt.Errorf("invoice id: want %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return nil
}

// ParseInvoiceID decodes a hex-encoded invoice id.
func ParseInvoiceID(s string) (InvoiceID, error) {
	var id InvoiceID
	err := id.UnmarshalText([]byte(s))
	return id, err
}

// Invoice is a permanent ledger entry. The three confidential fields are
// sealed under the sender's key at creation and never mutated; disclosure
// produces derived viewer-bound ciphertexts without touching them.
type Invoice struct {
	ID        InvoiceID            `json:"id"`
	Sender    Identity             `json:"sender"`
	Recipient Identity             `json:"recipient"`
	Amount    confidential.Sealed  `json:"amount"`
	DueDate   confidential.Sealed  `json:"due_date"`
	Notes     confidential.Sealed  `json:"notes"`
	CreatedAt time.Time            `json:"created_at"`
	Status    Status               `json:"status"`
}

// deriveID derives an invoice id from the creating parties, the creation
// instant, the store sequence, and a random nonce. The nonce is what makes a
// retry after a collision succeed.
func deriveID(sender, recipient Identity, at time.Time, seq uint64, nonce []byte) InvoiceID {
	var seqB, timeB [8]byte
	binary.BigEndian.PutUint64(seqB[:], seq)
	binary.BigEndian.PutUint64(timeB[:], uint64(at.UnixNano()))
	var id InvoiceID
	copy(id[:], confidential.Hash(sender[:], recipient[:], timeB[:], seqB[:], nonce))
	return id
}

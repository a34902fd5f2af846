// events.go - Public lifecycle events.
//
// Events carry invoice existence, parties, and status facts only; confidential
// payloads never appear here. Emitted after the state mutation commits.

package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventKind labels a public lifecycle fact.
type EventKind string

const (
	EventInvoiceCreated    EventKind = "invoice_created"
	EventInvoicePaid       EventKind = "invoice_paid"
	EventInvoiceMarkedLate EventKind = "invoice_marked_late"
	EventInvoiceDisclosed  EventKind = "invoice_disclosed"
)

// Event is a public lifecycle fact. Actor is the payer for paid events and the
// viewer for disclosure events; it is zero otherwise.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Time      time.Time `json:"time"`
	InvoiceID InvoiceID `json:"invoice_id"`
	Sender    Identity  `json:"sender,omitempty"`
	Recipient Identity  `json:"recipient,omitempty"`
	Actor     Identity  `json:"actor,omitempty"`
}

// newEvent stamps a fact with a fresh id and the current time.
func newEvent(kind EventKind, invoiceID InvoiceID) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Time:      time.Now().UTC(),
		InvoiceID: invoiceID,
	}
}

// Emitter surfaces public lifecycle facts to external observers.
type Emitter interface {
	Emit(ev Event)
}

// Bus fans events out to subscribers. Slow subscribers drop events rather than
// block a ledger operation.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe returns a channel receiving all future events.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Emit delivers the event to every subscriber without blocking.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// LogEmitter writes events to a structured log.
type LogEmitter struct {
	Log zerolog.Logger
}

// Emit logs the public fields of the event.
func (l LogEmitter) Emit(ev Event) {
	e := l.Log.Info().
		Str("event_id", ev.ID).
		Str("kind", string(ev.Kind)).
		Str("invoice_id", ev.InvoiceID.Hex())
	if !ev.Sender.IsZero() {
		e = e.Str("sender", ev.Sender.Hex())
	}
	if !ev.Recipient.IsZero() {
		e = e.Str("recipient", ev.Recipient.Hex())
	}
	if !ev.Actor.IsZero() {
		e = e.Str("actor", ev.Actor.Hex())
	}
	e.Msg("ledger event")
}

// MultiEmitter forwards each event to every wrapped emitter in order.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ev Event) {
	for _, e := range m {
		e.Emit(ev)
	}
}

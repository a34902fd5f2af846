// Package ledger implements a confidential invoicing ledger.
//
// Overview:
//   - Invoices are permanent entries whose amount, due date, and notes are
//     sealed ciphertexts readable only by sender and recipient; existence,
//     parties, timestamps, and status stay public
//   - The Lifecycle state machine owns all mutations: create, pay, mark late
//   - Payment correctness is checked in the garbled domain of the
//     confidential-value service; only an equality bit is ever decrypted
//   - Public lifecycle facts are announced through the Emitter without
//     confidential payloads
//
// State model:
//   - Status moves Pending -> Paid or Pending -> Late; both are terminal
//   - Every id lives in exactly one sent-index entry and one received-index
//     entry, written atomically with the record
//   - Lookups are option-shaped (value, ok); there is no sentinel record
//
// Usage:
//   - Wire a Lifecycle with NewLifecycle from a Store, a confidential.Service
//     backend, and a Transferer for the plaintext payment rail
//   - See cmd/invoiced for the daemon exposing this over REST
package ledger

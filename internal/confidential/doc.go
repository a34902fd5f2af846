// Package confidential defines the contract the invoicing ledger requires from a
// confidential-computation engine, together with the default backend built on
// MiMC masking and Groth16 validity proofs.
//
// Overview:
//   - Values enter the system as Submissions: a ciphertext plus a validity proof
//   - Validate turns a submission into an opaque garbled value without revealing
//     plaintext to the caller
//   - Seal binds a garbled value to one owner's key at rest; Reseal produces a
//     fresh ciphertext bound to a different viewer
//   - Equal compares two garbled values and Reveal discloses only the resulting
//     boolean, never the operands
//
// Security model:
//   - Party identities are BLS12-377 keypairs; sealing keys are Diffie-Hellman
//     shared secrets between the engine and the owner
//   - Ciphertext masks are MiMC hash chains over the shared secret, matching the
//     in-circuit encryption so submissions can be proven well-formed
//   - Validity proofs are Groth16 over BW6-761; all randomness uses crypto/rand
//
// The ledger consumes only the Service interface; alternative backends (see the
// agevault subpackage) can be substituted without touching lifecycle logic.
package confidential

// service.go - Contract between the invoicing ledger and the confidential-value engine.
//
// The ledger never handles plaintext confidential fields: values cross this
// boundary as Submissions (ciphertext + validity proof), live at rest as Sealed
// ciphertexts bound to one owner's key, and are computed on as opaque Garbled
// handles only the producing Service can interpret.

package confidential

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// Service is the confidential-value contract consumed by the ledger.
// Implementations must never reveal a plaintext operand to the caller; the only
// plaintext ever returned is the boolean produced by Reveal.
type Service interface {
	// Validate checks a submission's validity proof and returns the value in
	// garbled form. Fails with ErrInvalidProof when verification fails.
	Validate(sub Submission) (Garbled, error)

	// Seal binds a garbled value to the owner's key for storage at rest.
	Seal(g Garbled, owner KeyID) (Sealed, error)

	// Reseal produces a fresh ciphertext of a stored value bound to a different
	// viewer. The input ciphertext is not modified.
	Reseal(s Sealed, viewer KeyID) (Sealed, error)

	// Onboard lifts a sealed ciphertext back into garbled computation form.
	Onboard(s Sealed) (Garbled, error)

	// Equal compares two garbled values and returns the result as a garbled
	// boolean, disclosing nothing about the operands.
	Equal(a, b Garbled) (GarbledBool, error)

	// Reveal decrypts a garbled boolean to plaintext.
	Reveal(gb GarbledBool) (bool, error)

	// LiftPublic lifts a public plaintext value into the garbled domain so it
	// can be compared against confidential values.
	LiftPublic(v *big.Int) (Garbled, error)
}

// Engine-level failures surfaced through the Service contract.
var (
	// ErrInvalidProof is returned by Validate when the validity proof does not
	// verify against the submission's public values.
	ErrInvalidProof = errors.New("confidential: submission proof verification failed")

	// ErrUnknownKey is returned when a KeyID is not registered in the keyring.
	ErrUnknownKey = errors.New("confidential: key not registered")

	// ErrForeignCiphertext is returned when a Sealed value was produced by a
	// different backend than the one asked to operate on it.
	ErrForeignCiphertext = errors.New("confidential: ciphertext from foreign backend")

	// ErrMalformedValue is returned for values outside the representable field.
	ErrMalformedValue = errors.New("confidential: value not representable")
)

// KeyID identifies a registered party key. It is the truncated MiMC hash of the
// marshaled public key; the zero value is never a valid identity.
type KeyID [32]byte

// IsZero reports whether the id is the (invalid) zero identity.
func (k KeyID) IsZero() bool { return k == KeyID{} }

// Hex returns the lowercase hex form of the id.
func (k KeyID) Hex() string { return hex.EncodeToString(k[:]) }

// MarshalText implements encoding.TextMarshaler so KeyIDs survive JSON maps.
func (k KeyID) MarshalText() ([]byte, error) {
	return []byte(k.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *KeyID) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("key id: %w", err)
	}
	if len(b) != len(k) {
		return fmt.Errorf("key id: want %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return nil
}

// ParseKeyID decodes a hex-encoded KeyID.
func ParseKeyID(s string) (KeyID, error) {
	var k KeyID
	err := k.UnmarshalText([]byte(s))
	return k, err
}

// Submission is an encrypted value entering the system, bundled with the proof
// that the ciphertext is well-formed. C and Cm are decimal field elements; GR
// is the marshaled ephemeral Diffie-Hellman point binding the mask to the
// engine's key.
type Submission struct {
	C     string `json:"c"`
	Cm    string `json:"cm"`
	GR    []byte `json:"g_r"`
	Proof []byte `json:"proof"`
}

// Sealed is an at-rest ciphertext bound to one owner's (or viewer's) key.
// It is opaque to the store; only the producing backend can onboard it.
type Sealed struct {
	Backend string `json:"backend"`
	Owner   KeyID  `json:"owner"`
	Nonce   []byte `json:"nonce"`
	C       []byte `json:"c"`
}

// IsZero reports whether the ciphertext is unset.
func (s Sealed) IsZero() bool { return s.Backend == "" && len(s.C) == 0 }

// Garbled is an opaque in-computation handle. The bytes carry no meaning
// outside the Service that produced them.
type Garbled struct {
	data []byte
}

// NewGarbled wraps backend-private bytes in a garbled handle. Intended for
// Service implementations, not callers.
func NewGarbled(data []byte) Garbled {
	return Garbled{data: append([]byte(nil), data...)}
}

// Opaque returns the backend-private bytes of the handle.
func (g Garbled) Opaque() []byte { return append([]byte(nil), g.data...) }

// GarbledBool is an opaque encrypted boolean produced by Equal.
type GarbledBool struct {
	data byte
}

// NewGarbledBool wraps a backend-private masked bit. Intended for Service
// implementations, not callers.
func NewGarbledBool(data byte) GarbledBool { return GarbledBool{data: data} }

// Opaque returns the backend-private masked bit.
func (gb GarbledBool) Opaque() byte { return gb.data }

// agevault.go - Alternate confidential-value backend built on age X25519.
//
// Demonstrates that the ledger's Service contract is backend-agnostic: instead
// of MiMC masks and Groth16 proofs, values are age-encrypted and submissions
// are bound by a SHA-256 digest. Garbled handles are random references into a
// vault-internal table, so nothing recoverable ever leaves the vault.
//
// Every seal encrypts to the viewer AND the vault itself; that second stanza is
// what lets the vault onboard a stored ciphertext later without holding the
// viewer's identity.

package agevault

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"sync"

	"filippo.io/age"

	"confinvoice/internal/confidential"
)

// Backend names ciphertexts produced by this vault.
const Backend = "agevault"

// Vault implements confidential.Service over age X25519 encryption.
// Safe for concurrent use.
type Vault struct {
	identity *age.X25519Identity

	mu      sync.RWMutex
	viewers map[confidential.KeyID]*age.X25519Recipient
	values  map[string]*big.Int // garbled handle -> value, vault-private
	pad     byte
}

var _ confidential.Service = (*Vault)(nil)

// NewVault creates a vault with a fresh X25519 identity.
func NewVault() (*Vault, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("agevault: identity generation failed: %w", err)
	}
	var pad [1]byte
	rand.Read(pad[:])
	return &Vault{
		identity: id,
		viewers:  make(map[confidential.KeyID]*age.X25519Recipient),
		values:   make(map[string]*big.Int),
		pad:      pad[0],
	}, nil
}

// Recipient returns the vault's own age recipient; submissions must be
// encrypted to it.
func (v *Vault) Recipient() *age.X25519Recipient {
	return v.identity.Recipient()
}

// KeyIDOf derives the registry id of an age recipient.
func KeyIDOf(r *age.X25519Recipient) confidential.KeyID {
	var id confidential.KeyID
	sum := sha256.Sum256([]byte(r.String()))
	copy(id[:], sum[:])
	return id
}

// Register adds a viewer recipient and returns its KeyID.
func (v *Vault) Register(r *age.X25519Recipient) confidential.KeyID {
	id := KeyIDOf(r)
	v.mu.Lock()
	defer v.mu.Unlock()
	v.viewers[id] = r
	return id
}

// NewSubmission builds a submission for value val: the ciphertext encrypted to
// the vault and the digest binding it. Client side of the contract.
func (v *Vault) NewSubmission(val *big.Int) (confidential.Submission, error) {
	if val == nil || val.Sign() < 0 {
		return confidential.Submission{}, confidential.ErrMalformedValue
	}
	plain := val.Bytes()
	ct, err := encryptTo(plain, v.identity.Recipient())
	if err != nil {
		return confidential.Submission{}, err
	}
	digest := sha256.Sum256(plain)
	return confidential.Submission{
		C:     base64.StdEncoding.EncodeToString(ct),
		Cm:    hex.EncodeToString(digest[:]),
		Proof: digest[:],
	}, nil
}

// Validate decrypts the submission vault-side and checks the digest binding.
func (v *Vault) Validate(sub confidential.Submission) (confidential.Garbled, error) {
	ct, err := base64.StdEncoding.DecodeString(sub.C)
	if err != nil {
		return confidential.Garbled{}, fmt.Errorf("%w: bad ciphertext encoding", confidential.ErrInvalidProof)
	}
	plain, err := decryptWith(ct, v.identity)
	if err != nil {
		return confidential.Garbled{}, fmt.Errorf("%w: %v", confidential.ErrInvalidProof, err)
	}
	digest := sha256.Sum256(plain)
	if !bytes.Equal(digest[:], sub.Proof) || hex.EncodeToString(digest[:]) != sub.Cm {
		return confidential.Garbled{}, fmt.Errorf("%w: digest mismatch", confidential.ErrInvalidProof)
	}
	return v.garble(new(big.Int).SetBytes(plain)), nil
}

// Seal encrypts a garbled value for one owner (plus the vault itself).
func (v *Vault) Seal(g confidential.Garbled, owner confidential.KeyID) (confidential.Sealed, error) {
	val, err := v.lookup(g)
	if err != nil {
		return confidential.Sealed{}, err
	}
	return v.seal(val, owner)
}

// Onboard decrypts a stored ciphertext back into a garbled handle.
func (v *Vault) Onboard(s confidential.Sealed) (confidential.Garbled, error) {
	val, err := v.open(s)
	if err != nil {
		return confidential.Garbled{}, err
	}
	return v.garble(val), nil
}

// Reseal produces a fresh viewer-bound ciphertext of a stored value.
func (v *Vault) Reseal(s confidential.Sealed, viewer confidential.KeyID) (confidential.Sealed, error) {
	val, err := v.open(s)
	if err != nil {
		return confidential.Sealed{}, err
	}
	return v.seal(val, viewer)
}

// Equal compares two garbled values inside the vault.
func (v *Vault) Equal(a, b confidential.Garbled) (confidential.GarbledBool, error) {
	av, err := v.lookup(a)
	if err != nil {
		return confidential.GarbledBool{}, err
	}
	bv, err := v.lookup(b)
	if err != nil {
		return confidential.GarbledBool{}, err
	}
	var bit byte
	if av.Cmp(bv) == 0 {
		bit = 1
	}
	return confidential.NewGarbledBool(bit ^ v.pad), nil
}

// Reveal decrypts a garbled boolean.
func (v *Vault) Reveal(gb confidential.GarbledBool) (bool, error) {
	return gb.Opaque()^v.pad == 1, nil
}

// LiftPublic lifts a plaintext value into the garbled domain.
func (v *Vault) LiftPublic(val *big.Int) (confidential.Garbled, error) {
	if val == nil || val.Sign() < 0 {
		return confidential.Garbled{}, confidential.ErrMalformedValue
	}
	return v.garble(new(big.Int).Set(val)), nil
}

// Open decrypts a viewer-sealed ciphertext with the viewer's own identity.
// Off-core: runs on the party's machine, never inside the ledger.
func Open(s confidential.Sealed, id age.Identity) (*big.Int, error) {
	if s.Backend != Backend {
		return nil, confidential.ErrForeignCiphertext
	}
	plain, err := decryptWith(s.C, id)
	if err != nil {
		return nil, fmt.Errorf("agevault open: %w", err)
	}
	return new(big.Int).SetBytes(plain), nil
}

func (v *Vault) garble(val *big.Int) confidential.Garbled {
	handle := make([]byte, 16)
	rand.Read(handle)
	v.mu.Lock()
	v.values[string(handle)] = val
	v.mu.Unlock()
	return confidential.NewGarbled(handle)
}

func (v *Vault) lookup(g confidential.Garbled) (*big.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[string(g.Opaque())]
	if !ok {
		return nil, confidential.ErrForeignCiphertext
	}
	return val, nil
}

func (v *Vault) seal(val *big.Int, owner confidential.KeyID) (confidential.Sealed, error) {
	v.mu.RLock()
	viewer, ok := v.viewers[owner]
	v.mu.RUnlock()
	if !ok {
		return confidential.Sealed{}, fmt.Errorf("agevault seal for %s: %w", owner.Hex(), confidential.ErrUnknownKey)
	}
	ct, err := encryptTo(val.Bytes(), viewer, v.identity.Recipient())
	if err != nil {
		return confidential.Sealed{}, err
	}
	return confidential.Sealed{Backend: Backend, Owner: owner, C: ct}, nil
}

func (v *Vault) open(s confidential.Sealed) (*big.Int, error) {
	if s.Backend != Backend {
		return nil, confidential.ErrForeignCiphertext
	}
	plain, err := decryptWith(s.C, v.identity)
	if err != nil {
		return nil, fmt.Errorf("agevault onboard: %w", err)
	}
	return new(big.Int).SetBytes(plain), nil
}

func encryptTo(plain []byte, recipients ...age.Recipient) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return nil, fmt.Errorf("agevault encrypt: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return nil, fmt.Errorf("agevault encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("agevault encrypt: %w", err)
	}
	return buf.Bytes(), nil
}

func decryptWith(ct []byte, ids ...age.Identity) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ct), ids...)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// keys.go - Party identities and key management for the confidential engine.
//
// Parties hold BLS12-377 Diffie-Hellman keypairs. The engine's keyring maps a
// party's KeyID to its public key so sealed ciphertexts can name their owner
// without carrying key material.

package confidential

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sync"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377_fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	bls12377_fp "github.com/consensys/gnark-crypto/ecc/bls12-377/fp"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// Hash absorbs each chunk as a canonical field element and returns the MiMC
// digest. Shared by key-id and invoice-id derivation.
func Hash(chunks ...[]byte) []byte {
	h := mimcNative.NewMiMC()
	for _, c := range chunks {
		var e bls12377_fp.Element
		e.SetBytes(c)
		b := e.Bytes()
		h.Write(b[:])
	}
	return h.Sum(nil)
}

// randomBytes generates n random bytes using crypto/rand.
func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

// DHKeyPair is a BLS12-377 keypair for Diffie-Hellman key agreement.
type DHKeyPair struct {
	Sk *bls12377_fr.Element
	Pk *bls12377.G1Affine
}

// GenerateDHKeyPair generates a fresh random keypair.
func GenerateDHKeyPair() (*DHKeyPair, error) {
	var sk bls12377_fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, fmt.Errorf("keygen: %w", err)
	}
	g1Jac, _, _, _ := bls12377.Generators()
	var pk bls12377.G1Affine
	pk.FromJacobian(&g1Jac)
	pk.ScalarMultiplication(&pk, sk.BigInt(new(big.Int)))
	return &DHKeyPair{Sk: &sk, Pk: &pk}, nil
}

// ComputeDHShared computes the shared secret point given our secret scalar and
// their public point.
func ComputeDHShared(sk *bls12377_fr.Element, pk *bls12377.G1Affine) *bls12377.G1Affine {
	var shared bls12377.G1Affine
	shared.ScalarMultiplication(pk, sk.BigInt(new(big.Int)))
	return &shared
}

// KeyIDOf derives the identity of a public key.
func KeyIDOf(pk *bls12377.G1Affine) KeyID {
	var id KeyID
	copy(id[:], Hash(pk.Marshal()))
	return id
}

// Keyring is the engine-side registry of party public keys.
// Safe for concurrent use.
type Keyring struct {
	mu   sync.RWMutex
	keys map[KeyID]*bls12377.G1Affine
}

// NewKeyring creates an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[KeyID]*bls12377.G1Affine)}
}

// Register adds a public key and returns its KeyID. Re-registering the same
// key is a no-op.
func (r *Keyring) Register(pk *bls12377.G1Affine) KeyID {
	id := KeyIDOf(pk)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[id]; !ok {
		cp := *pk
		r.keys[id] = &cp
	}
	return id
}

// Lookup returns the public key for an id, if registered.
func (r *Keyring) Lookup(id KeyID) (*bls12377.G1Affine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pk, ok := r.keys[id]
	return pk, ok
}

// Party is a client-side identity: a named keypair able to open viewer-sealed
// ciphertexts off-core.
type Party struct {
	Name string
	sk   *bls12377_fr.Element
	pk   *bls12377.G1Affine
	id   KeyID
}

// NewParty creates a party with a fresh keypair.
func NewParty(name string) (*Party, error) {
	kp, err := GenerateDHKeyPair()
	if err != nil {
		return nil, err
	}
	return &Party{Name: name, sk: kp.Sk, pk: kp.Pk, id: KeyIDOf(kp.Pk)}, nil
}

// ID returns the party's KeyID.
func (p *Party) ID() KeyID { return p.id }

// PublicKey returns the party's public point.
func (p *Party) PublicKey() *bls12377.G1Affine { return p.pk }

// Open decrypts a ciphertext sealed for this party by an engine with the given
// public key. This is the off-core disclosure step: it runs on the party's own
// machine, never inside the ledger.
func (p *Party) Open(s Sealed, enginePub *bls12377.G1Affine) (*big.Int, error) {
	if s.Owner != p.id {
		return nil, fmt.Errorf("open: ciphertext sealed for %s, not %s: %w",
			s.Owner.Hex(), p.id.Hex(), ErrForeignCiphertext)
	}
	shared := ComputeDHShared(p.sk, enginePub)
	mask := sealMask(shared, s.Nonce)
	var c, v bls12377_fp.Element
	c.SetBytes(s.C)
	v.Sub(&c, &mask)
	return v.BigInt(new(big.Int)), nil
}

// partyFile is the on-disk JSON form of a Party.
type partyFile struct {
	Name string `json:"name"`
	Sk   []byte `json:"sk"`
	Pk   []byte `json:"pk"`
}

// Save writes the party's keypair to a JSON file.
func (p *Party) Save(path string) error {
	skBytes := p.sk.Bytes()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(partyFile{Name: p.Name, Sk: skBytes[:], Pk: p.pk.Marshal()})
}

// LoadParty reads a party keypair from a JSON file.
func LoadParty(path string) (*Party, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var pf partyFile
	if err := json.NewDecoder(f).Decode(&pf); err != nil {
		return nil, err
	}
	var sk bls12377_fr.Element
	sk.SetBytes(pf.Sk)
	var pk bls12377.G1Affine
	if err := pk.Unmarshal(pf.Pk); err != nil {
		return nil, fmt.Errorf("load party: %w", err)
	}
	return &Party{Name: pf.Name, sk: &sk, pk: &pk, id: KeyIDOf(&pk)}, nil
}

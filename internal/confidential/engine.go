// engine.go - Default confidential-value backend: MiMC masking + Groth16 proofs.
//
// Garbled values are field elements re-masked under a per-engine session mask,
// so handles leaving the engine carry no recoverable plaintext. Sealing uses a
// Diffie-Hellman shared secret between the engine key and the owner's key, the
// same construction the submission circuit proves over.

package confidential

import (
	"bytes"
	"fmt"
	"math/big"
	"path/filepath"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377_fp "github.com/consensys/gnark-crypto/ecc/bls12-377/fp"
	bls12377_fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/std/algebra/native/sw_bls12377"
)

// BackendMiMC names ciphertexts produced by this engine.
const BackendMiMC = "mimc"

// Engine implements Service. Safe for concurrent use; the keyring carries its
// own lock and the remaining state is immutable after construction.
type Engine struct {
	sk   *bls12377_fr.Element
	pk   *bls12377.G1Affine
	ring *Keyring

	ccs  constraint.ConstraintSystem
	pk16 groth16.ProvingKey
	vk16 groth16.VerifyingKey

	sess bls12377_fp.Element // session mask for garbled handles
	pad  byte                // session pad for garbled booleans
}

var _ Service = (*Engine)(nil)

// NewEngine compiles the submission circuit, sets up or loads Groth16 keys from
// keyDir, and generates the engine's own DH keypair.
func NewEngine(keyDir string) (*Engine, error) {
	ccs, err := CompileSubmissionCircuit()
	if err != nil {
		return nil, err
	}
	pk16, vk16, err := SetupOrLoadKeys(ccs,
		filepath.Join(keyDir, "submission_pk.bin"),
		filepath.Join(keyDir, "submission_vk.bin"))
	if err != nil {
		return nil, fmt.Errorf("submission key setup failed: %w", err)
	}
	kp, err := GenerateDHKeyPair()
	if err != nil {
		return nil, err
	}
	var sess bls12377_fp.Element
	if _, err := sess.SetRandom(); err != nil {
		return nil, fmt.Errorf("session mask: %w", err)
	}
	return &Engine{
		sk:   kp.Sk,
		pk:   kp.Pk,
		ring: NewKeyring(),
		ccs:  ccs,
		pk16: pk16,
		vk16: vk16,
		sess: sess,
		pad:  randomBytes(1)[0],
	}, nil
}

// PublicKey returns the engine's DH public key. Parties need it to build
// submissions and to open viewer-sealed ciphertexts.
func (e *Engine) PublicKey() *bls12377.G1Affine { return e.pk }

// Keyring returns the engine's party-key registry.
func (e *Engine) Keyring() *Keyring { return e.ring }

// NewSubmission builds a submission for value v: the masked ciphertext, the
// binding commitment, the ephemeral point, and the Groth16 validity proof.
// This is the prover (client) side of the contract.
func (e *Engine) NewSubmission(v *big.Int) (Submission, error) {
	if !fitsField(v) {
		return Submission{}, ErrMalformedValue
	}

	var r bls12377_fr.Element
	if _, err := r.SetRandom(); err != nil {
		return Submission{}, fmt.Errorf("submission randomness: %w", err)
	}
	g1Jac, _, _, _ := bls12377.Generators()
	var g, gr, encKey bls12377.G1Affine
	g.FromJacobian(&g1Jac)
	rBig := r.BigInt(new(big.Int))
	gr.ScalarMultiplication(&g, rBig)
	encKey.ScalarMultiplication(e.pk, rBig)

	var vElem, rnd bls12377_fp.Element
	vElem.SetBigInt(v)
	if _, err := rnd.SetRandom(); err != nil {
		return Submission{}, fmt.Errorf("commitment randomness: %w", err)
	}

	mask := submissionMask(&encKey)
	var c bls12377_fp.Element
	c.Add(&vElem, &mask)
	cm := commitment(&vElem, &rnd)

	witness := &CircuitSubmission{
		C:      c.BigInt(new(big.Int)).String(),
		Cm:     cm.BigInt(new(big.Int)).String(),
		G:      toGnarkPoint(&g),
		GB:     toGnarkPoint(e.pk),
		GR:     toGnarkPoint(&gr),
		V:      vElem.BigInt(new(big.Int)).String(),
		Rand:   rnd.BigInt(new(big.Int)).String(),
		R:      r.BigInt(new(big.Int)).String(),
		EncKey: toGnarkPoint(&encKey),
	}
	proof, err := proveSubmission(witness, e.ccs, e.pk16)
	if err != nil {
		return Submission{}, err
	}
	return Submission{
		C:     c.BigInt(new(big.Int)).String(),
		Cm:    cm.BigInt(new(big.Int)).String(),
		GR:    gr.Marshal(),
		Proof: proof,
	}, nil
}

// Validate verifies a submission's proof and lifts the value into garbled form.
func (e *Engine) Validate(sub Submission) (Garbled, error) {
	var gr bls12377.G1Affine
	if err := gr.Unmarshal(sub.GR); err != nil {
		return Garbled{}, fmt.Errorf("%w: bad ephemeral point", ErrInvalidProof)
	}
	g1Jac, _, _, _ := bls12377.Generators()
	var g bls12377.G1Affine
	g.FromJacobian(&g1Jac)

	public := &CircuitSubmission{
		C:  sub.C,
		Cm: sub.Cm,
		G:  toGnarkPoint(&g),
		GB: toGnarkPoint(e.pk),
		GR: toGnarkPoint(&gr),
	}
	if err := verifySubmission(public, sub.Proof, e.vk16); err != nil {
		return Garbled{}, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	// Unmask with the engine key: encKey = GR^sk.
	encKey := ComputeDHShared(e.sk, &gr)
	mask := submissionMask(encKey)
	var c bls12377_fp.Element
	if _, err := c.SetString(sub.C); err != nil {
		return Garbled{}, fmt.Errorf("%w: bad ciphertext", ErrInvalidProof)
	}
	var v bls12377_fp.Element
	v.Sub(&c, &mask)
	return e.garble(&v), nil
}

// Seal binds a garbled value to the owner's key with a fresh nonce.
func (e *Engine) Seal(g Garbled, owner KeyID) (Sealed, error) {
	v, err := e.ungarble(g)
	if err != nil {
		return Sealed{}, err
	}
	return e.seal(v, owner)
}

// Onboard lifts a sealed ciphertext back into garbled form.
func (e *Engine) Onboard(s Sealed) (Garbled, error) {
	v, err := e.open(s)
	if err != nil {
		return Garbled{}, err
	}
	return e.garble(v), nil
}

// Reseal re-encrypts a stored ciphertext for a different viewer. The result is
// a fresh ciphertext; the input is untouched.
func (e *Engine) Reseal(s Sealed, viewer KeyID) (Sealed, error) {
	v, err := e.open(s)
	if err != nil {
		return Sealed{}, err
	}
	return e.seal(v, viewer)
}

// Equal compares two garbled values without disclosing them.
func (e *Engine) Equal(a, b Garbled) (GarbledBool, error) {
	// Handles share the session mask, so masked equality is value equality.
	var bit byte
	if bytes.Equal(a.data, b.data) {
		bit = 1
	}
	return GarbledBool{data: bit ^ e.pad}, nil
}

// Reveal decrypts a garbled boolean.
func (e *Engine) Reveal(gb GarbledBool) (bool, error) {
	return gb.data^e.pad == 1, nil
}

// LiftPublic lifts a plaintext value into the garbled domain.
func (e *Engine) LiftPublic(v *big.Int) (Garbled, error) {
	if !fitsField(v) {
		return Garbled{}, ErrMalformedValue
	}
	var elem bls12377_fp.Element
	elem.SetBigInt(v)
	return e.garble(&elem), nil
}

// garble re-masks a field element under the session mask.
func (e *Engine) garble(v *bls12377_fp.Element) Garbled {
	var m bls12377_fp.Element
	m.Add(v, &e.sess)
	b := m.Bytes()
	return Garbled{data: b[:]}
}

// ungarble recovers the field element behind a handle produced by this engine.
func (e *Engine) ungarble(g Garbled) (*bls12377_fp.Element, error) {
	if len(g.data) != bls12377_fp.Bytes {
		return nil, ErrForeignCiphertext
	}
	var m, v bls12377_fp.Element
	m.SetBytes(g.data)
	v.Sub(&m, &e.sess)
	return &v, nil
}

// seal encrypts a value for one owner under a fresh nonce.
func (e *Engine) seal(v *bls12377_fp.Element, owner KeyID) (Sealed, error) {
	ownerPk, ok := e.ring.Lookup(owner)
	if !ok {
		return Sealed{}, fmt.Errorf("seal for %s: %w", owner.Hex(), ErrUnknownKey)
	}
	nonce := randomBytes(24)
	shared := ComputeDHShared(e.sk, ownerPk)
	mask := sealMask(shared, nonce)
	var c bls12377_fp.Element
	c.Add(v, &mask)
	cb := c.Bytes()
	return Sealed{Backend: BackendMiMC, Owner: owner, Nonce: nonce, C: cb[:]}, nil
}

// open decrypts a sealed ciphertext engine-side (the value stays in-engine).
func (e *Engine) open(s Sealed) (*bls12377_fp.Element, error) {
	if s.Backend != BackendMiMC {
		return nil, ErrForeignCiphertext
	}
	ownerPk, ok := e.ring.Lookup(s.Owner)
	if !ok {
		return nil, fmt.Errorf("onboard for %s: %w", s.Owner.Hex(), ErrUnknownKey)
	}
	shared := ComputeDHShared(e.sk, ownerPk)
	mask := sealMask(shared, s.Nonce)
	var c, v bls12377_fp.Element
	c.SetBytes(s.C)
	v.Sub(&c, &mask)
	return &v, nil
}

// toGnarkPoint converts a native BLS12-377 point to gnark witness format.
func toGnarkPoint(p *bls12377.G1Affine) sw_bls12377.G1Affine {
	xBytes := p.X.Bytes()
	yBytes := p.Y.Bytes()
	return sw_bls12377.G1Affine{
		X: new(big.Int).SetBytes(xBytes[:]).String(),
		Y: new(big.Int).SetBytes(yBytes[:]).String(),
	}
}

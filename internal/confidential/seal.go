// seal.go - MiMC mask derivation for submission and at-rest encryption.
//
// A submission mask is a MiMC chain over an ephemeral DH key and must match the
// in-circuit encryption exactly, so a validity proof binds ciphertext and
// commitment to the same value. A seal mask additionally absorbs a fresh nonce
// so every sealing of the same value yields a distinct ciphertext.

package confidential

import (
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377_fp "github.com/consensys/gnark-crypto/ecc/bls12-377/fp"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// submissionMask derives the one-element mask for a submission ciphertext:
// MiMC(encKey.X || encKey.Y). Mirrored in CircuitSubmission.Define.
func submissionMask(encKey *bls12377.G1Affine) bls12377_fp.Element {
	h := mimcNative.NewMiMC()
	x := encKey.X.Bytes()
	y := encKey.Y.Bytes()
	h.Write(x[:])
	h.Write(y[:])
	var mask bls12377_fp.Element
	mask.SetBytes(h.Sum(nil))
	return mask
}

// sealMask derives the at-rest mask for one sealing: MiMC(shared.X || shared.Y
// || nonce). The nonce is reduced to a canonical field element before hashing.
func sealMask(shared *bls12377.G1Affine, nonce []byte) bls12377_fp.Element {
	h := mimcNative.NewMiMC()
	x := shared.X.Bytes()
	y := shared.Y.Bytes()
	h.Write(x[:])
	h.Write(y[:])
	var n bls12377_fp.Element
	n.SetBytes(nonce)
	nb := n.Bytes()
	h.Write(nb[:])
	var mask bls12377_fp.Element
	mask.SetBytes(h.Sum(nil))
	return mask
}

// commitment computes Com(v, r) = MiMC(v || r). Mirrored in-circuit.
func commitment(v, r *bls12377_fp.Element) bls12377_fp.Element {
	h := mimcNative.NewMiMC()
	vb := v.Bytes()
	rb := r.Bytes()
	h.Write(vb[:])
	h.Write(rb[:])
	var cm bls12377_fp.Element
	cm.SetBytes(h.Sum(nil))
	return cm
}

// fitsField reports whether v is representable as a canonical field element.
func fitsField(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(bls12377_fp.Modulus()) < 0
}

// EncodeBytes packs short opaque bytes (invoice notes) into a field value.
// The payload must leave room for canonical reduction; 46 bytes is the limit.
func EncodeBytes(b []byte) (*big.Int, error) {
	if len(b) > 46 {
		return nil, ErrMalformedValue
	}
	return new(big.Int).SetBytes(b), nil
}

// DecodeBytes is the inverse of EncodeBytes.
func DecodeBytes(v *big.Int) []byte {
	return v.Bytes()
}

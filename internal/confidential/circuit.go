package confidential

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/native/sw_bls12377"
	"github.com/consensys/gnark/std/hash/mimc"
)

// CircuitSubmission proves that a submission ciphertext and its commitment open
// to the same value, and that the ciphertext mask is bound to the engine's key
// through the ephemeral point GR.
type CircuitSubmission struct {
	// Public inputs
	C  frontend.Variable    `gnark:",public"`
	Cm frontend.Variable    `gnark:",public"`
	G  sw_bls12377.G1Affine `gnark:",public"`
	GB sw_bls12377.G1Affine `gnark:",public"`
	GR sw_bls12377.G1Affine `gnark:",public"`

	// Private inputs
	V      frontend.Variable
	Rand   frontend.Variable
	R      frontend.Variable
	EncKey sw_bls12377.G1Affine
}

func (c *CircuitSubmission) Define(api frontend.API) error {
	// Key binding: encKey = GB^r and GR = G^r
	encKey := new(sw_bls12377.G1Affine)
	encKey.ScalarMul(api, c.GB, c.R)
	api.AssertIsEqual(c.EncKey.X, encKey.X)
	api.AssertIsEqual(c.EncKey.Y, encKey.Y)

	gr := new(sw_bls12377.G1Affine)
	gr.ScalarMul(api, c.G, c.R)
	api.AssertIsEqual(c.GR.X, gr.X)
	api.AssertIsEqual(c.GR.Y, gr.Y)

	// Ciphertext: C = V + MiMC(encKey.X, encKey.Y)
	hasher, _ := mimc.NewMiMC(api)
	hasher.Write(c.EncKey.X)
	hasher.Write(c.EncKey.Y)
	mask := hasher.Sum()
	api.AssertIsEqual(c.C, api.Add(c.V, mask))

	// Commitment: Cm = MiMC(V, Rand)
	hasher.Reset()
	hasher.Write(c.V)
	hasher.Write(c.Rand)
	api.AssertIsEqual(c.Cm, hasher.Sum())

	return nil
}

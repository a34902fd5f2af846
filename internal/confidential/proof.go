// proof.go - Groth16 key management and submission proof plumbing.
//
// Proving and verifying keys for the submission circuit are generated once and
// cached on disk; every engine instance pointed at the same key directory
// reuses them.

package confidential

import (
	"bytes"
	"fmt"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// CompileSubmissionCircuit compiles the submission circuit over BW6-761.
func CompileSubmissionCircuit() (constraint.ConstraintSystem, error) {
	var circuit CircuitSubmission
	ccs, err := frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("submission circuit compilation failed: %w", err)
	}
	return ccs, nil
}

// SaveProvingKey saves a Groth16 proving key to disk.
func SaveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.WriteTo(f)
	return err
}

// SaveVerifyingKey saves a Groth16 verifying key to disk.
func SaveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.WriteTo(f)
	return err
}

// LoadProvingKey loads a Groth16 proving key from disk.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BW6_761)
	_, err = pk.ReadFrom(f)
	return pk, err
}

// LoadVerifyingKey loads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BW6_761)
	_, err = vk.ReadFrom(f)
	return vk, err
}

// SetupOrLoadKeys generates or loads Groth16 keys for the circuit.
// If keys exist on disk, loads them; otherwise, generates and saves new keys.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, pkErr := LoadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, err
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}

// proveSubmission generates a Groth16 proof for a fully assigned submission
// witness and returns the marshaled proof bytes.
func proveSubmission(witness *CircuitSubmission, ccs constraint.ConstraintSystem, pk groth16.ProvingKey) ([]byte, error) {
	w, err := frontend.NewWitness(witness, ecc.BW6_761.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}
	proof, err := groth16.Prove(ccs, pk, w)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	return buf.Bytes(), nil
}

// verifySubmission checks a marshaled proof against the public-only witness.
func verifySubmission(public *CircuitSubmission, proofBytes []byte, vk groth16.VerifyingKey) error {
	w, err := frontend.NewWitness(public, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness creation failed: %w", err)
	}
	proof := groth16.NewProof(ecc.BW6_761)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("proof unmarshaling failed: %w", err)
	}
	if err := groth16.Verify(proof, vk, w); err != nil {
		return fmt.Errorf("proof verification failed: %w", err)
	}
	return nil
}

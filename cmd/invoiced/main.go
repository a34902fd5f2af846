// main.go - Entry point of the confidential invoicing daemon.
//
// Usage:
//   invoiced serve              start the REST daemon
//   invoiced keys <name>        generate a party keypair file
//
// The daemon keeps the ledger in a single JSON file (public metadata plus
// sealed ciphertexts, append-only in spirit) and exposes the lifecycle over
// HTTP. Party secret keys never reach the daemon: clients register only public
// key material and open disclosures on their own machines.

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"filippo.io/age"
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/spf13/cobra"

	"confinvoice/internal/confidential"
	"confinvoice/internal/confidential/agevault"
	"confinvoice/internal/ledger"
)

const version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "invoiced",
	Short: "Confidential invoicing ledger daemon",
	Long: `invoiced runs a ledger of invoices whose amount, due date, and notes are
encrypted end to end. Existence, parties, timestamps, and status stay public;
payment correctness is checked without decrypting the amount.`,
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		if err := setupLogger(cfg); err != nil {
			return err
		}
		return serve(cfg)
	},
}

var keysOutDir string

var keysCmd = &cobra.Command{
	Use:   "keys <name>",
	Short: "Generate a party keypair file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		party, err := confidential.NewParty(name)
		if err != nil {
			return err
		}
		path := filepath.Join(keysOutDir, name+".json")
		if err := party.Save(path); err != nil {
			return fmt.Errorf("saving keypair: %w", err)
		}
		fmt.Printf("wrote %s\n", path)
		fmt.Printf("party id:   %s\n", party.ID().Hex())
		fmt.Printf("public key: %s\n", hex.EncodeToString(party.PublicKey().Marshal()))
		return nil
	},
}

func init() {
	keysCmd.Flags().StringVarP(&keysOutDir, "out", "o", ".", "directory for the keypair file")
	rootCmd.AddCommand(serveCmd, keysCmd)
}

func serve(cfg *Config) error {
	log := componentLogger("daemon")
	log.Info().Str("version", version).Str("backend", cfg.Backend).Msg("starting")

	store, err := ledger.LoadStoreFromFile(cfg.LedgerPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("loading ledger: %w", err)
		}
		store = ledger.NewStore()
		log.Info().Str("path", cfg.LedgerPath).Msg("starting with an empty ledger")
	} else {
		log.Info().Int("invoices", store.Len()).Msg("ledger loaded")
	}

	var (
		svc confidential.Service
		reg Registrar
	)
	switch cfg.Backend {
	case "mimc":
		eng, err := confidential.NewEngine(cfg.KeyDir)
		if err != nil {
			return fmt.Errorf("starting proof engine: %w", err)
		}
		svc = eng
		reg = &engineRegistrar{eng: eng}
		log.Info().Str("engine_pk", hex.EncodeToString(eng.PublicKey().Marshal())).
			Msg("proof engine ready")
	case "agevault":
		vault, err := agevault.NewVault()
		if err != nil {
			return fmt.Errorf("starting vault: %w", err)
		}
		svc = vault
		reg = &vaultRegistrar{vault: vault}
		log.Info().Str("vault_recipient", vault.Recipient().String()).Msg("vault ready")
	}

	bank := NewMemoryBank()
	lc, err := ledger.NewLifecycle(ledger.Config{
		Store:    store,
		Service:  svc,
		Transfer: bank,
		Emitter:  ledger.LogEmitter{Log: componentLogger("events")},
		Policy:   ledger.Policy{VerifyAmount: cfg.VerifyAmount},
	})
	if err != nil {
		return err
	}

	srv := NewServer(lc, store, bank, reg, cfg)
	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
	if err := store.SaveToFile(cfg.LedgerPath); err != nil {
		return fmt.Errorf("final ledger save: %w", err)
	}
	return nil
}

// engineRegistrar admits hex-encoded marshaled BLS12-377 points.
type engineRegistrar struct {
	eng *confidential.Engine
}

func (r *engineRegistrar) RegisterKey(material string) (ledger.Identity, error) {
	raw, err := hex.DecodeString(material)
	if err != nil {
		return ledger.Identity{}, fmt.Errorf("decoding public key: %w", err)
	}
	var pk bls12377.G1Affine
	if err := pk.Unmarshal(raw); err != nil {
		return ledger.Identity{}, fmt.Errorf("parsing public key: %w", err)
	}
	return r.eng.Keyring().Register(&pk), nil
}

// vaultRegistrar admits age recipient strings.
type vaultRegistrar struct {
	vault *agevault.Vault
}

func (r *vaultRegistrar) RegisterKey(material string) (ledger.Identity, error) {
	recipient, err := age.ParseX25519Recipient(material)
	if err != nil {
		return ledger.Identity{}, fmt.Errorf("parsing recipient: %w", err)
	}
	return r.vault.Register(recipient), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

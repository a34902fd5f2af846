package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"filippo.io/age"

	"confinvoice/internal/confidential"
	"confinvoice/internal/confidential/agevault"
	"confinvoice/internal/ledger"
)

type testDaemon struct {
	handler http.Handler
	vault   *agevault.Vault
	bank    *MemoryBank
}

func newTestDaemon(t *testing.T) *testDaemon {
	t.Helper()
	vault, err := agevault.NewVault()
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}
	bank := NewMemoryBank()
	store := ledger.NewStore()
	lc, err := ledger.NewLifecycle(ledger.Config{
		Store:    store,
		Service:  vault,
		Transfer: bank,
		Policy:   ledger.Policy{VerifyAmount: true},
	})
	if err != nil {
		t.Fatalf("NewLifecycle failed: %v", err)
	}
	cfg := &Config{
		LedgerPath:      filepath.Join(t.TempDir(), "ledger.json"),
		RateLimitBurst:  1000,
		RateLimitRefill: time.Second,
	}
	srv := NewServer(lc, store, bank, &vaultRegistrar{vault: vault}, cfg)
	return &testDaemon{handler: srv.Handler(), vault: vault, bank: bank}
}

// do runs one request through the handler and decodes the JSON response.
func (d *testDaemon) do(t *testing.T, method, path, party string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if party != "" {
		req.Header.Set("X-Party-ID", party)
	}
	rec := httptest.NewRecorder()
	d.handler.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code
}

func (d *testDaemon) registerParty(t *testing.T, id *age.X25519Identity) string {
	t.Helper()
	var resp struct {
		ID string `json:"id"`
	}
	code := d.do(t, "POST", "/parties", "", map[string]string{"key": id.Recipient().String()}, &resp)
	if code != http.StatusCreated {
		t.Fatalf("party registration returned %d", code)
	}
	return resp.ID
}

func (d *testDaemon) submission(t *testing.T, val int64) confidential.Submission {
	t.Helper()
	sub, err := d.vault.NewSubmission(big.NewInt(val))
	if err != nil {
		t.Fatalf("NewSubmission failed: %v", err)
	}
	return sub
}

func TestServerInvoiceFlow(t *testing.T) {
	d := newTestDaemon(t)
	senderKey, _ := age.GenerateX25519Identity()
	recipientKey, _ := age.GenerateX25519Identity()
	sender := d.registerParty(t, senderKey)
	recipient := d.registerParty(t, recipientKey)

	// Fund the recipient's payment account.
	var bal struct {
		Balance uint64 `json:"balance"`
	}
	if code := d.do(t, "POST", "/accounts/"+recipient+"/credit", "", map[string]uint64{"amount": 5000}, &bal); code != http.StatusOK {
		t.Fatalf("credit returned %d", code)
	}
	if bal.Balance != 5000 {
		t.Fatalf("balance after credit = %d", bal.Balance)
	}

	// Create.
	var created struct {
		ID string `json:"id"`
	}
	createReq := createInvoiceRequest{
		Recipient: recipient,
		Amount:    d.submission(t, 1200),
		DueDate:   d.submission(t, 1767139200),
		Notes:     d.submission(t, 7),
	}
	if code := d.do(t, "POST", "/invoices", sender, createReq, &created); code != http.StatusCreated {
		t.Fatalf("create returned %d", code)
	}

	// Listings: sender's sent box and recipient's received box hold the id.
	var listing struct {
		Invoices []string `json:"invoices"`
	}
	d.do(t, "GET", "/invoices?box=sent", sender, nil, &listing)
	if len(listing.Invoices) != 1 || listing.Invoices[0] != created.ID {
		t.Errorf("sent box = %v", listing.Invoices)
	}
	d.do(t, "GET", "/invoices?box=received", recipient, nil, &listing)
	if len(listing.Invoices) != 1 {
		t.Errorf("received box = %v", listing.Invoices)
	}

	// A wrong payment conflicts, the right one settles.
	payPath := fmt.Sprintf("/invoices/%s/pay", created.ID)
	if code := d.do(t, "POST", payPath, recipient, payInvoiceRequest{Amount: 1100}, nil); code != http.StatusConflict {
		t.Errorf("mismatched payment returned %d, want 409", code)
	}
	if code := d.do(t, "POST", payPath, recipient, payInvoiceRequest{Amount: 1200}, nil); code != http.StatusOK {
		t.Errorf("payment returned %d, want 200", code)
	}
	if code := d.do(t, "POST", payPath, recipient, payInvoiceRequest{Amount: 1200}, nil); code != http.StatusConflict {
		t.Errorf("double payment returned %d, want 409", code)
	}

	// Disclosure: only parties may view, and the recipient can open the amount.
	var disc ledger.Disclosure
	if code := d.do(t, "GET", "/invoices/"+created.ID, recipient, nil, &disc); code != http.StatusOK {
		t.Fatalf("disclosure returned %d", code)
	}
	if disc.Status != ledger.StatusPaid {
		t.Errorf("status = %s, want paid", disc.Status)
	}
	amt, err := agevault.Open(disc.Amount, recipientKey)
	if err != nil || amt.Int64() != 1200 {
		t.Errorf("opened amount = %v, %v", amt, err)
	}

	strangerKey, _ := age.GenerateX25519Identity()
	stranger := d.registerParty(t, strangerKey)
	if code := d.do(t, "GET", "/invoices/"+created.ID, stranger, nil, nil); code != http.StatusForbidden {
		t.Errorf("stranger disclosure returned %d, want 403", code)
	}
}

func TestServerMarkLate(t *testing.T) {
	d := newTestDaemon(t)
	senderKey, _ := age.GenerateX25519Identity()
	recipientKey, _ := age.GenerateX25519Identity()
	sender := d.registerParty(t, senderKey)
	recipient := d.registerParty(t, recipientKey)

	var created struct {
		ID string `json:"id"`
	}
	d.do(t, "POST", "/invoices", sender, createInvoiceRequest{
		Recipient: recipient,
		Amount:    d.submission(t, 800),
		DueDate:   d.submission(t, 1767139200),
		Notes:     d.submission(t, 1),
	}, &created)

	latePath := fmt.Sprintf("/invoices/%s/late", created.ID)
	// Only the sender may mark late.
	if code := d.do(t, "POST", latePath, recipient, nil, nil); code != http.StatusForbidden {
		t.Errorf("recipient mark-late returned %d, want 403", code)
	}
	if code := d.do(t, "POST", latePath, sender, nil, nil); code != http.StatusOK {
		t.Errorf("mark-late returned %d, want 200", code)
	}
	// Late is terminal: paying afterwards conflicts.
	if code := d.do(t, "POST", fmt.Sprintf("/invoices/%s/pay", created.ID), recipient, payInvoiceRequest{Amount: 800}, nil); code != http.StatusConflict {
		t.Errorf("pay after late returned %d, want 409", code)
	}
}

func TestServerErrorMapping(t *testing.T) {
	d := newTestDaemon(t)
	key, _ := age.GenerateX25519Identity()
	party := d.registerParty(t, key)

	// Unknown invoice.
	missing := ledger.InvoiceID{0xde, 0xad}
	if code := d.do(t, "GET", "/invoices/"+missing.Hex(), party, nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown invoice returned %d, want 404", code)
	}
	// Missing caller header.
	if code := d.do(t, "GET", "/invoices/"+missing.Hex(), "", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("missing header returned %d, want 401", code)
	}
	// Bad listing box.
	if code := d.do(t, "GET", "/invoices?box=trash", party, nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad box returned %d, want 400", code)
	}
	// Garbage submission payloads fail validation.
	recipientKey, _ := age.GenerateX25519Identity()
	recipient := d.registerParty(t, recipientKey)
	bad := confidential.Submission{C: "!!", Cm: "00", Proof: []byte{1}}
	if code := d.do(t, "POST", "/invoices", party, createInvoiceRequest{
		Recipient: recipient, Amount: bad, DueDate: bad, Notes: bad,
	}, nil); code != http.StatusBadRequest {
		t.Errorf("bad submission returned %d, want 400", code)
	}
}

func TestServerHealthAndMetrics(t *testing.T) {
	d := newTestDaemon(t)
	var health SystemHealth
	if code := d.do(t, "GET", "/healthz", "", nil, &health); code != http.StatusOK {
		t.Fatalf("healthz returned %d", code)
	}
	if health.OverallStatus != Healthy {
		t.Errorf("overall status = %s", health.OverallStatus)
	}
	var metrics map[string]interface{}
	if code := d.do(t, "GET", "/metrics", "", nil, &metrics); code != http.StatusOK {
		t.Fatalf("metrics returned %d", code)
	}
	if _, ok := metrics["counters"]; !ok {
		t.Error("metrics summary missing counters")
	}
}

func TestRateLimiterBuckets(t *testing.T) {
	rl := NewRateLimiter(2, time.Hour)
	if !rl.Allow() || !rl.Allow() {
		t.Fatal("burst tokens should be available")
	}
	if rl.Allow() {
		t.Error("empty bucket must refuse")
	}

	prl := NewPartyRateLimiter(1, time.Hour)
	a := ledger.Identity{0x01}
	b := ledger.Identity{0x02}
	if !prl.Allow(a) || !prl.Allow(b) {
		t.Error("buckets must be independent per party")
	}
	if prl.Allow(a) {
		t.Error("party bucket must be exhausted")
	}
}

func TestMemoryBank(t *testing.T) {
	bank := NewMemoryBank()
	a := ledger.Identity{0x01}
	b := ledger.Identity{0x02}
	bank.Credit(a, 100)

	if err := bank.Transfer(a, b, 150); err == nil {
		t.Error("overdraft must fail")
	}
	if bank.Balance(a) != 100 || bank.Balance(b) != 0 {
		t.Error("failed transfer must not move funds")
	}
	if err := bank.Transfer(a, b, 60); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if bank.Balance(a) != 40 || bank.Balance(b) != 60 {
		t.Errorf("balances = %d, %d", bank.Balance(a), bank.Balance(b))
	}
}

// server.go - REST surface of the invoicing daemon.
//
// Routes:
//   POST /parties                  register a party key, returns its id
//   POST /invoices                 create an invoice (caller = sender)
//   POST /invoices/{id}/pay        settle an invoice (caller = recipient)
//   POST /invoices/{id}/late       mark an invoice late (caller = sender)
//   GET  /invoices/{id}            disclose an invoice to the caller
//   GET  /invoices?box=sent        list the caller's sent or received ids
//   POST /accounts/{id}/credit     fund a payment account
//   GET  /accounts/{id}/balance    read a payment account
//   GET  /healthz                  component health
//   GET  /metrics                  operation metrics
//
// The caller authenticates with the X-Party-ID header. Ledger errors map onto
// HTTP statuses; confidential payloads never appear in logs or error bodies.

package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"confinvoice/internal/confidential"
	"confinvoice/internal/ledger"
)

// Registrar admits a party's key material into the confidential backend. The
// material format is backend-specific: a marshaled curve point for the proof
// engine, an age recipient string for the vault.
type Registrar interface {
	RegisterKey(material string) (ledger.Identity, error)
}

// Server wires the lifecycle and its supporting pieces behind HTTP.
type Server struct {
	lifecycle *ledger.Lifecycle
	store     *ledger.Store
	bank      *MemoryBank
	registrar Registrar
	health    *HealthChecker
	metrics   *MetricsCollector
	limiter   *PartyRateLimiter
	log       zerolog.Logger

	// ledgerPath is where the store is persisted after each mutation.
	ledgerPath string
}

// NewServer assembles the HTTP layer.
func NewServer(lc *ledger.Lifecycle, store *ledger.Store, bank *MemoryBank, reg Registrar, cfg *Config) *Server {
	s := &Server{
		lifecycle:  lc,
		store:      store,
		bank:       bank,
		registrar:  reg,
		health:     NewHealthChecker(version),
		metrics:    NewMetricsCollector(),
		limiter:    NewPartyRateLimiter(cfg.RateLimitBurst, cfg.RateLimitRefill),
		log:        componentLogger("server"),
		ledgerPath: cfg.LedgerPath,
	}
	s.health.RegisterComponent("store", func() error {
		return s.store.SaveToFile(s.ledgerPath)
	})
	s.health.RegisterComponent("bank", func() error { return nil })
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /parties", s.handleRegisterParty)
	mux.HandleFunc("POST /invoices", s.withParty(s.handleCreateInvoice))
	mux.HandleFunc("POST /invoices/{id}/pay", s.withParty(s.handlePayInvoice))
	mux.HandleFunc("POST /invoices/{id}/late", s.withParty(s.handleMarkLate))
	mux.HandleFunc("GET /invoices/{id}", s.withParty(s.handleGetInvoice))
	mux.HandleFunc("GET /invoices", s.withParty(s.handleListInvoices))
	mux.HandleFunc("POST /accounts/{id}/credit", s.handleCredit)
	mux.HandleFunc("GET /accounts/{id}/balance", s.handleBalance)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	return s.logRequests(mux)
}

// logRequests is the outermost middleware: one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// withParty resolves the caller from X-Party-ID and applies rate limiting.
func (s *Server) withParty(next func(http.ResponseWriter, *http.Request, ledger.Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := confidential.ParseKeyID(r.Header.Get("X-Party-ID"))
		if err != nil || caller.IsZero() {
			writeError(w, http.StatusUnauthorized, "missing or malformed X-Party-ID header")
			return
		}
		if !s.limiter.Allow(caller) {
			s.metrics.IncrementCounter(MetricRateLimited, nil)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r, caller)
	}
}

type registerPartyRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleRegisterParty(w http.ResponseWriter, r *http.Request) {
	var req registerPartyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		writeError(w, http.StatusBadRequest, "body must carry a key field")
		return
	}
	id, err := s.registrar.RegisterKey(req.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, "key material not accepted")
		return
	}
	s.log.Info().Str("party", id.Hex()).Msg("party registered")
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.Hex()})
}

type createInvoiceRequest struct {
	Recipient string                  `json:"recipient"`
	Amount    confidential.Submission `json:"amount"`
	DueDate   confidential.Submission `json:"due_date"`
	Notes     confidential.Submission `json:"notes"`
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request, caller ledger.Identity) {
	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	recipient, err := confidential.ParseKeyID(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed recipient id")
		return
	}

	start := time.Now()
	id, err := s.lifecycle.CreateInvoice(caller, recipient, req.Amount, req.DueDate, req.Notes)
	s.metrics.RecordValidation(time.Since(start))
	if err != nil {
		s.metrics.RecordError("create")
		writeLedgerError(w, err)
		return
	}
	s.metrics.RecordInvoiceCreated()
	s.persist()
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.Hex()})
}

type payInvoiceRequest struct {
	Amount uint64 `json:"amount"`
}

func (s *Server) handlePayInvoice(w http.ResponseWriter, r *http.Request, caller ledger.Identity) {
	id, ok := parseInvoiceID(w, r)
	if !ok {
		return
	}
	var req payInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.lifecycle.PayInvoice(caller, id, req.Amount); err != nil {
		s.metrics.RecordError("pay")
		writeLedgerError(w, err)
		return
	}
	s.metrics.RecordPayment(true)
	s.persist()
	writeJSON(w, http.StatusOK, map[string]string{"status": ledger.StatusPaid.String()})
}

func (s *Server) handleMarkLate(w http.ResponseWriter, r *http.Request, caller ledger.Identity) {
	id, ok := parseInvoiceID(w, r)
	if !ok {
		return
	}
	if err := s.lifecycle.MarkLate(caller, id); err != nil {
		s.metrics.RecordError("late")
		writeLedgerError(w, err)
		return
	}
	s.metrics.IncrementCounter(MetricLateMarks, nil)
	s.persist()
	writeJSON(w, http.StatusOK, map[string]string{"status": ledger.StatusLate.String()})
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request, caller ledger.Identity) {
	id, ok := parseInvoiceID(w, r)
	if !ok {
		return
	}
	disc, err := s.lifecycle.GetInvoice(caller, id)
	if err != nil {
		s.metrics.RecordError("get")
		writeLedgerError(w, err)
		return
	}
	s.metrics.RecordDisclosure()
	writeJSON(w, http.StatusOK, disc)
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request, caller ledger.Identity) {
	var ids []ledger.InvoiceID
	switch box := r.URL.Query().Get("box"); box {
	case "sent":
		ids = s.lifecycle.SentInvoices(caller)
	case "received":
		ids = s.lifecycle.ReceivedInvoices(caller)
	default:
		writeError(w, http.StatusBadRequest, "box must be sent or received")
		return
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Hex()
	}
	writeJSON(w, http.StatusOK, map[string][]string{"invoices": out})
}

type creditRequest struct {
	Amount uint64 `json:"amount"`
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	id, err := confidential.ParseKeyID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed account id")
		return
	}
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	s.bank.Credit(id, req.Amount)
	writeJSON(w, http.StatusOK, map[string]uint64{"balance": s.bank.Balance(id)})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, err := confidential.ParseKeyID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed account id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"balance": s.bank.Balance(id)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.health.CheckHealth()
	status := http.StatusOK
	if health.OverallStatus == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	s.metrics.SetGauge(MetricLedgerSize, float64(s.store.Len()), nil)
	writeJSON(w, status, health)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.SetGauge(MetricLedgerSize, float64(s.store.Len()), nil)
	writeJSON(w, http.StatusOK, s.metrics.GetMetricsSummary())
}

// persist writes the store to disk after a successful mutation. A failed write
// is logged, not surfaced: the in-memory ledger remains the source of truth.
func (s *Server) persist() {
	if err := s.store.SaveToFile(s.ledgerPath); err != nil {
		s.log.Error().Err(err).Str("path", s.ledgerPath).Msg("ledger persist failed")
	}
}

func parseInvoiceID(w http.ResponseWriter, r *http.Request) (ledger.InvoiceID, bool) {
	id, err := ledger.ParseInvoiceID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed invoice id")
		return ledger.InvoiceID{}, false
	}
	return id, true
}

// writeLedgerError maps the ledger's error taxonomy onto HTTP statuses.
func writeLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrInvalidInput), errors.Is(err, ledger.ErrInvalidProof):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrInvalidState),
		errors.Is(err, ledger.ErrPaymentMismatch),
		errors.Is(err, ledger.ErrIDCollision):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrTransferFailed):
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

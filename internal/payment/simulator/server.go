package simulator

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Mujojo03/BitMarket-sub000/internal/payment"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type Config struct {
	APIKey     string
	InvoiceTTL time.Duration
	// SettleAfterPolls resolves an invoice on that status poll. Zero leaves
	// invoices pending until settled by hand or expired.
	SettleAfterPolls int
}

type invoiceRecord struct {
	invoice payment.Invoice
	polls   int
}

// Server is an in-memory stand-in for the payment gateway.
type Server struct {
	cfg     Config
	outcome Outcome
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	invoices map[string]*invoiceRecord
	byKey    map[string]string
}

func NewServer(cfg Config, outcome Outcome, log *slog.Logger) *Server {
	if cfg.InvoiceTTL <= 0 {
		cfg.InvoiceTTL = 15 * time.Minute
	}
	if outcome == nil {
		outcome = FixedOutcome(payment.StatusPaid)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		outcome:  outcome,
		log:      log.With("component", "payment_simulator"),
		now:      time.Now,
		invoices: make(map[string]*invoiceRecord),
		byKey:    make(map[string]string),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/invoices/create", s.createInvoice)
		r.Get("/payments/{id}", s.getInvoice)
		r.Get("/payments/{id}/status", s.getStatus)
		r.Post("/payments/{id}/settle", s.settle)
		r.Delete("/payments/{id}", s.cancel)
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.APIKey {
			respondError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req payment.CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Satoshis <= 0 {
		respondError(w, http.StatusBadRequest, "satoshis must be positive")
		return
	}
	switch req.Method {
	case payment.MethodLightning:
	case payment.MethodMobileMoney:
		if req.PhoneNumber == "" || req.FiatAmount == nil || !req.FiatAmount.IsPositive() {
			respondError(w, http.StatusBadRequest, "mobile money needs a phone number and a positive fiat amount")
			return
		}
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unsupported method %q", req.Method))
		return
	}

	key := r.Header.Get("Idempotency-Key")

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[key]; ok && key != "" {
		respondData(w, http.StatusOK, s.invoices[id].invoice)
		return
	}

	now := s.now().UTC()
	inv := payment.Invoice{
		ID:        uuid.NewString(),
		Method:    req.Method,
		Satoshis:  req.Satoshis,
		Status:    payment.StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.InvoiceTTL),
	}
	if req.Method == payment.MethodLightning {
		inv.PaymentRequest, inv.PaymentHash = newLightningInvoice(req.Satoshis)
	} else {
		inv.PhoneNumber = req.PhoneNumber
		inv.FiatAmount = req.FiatAmount
		inv.FiatCurrency = req.FiatCurrency
		inv.Reference = "MM" + strings.ToUpper(strings.ReplaceAll(inv.ID, "-", "")[:10])
	}

	s.invoices[inv.ID] = &invoiceRecord{invoice: inv}
	if key != "" {
		s.byKey[key] = inv.ID
	}
	s.log.Info("invoice created", "invoice_id", inv.ID, "method", inv.Method, "satoshis", inv.Satoshis)
	respondData(w, http.StatusCreated, inv)
}

func (s *Server) getInvoice(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.invoices[chi.URLParam(r, "id")]
	if !ok {
		respondError(w, http.StatusNotFound, "invoice not found")
		return
	}
	s.expire(rec)
	respondData(w, http.StatusOK, rec.invoice)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.invoices[chi.URLParam(r, "id")]
	if !ok {
		respondError(w, http.StatusNotFound, "invoice not found")
		return
	}
	s.expire(rec)
	if rec.invoice.Status == payment.StatusPending {
		rec.polls++
		if s.cfg.SettleAfterPolls > 0 && rec.polls >= s.cfg.SettleAfterPolls {
			s.resolve(rec, s.outcome.Resolve())
		}
	}
	respondData(w, http.StatusOK, payment.StatusResponse{ID: rec.invoice.ID, Status: rec.invoice.Status})
}

// settle marks a pending invoice paid, as a wallet would.
func (s *Server) settle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.invoices[chi.URLParam(r, "id")]
	if !ok {
		respondError(w, http.StatusNotFound, "invoice not found")
		return
	}
	s.expire(rec)
	if rec.invoice.Status != payment.StatusPending {
		respondError(w, http.StatusConflict, fmt.Sprintf("invoice is %s", rec.invoice.Status))
		return
	}
	s.resolve(rec, payment.StatusPaid)
	respondData(w, http.StatusOK, rec.invoice)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.invoices[chi.URLParam(r, "id")]
	if !ok {
		respondError(w, http.StatusNotFound, "invoice not found")
		return
	}
	if rec.invoice.Status == payment.StatusPending {
		s.resolve(rec, payment.StatusCancelled)
	}
	respondData(w, http.StatusOK, payment.StatusResponse{ID: rec.invoice.ID, Status: rec.invoice.Status})
}

// callers hold s.mu
func (s *Server) expire(rec *invoiceRecord) {
	if rec.invoice.Status == payment.StatusPending && !s.now().Before(rec.invoice.ExpiresAt) {
		s.resolve(rec, payment.StatusExpired)
	}
}

func (s *Server) resolve(rec *invoiceRecord, status string) {
	rec.invoice.Status = status
	s.log.Info("invoice resolved", "invoice_id", rec.invoice.ID, "status", status, "polls", rec.polls)
}

// newLightningInvoice returns a regtest-style BOLT11 lookalike and its
// payment hash. It is not decodable by a real wallet.
func newLightningInvoice(sats int64) (string, string) {
	preimage := make([]byte, 32)
	_, _ = rand.Read(preimage)
	hash := sha256.Sum256(preimage)
	return fmt.Sprintf("lnbcrt%dn1p%s", sats*10, hex.EncodeToString(preimage[:20])), hex.EncodeToString(hash[:])
}

func respondData(w http.ResponseWriter, status int, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	respondJSON(w, status, payment.Envelope{Status: true, Message: "success", Data: raw})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, payment.Envelope{Status: false, Message: message})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

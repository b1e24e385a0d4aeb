// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"placement-broker/internal/balancegate"
	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Ledger is the part of the credit ledger the HTTP surface exposes.
type Ledger interface {
	Deposit(ctx context.Context, agencyID string, amount decimal.Decimal, currency, reference, note string) (*models.AgencyCredits, error)
	GetAgencyCredits(ctx context.Context, agencyID string) (*models.AgencyCredits, error)
}

type BalanceChecker interface {
	CheckBalance(ctx context.Context, agencyID, sponsorCountry string) (*balancegate.BalanceCheck, error)
	CheckDefault(ctx context.Context, agencyID string) (*balancegate.BalanceCheck, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Handler struct {
	ledger  Ledger
	balance BalanceChecker
	checks  map[string]ReadinessCheck
	logger  logger.Logger
}

func NewHandler(ledger Ledger, balance BalanceChecker, checks map[string]ReadinessCheck, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Handler{
		ledger:  ledger,
		balance: balance,
		checks:  checks,
		logger:  log.WithFields(map[string]interface{}{"component": "api"}),
	}
}

type paymentConfirmation struct {
	AgencyID         string `json:"agencyId"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	PaymentReference string `json:"paymentReference"`
	Note             string `json:"note"`
}

type creditsResponse struct {
	AgencyID         string               `json:"agencyId"`
	Currency         string               `json:"currency"`
	TotalCredits     string               `json:"totalCredits"`
	AvailableCredits string               `json:"availableCredits"`
	ReservedCredits  string               `json:"reservedCredits"`
	AutoApplyCredits bool                 `json:"autoApplyCredits"`
	TransactionLog   []models.LedgerEntry `json:"transactionLog,omitempty"`
}

type balanceCheckResponse struct {
	Sufficient        bool   `json:"sufficient"`
	Required          string `json:"required"`
	Available         string `json:"available"`
	Currency          string `json:"currency"`
	DefaultFeeApplied bool   `json:"defaultFeeApplied"`
}

// confirmPayment is the payment provider callback. Providers redeliver, so
// a reference seen before answers with the current balance and changes nothing.
func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentConfirmation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperrors.NewValidationError("", "invalid JSON body"))
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		writeError(w, r, apperrors.NewValidationError("amount", "must be a decimal string"))
		return
	}

	credits, err := h.ledger.Deposit(r.Context(), req.AgencyID, amount, req.Currency, req.PaymentReference, req.Note)
	if err != nil {
		h.logFailure(r, "payment confirmation failed", err)
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "payment applied", toCreditsResponse(credits))
}

func (h *Handler) getCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := h.ledger.GetAgencyCredits(r.Context(), chi.URLParam(r, "agencyID"))
	if err != nil {
		h.logFailure(r, "credits lookup failed", err)
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", toCreditsResponse(credits))
}

func (h *Handler) checkBalance(w http.ResponseWriter, r *http.Request) {
	agencyID := chi.URLParam(r, "agencyID")
	country := strings.TrimSpace(r.URL.Query().Get("country"))

	var (
		check      *balancegate.BalanceCheck
		err        error
		defaultFee bool
	)
	if country == "" {
		check, err = h.balance.CheckDefault(r.Context(), agencyID)
		defaultFee = true
	} else {
		check, err = h.balance.CheckBalance(r.Context(), agencyID, country)
		var unknown *apperrors.UnknownCountryError
		if errors.As(err, &unknown) {
			check, err = h.balance.CheckDefault(r.Context(), agencyID)
			defaultFee = true
		}
	}
	if err != nil {
		h.logFailure(r, "balance check failed", err)
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", balanceCheckResponse{
		Sufficient:        check.Sufficient,
		Required:          check.Required.StringFixed(2),
		Available:         check.Available.StringFixed(2),
		Currency:          check.Currency,
		DefaultFeeApplied: defaultFee,
	})
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failing := map[string]string{}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		h.logger.Warn("readiness check failed", map[string]interface{}{"failing": failing})
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Status: "error",
			Error: errorPayload{
				Code:    "NOT_READY",
				Message: "dependencies unavailable",
				Details: toDetails(failing),
			},
		})
		return
	}
	writeSuccess(w, http.StatusOK, "ready", nil)
}

func (h *Handler) logFailure(r *http.Request, msg string, err error) {
	fields := map[string]interface{}{
		"path":  r.URL.Path,
		"error": err.Error(),
	}
	if apperrors.Normalize(err).Code == apperrors.ErrCodeInternal || apperrors.IsTransient(err) {
		h.logger.Error(msg, fields)
		return
	}
	h.logger.Debug(msg, fields)
}

func toCreditsResponse(c *models.AgencyCredits) creditsResponse {
	return creditsResponse{
		AgencyID:         c.AgencyID,
		Currency:         c.Currency,
		TotalCredits:     c.TotalCredits.StringFixed(2),
		AvailableCredits: c.AvailableCredits.StringFixed(2),
		ReservedCredits:  c.ReservedCredits.StringFixed(2),
		AutoApplyCredits: c.AutoApplyCredits,
		TransactionLog:   c.TransactionLog,
	}
}

func toDetails(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

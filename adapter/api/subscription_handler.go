package api

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/gaspass/gaspass/internal/subscription/application"
	"github.com/gaspass/gaspass/internal/subscription/domain"
	"github.com/google/uuid"
)

// SubscriptionHandler handles subscription ledger API requests.
type SubscriptionHandler struct {
	ledger *application.Ledger
	logger *slog.Logger
}

// NewSubscriptionHandler creates a new subscription handler.
func NewSubscriptionHandler(ledger *application.Ledger, logger *slog.Logger) *SubscriptionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionHandler{ledger: ledger, logger: logger}
}

type mintRequest struct {
	Owner              string   `json:"owner"`
	HomeChainID        uint64   `json:"home_chain_id"`
	PaymentToken       string   `json:"payment_token"`
	StartTime          string   `json:"start_time"`
	EndTime            string   `json:"end_time"`
	PaidAmount         string   `json:"paid_amount"`
	SponsoredAddresses []string `json:"sponsored_addresses"`
}

type subscriptionResponse struct {
	ID                 uuid.UUID `json:"id"`
	Owner              string    `json:"owner"`
	HomeChainID        uint64    `json:"home_chain_id"`
	PaymentToken       string    `json:"payment_token"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	PaidAmount         string    `json:"paid_amount"`
	RemainingBalance   string    `json:"remaining_balance"`
	SponsoredAddresses []string  `json:"sponsored_addresses"`
	Active             bool      `json:"active"`
}

func toSubscriptionResponse(sub *domain.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                 sub.ID(),
		Owner:              sub.Owner(),
		HomeChainID:        sub.HomeChainID(),
		PaymentToken:       sub.PaymentToken(),
		StartTime:          sub.StartTime(),
		EndTime:            sub.EndTime(),
		PaidAmount:         sub.PaidAmount().String(),
		RemainingBalance:   sub.RemainingBalance().String(),
		SponsoredAddresses: sub.SponsoredAddresses(),
		Active:             sub.IsActiveAt(time.Now().UTC()),
	}
}

// Mint handles POST /api/v1/subscriptions
func (h *SubscriptionHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_time, expected RFC3339")
		return
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_time, expected RFC3339")
		return
	}
	paidAmount, ok := parseAmount(req.PaidAmount)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid paid_amount")
		return
	}

	id, err := h.ledger.Mint(r.Context(), application.MintParams{
		Owner:              req.Owner,
		HomeChainID:        req.HomeChainID,
		PaymentToken:       req.PaymentToken,
		StartTime:          startTime,
		EndTime:            endTime,
		PaidAmount:         paidAmount,
		SponsoredAddresses: req.SponsoredAddresses,
	})
	if err != nil {
		h.logger.Error("failed to mint subscription", "error", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

// Get handles GET /api/v1/subscriptions/{subscriptionID}
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "subscriptionID")
	if !ok {
		return
	}

	sub, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// ListByOwner handles GET /api/v1/subscriptions?owner=0x...
func (h *SubscriptionHandler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "Query parameter 'owner' is required")
		return
	}

	subs, err := h.ledger.GetByOwner(r.Context(), owner)
	if err != nil {
		h.logger.Error("failed to list subscriptions", "owner", owner, "error", err)
		writeDomainError(w, err)
		return
	}

	out := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscriptionResponse(sub))
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": out})
}

// IsActive handles GET /api/v1/subscriptions/{subscriptionID}/active
func (h *SubscriptionHandler) IsActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "subscriptionID")
	if !ok {
		return
	}

	active, err := h.ledger.IsActive(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"active": active})
}

type topUpRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

// TopUp handles POST /api/v1/subscriptions/{subscriptionID}/topup
func (h *SubscriptionHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "subscriptionID")
	if !ok {
		return
	}

	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	if err := h.ledger.TopUp(r.Context(), id, req.Caller, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type extendRequest struct {
	Caller     string `json:"caller"`
	Additional string `json:"additional"`
}

// ExtendWindow handles POST /api/v1/subscriptions/{subscriptionID}/extend
func (h *SubscriptionHandler) ExtendWindow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "subscriptionID")
	if !ok {
		return
	}

	var req extendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	additional, err := time.ParseDuration(req.Additional)
	if err != nil || additional <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid additional duration")
		return
	}

	if err := h.ledger.ExtendWindow(r.Context(), id, req.Caller, additional); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setSponsoredRequest struct {
	Caller    string   `json:"caller"`
	Addresses []string `json:"addresses"`
}

// SetSponsored handles PUT /api/v1/subscriptions/{subscriptionID}/sponsored
func (h *SubscriptionHandler) SetSponsored(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "subscriptionID")
	if !ok {
		return
	}

	var req setSponsoredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.ledger.SetSponsoredAddresses(r.Context(), id, req.Caller, req.Addresses); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addSponsoredRequest struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
}

// AddSponsored handles POST /api/v1/subscriptions/{subscriptionID}/sponsored
func (h *SubscriptionHandler) AddSponsored(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "subscriptionID")
	if !ok {
		return
	}

	var req addSponsoredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.ledger.AddSponsored(r.Context(), id, req.Caller, req.Address); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveSponsored handles DELETE /api/v1/subscriptions/{subscriptionID}/sponsored/{address}
func (h *SubscriptionHandler) RemoveSponsored(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "subscriptionID")
	if !ok {
		return
	}
	address := r.PathValue("address")
	caller := r.URL.Query().Get("caller")

	if err := h.ledger.RemoveSponsored(r.Context(), id, caller, address); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Burn handles DELETE /api/v1/subscriptions/{subscriptionID}
func (h *SubscriptionHandler) Burn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "subscriptionID")
	if !ok {
		return
	}
	caller := r.URL.Query().Get("caller")

	if err := h.ledger.Burn(r.Context(), id, caller); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func parseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, false
	}
	return amount, true
}

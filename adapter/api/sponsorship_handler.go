package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gaspass/gaspass/internal/sponsorship/application"
	"github.com/google/uuid"
)

// SponsorshipHandler handles the bundler-facing pre-authorize and settle
// endpoints.
type SponsorshipHandler struct {
	authorizer *application.Authorizer
	logger     *slog.Logger
}

// NewSponsorshipHandler creates a new sponsorship handler.
func NewSponsorshipHandler(authorizer *application.Authorizer, logger *slog.Logger) *SponsorshipHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SponsorshipHandler{authorizer: authorizer, logger: logger}
}

type preAuthorizeRequest struct {
	OperationID      string `json:"operation_id"`
	Requester        string `json:"requester"`
	SubscriptionID   string `json:"subscription_id"`
	ExecutionChainID uint64 `json:"execution_chain_id"`
	EstimatedAmount  string `json:"estimated_amount"`
}

type preAuthorizeResponse struct {
	OperationID      string `json:"operation_id"`
	ReservationID    string `json:"reservation_id"`
	SubscriptionID   string `json:"subscription_id"`
	ExecutionChainID uint64 `json:"execution_chain_id"`
	EstimatedAmount  string `json:"estimated_amount"`
}

// PreAuthorize handles POST /api/v1/sponsorship/preauthorize
func (h *SponsorshipHandler) PreAuthorize(w http.ResponseWriter, r *http.Request) {
	var req preAuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.OperationID == "" {
		writeError(w, http.StatusBadRequest, "operation_id is required")
		return
	}
	subscriptionID, err := uuid.Parse(req.SubscriptionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid subscription_id")
		return
	}
	estimated, ok := parseAmount(req.EstimatedAmount)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid estimated_amount")
		return
	}

	authCtx, err := h.authorizer.PreAuthorize(r.Context(), application.AuthorizeRequest{
		OperationID:      req.OperationID,
		Requester:        req.Requester,
		SubscriptionID:   subscriptionID,
		ExecutionChainID: req.ExecutionChainID,
		EstimatedAmount:  estimated,
	})
	if err != nil {
		h.logger.Info("pre-authorization refused",
			"operation_id", req.OperationID,
			"subscription_id", req.SubscriptionID,
			"error", err,
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, preAuthorizeResponse{
		OperationID:      authCtx.OperationID,
		ReservationID:    authCtx.ReservationID.String(),
		SubscriptionID:   authCtx.SubscriptionID.String(),
		ExecutionChainID: authCtx.ExecutionChainID,
		EstimatedAmount:  authCtx.EstimatedAmount.String(),
	})
}

type settleRequest struct {
	OperationID      string `json:"operation_id"`
	ReservationID    string `json:"reservation_id"`
	SubscriptionID   string `json:"subscription_id"`
	ExecutionChainID uint64 `json:"execution_chain_id"`
	Outcome          string `json:"outcome"`
	ActualAmount     string `json:"actual_amount,omitempty"`
}

// Settle handles POST /api/v1/sponsorship/settle
func (h *SponsorshipHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	reservationID, err := uuid.Parse(req.ReservationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reservation_id")
		return
	}
	subscriptionID, err := uuid.Parse(req.SubscriptionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid subscription_id")
		return
	}

	outcome := application.Outcome(req.Outcome)
	switch outcome {
	case application.OutcomeSucceeded, application.OutcomeFailedChargeable, application.OutcomeFailedNotChargeable:
	default:
		writeError(w, http.StatusBadRequest, "Invalid outcome")
		return
	}

	actual, ok := parseAmount(req.ActualAmount)
	if req.ActualAmount != "" && !ok {
		writeError(w, http.StatusBadRequest, "Invalid actual_amount")
		return
	}

	authCtx := &application.AuthorizeContext{
		OperationID:      req.OperationID,
		ReservationID:    reservationID,
		SubscriptionID:   subscriptionID,
		ExecutionChainID: req.ExecutionChainID,
	}
	if err := h.authorizer.Settle(r.Context(), authCtx, outcome, actual); err != nil {
		h.logger.Error("settlement failed",
			"operation_id", req.OperationID,
			"reservation_id", req.ReservationID,
			"error", err,
		)
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Package handlers contains the HTTP handlers for the settlement API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/access"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/httputil"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/logging"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/orchestrator"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/quality"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/repository"
)

// Handler holds the dependencies for the HTTP handlers.
type Handler struct {
	repo         repository.Repository
	orchestrator *orchestrator.Orchestrator
	gate         *access.Gate
	quality      quality.Config
	logger       *logging.Logger
}

// New creates a new Handler.
func New(repo repository.Repository, orch *orchestrator.Orchestrator, gate *access.Gate, qcfg quality.Config, logger *logging.Logger) *Handler {
	return &Handler{
		repo:         repo,
		orchestrator: orch,
		gate:         gate,
		quality:      qcfg,
		logger:       logger,
	}
}

// HealthCheck handles health check requests.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// SubmitRecord accepts a health data record from the data-serving shell,
// scores it, and stores record and assessment together. Records are only
// accepted while the agreement's collection window is open.
func (h *Handler) SubmitRecord(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.OwnerAccount == "" || req.AgreementID == "" {
		http.Error(w, "owner_account and agreement_id are required", http.StatusBadRequest)
		return
	}
	if !models.ValidRecordKind(req.Kind) {
		http.Error(w, fmt.Sprintf("Unknown record kind: %s", req.Kind), http.StatusBadRequest)
		return
	}
	if req.CapturedAt.IsZero() {
		http.Error(w, "captured_at is required", http.StatusBadRequest)
		return
	}

	agreement, err := h.repo.GetAgreement(r.Context(), req.AgreementID)
	if err != nil {
		if errors.Is(err, repository.ErrAgreementNotFound) {
			http.Error(w, "Agreement not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load agreement", logging.AgreementID(req.AgreementID), logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to load agreement")
		return
	}
	if agreement.Status != models.StatusActive {
		http.Error(w, fmt.Sprintf("Agreement is %s, not accepting records", agreement.Status), http.StatusConflict)
		return
	}
	if agreement.ParticipantShare(req.OwnerAccount) == 0 {
		http.Error(w, "Owner is not enrolled in this agreement", http.StatusForbidden)
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to generate record ID")
		return
	}
	rec := &models.DataRecord{
		ID:           id.String(),
		OwnerAccount: req.OwnerAccount,
		AgreementID:  req.AgreementID,
		Kind:         req.Kind,
		Values:       req.Values,
		Context:      req.Context,
		CapturedAt:   req.CapturedAt,
		SubmittedAt:  time.Now().UTC(),
	}

	assessment := quality.Evaluate(*rec, h.quality)

	if err := h.repo.CreateRecord(r.Context(), rec, &assessment); err != nil {
		h.logger.Error("failed to store record", logging.RecordID(rec.ID), logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to store record")
		return
	}

	h.logger.Info("record accepted",
		logging.RecordID(rec.ID),
		logging.AgreementID(rec.AgreementID),
		"kind", string(rec.Kind),
		"grade", string(assessment.Grade))

	httputil.WriteJSON(w, http.StatusCreated, models.SubmitRecordResponse{
		Record:     rec,
		Assessment: &assessment,
	})
}

// Authorize evaluates a rights-token access check for the data-serving
// shell. Denials are successful responses; only infrastructure failures
// produce a 5xx.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req models.AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TokenID == "" || req.Requester == "" {
		http.Error(w, "token_id and requester are required", http.StatusBadRequest)
		return
	}

	decision, err := h.gate.Authorize(r.Context(), access.Request{
		TokenID:    req.TokenID,
		Requester:  req.Requester,
		ResourceID: req.ResourceID,
		Kind:       req.Kind,
		Fresh:      req.Fresh,
	})
	if err != nil {
		h.logger.Error("authorization check failed", logging.TokenID(req.TokenID), logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "Authorization check failed")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, decision)
}

// CreateAgreement registers a new agreement and requests its escrow.
func (h *Handler) CreateAgreement(w http.ResponseWriter, r *http.Request) {
	var a models.Agreement
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if a.Kind != models.AgreementBilateral && a.Kind != models.AgreementPooled {
		http.Error(w, fmt.Sprintf("Unknown agreement kind: %s", a.Kind), http.StatusBadRequest)
		return
	}
	if a.BuyerAccount == "" {
		http.Error(w, "buyer_account is required", http.StatusBadRequest)
		return
	}
	if len(a.Participants) == 0 {
		http.Error(w, "At least one participant is required", http.StatusBadRequest)
		return
	}
	if a.CommittedAmount <= 0 {
		http.Error(w, "committed_amount must be positive", http.StatusBadRequest)
		return
	}

	if err := h.orchestrator.CreateAgreement(r.Context(), &a); err != nil {
		h.logger.Error("failed to create agreement", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to create agreement")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, &a)
}

// GetAgreement returns an agreement's settlement state, including the IDs
// of failed rewards for operator reconciliation.
func (h *Handler) GetAgreement(w http.ResponseWriter, r *http.Request, agreementID string) {
	resp, err := h.orchestrator.Status(r.Context(), agreementID)
	if err != nil {
		if errors.Is(err, repository.ErrAgreementNotFound) {
			http.Error(w, "Agreement not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load agreement status", logging.AgreementID(agreementID), logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to load agreement")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// CancelAgreement cancels a non-terminal agreement, requesting an escrow
// cancel when no funds were released yet.
func (h *Handler) CancelAgreement(w http.ResponseWriter, r *http.Request, agreementID string) {
	if err := h.orchestrator.Cancel(r.Context(), agreementID); err != nil {
		if errors.Is(err, repository.ErrAgreementNotFound) {
			http.Error(w, "Agreement not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, repository.ErrStatusConflict) {
			http.Error(w, "Agreement is in a terminal state", http.StatusConflict)
			return
		}
		h.logger.Error("failed to cancel agreement", logging.AgreementID(agreementID), logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to cancel agreement")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

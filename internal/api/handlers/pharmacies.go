package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/api/respond"
	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/service"
)

// PharmacyHandler handles tenants, their update approvals and subscriptions
type PharmacyHandler struct {
	base
}

// NewPharmacyHandler creates a new handler
func NewPharmacyHandler(svc *service.Service, logger *zap.Logger) *PharmacyHandler {
	return &PharmacyHandler{base: newBase(svc, logger)}
}

// Routes returns the handler routes
func (h *PharmacyHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/pending-updates", h.Pending)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/updates", h.SubmitUpdate)
	r.Post("/{id}/updates/approve", h.Approve)
	r.Post("/{id}/updates/reject", h.Reject)
	r.Put("/{id}/subscription", h.Subscription)
	r.Put("/{id}/status", h.Status)
	return r
}

// List handles GET /pharmacies
func (h *PharmacyHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListPharmacies(r.Context(), principal(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listOf(list))
}

// Create handles POST /pharmacies
func (h *PharmacyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.PharmacyInput
	if !decode(w, r, &in) {
		return
	}
	ph, err := h.svc.CreatePharmacy(r.Context(), principal(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, ph)
}

// Get handles GET /pharmacies/{id}
func (h *PharmacyHandler) Get(w http.ResponseWriter, r *http.Request) {
	ph, err := h.svc.GetPharmacy(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, ph)
}

// Pending handles GET /pharmacies/pending-updates
func (h *PharmacyHandler) Pending(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.PendingUpdates(r.Context(), principal(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listOf(list))
}

// SubmitUpdate handles POST /pharmacies/{id}/updates
func (h *PharmacyHandler) SubmitUpdate(w http.ResponseWriter, r *http.Request) {
	var changes domain.PharmacyChanges
	if !decode(w, r, &changes) {
		return
	}
	ph, err := h.svc.SubmitPharmacyUpdate(r.Context(), principal(r), chi.URLParam(r, "id"), changes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, ph)
}

// Approve handles POST /pharmacies/{id}/updates/approve
func (h *PharmacyHandler) Approve(w http.ResponseWriter, r *http.Request) {
	ph, err := h.svc.ApprovePharmacyUpdate(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, ph)
}

// RejectRequest is the body of POST /pharmacies/{id}/updates/reject
type RejectRequest struct {
	Reason string `json:"reason"`
}

// Reject handles POST /pharmacies/{id}/updates/reject
func (h *PharmacyHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !decode(w, r, &req) {
		return
	}
	ph, err := h.svc.RejectPharmacyUpdate(r.Context(), principal(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, ph)
}

// SubscriptionRequest is the body of PUT /pharmacies/{id}/subscription
type SubscriptionRequest struct {
	Plan        domain.Plan `json:"plan"`
	TrialExpiry *time.Time  `json:"trialExpiry,omitempty"`
}

// Subscription handles PUT /pharmacies/{id}/subscription
func (h *PharmacyHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if !decode(w, r, &req) {
		return
	}
	ph, err := h.svc.ChangeSubscription(r.Context(), principal(r), chi.URLParam(r, "id"), req.Plan, req.TrialExpiry)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, ph)
}

// PharmacyStatusRequest is the body of PUT /pharmacies/{id}/status
type PharmacyStatusRequest struct {
	Status domain.PharmacyStatus `json:"status"`
}

// Status handles PUT /pharmacies/{id}/status
func (h *PharmacyHandler) Status(w http.ResponseWriter, r *http.Request) {
	var req PharmacyStatusRequest
	if !decode(w, r, &req) {
		return
	}
	ph, err := h.svc.SetPharmacyStatus(r.Context(), principal(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, ph)
}

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

// MedicineHandler handles the catalogue and the stock ledger
type MedicineHandler struct {
	base
}

// NewMedicineHandler creates a new handler
func NewMedicineHandler(svc *service.Service, logger *zap.Logger) *MedicineHandler {
	return &MedicineHandler{base: newBase(svc, logger)}
}

// Routes returns the handler routes
func (h *MedicineHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/low-stock", h.LowStock)
	r.Get("/expiring", h.Expiring)
	r.Get("/reconcile", h.Reconcile)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Post("/{id}/adjust", h.Adjust)
	r.Get("/{id}/logs", h.Logs)
	return r
}

// List handles GET /medicines
func (h *MedicineHandler) List(w http.ResponseWriter, r *http.Request) {
	meds, err := h.svc.ListMedicines(r.Context(), principal(r), pharmacyParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listOf(meds))
}

// Create handles POST /medicines
func (h *MedicineHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.MedicineInput
	if !decode(w, r, &in) {
		return
	}
	m, err := h.svc.CreateMedicine(r.Context(), principal(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, m)
}

// Get handles GET /medicines/{id}
func (h *MedicineHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetMedicine(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

// Update handles PUT /medicines/{id}
func (h *MedicineHandler) Update(w http.ResponseWriter, r *http.Request) {
	var upd service.MedicineUpdate
	if !decode(w, r, &upd) {
		return
	}
	m, err := h.svc.UpdateMedicine(r.Context(), principal(r), chi.URLParam(r, "id"), upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

// AdjustRequest is the body of POST /medicines/{id}/adjust
type AdjustRequest struct {
	Delta    int    `json:"delta"`
	Reason   string `json:"reason"`
	Override bool   `json:"override,omitempty"`
}

// Adjust handles POST /medicines/{id}/adjust
func (h *MedicineHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.svc.AdjustStock(r.Context(), principal(r), service.StockAdjustment{
		MedicineID: chi.URLParam(r, "id"),
		Delta:      req.Delta,
		Reason:     req.Reason,
		Override:   req.Override,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

// Logs handles GET /medicines/{id}/logs
func (h *MedicineHandler) Logs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.svc.StockLogs(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listOf(logs))
}

// LowStock handles GET /medicines/low-stock?threshold=
func (h *MedicineHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	threshold, err := intParam(r, "threshold", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	meds, err := h.svc.LowStock(r.Context(), principal(r), pharmacyParam(r), threshold)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listOf(meds))
}

// Expiring handles GET /medicines/expiring?days=
func (h *MedicineHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", 30)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if days < 0 {
		h.fail(w, r, domain.Invalid("query", "days must not be negative"))
		return
	}
	meds, err := h.svc.ExpiringMedicines(r.Context(), principal(r), pharmacyParam(r), time.Duration(days)*24*time.Hour)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listOf(meds))
}

// Reconcile handles GET /medicines/reconcile and lists medicines whose
// stock drifted from their ledger.
func (h *MedicineHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	drift, err := h.svc.Reconcile(r.Context(), principal(r), pharmacyParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string][]string{"drifted": listOf(drift)})
}

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/api/respond"
	"github.com/drfirst/rxledger/internal/service"
)

// Middleware decorates a handler.
type Middleware = func(http.Handler) http.Handler

func passthrough(next http.Handler) http.Handler { return next }

// SalesHandler handles sales, held sales, credit settlement and returns
type SalesHandler struct {
	base
	idem Middleware
}

// NewSalesHandler creates a new handler. idem guards the money-moving
// POSTs against client retries; nil disables it.
func NewSalesHandler(svc *service.Service, idem Middleware, logger *zap.Logger) *SalesHandler {
	if idem == nil {
		idem = passthrough
	}
	return &SalesHandler{base: newBase(svc, logger), idem: idem}
}

// Routes returns the /sales routes
func (h *SalesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.With(h.idem).Post("/", h.Record)
	r.Post("/hold", h.Hold)
	r.Get("/held", h.ListHeld)
	r.Delete("/held/{id}", h.DiscardHeld)
	r.Get("/credit", h.ListCredit)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/credit-payments", h.CreditPayment)
	return r
}

// ReturnRoutes returns the /returns routes
func (h *SalesHandler) ReturnRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListReturns)
	r.With(h.idem).Post("/", h.RecordReturn)
	return r
}

// RecordSaleRequest is the body of POST /sales. HeldSaleID completes a held
// sale; its lines are used when Items is empty.
type RecordSaleRequest struct {
	service.SaleDraft
	HeldSaleID string `json:"heldSaleId,omitempty"`
}

// Record handles POST /sales
func (h *SalesHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req RecordSaleRequest
	if !decode(w, r, &req) {
		return
	}
	sale, err := h.svc.RecordSale(r.Context(), principal(r), req.SaleDraft, req.HeldSaleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, sale)
}

// List handles GET /sales
func (h *SalesHandler) List(w http.ResponseWriter, r *http.Request) {
	sales, err := h.svc.ListSales(r.Context(), principal(r), pharmacyParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listOf(sales))
}

// Get handles GET /sales/{id}
func (h *SalesHandler) Get(w http.ResponseWriter, r *http.Request) {
	sale, err := h.svc.GetSale(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, sale)
}

// Hold handles POST /sales/hold
func (h *SalesHandler) Hold(w http.ResponseWriter, r *http.Request) {
	var draft service.SaleDraft
	if !decode(w, r, &draft) {
		return
	}
	held, err := h.svc.HoldSale(r.Context(), principal(r), draft)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, held)
}

// ListHeld handles GET /sales/held
func (h *SalesHandler) ListHeld(w http.ResponseWriter, r *http.Request) {
	held, err := h.svc.ListHeldSales(r.Context(), principal(r), pharmacyParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listOf(held))
}

// DiscardHeld handles DELETE /sales/held/{id}
func (h *SalesHandler) DiscardHeld(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DiscardHeldSale(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCredit handles GET /sales/credit, the sales with an outstanding balance
func (h *SalesHandler) ListCredit(w http.ResponseWriter, r *http.Request) {
	sales, err := h.svc.CreditSales(r.Context(), principal(r), pharmacyParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listOf(sales))
}

// CreditPayment handles POST /sales/{id}/credit-payments
func (h *SalesHandler) CreditPayment(w http.ResponseWriter, r *http.Request) {
	var in service.CreditPaymentInput
	if !decode(w, r, &in) {
		return
	}
	sale, err := h.svc.RecordCreditPayment(r.Context(), principal(r), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, sale)
}

// RecordReturn handles POST /returns
func (h *SalesHandler) RecordReturn(w http.ResponseWriter, r *http.Request) {
	var draft service.ReturnDraft
	if !decode(w, r, &draft) {
		return
	}
	ret, err := h.svc.RecordReturn(r.Context(), principal(r), draft)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, ret)
}

// ListReturns handles GET /returns
func (h *SalesHandler) ListReturns(w http.ResponseWriter, r *http.Request) {
	returns, err := h.svc.ListReturns(r.Context(), principal(r), pharmacyParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listOf(returns))
}

package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/api/respond"
	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/geo"
	"github.com/drfirst/rxledger/internal/service"
)

// PlatformHandler handles billing, support tickets, platform settings and
// address lookups.
type PlatformHandler struct {
	base
	geo *geo.Client
}

// NewPlatformHandler creates a new handler. geo may be nil.
func NewPlatformHandler(svc *service.Service, geoClient *geo.Client, logger *zap.Logger) *PlatformHandler {
	return &PlatformHandler{base: newBase(svc, logger), geo: geoClient}
}

// BillingRoutes returns the /billing routes
func (h *PlatformHandler) BillingRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/transactions", h.ListTransactions)
	r.Post("/transactions", h.CreateTransaction)
	r.Put("/transactions/{id}/status", h.TransactionStatus)
	return r
}

// SupportRoutes returns the /support routes
func (h *PlatformHandler) SupportRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/tickets", h.ListTickets)
	r.Post("/tickets", h.CreateTicket)
	r.Post("/tickets/{id}/replies", h.Reply)
	r.Put("/tickets/{id}/assign", h.Assign)
	r.Put("/tickets/{id}/status", h.TicketStatus)
	return r
}

// SettingsRoutes returns the /settings routes
func (h *PlatformHandler) SettingsRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Settings)
	r.Put("/branding", h.Branding)
	r.Put("/maintenance", h.Maintenance)
	r.Post("/blocked-ips", h.BlockIP)
	r.Delete("/blocked-ips/{ip}", h.UnblockIP)
	return r
}

// ListTransactions handles GET /billing/transactions
func (h *PlatformHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListPaymentTransactions(r.Context(), principal(r), pharmacyParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listOf(list))
}

// CreateTransaction handles POST /billing/transactions
func (h *PlatformHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var in service.PaymentInput
	if !decode(w, r, &in) {
		return
	}
	tx, err := h.svc.CreatePaymentTransaction(r.Context(), principal(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, tx)
}

// PaymentStatusRequest is the body of PUT /billing/transactions/{id}/status
type PaymentStatusRequest struct {
	Status domain.PaymentStatus `json:"status"`
}

// TransactionStatus handles PUT /billing/transactions/{id}/status
func (h *PlatformHandler) TransactionStatus(w http.ResponseWriter, r *http.Request) {
	var req PaymentStatusRequest
	if !decode(w, r, &req) {
		return
	}
	tx, err := h.svc.UpdatePaymentStatus(r.Context(), principal(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, tx)
}

// ListTickets handles GET /support/tickets
func (h *PlatformHandler) ListTickets(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListTickets(r.Context(), principal(r), pharmacyParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listOf(list))
}

// CreateTicket handles POST /support/tickets
func (h *PlatformHandler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var in service.TicketInput
	if !decode(w, r, &in) {
		return
	}
	tk, err := h.svc.CreateTicket(r.Context(), principal(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, tk)
}

// ReplyRequest is the body of POST /support/tickets/{id}/replies
type ReplyRequest struct {
	Message string `json:"message"`
}

// Reply handles POST /support/tickets/{id}/replies
func (h *PlatformHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var req ReplyRequest
	if !decode(w, r, &req) {
		return
	}
	tk, err := h.svc.ReplyToTicket(r.Context(), principal(r), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, tk)
}

// AssignRequest is the body of PUT /support/tickets/{id}/assign
type AssignRequest struct {
	AssigneeID string `json:"assigneeId"`
}

// Assign handles PUT /support/tickets/{id}/assign
func (h *PlatformHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !decode(w, r, &req) {
		return
	}
	tk, err := h.svc.AssignTicket(r.Context(), principal(r), chi.URLParam(r, "id"), req.AssigneeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, tk)
}

// TicketStatusRequest is the body of PUT /support/tickets/{id}/status
type TicketStatusRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// TicketStatus handles PUT /support/tickets/{id}/status
func (h *PlatformHandler) TicketStatus(w http.ResponseWriter, r *http.Request) {
	var req TicketStatusRequest
	if !decode(w, r, &req) {
		return
	}
	tk, err := h.svc.SetTicketStatus(r.Context(), principal(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, tk)
}

// Settings handles GET /settings. Every signed-in user may read branding
// and the maintenance banner.
func (h *PlatformHandler) Settings(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Settings(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !principal(r).IsPlatform() {
		st.BlockedIPs = nil
	}
	st.BlockedIPs = listOf(st.BlockedIPs)
	respond.JSON(w, http.StatusOK, st)
}

// Branding handles PUT /settings/branding
func (h *PlatformHandler) Branding(w http.ResponseWriter, r *http.Request) {
	var b domain.Branding
	if !decode(w, r, &b) {
		return
	}
	st, err := h.svc.UpdateBranding(r.Context(), principal(r), b)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, st)
}

// MaintenanceRequest is the body of PUT /settings/maintenance
type MaintenanceRequest struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
}

// Maintenance handles PUT /settings/maintenance
func (h *PlatformHandler) Maintenance(w http.ResponseWriter, r *http.Request) {
	var req MaintenanceRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := h.svc.SetMaintenance(r.Context(), principal(r), req.Enabled, req.Message)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, st)
}

// BlockIPRequest is the body of POST /settings/blocked-ips
type BlockIPRequest struct {
	// Entry is an address or a CIDR range.
	Entry string `json:"entry"`
}

// BlockIP handles POST /settings/blocked-ips
func (h *PlatformHandler) BlockIP(w http.ResponseWriter, r *http.Request) {
	var req BlockIPRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := h.svc.BlockIP(r.Context(), principal(r), req.Entry)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, st)
}

// UnblockIP handles DELETE /settings/blocked-ips/{ip}. CIDR entries are
// sent path-escaped.
func (h *PlatformHandler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	entry, err := url.PathUnescape(chi.URLParam(r, "ip"))
	if err != nil {
		h.fail(w, r, domain.Invalid("settings.UnblockIP", "malformed address"))
		return
	}
	st, err := h.svc.UnblockIP(r.Context(), principal(r), entry)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, st)
}

// Locate handles GET /geo/{ip}. Only principals allowed to manage platform
// settings may look addresses up.
func (h *PlatformHandler) Locate(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.HasPermission(r.Context(), principal(r).Role, domain.PermManageSettings)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.fail(w, r, domain.Forbidden("geo.Locate", "%s may not look up addresses", principal(r).Role))
		return
	}
	ip := chi.URLParam(r, "ip")
	loc := h.geo.Lookup(r.Context(), ip)
	if loc == nil {
		h.fail(w, r, domain.NotFound("geo.Locate", "location", ip))
		return
	}
	respond.JSON(w, http.StatusOK, loc)
}

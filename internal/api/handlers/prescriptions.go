package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/api/middleware"
	"github.com/drfirst/rxledger/internal/api/respond"
	fhir "github.com/drfirst/rxledger/internal/fhir/r5"
	"github.com/drfirst/rxledger/internal/service"
)

// PrescriptionHandler handles prescription endpoints
type PrescriptionHandler struct {
	base
	idem Middleware
}

// NewPrescriptionHandler creates a new handler
func NewPrescriptionHandler(svc *service.Service, idem Middleware, logger *zap.Logger) *PrescriptionHandler {
	if idem == nil {
		idem = passthrough
	}
	return &PrescriptionHandler{base: newBase(svc, logger), idem: idem}
}

// Routes returns the handler routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/import", h.Import)
	r.Get("/{id}", h.Get)
	r.With(h.idem).Post("/{id}/dispense", h.Dispense)
	r.Post("/{id}/cancel", h.Cancel)
	return r
}

// List handles GET /prescriptions
func (h *PrescriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	rxs, err := h.svc.ListPrescriptions(r.Context(), principal(r), pharmacyParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listOf(rxs))
}

// Create handles POST /prescriptions
func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.PrescriptionInput
	if !decode(w, r, &in) {
		return
	}
	rx, err := h.svc.CreatePrescription(r.Context(), principal(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, rx)
}

// Get handles GET /prescriptions/{id}
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	rx, err := h.svc.GetPrescription(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, rx)
}

// Dispense handles POST /prescriptions/{id}/dispense
func (h *PrescriptionHandler) Dispense(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.DispensePrescription(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, d)
}

// Cancel handles POST /prescriptions/{id}/cancel
func (h *PrescriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	rx, err := h.svc.CancelPrescription(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, rx)
}

// Import handles POST /prescriptions/import. The body is a FHIR R5
// MedicationRequest or a Bundle of them; malformed resources are answered
// with an OperationOutcome.
func (h *PrescriptionHandler) Import(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("prescription-handler").Start(r.Context(), "import_prescriptions")
	defer span.End()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4*maxBody))
	if err != nil {
		h.outcome(w, "too-costly", "request body too large")
		return
	}
	reqs, err := fhir.ParseMedicationRequests(body)
	if err != nil {
		h.outcome(w, "structure", err.Error())
		return
	}
	span.SetAttributes(attribute.Int("medication_requests", len(reqs)))

	rxs, err := h.svc.ImportPrescriptions(ctx, principal(r), pharmacyParam(r), reqs)
	if err != nil {
		span.RecordError(err)
		h.fail(w, r, err)
		return
	}

	h.logger.Info("prescriptions imported",
		zap.Int("count", len(rxs)),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	respond.JSON(w, http.StatusCreated, listOf(rxs))
}

func (h *PrescriptionHandler) outcome(w http.ResponseWriter, code, diagnostics string) {
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(fhir.NewErrorOutcome(code, diagnostics))
}

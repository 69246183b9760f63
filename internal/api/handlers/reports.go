package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/api/respond"
	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReportHandler handles summaries, workbook exports, stock-takes and the
// expense and supplier books.
type ReportHandler struct {
	base
}

// NewReportHandler creates a new handler
func NewReportHandler(svc *service.Service, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{base: newBase(svc, logger)}
}

// Routes returns the /reports routes
func (h *ReportHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/sales", h.Summary)
	r.Get("/sales.xlsx", h.SalesWorkbook)
	r.Get("/stock.xlsx", h.StockWorkbook)
	r.Post("/stock-count", h.StockCount)
	return r
}

// ExpenseRoutes returns the /expenses routes
func (h *ReportHandler) ExpenseRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListExpenses)
	r.Post("/", h.CreateExpense)
	return r
}

// SupplierRoutes returns the /suppliers routes
func (h *ReportHandler) SupplierRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListSuppliers)
	r.Post("/", h.CreateSupplier)
	return r
}

// window reads ?from=&to=. from defaults to 30 days before to.
func window(r *http.Request) (time.Time, time.Time, error) {
	from, err := timeParam(r, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := timeParam(r, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from.IsZero() {
		end := to
		if end.IsZero() {
			end = time.Now().UTC()
		}
		from = end.AddDate(0, 0, -30)
	}
	return from, to, nil
}

// Summary handles GET /reports/sales
func (h *ReportHandler) Summary(w http.ResponseWriter, r *http.Request) {
	from, to, err := window(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sum, err := h.svc.SalesSummary(r.Context(), principal(r), pharmacyParam(r), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, sum)
}

// SalesWorkbook handles GET /reports/sales.xlsx
func (h *ReportHandler) SalesWorkbook(w http.ResponseWriter, r *http.Request) {
	from, to, err := window(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := h.svc.ExportSalesReport(r.Context(), principal(r), pharmacyParam(r), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	attachment(w, fmt.Sprintf("sales-%s.xlsx", from.Format("20060102")), data)
}

// StockWorkbook handles GET /reports/stock.xlsx
func (h *ReportHandler) StockWorkbook(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.ExportStockReport(r.Context(), principal(r), pharmacyParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	attachment(w, "stock.xlsx", data)
}

func attachment(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// StockCount handles POST /reports/stock-count. The body is the workbook
// itself, or a multipart form with it in the "file" field.
func (h *ReportHandler) StockCount(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, 10*maxBody)
	r.Body = body

	var src io.Reader = body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			h.fail(w, r, domain.Invalid("reports.StockCount", "multipart upload needs a file field"))
			return
		}
		defer file.Close()
		src = file
	}

	res, err := h.svc.ApplyStockCount(r.Context(), principal(r), pharmacyParam(r), src)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res.Adjusted = listOf(res.Adjusted)
	respond.JSON(w, http.StatusOK, res)
}

// ListExpenses handles GET /expenses
func (h *ReportHandler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListExpenses(r.Context(), principal(r), pharmacyParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listOf(list))
}

// CreateExpense handles POST /expenses
func (h *ReportHandler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var in service.ExpenseInput
	if !decode(w, r, &in) {
		return
	}
	e, err := h.svc.CreateExpense(r.Context(), principal(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, e)
}

// ListSuppliers handles GET /suppliers
func (h *ReportHandler) ListSuppliers(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListSuppliers(r.Context(), principal(r), pharmacyParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listOf(list))
}

// CreateSupplier handles POST /suppliers
func (h *ReportHandler) CreateSupplier(w http.ResponseWriter, r *http.Request) {
	var in service.SupplierInput
	if !decode(w, r, &in) {
		return
	}
	s, err := h.svc.CreateSupplier(r.Context(), principal(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, s)
}

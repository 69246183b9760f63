// Package handlers provides the HTTP handlers of the pharmacy API.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/api/middleware"
	"github.com/drfirst/rxledger/internal/api/respond"
	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/service"
)

// maxBody caps JSON request bodies.
const maxBody = 1 << 20

// base carries what every handler needs.
type base struct {
	svc    *service.Service
	logger *zap.Logger
}

func newBase(svc *service.Service, logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{svc: svc, logger: logger}
}

// principal returns the caller. Routes are mounted behind Authenticate, so
// a missing principal is a wiring bug and yields an empty, permissionless one.
func principal(r *http.Request) domain.Principal {
	p, _ := middleware.PrincipalFrom(r.Context())
	return p
}

// decode reads a JSON body into v, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respond.Message(w, http.StatusBadRequest, domain.KindValidation, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// fail writes err and logs internal failures.
func (b base) fail(w http.ResponseWriter, r *http.Request, err error) {
	if domain.KindOf(err) == domain.KindInternal {
		b.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
	}
	respond.Error(w, err)
}

// pharmacyParam is the optional ?pharmacyId= platform users scope reads with.
func pharmacyParam(r *http.Request) string {
	return r.URL.Query().Get("pharmacyId")
}

// timeParam parses an RFC 3339 time or date query parameter. Absent
// parameters yield the zero time.
func timeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, domain.Invalid("query", "%s must be RFC 3339 or YYYY-MM-DD", name)
	}
	return t, nil
}

// intParam parses an integer query parameter with a default.
func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, domain.Invalid("query", "%s must be an integer", name)
	}
	return n, nil
}

// listOf keeps empty lists as [] on the wire.
func listOf[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

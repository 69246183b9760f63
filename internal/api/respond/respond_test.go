package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/rxledger/internal/domain"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   domain.Kind
	}{
		{"not found", domain.NotFound("op", "medicine", "m-1"), http.StatusNotFound, domain.KindNotFound},
		{"validation", domain.Invalid("op", "quantity must be positive"), http.StatusBadRequest, domain.KindValidation},
		{"conflict", domain.E("op", domain.ErrInsufficientStock), http.StatusConflict, domain.KindConflict},
		{"auth", domain.E("op", domain.ErrInvalidToken), http.StatusUnauthorized, domain.KindAuth},
		{"forbidden", domain.E("op", domain.ErrCrossTenantAccess), http.StatusForbidden, domain.KindForbidden},
		{"wrapped", fmt.Errorf("outer: %w", domain.E("op", domain.ErrEmailTaken)), http.StatusConflict, domain.KindConflict},
		{"internal", errors.New("pq: connection refused"), http.StatusInternalServerError, domain.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Error(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)

			var body ErrorBody
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestInternalErrorsAreNotEchoed(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, errors.New("dial tcp 10.0.0.5:5432: refused"))
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

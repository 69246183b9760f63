package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/api/respond"
	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/pkg/idempotency"
)

// IdempotencyHeader carries the client's retry key.
const IdempotencyHeader = "Idempotency-Key"

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

var errServerFailure = errors.New("handler failed")

// Idempotency replays the stored response of a request whose
// Idempotency-Key was seen before for the same caller and route. Server
// errors leave the key open for a retry. It must run after Authenticate.
func Idempotency(inbox *idempotency.Inbox, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 255 {
				respond.Message(w, http.StatusBadRequest, domain.KindValidation, "idempotency key too long")
				return
			}

			p, _ := PrincipalFrom(r.Context())
			body, err := io.ReadAll(r.Body)
			if err != nil {
				respond.Message(w, http.StatusBadRequest, domain.KindValidation, "unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scoped := idempotency.Key(p.UserID, r.Method, r.URL.Path, key)
			payload, _ := json.Marshal(map[string]string{
				"method": r.Method,
				"path":   r.URL.Path,
				"body":   idempotency.Key(string(body)),
			})

			var fresh *bufferedWriter
			res, err := inbox.Process(r.Context(), scoped, r.URL.Path, payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
				fresh = newBufferedWriter()
				next.ServeHTTP(fresh, r.WithContext(ctx))
				out, err := json.Marshal(storedResponse{
					Status:      fresh.status,
					ContentType: fresh.header.Get("Content-Type"),
					Body:        fresh.body.Bytes(),
				})
				if err != nil {
					return nil, err
				}
				if fresh.status >= http.StatusInternalServerError {
					return nil, fmt.Errorf("%w: status %d", errServerFailure, fresh.status)
				}
				return out, nil
			})

			if fresh != nil {
				fresh.flush(w)
				return
			}
			switch {
			case errors.Is(err, idempotency.ErrMessageInProgress):
				respond.Message(w, http.StatusConflict, domain.KindConflict, "a request with this idempotency key is in progress")
				return
			case err != nil:
				logger.Error("idempotency check failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
				respond.Message(w, http.StatusInternalServerError, domain.KindInternal, "internal server error")
				return
			}

			var stored storedResponse
			if err := json.Unmarshal(res.Result, &stored); err != nil {
				logger.Error("stored response unreadable", zap.Error(err))
				respond.Message(w, http.StatusInternalServerError, domain.KindInternal, "internal server error")
				return
			}
			if stored.ContentType != "" {
				w.Header().Set("Content-Type", stored.ContentType)
			}
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(stored.Status)
			w.Write(stored.Body)
		})
	}
}

// bufferedWriter holds a response until the inbox has recorded it.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
	wrote  bool
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.wrote {
		return
	}
	b.status = code
	b.wrote = true
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.wrote = true
	return b.body.Write(p)
}

func (b *bufferedWriter) flush(w http.ResponseWriter) {
	for k, v := range b.header {
		w.Header()[k] = v
	}
	w.WriteHeader(b.status)
	w.Write(b.body.Bytes())
}

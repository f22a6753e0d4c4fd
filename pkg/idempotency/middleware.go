package idempotency

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
)

const Header = "Idempotency-Key"

type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Responses remembers the outcome of requests by key. Begin either claims the
// key (fresh), returns the stored response, or reports the key in flight
// (nil response, not fresh).
type Responses interface {
	Begin(ctx context.Context, key string) (*Response, bool, error)
	Complete(ctx context.Context, key string, resp Response) error
	Abandon(ctx context.Context, key string) error
}

// Middleware replays the stored response for a repeated Idempotency-Key.
// Server errors are not stored, so the client may retry them.
func Middleware(log *slog.Logger, store Responses) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(Header)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			cached, fresh, err := store.Begin(r.Context(), key)
			if err != nil {
				log.Warn("idempotency store unavailable, serving without dedupe", "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if cached != nil {
				w.Header().Set("Content-Type", cached.ContentType)
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(cached.Status)
				_, _ = w.Write(cached.Body)
				return
			}
			if !fresh {
				http.Error(w, `{"error":"request with this Idempotency-Key is in progress"}`, http.StatusConflict)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			ctx := context.WithoutCancel(r.Context())
			if rec.status >= http.StatusInternalServerError {
				if err := store.Abandon(ctx, key); err != nil {
					log.Warn("idempotency abandon failed", "err", err)
				}
				return
			}
			resp := Response{Status: rec.status, ContentType: rec.Header().Get("Content-Type"), Body: rec.body.Bytes()}
			if err := store.Complete(ctx, key, resp); err != nil {
				log.Warn("idempotency complete failed", "err", err)
			}
		})
	}
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

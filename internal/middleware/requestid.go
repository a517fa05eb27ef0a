package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type ridCtxKey int

const ridKey ridCtxKey = 11

// RequestID echoes the caller's X-Request-ID or mints one, and exposes it via
// RequestIDFromContext for log correlation.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)
		ctx := context.WithValue(r.Context(), ridKey, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	if rid, ok := ctx.Value(ridKey).(string); ok && rid != "" {
		return rid, true
	}
	return "", false
}

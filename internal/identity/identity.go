// Package identity validates chair identifiers and carries them through request contexts.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ChairParam is the route parameter holding the chair id.
const ChairParam = "id"

type contextKey int

const chairIDKey contextKey = iota

var chairIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)

// ValidChairID reports whether id can name a chair.
func ValidChairID(id string) bool {
	return chairIDPattern.MatchString(id)
}

// ChairIDFromContext extracts the chair ID from the request context.
func ChairIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(chairIDKey).(string); ok {
		return v
	}
	return ""
}

// WithChairID returns ctx carrying id.
func WithChairID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, chairIDKey, id)
}

// Middleware validates the {id} route parameter and injects it into the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, ChairParam))
		if !ValidChairID(id) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid chair id"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithChairID(r.Context(), id)))
	})
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

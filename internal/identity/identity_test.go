package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestValidChairID(t *testing.T) {
	for id, want := range map[string]bool{
		"chair-1":     true,
		"lab.3:a_b":   true,
		"":            false,
		"has space":   false,
		"slash/inner": false,
	} {
		if got := ValidChairID(id); got != want {
			t.Errorf("ValidChairID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.With(Middleware).Get("/chairs/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(ChairIDFromContext(r.Context())))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chairs/desk-7", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "desk-7" {
		t.Errorf("valid id: code=%d body=%q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chairs/bad%20id", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid id: code=%d, want 400", rec.Code)
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:5555"
	if got := IPFromRequest(req); got != "10.0.0.5" {
		t.Errorf("IPFromRequest() = %q", got)
	}
}

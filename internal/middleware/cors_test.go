package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(origins []string, method, origin string) *httptest.ResponseRecorder {
	h := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(method, "/api/chairs", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		method      string
		origin      string
		wantCode    int
		wantAllow   string
		wantCredits bool
	}{
		{"explicit origin", []string{"https://dash.example"}, http.MethodGet, "https://dash.example", http.StatusTeapot, "https://dash.example", true},
		{"foreign origin", []string{"https://dash.example"}, http.MethodGet, "https://evil.example", http.StatusTeapot, "", false},
		{"wildcard", []string{"*"}, http.MethodGet, "http://localhost:5173", http.StatusTeapot, "http://localhost:5173", false},
		{"preflight", []string{"*"}, http.MethodOptions, "http://localhost:5173", http.StatusNoContent, "http://localhost:5173", false},
		{"no origin", []string{"*"}, http.MethodGet, "", http.StatusTeapot, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(tt.origins, tt.method, tt.origin)
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("allow origin = %q, want %q", got, tt.wantAllow)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCredits {
				t.Errorf("credentials = %v, want %v", got, tt.wantCredits)
			}
		})
	}
}

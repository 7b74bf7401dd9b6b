package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// applySecurityHeaders runs a GET / through SecurityHeadersMiddleware and returns
// the response recorder so callers can inspect headers.
func applySecurityHeaders(cfg SecurityHeadersConfig) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(SecurityHeadersMiddleware(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)
	return w
}

func TestSecurityHeadersMiddleware_APIConfig(t *testing.T) {
	w := applySecurityHeaders(APISecurityHeadersConfig())

	want := map[string]string{
		"Strict-Transport-Security":    "max-age=31536000; includeSubDomains",
		"X-Frame-Options":              "DENY",
		"X-Content-Type-Options":       "nosniff",
		"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":              "no-referrer",
		"Cache-Control":                "no-store",
		"Cross-Origin-Resource-Policy": "same-origin",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

func TestSecurityHeadersMiddleware_HSTS(t *testing.T) {
	tests := []struct {
		name string
		cfg  SecurityHeadersConfig
		want string
	}{
		{"disabled", SecurityHeadersConfig{}, ""},
		{"max-age only", SecurityHeadersConfig{EnableHSTS: true, HSTSMaxAge: 600}, "max-age=600"},
		{"with subdomains", SecurityHeadersConfig{EnableHSTS: true, HSTSMaxAge: 0, HSTSIncludeSubdomains: true}, "max-age=0; includeSubDomains"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := applySecurityHeaders(tt.cfg)
			if got := w.Header().Get("Strict-Transport-Security"); got != tt.want {
				t.Errorf("Strict-Transport-Security = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSecurityHeadersMiddleware_OptionalHeadersOmitted(t *testing.T) {
	w := applySecurityHeaders(SecurityHeadersConfig{})

	for _, header := range []string{"X-Frame-Options", "Content-Security-Policy", "Referrer-Policy", "Cache-Control"} {
		if got := w.Header().Get(header); got != "" {
			t.Errorf("%s = %q, want empty", header, got)
		}
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name           string
		xLocale        string
		acceptLanguage string
		country        string
		want           string
	}{
		{name: "explicit header wins", xLocale: "ja-JP", acceptLanguage: "en-US", country: "ID", want: "ja"},
		{name: "accept language matched", acceptLanguage: "id-ID,id;q=0.9,en;q=0.5", want: "id"},
		{name: "accept language regional variant", acceptLanguage: "es-MX", want: "es"},
		{name: "country fallback", country: "ID", want: "id"},
		{name: "unknown country uses default", country: "FR", want: "en"},
		{name: "nothing detected uses default", want: "en"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.xLocale != "" {
				req.Header.Set("X-Locale", tc.xLocale)
			}
			if tc.acceptLanguage != "" {
				req.Header.Set("Accept-Language", tc.acceptLanguage)
			}
			if got := detectLocale(req, "en", tc.country); got != tc.want {
				t.Fatalf("detectLocale() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestI18NStoresLocaleInContext(t *testing.T) {
	var gotLocale string
	handler := I18N("en", func(ip string) (string, error) { return "ID", nil })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotLocale = LocaleFromContext(r.Context())
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.10:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotLocale != "id" {
		t.Fatalf("locale = %q, want %q", gotLocale, "id")
	}
}

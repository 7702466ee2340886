package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const webOrigin = "http://localhost:3000"

func corsServe(cfg CORSConfig, req *http.Request) (*httptest.ResponseRecorder, bool) {
	reached := false
	h := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, reached
}

func getFrom(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/core/posts/", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func productionCORS(origins ...string) CORSConfig {
	cfg := DefaultCORSConfig()
	cfg.Environment = "production"
	cfg.AllowedOrigins = origins
	return cfg
}

func TestCORS_ListedOriginIsEchoed(t *testing.T) {
	rec, reached := corsServe(productionCORS(webOrigin, "https://campus.example"), getFrom(webOrigin))

	assert.True(t, reached)
	assert.Equal(t, webOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Values("Vary"), "Origin")
	assert.Contains(t, strings.ToLower(rec.Header().Get("Access-Control-Expose-Headers")), "x-correlation-id")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_UnlistedOriginGetsNoHeaders(t *testing.T) {
	rec, reached := corsServe(productionCORS(webOrigin), getFrom("https://evil.example"))

	assert.True(t, reached, "CORS is enforced by the browser, the request is still served")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_WildcardEntryAllowsAnyOrigin(t *testing.T) {
	rec, _ := corsServe(productionCORS("*"), getFrom("https://anywhere.example"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_EmptyListDependsOnEnvironment(t *testing.T) {
	dev := DefaultCORSConfig()
	rec, _ := corsServe(dev, getFrom(webOrigin))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = corsServe(productionCORS(), getFrom(webOrigin))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_NoOriginHeader(t *testing.T) {
	rec, reached := corsServe(productionCORS(webOrigin), getFrom(""))
	assert.True(t, reached)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_PreflightForProfileUpdate(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/auth/me/", nil)
	req.Header.Set("Origin", webOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	req.Header.Set("Access-Control-Request-Headers", "authorization,content-type")

	rec, reached := corsServe(productionCORS(webOrigin), req)

	assert.False(t, reached, "preflight is answered by the middleware")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, webOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
	assert.Contains(t, strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")), "authorization")
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}

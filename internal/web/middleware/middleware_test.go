package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/web/auth"
	"github.com/conduit-lang/collections/internal/web/ratelimit"
	"github.com/conduit-lang/collections/internal/web/response"
)

var project = entity.MustParseUUID("5e2d8c4a-1f3b-4a6d-9e8c-7b5a3d1f2e40")

func ok(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body response.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestIDWithGenerator(func() string { return "generated" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, "generated", seen)
	assert.Equal(t, "generated", rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
}

func TestAuth(t *testing.T) {
	tokens := auth.NewTokenService("secret", time.Hour)
	good, err := tokens.Issue(project, "tester")
	require.NoError(t, err)
	forged, err := auth.NewTokenService("other", time.Hour).Issue(project, "tester")
	require.NoError(t, err)

	var claims *auth.Claims
	h := Auth(tokens, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ = auth.ClaimsFrom(r.Context())
		ok(w, r)
	}))

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"valid", "/models", "Bearer " + good, http.StatusOK},
		{"skipped path", "/health", "", http.StatusOK},
		{"missing", "/models", "", http.StatusUnauthorized},
		{"wrong scheme", "/models", "Basic " + good, http.StatusUnauthorized},
		{"forged", "/models", "Bearer " + forged, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims = nil
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Equal(t, "unauthorized", errorCode(t, rec))
			}
		})
	}

	req := httptest.NewRequest("GET", "/models", nil)
	req.Header.Set("Authorization", "Bearer "+good)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, claims)
	assert.Equal(t, project, claims.ProjectID)
	assert.Equal(t, "tester", claims.Subject)
}

func TestRecoveryAndLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	h := RequestID()(Logging(logger, "/health")(Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			panic("boom")
		}
		ok(w, r)
	}))))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", errorCode(t, rec))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/models", nil))

	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	requests := logs.FilterMessage("request").All()
	require.Len(t, requests, 2)
	assert.Equal(t, int64(500), requests[0].ContextMap()["status"])
	assert.Equal(t, "/models", requests[1].ContextMap()["path"])
}

func TestRateLimit(t *testing.T) {
	l := ratelimit.NewTokenBucket(ratelimit.Config{Limit: 1, Window: time.Hour})
	h := RateLimit(l, zap.NewNop())(http.HandlerFunc(ok))
	withProject := func(method string) *http.Request {
		req := httptest.NewRequest(method, "/models", nil)
		return req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{ProjectID: project}))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withProject("POST"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, withProject("PUT"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, withProject("GET"))
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not limited")
}

func TestDeadline(t *testing.T) {
	var deadline time.Time
	var has bool
	h := Deadline(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, has = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.True(t, has)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)

	Deadline(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, has = r.Context().Deadline()
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil).WithContext(context.Background()))
	assert.False(t, has)
}

func TestETag(t *testing.T) {
	calls := 0
	h := ETag("/events")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Path == "/versioned" {
			w.Header().Set("ETag", "7")
		}
		ok(w, r)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	assert.Equal(t, WeakETag([]byte("ok")), etag)
	assert.Equal(t, "ok", rec.Body.String())

	tests := []struct {
		name        string
		method      string
		path        string
		ifNoneMatch string
		status      int
		tagged      bool
	}{
		{"matching", "GET", "/models", etag, http.StatusNotModified, true},
		{"strong form matches weakly", "GET", "/models", strings.TrimPrefix(etag, "W/"), http.StatusNotModified, true},
		{"one of many", "GET", "/models", `"other", ` + etag, http.StatusNotModified, true},
		{"stale", "GET", "/models", `W/"stale"`, http.StatusOK, true},
		{"handler etag", "GET", "/versioned", `"7"`, http.StatusNotModified, true},
		{"errors pass through", "GET", "/missing", "*", http.StatusNotFound, false},
		{"writes pass through", "POST", "/models", etag, http.StatusOK, false},
		{"skipped path", "GET", "/events", etag, http.StatusOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("If-None-Match", tt.ifNoneMatch)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.tagged, rec.Header().Get("ETag") != "")
			if tt.status == http.StatusNotModified {
				assert.Empty(t, rec.Body.String())
			}
		})
	}
	assert.Equal(t, 9, calls)
}

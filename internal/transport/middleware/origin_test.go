// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adiadia/keyrouter/internal/auth"
)

func TestCallerOriginStoresHeaderOnContext(t *testing.T) {
	var gotOrigin string
	var originSet bool
	h := CallerOrigin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrigin, originSet = auth.OriginFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/intent/match", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !originSet || gotOrigin != "https://app.example.com" {
		t.Fatalf("expected origin on context, got %q (set=%v)", gotOrigin, originSet)
	}
}

func TestCallerOriginSkipsMissingHeader(t *testing.T) {
	h := CallerOrigin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.OriginFromContext(r.Context()); ok {
			t.Fatal("expected no origin on context without Origin header")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/intent/match", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
}

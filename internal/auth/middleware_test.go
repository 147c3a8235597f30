package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:ops:query_reader|feed_writer, k2:analyst:query_reader")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	if validator.Len() != 2 {
		t.Fatalf("Len() = %d", validator.Len())
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.Principal != "ops" {
		t.Fatalf("Principal = %q", identity.Principal)
	}
	if identity.Roles[0] != RoleFeedWriter || !identity.HasRole(RoleQueryReader) {
		t.Fatalf("Roles = %v", identity.Roles)
	}
	if _, ok := validator.Validate(context.Background(), "missing"); ok {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpec(t *testing.T) {
	for _, raw := range []string{
		"invalid",
		"k1::query_reader",
		"k1:ops:",
		"k1:ops:ops_admin",
		"k1:ops:query_reader,k1:other:feed_writer",
	} {
		if _, err := NewStaticAPIKeyValidator(raw); err == nil {
			t.Fatalf("expected parse error for %q", raw)
		}
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:ops:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, header := range []string{"", "Bearer wrong"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/schema", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
		}
	}
}

func TestMiddlewareInjectsIdentityFromBearer(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:ops:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if identity.Principal != "ops" {
			t.Fatalf("Principal = %q", identity.Principal)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/schema", nil)
	req.Header.Set("Authorization", "Bearer k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireRole(RoleFeedWriter, next)

	cases := []struct {
		name     string
		identity *Identity
		want     int
	}{
		{name: "anonymous", want: http.StatusNoContent},
		{name: "writer", identity: &Identity{Principal: "ops", Roles: []string{RoleFeedWriter}}, want: http.StatusNoContent},
		{name: "reader", identity: &Identity{Principal: "analyst", Roles: []string{RoleQueryReader}}, want: http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/feeds", nil)
		if tc.identity != nil {
			req = req.WithContext(WithIdentity(req.Context(), *tc.identity))
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, rr.Code, tc.want)
		}
	}
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	key, err := ExtractBearerToken(req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if key != "test-key" {
		t.Fatalf("expected key %q, got %q", "test-key", key)
	}

	req.Header.Set("Authorization", "bearer lower-key")
	if key, err := ExtractBearerToken(req); err != nil || key != "lower-key" {
		t.Fatalf("expected lower-case scheme to parse, got %q, %v", key, err)
	}

	for _, header := range []string{"", "Basic abc", "Bearer   ", "Bearer"} {
		req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if _, err := ExtractBearerToken(req); err == nil {
			t.Fatalf("expected error for header %q", header)
		}
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	tokens := []TokenConfig{
		{Token: "reader", Scopes: []string{"office:ro", " events:ro "}},
		{Token: "writer", Scopes: []string{"office:SHOP:rw", ""}},
	}

	p, ok := Authenticate("reader", tokens)
	if !ok {
		t.Fatalf("expected reader to authenticate")
	}
	if !HasAnyScope(p, ScopeEvents) || HasAnyScope(p, ScopeMetrics) {
		t.Fatalf("unexpected reader grants %v", p.Grants)
	}
	if !CanAccessOffice(p, "SHOP", false) || CanAccessOffice(p, "SHOP", true) {
		t.Fatalf("reader should read but not invoke SHOP")
	}

	p, ok = Authenticate("writer", tokens)
	if !ok {
		t.Fatalf("expected writer to authenticate")
	}
	if !CanAccessOffice(p, "SHOP", true) || !CanAccessOffice(p, "SHOP", false) {
		t.Fatalf("writer should invoke and read SHOP")
	}
	if CanAccessOffice(p, "BANK", false) {
		t.Fatalf("writer scope is narrowed to SHOP")
	}
	if !HasOfficeScope(p) {
		t.Fatalf("writer holds an office scope")
	}
	if len(p.Grants) != 1 || p.Grants[0] != (Grant{Resource: "office", Office: "SHOP", Write: true}) {
		t.Fatalf("unexpected writer grants %v", p.Grants)
	}

	if _, ok := Authenticate("nobody", tokens); ok {
		t.Fatalf("unknown token authenticated")
	}
	if _, ok := Authenticate("", []TokenConfig{{Token: ""}}); ok {
		t.Fatalf("empty token authenticated")
	}
}

func TestWildcardScope(t *testing.T) {
	t.Parallel()
	p := newPrincipal("admin", []string{"*"})
	if !HasAnyScope(p, ScopeMetrics) || !CanAccessOffice(p, "ANY", true) || !HasOfficeScope(p) {
		t.Fatalf("wildcard should grant everything")
	}
	if !HasAnyScope(Principal{}) {
		t.Fatalf("no required scopes should always pass")
	}
}

func TestPrincipalName(t *testing.T) {
	t.Parallel()
	if got := (Principal{Token: "abc"}).Name(); got != "token" {
		t.Fatalf("got %q", got)
	}
	if got := (Principal{Token: "secret-token"}).Name(); got != "token:secr…" {
		t.Fatalf("got %q", got)
	}
}

func TestParseScope(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Grant
		ok   bool
	}{
		{"office:ro", Grant{Resource: "office"}, true},
		{"events:rw", Grant{Resource: "events", Write: true}, true},
		{" office:SHOP:ro ", Grant{Resource: "office", Office: "SHOP"}, true},
		{"processes:SHOP:ro", Grant{}, false},
		{"office::rw", Grant{}, false},
		{"office:admin", Grant{}, false},
		{":ro", Grant{}, false},
		{"*", Grant{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseScope(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ParseScope(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestWriteImpliesRead(t *testing.T) {
	t.Parallel()
	p := newPrincipal("t", []string{"events:rw", "office:rw"})
	if !HasAnyScope(p, ScopeEvents) || !CanAccessOffice(p, "SHOP", false) {
		t.Fatalf("rw should imply ro")
	}
	if HasAnyScope(p, ScopeProcesses) {
		t.Fatalf("processes were never granted")
	}
}

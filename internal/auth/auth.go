// Package auth authenticates bearer tokens and checks their scopes.
//
// Scopes are resource:access pairs. Known resources are office, processes,
// events and metrics; access is ro or rw, and rw implies ro. An office scope
// may be narrowed to one office as office:NAME:rw. The scope "*" grants
// everything.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Well known scopes.
const (
	ScopeAll         = "*"
	ScopeOfficeRead  = "office:ro"
	ScopeOfficeWrite = "office:rw"
	ScopeProcesses   = "processes:ro"
	ScopeEvents      = "events:ro"
	ScopeMetrics     = "metrics:ro"
)

const resourceOffice = "office"

var (
	errNoHeader    = errors.New("missing Authorization header")
	errNotBearer   = errors.New("invalid Authorization header format")
	errEmptyBearer = errors.New("missing API key")
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Grant is one parsed scope. An empty Office covers every office.
type Grant struct {
	Resource string
	Office   string
	Write    bool
}

// ParseScope parses resource:access or office:NAME:access. The wildcard is
// not a grant; callers check it separately.
func ParseScope(scope string) (Grant, bool) {
	parts := strings.Split(strings.TrimSpace(scope), ":")
	var g Grant
	switch len(parts) {
	case 2:
		g.Resource = parts[0]
	case 3:
		if parts[0] != resourceOffice || parts[1] == "" {
			return Grant{}, false
		}
		g.Resource, g.Office = parts[0], parts[1]
	default:
		return Grant{}, false
	}
	if g.Resource == "" {
		return Grant{}, false
	}
	switch parts[len(parts)-1] {
	case "ro":
	case "rw":
		g.Write = true
	default:
		return Grant{}, false
	}
	return g, true
}

// covers reports whether g satisfies want.
func (g Grant) covers(want Grant) bool {
	if g.Resource != want.Resource {
		return false
	}
	if g.Office != "" && g.Office != want.Office {
		return false
	}
	return g.Write || !want.Write
}

// Principal is an authenticated token and what it may do.
type Principal struct {
	Token  string
	Admin  bool
	Grants []Grant
}

// Name identifies the principal in logs and the journal without revealing
// the token.
func (p Principal) Name() string {
	if len(p.Token) <= 4 {
		return "token"
	}
	return "token:" + p.Token[:4] + "…"
}

func (p Principal) allows(want Grant) bool {
	if p.Admin {
		return true
	}
	for _, g := range p.Grants {
		if g.covers(want) {
			return true
		}
	}
	return false
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ExtractBearerToken reads the token from "Authorization: Bearer <token>".
// The scheme is matched case-insensitively.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errNoHeader
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", errNotBearer
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errEmptyBearer
	}
	return token, nil
}

// Authenticate matches a presented bearer token against configured tokens.
// Every configured token is compared so timing does not reveal which matched.
func Authenticate(presented string, tokens []TokenConfig) (Principal, bool) {
	var (
		match Principal
		found bool
	)
	for _, t := range tokens {
		if t.Token == "" || len(t.Token) != len(presented) {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(t.Token)) == 1 && !found {
			match, found = newPrincipal(presented, t.Scopes), true
		}
	}
	return match, found
}

func newPrincipal(token string, scopes []string) Principal {
	p := Principal{Token: token}
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == ScopeAll {
			p.Admin = true
			continue
		}
		if g, ok := ParseScope(s); ok {
			p.Grants = append(p.Grants, g)
		}
	}
	return p
}

// HasAnyScope reports whether p satisfies at least one required scope.
// Nothing required always passes.
func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 || p.Admin {
		return true
	}
	for _, s := range required {
		if want, ok := ParseScope(s); ok && p.allows(want) {
			return true
		}
	}
	return false
}

// CanAccessOffice reports whether p may read, or with write invoke, office.
func CanAccessOffice(p Principal, office string, write bool) bool {
	return p.allows(Grant{Resource: resourceOffice, Office: office, Write: write})
}

// HasOfficeScope reports whether p holds any office scope, narrowed or not.
func HasOfficeScope(p Principal) bool {
	if p.Admin {
		return true
	}
	for _, g := range p.Grants {
		if g.Resource == resourceOffice {
			return true
		}
	}
	return false
}

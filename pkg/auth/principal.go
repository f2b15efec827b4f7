// Package auth provides authentication primitives for the gateway: the
// principal model, the session/bearer resolver, and bearer-token validation.
package auth

import (
	"fmt"
	"strings"
)

// Authentication scheme names reported by the resolver.
const (
	// SchemeCookie is the session-cookie scheme.
	SchemeCookie = "Cookies"
	// SchemeBearer is the bearer-token fallback scheme.
	SchemeBearer = "Bearer"
)

// Claim type names. These are the short (Azure AD v2 style) forms; incoming
// URI-style claim types are mapped onto them during sign-in.
const (
	ClaimName              = "name"
	ClaimObjectID          = "oid"
	ClaimPreferredUsername = "preferred_username"
	ClaimSubject           = "sub"
	ClaimTenantID          = "tid"
	ClaimEmail             = "email"
	ClaimGroups            = "groups"
	ClaimScope             = "scp"
	ClaimRole              = "roles"
	ClaimLoginHint         = "login_hint"
)

// Claim is a single (type, value) assertion about the subject.
type Claim struct {
	Type  string
	Value string
}

// Principal is the authenticated (or anonymous) subject of one request.
// It is immutable once produced by the resolver.
type Principal struct {
	// Authenticated reports whether any scheme produced a valid identity.
	Authenticated bool
	// Scheme is the scheme that authenticated the principal, or "".
	Scheme string
	// Claims holds the subject's claims in stable order.
	Claims []Claim
}

// Anonymous returns the unauthenticated principal.
func Anonymous() *Principal {
	return &Principal{}
}

// FindFirst returns the value of the first claim of the given type.
func (p *Principal) FindFirst(claimType string) (string, bool) {
	for _, c := range p.Claims {
		if c.Type == claimType {
			return c.Value, true
		}
	}
	return "", false
}

// FindAll returns the values of every claim of the given type, in order.
func (p *Principal) FindAll(claimType string) []string {
	var values []string
	for _, c := range p.Claims {
		if c.Type == claimType {
			values = append(values, c.Value)
		}
	}
	return values
}

// Name returns the subject's name claim, or "".
func (p *Principal) Name() string {
	v, _ := p.FindFirst(ClaimName)
	return v
}

// DisplayName returns the name claim or "[anonymous]" for display in
// decision messages.
func (p *Principal) DisplayName() string {
	if !p.Authenticated {
		return "[anonymous]"
	}
	if v := p.Name(); v != "" {
		return v
	}
	if v, ok := p.FindFirst(ClaimSubject); ok {
		return v
	}
	return "[anonymous]"
}

// Roles returns every role claim value. Role comparison is case-sensitive
// throughout; callers must not fold case.
func (p *Principal) Roles() []string {
	return p.FindAll(ClaimRole)
}

// Scopes returns the consented scopes from the scp claim, split on spaces.
func (p *Principal) Scopes() []string {
	v, ok := p.FindFirst(ClaimScope)
	if !ok {
		return nil
	}
	return strings.Fields(v)
}

// HasRole reports whether the principal has the exact role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles() {
		if r == role {
			return true
		}
	}
	return false
}

// String returns a short representation safe for logging.
func (p *Principal) String() string {
	if p == nil || !p.Authenticated {
		return "Principal{anonymous}"
	}
	sub, _ := p.FindFirst(ClaimSubject)
	return fmt.Sprintf("Principal{Subject:%q, Scheme:%q}", sub, p.Scheme)
}

package auth

import (
	"net/http"
	"strings"
)

// SessionResolver authenticates a request from its session cookie. It is
// implemented by the session manager; the indirection keeps this package
// free of cookie mechanics.
type SessionResolver interface {
	Resolve(r *http.Request) (*Principal, *UserInfo, error)
}

// Resolution is the outcome of running the authentication schemes against a
// request. The principal is never nil; when no scheme succeeds it is the
// anonymous principal and Diagnostic explains what each scheme saw.
type Resolution struct {
	Principal  *Principal
	Info       *UserInfo
	Diagnostic string
}

// Resolver tries the session-cookie scheme and, when enabled, falls back to
// bearer tokens for non-browser clients.
type Resolver struct {
	sessions SessionResolver
	bearer   *TokenValidator
}

// NewResolver builds a resolver. bearer may be nil to disable the fallback
// scheme.
func NewResolver(sessions SessionResolver, bearer *TokenValidator) *Resolver {
	return &Resolver{sessions: sessions, bearer: bearer}
}

// Resolve authenticates the request, trying cookies before bearer tokens.
func (rs *Resolver) Resolve(r *http.Request) Resolution {
	var diags []string

	p, info, err := rs.sessions.Resolve(r)
	if err == nil {
		return Resolution{Principal: p, Info: info}
	}
	diags = append(diags, "Cookies: "+err.Error())

	if rs.bearer != nil {
		token := bearerToken(r)
		if token == "" {
			diags = append(diags, "Bearer: no token provided")
		} else if p, err := rs.bearer.ValidateToken(r.Context(), token); err != nil {
			diags = append(diags, "Bearer: "+err.Error())
		} else {
			return Resolution{Principal: p, Info: NewUserInfo(p.Claims)}
		}
	}

	return Resolution{
		Principal:  Anonymous(),
		Diagnostic: strings.Join(diags, "; "),
	}
}

// bearerToken extracts the token from the Authorization header, or "".
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

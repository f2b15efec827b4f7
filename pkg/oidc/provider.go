// Package oidc drives the authorization-code flow against the identity
// provider: building challenge redirects, handling the code callback, and
// building sign-out redirects.
//
// The flow is stateless on the server. Everything the callback needs to
// finish a sign-in travels encrypted inside the OAuth state parameter, so
// any replica can complete a flow any other replica started.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/gorilla/securecookie"
	"golang.org/x/oauth2"

	"github.com/easyauth-k8s/easyauth/pkg/graph"
)

// stateName keys the securecookie codec for the state parameter. It is a
// codec name, not a cookie: the encoded blob rides the authorize URL.
const stateName = "EasyAuth.Login"

// stateMaxAge bounds how long an authorize redirect stays redeemable.
const stateMaxAge = 300

// baselineScopes are always requested so the id token carries a usable
// profile.
var baselineScopes = []string{gooidc.ScopeOpenID, "profile", "email"}

// GraphRunner executes directory queries after sign-in.
type GraphRunner interface {
	ExecuteQueries(ctx context.Context, accessToken string, queries []string) ([]string, error)
}

// ManifestSource supplies the application manifest for scope formatting.
type ManifestSource interface {
	Get(ctx context.Context) (*graph.Manifest, error)
}

// Config configures the provider.
type Config struct {
	// Issuer is the OIDC issuer URL.
	Issuer string
	// ClientID and ClientSecret identify the registered application.
	ClientID     string
	ClientSecret string
	// CallbackPath is the path the IdP redirects back to; the full redirect
	// URL is derived per request from the incoming host.
	CallbackPath string
	// DomainHint, when set, is forwarded on every authorize redirect.
	DomainHint string
	// HTTPClient performs discovery, token exchange, and key fetches.
	HTTPClient *http.Client
	// Manifests formats application scopes; nil disables manifest-driven
	// formatting and scopes pass through as requested.
	Manifests ManifestSource
	// Graph runs post-sign-in enrichment queries; nil disables them.
	Graph GraphRunner
}

// LoginState is the payload encrypted into the OAuth state parameter.
type LoginState struct {
	// RedirectURI is where the browser lands after the flow completes.
	RedirectURI string `json:"rd"`
	// ScopeGroups are the consent requirements to validate against the
	// granted scopes.
	ScopeGroups [][]string `json:"scopes,omitempty"`
	// GraphQueries are the enrichment queries to run after sign-in.
	GraphQueries []string `json:"graph,omitempty"`
	// Nonce binds the id token to this flow.
	Nonce string `json:"nonce"`
}

// Provider implements the authorization-code flow.
type Provider struct {
	provider   *gooidc.Provider
	verifier   *gooidc.IDTokenVerifier
	endpoint   oauth2.Endpoint
	codec      *securecookie.SecureCookie
	cfg        Config
	endSession string
}

// NewProvider runs OIDC discovery against the issuer and prepares the flow.
func NewProvider(ctx context.Context, cfg Config, hashKey, blockKey []byte) (*Provider, error) {
	if cfg.HTTPClient != nil {
		ctx = gooidc.ClientContext(ctx, cfg.HTTPClient)
	}

	provider, err := gooidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("OIDC discovery failed for %s: %w", cfg.Issuer, err)
	}

	var extra struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		return nil, fmt.Errorf("failed to read provider metadata: %w", err)
	}

	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(stateMaxAge)

	return &Provider{
		provider:   provider,
		verifier:   provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		endpoint:   provider.Endpoint(),
		codec:      codec,
		cfg:        cfg,
		endSession: extra.EndSessionEndpoint,
	}, nil
}

// oauthConfig builds the per-request oauth2 configuration. The redirect URL
// depends on the host the browser hit, which only the request knows.
func (p *Provider) oauthConfig(r *http.Request) oauth2.Config {
	return oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint:     p.endpoint,
		RedirectURL:  requestBaseURL(r) + p.cfg.CallbackPath,
	}
}

// requestBaseURL reconstructs the external scheme://host the browser used,
// honoring the forwarding headers the ingress sets.
func requestBaseURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host
}

// encodeState seals the login state into the state parameter.
func (p *Provider) encodeState(s LoginState) (string, error) {
	encoded, err := p.codec.Encode(stateName, s)
	if err != nil {
		return "", fmt.Errorf("failed to encode login state: %w", err)
	}
	return encoded, nil
}

// decodeState opens the state parameter.
func (p *Provider) decodeState(raw string) (LoginState, error) {
	var s LoginState
	if err := p.codec.Decode(stateName, raw, &s); err != nil {
		return LoginState{}, fmt.Errorf("failed to decode login state: %w", err)
	}
	return s, nil
}

// SignoutURL builds the provider's end-session redirect. The logout hint
// tells the provider which account to end so the user is not asked to pick.
func (p *Provider) SignoutURL(postLogoutRedirect, logoutHint string) (string, error) {
	if p.endSession == "" {
		return "", errors.New("provider does not advertise an end_session_endpoint")
	}

	u, err := url.Parse(p.endSession)
	if err != nil {
		return "", fmt.Errorf("invalid end_session_endpoint: %w", err)
	}
	q := u.Query()
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	if logoutHint != "" {
		q.Set("logout_hint", logoutHint)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// flattenScopes joins scope groups without manifest formatting, dropping
// duplicates and preserving order.
func flattenScopes(groups [][]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, group := range groups {
		for _, s := range group {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// scopesSatisfied reports whether the granted scopes cover every requested
// group (any member of a group satisfies it). Qualified application scopes
// come back bare, so only the last path segment is compared.
func scopesSatisfied(groups [][]string, granted []string) bool {
	grantedSet := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		grantedSet[g] = struct{}{}
		if idx := strings.LastIndex(g, "/"); idx >= 0 && idx < len(g)-1 {
			grantedSet[g[idx+1:]] = struct{}{}
		}
	}

	for _, group := range groups {
		ok := false
		for _, want := range group {
			if _, found := grantedSet[want]; found {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

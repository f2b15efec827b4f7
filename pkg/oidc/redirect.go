package oidc

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/easyauth-k8s/easyauth/pkg/logger"
	"github.com/easyauth-k8s/easyauth/pkg/state"
)

// RedirectOptions shape one challenge redirect.
type RedirectOptions struct {
	// State is the denial context read from the state cookie; its zero
	// value challenges with defaults.
	State state.AuthState
	// DefaultRedirect is the post-sign-in target when neither the request
	// nor the state names one.
	DefaultRedirect string
	// SigninPath is never allowed as a redirect target; landing there after
	// sign-in would loop.
	SigninPath string
	// LoginHint pre-fills the provider's account picker on re-auth.
	LoginHint string
}

// BuildRedirect assembles the authorize URL for a sign-in challenge.
func (p *Provider) BuildRedirect(r *http.Request, opts RedirectOptions) (string, error) {
	target := p.resolveRedirectTarget(r, opts)
	groups := scopeGroupsFromState(opts.State)

	scopes, err := p.formatScopes(r, groups)
	if err != nil {
		// Challenging with unformatted scopes would send the user to the
		// provider, fail consent, and bounce back here forever. Fail the
		// redirect instead so the error surfaces once.
		return "", fmt.Errorf("failed to format requested scopes: %w", err)
	}

	// The nonce travels twice: as the nonce parameter, which the provider
	// echoes into the id token, and sealed inside the state, which is where
	// the callback reads the expected value from.
	nonce := uuid.NewString()
	encoded, err := p.encodeState(LoginState{
		RedirectURI:  target,
		ScopeGroups:  groups,
		GraphQueries: opts.State.GraphQueries,
		Nonce:        nonce,
	})
	if err != nil {
		return "", err
	}

	params := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("scope", strings.Join(scopes, " ")),
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("response_mode", "query"),
	}
	if p.cfg.DomainHint != "" {
		params = append(params, oauth2.SetAuthURLParam("domain_hint", p.cfg.DomainHint))
	}
	if opts.LoginHint != "" {
		params = append(params, oauth2.SetAuthURLParam("login_hint", opts.LoginHint))
	}

	cfg := p.oauthConfig(r)
	return cfg.AuthCodeURL(encoded, params...), nil
}

// resolveRedirectTarget picks the post-sign-in destination: an explicit rd
// query parameter wins, then the URL of the originally denied request, then
// the configured default. The sign-in path itself is never a valid target.
func (p *Provider) resolveRedirectTarget(r *http.Request, opts RedirectOptions) string {
	candidates := []string{
		r.URL.Query().Get("rd"),
		opts.State.URL,
		opts.DefaultRedirect,
	}
	for _, c := range candidates {
		if c == "" || landsOnPath(c, opts.SigninPath) {
			continue
		}
		return c
	}
	return "/"
}

// landsOnPath reports whether the target URL or path resolves to path.
func landsOnPath(target, path string) bool {
	if path == "" {
		return false
	}
	trimmed := target
	if idx := strings.Index(trimmed, "://"); idx >= 0 {
		trimmed = trimmed[idx+3:]
		if slash := strings.Index(trimmed, "/"); slash >= 0 {
			trimmed = trimmed[slash:]
		} else {
			trimmed = "/"
		}
	}
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSuffix(trimmed, "/") == strings.TrimSuffix(path, "/")
}

// scopeGroupsFromState splits the |-joined groups back into alternatives.
func scopeGroupsFromState(s state.AuthState) [][]string {
	var groups [][]string
	for _, raw := range s.Scopes {
		var group []string
		for _, scope := range strings.Split(raw, "|") {
			if scope != "" {
				group = append(group, scope)
			}
		}
		if len(group) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

// formatScopes produces the scope parameter: the baseline identity scopes
// plus the required groups, manifest-qualified when a manifest source is
// configured.
func (p *Provider) formatScopes(r *http.Request, groups [][]string) ([]string, error) {
	// The manifest exists to qualify application scopes. A plain sign-in
	// requests only the baseline identity scopes and must not depend on the
	// directory being reachable.
	if p.cfg.Manifests == nil || len(groups) == 0 {
		return flattenScopes(append([][]string{baselineScopes}, groups...)), nil
	}

	manifest, err := p.cfg.Manifests.Get(r.Context())
	if err != nil {
		return nil, err
	}

	formatted := manifest.FormattedScopeString(append([][]string{baselineScopes}, groups...))
	logger.Debugf("requesting scopes: %s", formatted)
	return strings.Fields(formatted), nil
}

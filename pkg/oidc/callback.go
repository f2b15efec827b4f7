package oidc

import (
	"fmt"
	"net/http"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/easyauth-k8s/easyauth/pkg/auth"
	"github.com/easyauth-k8s/easyauth/pkg/logger"
)

// CallbackResult is a completed sign-in.
type CallbackResult struct {
	// Info is the minimized claims payload for the new session.
	Info *auth.UserInfo
	// LoginHint identifies the account for later sign-out.
	LoginHint string
	// RedirectURI is where to send the browser next.
	RedirectURI string
}

// HandleCallback finishes the authorization-code flow for the redirect
// request from the provider.
func (p *Provider) HandleCallback(r *http.Request) (*CallbackResult, error) {
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		return nil, fmt.Errorf("identity provider returned %s: %s",
			errCode, query.Get("error_description"))
	}

	login, err := p.decodeState(query.Get("state"))
	if err != nil {
		return nil, err
	}

	code := query.Get("code")
	if code == "" {
		return nil, fmt.Errorf("callback request missing authorization code")
	}

	ctx := r.Context()
	if p.cfg.HTTPClient != nil {
		ctx = gooidc.ClientContext(ctx, p.cfg.HTTPClient)
	}

	cfg := p.oauthConfig(r)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("token response missing id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("id token verification failed: %w", err)
	}
	if idToken.Nonce != login.Nonce {
		return nil, fmt.Errorf("id token nonce does not match login state")
	}

	var claimMap map[string]any
	if err := idToken.Claims(&claimMap); err != nil {
		return nil, fmt.Errorf("failed to decode id token claims: %w", err)
	}
	claims := auth.ClaimsFromMap(claimMap)
	info := auth.NewUserInfo(claims)

	// Consented scopes live in the access token, not the id token.
	granted := grantedScopes(token.AccessToken)
	info.Scope = strings.Join(granted, " ")

	if !scopesSatisfied(login.ScopeGroups, granted) {
		return nil, fmt.Errorf(
			"The granted scope set '%s' does not satisfy the requested scope set '%s'",
			strings.Join(granted, " "),
			strings.Join(flattenScopes(login.ScopeGroups), " "))
	}

	if p.cfg.Graph != nil && len(login.GraphQueries) > 0 {
		results, err := p.cfg.Graph.ExecuteQueries(ctx, token.AccessToken, login.GraphQueries)
		if err != nil {
			// Enrichment is best-effort; the sign-in itself succeeded.
			logger.Warnf("graph enrichment failed: %v", err)
		} else {
			info.Graph = results
		}
	}

	return &CallbackResult{
		Info:        info,
		LoginHint:   loginHint(claimMap),
		RedirectURI: login.RedirectURI,
	}, nil
}

// grantedScopes reads the scp claim from the access token without verifying
// it; it was just issued to us directly by the token endpoint.
func grantedScopes(accessToken string) []string {
	if accessToken == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		logger.Debugf("access token is not a parseable JWT: %v", err)
		return nil
	}
	scp, _ := claims["scp"].(string)
	return strings.Fields(scp)
}

// loginHint picks the best account identifier for future logout_hint use.
func loginHint(claims map[string]any) string {
	for _, key := range []string{"login_hint", "preferred_username", "email", "upn"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

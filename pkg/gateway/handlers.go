package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/easyauth-k8s/easyauth/pkg/auth"
	"github.com/easyauth-k8s/easyauth/pkg/authz"
	"github.com/easyauth-k8s/easyauth/pkg/logger"
	"github.com/easyauth-k8s/easyauth/pkg/oidc"
	"github.com/easyauth-k8s/easyauth/pkg/state"
)

// originalURLHeader is set by the ingress on the auth subrequest; it names
// the request the proxy is actually deciding about.
const originalURLHeader = "X-Original-URL"

// challengeContext carries one challenge request's resolved inputs through
// the handler stages.
type challengeContext struct {
	pending   state.AuthState
	loginHint string
}

// handleAuth answers the proxy's subrequest: 202 with claim headers when the
// principal satisfies the query's requirements, otherwise 401 with a state
// cookie describing what went wrong. Forbidden is also a 401 here so the
// proxy's error-page directive can still route the browser to the challenge
// endpoint, which is where the 403 is rendered.
func (g *Gateway) handleAuth(w http.ResponseWriter, r *http.Request) {
	res := g.resolver.Resolve(r)
	requirements := authz.ParseRequirements(r.URL.Query())
	result := authz.Evaluate(res.Principal, requirements)

	if result.Succeeded {
		g.writeAuthorized(w, res)
		return
	}

	logger.Debugw("authorization failed",
		"outcome", result.Outcome.String(),
		"subject", res.Principal.DisplayName(),
		"scheme", res.Principal.Scheme,
		"query", r.URL.RawQuery,
		"schemes_tried", res.Diagnostic,
	)
	authDecisions.WithLabelValues(strings.ToLower(result.Outcome.String())).Inc()

	pending := state.AuthState{
		URL:          r.Header.Get(originalURLHeader),
		Status:       result.Outcome,
		Scopes:       nonEmpty(r.URL.Query()[authz.ScopeParameterName]),
		GraphQueries: nonEmpty(r.URL.Query()[authz.GraphParameterName]),
		Msg:          result.Message,
		Scheme:       res.Principal.Scheme,
	}
	if err := g.states.WriteCookie(w, pending); err != nil {
		logger.Errorf("failed to write state cookie: %v", err)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(result.Message))
}

// writeAuthorized emits the 202 with projected claim headers.
func (g *Gateway) writeAuthorized(w http.ResponseWriter, res auth.Resolution) {
	authDecisions.WithLabelValues("authorized").Inc()

	info := res.Info
	if info == nil {
		info = auth.NewUserInfo(res.Principal.Claims)
	}
	projected, err := g.projector.Project(info)
	if err != nil {
		logger.Errorf("failed to project claims: %v", err)
		http.Error(w, "failed to project claims", http.StatusInternalServerError)
		return
	}
	for name, value := range projected {
		w.Header().Set(name, value)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "Subject %s is authorized.", res.Principal.DisplayName())
}

// handleSignin is the challenge endpoint the browser lands on after a 401.
// A pending Forbidden renders a 403 right here: a missing role cannot be
// fixed by re-authenticating, and redirecting anyway would loop the user
// through the provider forever.
func (g *Gateway) handleSignin(w http.ResponseWriter, r *http.Request) {
	cc := challengeContext{pending: g.states.ReadAndExpire(w, r)}

	if cc.pending.Status == authz.OutcomeForbidden {
		msg := cc.pending.Msg
		if msg == "" {
			msg = "Access denied."
		}
		http.Error(w, msg, http.StatusForbidden)
		return
	}

	// Re-challenges from a live session keep the provider pointed at the
	// same account.
	if res := g.resolver.Resolve(r); res.Principal.Authenticated {
		cc.loginHint, _ = res.Principal.FindFirst(auth.ClaimLoginHint)
	}

	redirect, err := g.provider.BuildRedirect(r, oidc.RedirectOptions{
		State:           cc.pending,
		DefaultRedirect: g.cfg.DefaultRedirectAfterSignin,
		SigninPath:      g.cfg.SigninPath,
		LoginHint:       cc.loginHint,
	})
	if err != nil {
		renderError(w, r, err)
		return
	}

	challenges.Inc()
	http.Redirect(w, r, redirect, http.StatusFound)
}

// handleCallback finishes the code flow and issues the session cookie.
func (g *Gateway) handleCallback(w http.ResponseWriter, r *http.Request) {
	result, err := g.provider.HandleCallback(r)
	if err != nil {
		signins.WithLabelValues("error").Inc()
		renderError(w, r, err)
		return
	}

	if err := g.sessions.Issue(w, result.Info, result.LoginHint); err != nil {
		signins.WithLabelValues("error").Inc()
		renderError(w, r, err)
		return
	}

	signins.WithLabelValues("success").Inc()
	logger.Infow("sign-in completed", "subject", result.Info.Subject)

	target := result.RedirectURI
	if target == "" {
		target = g.cfg.DefaultRedirectAfterSignin
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleSignout clears the session and, when someone was actually signed in,
// forwards to the provider's end-session endpoint with a logout hint so the
// provider ends the right account.
func (g *Gateway) handleSignout(w http.ResponseWriter, r *http.Request) {
	res := g.resolver.Resolve(r)
	g.sessions.Clear(w, r)

	target := r.URL.Query().Get("rd")
	if target == "" {
		target = g.cfg.DefaultRedirectAfterSignout
	}

	if !res.Principal.Authenticated {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	hint, _ := res.Principal.FindFirst(auth.ClaimLoginHint)
	signoutURL, err := g.provider.SignoutURL(absoluteURL(r, target), hint)
	if err != nil {
		logger.Warnf("provider sign-out unavailable, redirecting locally: %v", err)
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	http.Redirect(w, r, signoutURL, http.StatusFound)
}

// absoluteURL makes a path absolute against the external host the browser
// used; providers require absolute post-logout redirect URIs.
func absoluteURL(r *http.Request, target string) string {
	if strings.Contains(target, "://") {
		return target
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return scheme + "://" + host + target
}

// nonEmpty drops blank values.
func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

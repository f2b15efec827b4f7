// Package gateway is the per-request orchestrator: it answers the proxy's
// auth subrequests and drives the browser-visible sign-in, callback, and
// sign-out endpoints.
package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/easyauth-k8s/easyauth/pkg/auth"
	"github.com/easyauth-k8s/easyauth/pkg/config"
	"github.com/easyauth-k8s/easyauth/pkg/headers"
	"github.com/easyauth-k8s/easyauth/pkg/oidc"
	"github.com/easyauth-k8s/easyauth/pkg/session"
	"github.com/easyauth-k8s/easyauth/pkg/state"
)

const middlewareTimeout = 30 * time.Second

// IdentityProvider is the slice of the OIDC flow the gateway drives.
// Implemented by oidc.Provider.
type IdentityProvider interface {
	BuildRedirect(r *http.Request, opts oidc.RedirectOptions) (string, error)
	HandleCallback(r *http.Request) (*oidc.CallbackResult, error)
	SignoutURL(postLogoutRedirect, logoutHint string) (string, error)
}

// Gateway wires the resolver, evaluator, codecs, and OIDC flow into the
// HTTP surface the proxy and browser talk to.
type Gateway struct {
	cfg       *config.Config
	resolver  *auth.Resolver
	states    *state.Codec
	sessions  *session.Manager
	provider  IdentityProvider
	projector *headers.Projector
}

// New assembles a gateway.
func New(
	cfg *config.Config,
	resolver *auth.Resolver,
	states *state.Codec,
	sessions *session.Manager,
	provider IdentityProvider,
) *Gateway {
	return &Gateway{
		cfg:       cfg,
		resolver:  resolver,
		states:    states,
		sessions:  sessions,
		provider:  provider,
		projector: headers.NewProjector(cfg),
	}
}

// Router builds the HTTP routes.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(middlewareTimeout),
		state.Middleware,
	)

	r.Get(g.cfg.AuthPath, g.handleAuth)
	r.Get(g.cfg.SigninPath, g.handleSignin)
	r.Get(g.cfg.CallbackPath, g.handleCallback)
	r.Get(g.cfg.SignoutPath, g.handleSignout)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

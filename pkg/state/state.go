// Package state carries denial context from the auth subrequest to the
// sign-in challenge through an encrypted, short-lived browser cookie.
//
// The auth endpoint and the challenge endpoint see different requests: by the
// time the browser follows the proxy's 401 handling to the sign-in path, the
// role/scope parameters and the original URL of the denied request are gone.
// The auth endpoint serializes what the challenge needs into this cookie; the
// challenge reads it exactly once and deletes it.
package state

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/easyauth-k8s/easyauth/pkg/authz"
	"github.com/easyauth-k8s/easyauth/pkg/logger"
)

// CookieName is the state cookie's name.
const CookieName = "EasyAuthState"

// lifetime bounds how long a pending challenge stays redeemable.
const lifetime = 5 * time.Minute

// AuthState is the denial context handed from the auth endpoint to the
// challenge endpoint.
type AuthState struct {
	// URL is the fully qualified URL of the denied request, restored as the
	// post-sign-in redirect target.
	URL string `json:"url"`
	// Status is the denial classification.
	Status authz.Outcome `json:"status"`
	// Scopes are the |-joined scope requirement groups to request consent
	// for on the next authorization redirect.
	Scopes []string `json:"scopes"`
	// GraphQueries are the graph enrichment queries to run after sign-in.
	GraphQueries []string `json:"graph_queries"`
	// Msg is the human-readable denial reason, shown on the 403 page.
	Msg string `json:"msg"`
	// Scheme is the authentication scheme that produced the denial, if any.
	Scheme string `json:"scheme"`
}

// Empty reports whether the state carries no denial context.
func (s AuthState) Empty() bool {
	return s.URL == "" && len(s.Scopes) == 0 && len(s.GraphQueries) == 0 &&
		s.Msg == "" && s.Scheme == ""
}

// Codec writes and reads the state cookie.
type Codec struct {
	sc *securecookie.SecureCookie
}

// NewCodec builds a codec from the shared key material: a 32-byte HMAC key
// and a 32-byte AES key. Replicas must share both or cookies written by one
// pod are garbage to the next.
func NewCodec(hashKey, blockKey []byte) *Codec {
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(int(lifetime.Seconds()))
	return &Codec{sc: sc}
}

// WriteCookie encrypts the state and sets it on the response.
func (c *Codec) WriteCookie(w http.ResponseWriter, s AuthState) error {
	encoded, err := c.sc.Encode(CookieName, s)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     "/",
		Expires:  time.Now().Add(lifetime),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

type memoKey struct{}

type memo struct {
	read  bool
	state AuthState
}

// Middleware installs a per-request memo so repeated ReadAndExpire calls
// during one request decode and expire the cookie at most once.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), memoKey{}, &memo{})))
	})
}

// ReadAndExpire decodes the state cookie from the request and schedules its
// deletion on the response, so each pending challenge is redeemed at most
// once. A missing, expired, or tampered cookie yields the zero state; the
// caller falls back to its defaults.
func (c *Codec) ReadAndExpire(w http.ResponseWriter, r *http.Request) AuthState {
	m, _ := r.Context().Value(memoKey{}).(*memo)
	if m != nil && m.read {
		return m.state
	}

	s := c.readAndExpire(w, r)
	if m != nil {
		m.read = true
		m.state = s
	}
	return s
}

func (c *Codec) readAndExpire(w http.ResponseWriter, r *http.Request) AuthState {
	defer http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return AuthState{}
	}

	var s AuthState
	if err := c.sc.Decode(CookieName, cookie.Value, &s); err != nil {
		logger.Debugf("discarding undecodable state cookie: %v", err)
		return AuthState{}
	}
	return s
}

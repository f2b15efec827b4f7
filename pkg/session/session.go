// Package session persists the signed-in subject across requests as an
// encrypted cookie holding the minimized claims payload. There is no
// server-side session store; any replica holding the shared key material can
// resolve any session.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/klauspost/compress/s2"

	"github.com/easyauth-k8s/easyauth/pkg/auth"
)

// CookieName is the session cookie's name.
const CookieName = "AzAD.EasyAuthForK8s"

// ErrNoSession is returned by Resolve when the request carries no session
// cookie.
var ErrNoSession = errors.New("no session cookie")

// maxPayloadSize caps the decompressed claims payload. Anything larger than
// this never fits in a cookie legitimately.
const maxPayloadSize = 1 << 20

// Browsers cap individual cookies around 4KB, so an encoded ticket larger
// than chunkSize is split across numbered chunk cookies. The head cookie then
// carries "chunks:N" instead of a value, the way the original ASP.NET cookie
// manager chunks oversized auth tickets.
const (
	chunkSize        = 4000
	maxChunks        = 8
	chunkCountPrefix = "chunks:"
)

func chunkName(i int) string {
	return fmt.Sprintf("%sC%d", CookieName, i)
}

// ticket is the encrypted cookie body. The payload is the serialized
// minimized claims, optionally s2-compressed; big role and group sets easily
// push the raw JSON past the 4KB cookie ceiling.
type ticket struct {
	Payload    []byte `json:"p"`
	Compressed bool   `json:"c"`
	LoginHint  string `json:"lh,omitempty"`
}

// Manager issues, resolves, and clears session cookies.
type Manager struct {
	sc       *securecookie.SecureCookie
	ttl      time.Duration
	compress bool
}

// NewManager builds a session manager on the shared key material. When
// compress is set the claims payload is s2-compressed before encryption;
// see the configuration docs for the tradeoff.
func NewManager(hashKey, blockKey []byte, ttl time.Duration, compress bool) *Manager {
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(int(ttl.Seconds()))
	// Size policy is chunk-count based, not securecookie's single-cookie cap.
	sc.MaxLength(0)
	return &Manager{sc: sc, ttl: ttl, compress: compress}
}

// Issue writes a session cookie for the subject described by info. The login
// hint is kept alongside so sign-out can tell the provider which account to
// end.
func (m *Manager) Issue(w http.ResponseWriter, info *auth.UserInfo, loginHint string) error {
	payload, err := info.JSON()
	if err != nil {
		return fmt.Errorf("failed to serialize claims payload: %w", err)
	}

	tk := ticket{Payload: payload, LoginHint: loginHint}
	if m.compress {
		tk.Payload = s2.Encode(nil, payload)
		tk.Compressed = true
	}

	encoded, err := m.sc.Encode(CookieName, tk)
	if err != nil {
		return fmt.Errorf("failed to encode session cookie: %w", err)
	}

	if len(encoded) <= chunkSize {
		m.setCookie(w, CookieName, encoded)
		return nil
	}

	count := (len(encoded) + chunkSize - 1) / chunkSize
	if count > maxChunks {
		return fmt.Errorf("session cookie needs %d chunks, limit is %d", count, maxChunks)
	}
	m.setCookie(w, CookieName, chunkCountPrefix+strconv.Itoa(count))
	for i := 1; i <= count; i++ {
		start := (i - 1) * chunkSize
		end := start + chunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		m.setCookie(w, chunkName(i), encoded[start:end])
	}
	return nil
}

func (m *Manager) setCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(m.ttl),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Resolve authenticates the request from its session cookie, returning the
// principal and the minimized claims payload it was issued with.
func (m *Manager) Resolve(r *http.Request) (*auth.Principal, *auth.UserInfo, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, nil, ErrNoSession
	}

	value := cookie.Value
	if countStr, chunked := strings.CutPrefix(value, chunkCountPrefix); chunked {
		count, err := strconv.Atoi(countStr)
		if err != nil || count < 1 || count > maxChunks {
			return nil, nil, fmt.Errorf("malformed chunked session cookie: %q", countStr)
		}
		var sb strings.Builder
		for i := 1; i <= count; i++ {
			chunk, err := r.Cookie(chunkName(i))
			if err != nil {
				return nil, nil, fmt.Errorf("session cookie chunk %d of %d missing", i, count)
			}
			sb.WriteString(chunk.Value)
		}
		value = sb.String()
	}

	var tk ticket
	if err := m.sc.Decode(CookieName, value, &tk); err != nil {
		return nil, nil, fmt.Errorf("failed to decode session cookie: %w", err)
	}

	payload := tk.Payload
	if tk.Compressed {
		decoded, err := s2.Decode(nil, payload)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decompress claims payload: %w", err)
		}
		payload = decoded
	}
	if len(payload) > maxPayloadSize {
		return nil, nil, errors.New("claims payload exceeds size limit")
	}

	info, err := auth.UserInfoFromJSON(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse claims payload: %w", err)
	}

	p := &auth.Principal{
		Authenticated: true,
		Scheme:        auth.SchemeCookie,
		Claims:        info.Claims(),
	}
	if tk.LoginHint != "" {
		p.Claims = append(p.Claims, auth.Claim{Type: auth.ClaimLoginHint, Value: tk.LoginHint})
	}
	return p, info, nil
}

// Clear schedules deletion of the session cookie and any chunk cookies the
// request carried.
func (m *Manager) Clear(w http.ResponseWriter, r *http.Request) {
	deleteCookie(w, CookieName)
	if r == nil {
		return
	}
	for _, c := range r.Cookies() {
		if strings.HasPrefix(c.Name, CookieName+"C") {
			deleteCookie(w, c.Name)
		}
	}
}

func deleteCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

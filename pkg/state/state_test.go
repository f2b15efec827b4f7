package state

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyauth-k8s/easyauth/pkg/authz"
)

func testKeys() (hash, block []byte) {
	hash = make([]byte, 32)
	block = make([]byte, 32)
	for i := range hash {
		hash[i] = byte(i)
		block[i] = byte(255 - i)
	}
	return hash, block
}

func writeStateCookie(t *testing.T, codec *Codec, s AuthState) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	require.NoError(t, codec.WriteCookie(rec, s))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	codec := NewCodec(testKeys())
	want := AuthState{
		URL:          "https://app.example.com/api/orders?id=42",
		Status:       authz.OutcomeUnauthorized,
		Scopes:       []string{"user.read|user.write", "offline_access"},
		GraphQueries: []string{"me/memberOf"},
		Msg:          "Access denied for subject jane. ",
		Scheme:       "Cookies",
	}

	cookie := writeStateCookie(t, codec, want)
	assert.Equal(t, CookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)

	req := httptest.NewRequest(http.MethodGet, "/easyauth/signin", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()

	got := codec.ReadAndExpire(rec, req)
	assert.Equal(t, want, got)
}

func TestReadAndExpireAlwaysDeletes(t *testing.T) {
	t.Parallel()

	codec := NewCodec(testKeys())
	cookie := writeStateCookie(t, codec, AuthState{URL: "https://app.example.com/"})

	req := httptest.NewRequest(http.MethodGet, "/easyauth/signin", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()

	codec.ReadAndExpire(rec, req)

	deletions := rec.Result().Cookies()
	require.Len(t, deletions, 1)
	assert.Equal(t, CookieName, deletions[0].Name)
	assert.Empty(t, deletions[0].Value)
	assert.Negative(t, deletions[0].MaxAge)
}

func TestReadAndExpireMissingCookie(t *testing.T) {
	t.Parallel()

	codec := NewCodec(testKeys())
	req := httptest.NewRequest(http.MethodGet, "/easyauth/signin", nil)
	rec := httptest.NewRecorder()

	got := codec.ReadAndExpire(rec, req)
	assert.True(t, got.Empty())
	assert.Len(t, rec.Result().Cookies(), 1, "deletion cookie still issued")
}

func TestReadAndExpireTamperedCookie(t *testing.T) {
	t.Parallel()

	codec := NewCodec(testKeys())
	cookie := writeStateCookie(t, codec, AuthState{URL: "https://app.example.com/", Msg: "x"})
	cookie.Value = cookie.Value[:len(cookie.Value)-4] + "AAAA"

	req := httptest.NewRequest(http.MethodGet, "/easyauth/signin", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()

	got := codec.ReadAndExpire(rec, req)
	assert.True(t, got.Empty())
}

func TestReadAndExpireMemoizesPerRequest(t *testing.T) {
	t.Parallel()

	codec := NewCodec(testKeys())
	want := AuthState{URL: "https://app.example.com/", Msg: "x"}
	cookie := writeStateCookie(t, codec, want)

	var first, second AuthState
	rec := httptest.NewRecorder()
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		first = codec.ReadAndExpire(w, r)
		second = codec.ReadAndExpire(w, r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/easyauth/signin", nil)
	req.AddCookie(cookie)
	handler.ServeHTTP(rec, req)

	assert.Equal(t, want, first)
	assert.Equal(t, first, second)
	assert.Len(t, rec.Result().Cookies(), 1, "one deletion cookie for two reads")
}

func TestReadAndExpireWrongKeys(t *testing.T) {
	t.Parallel()

	codec := NewCodec(testKeys())
	cookie := writeStateCookie(t, codec, AuthState{URL: "https://app.example.com/"})

	otherHash := make([]byte, 32)
	otherBlock := make([]byte, 32)
	other := NewCodec(otherHash, otherBlock)

	req := httptest.NewRequest(http.MethodGet, "/easyauth/signin", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()

	got := other.ReadAndExpire(rec, req)
	assert.True(t, got.Empty())
}

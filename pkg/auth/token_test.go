package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyID = "test-key-1"

func newJWKSServer(t *testing.T) (*httptest.Server, *rsa.PrivateKey) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.Import(&privateKey.PublicKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))
	require.NoError(t, key.Set(jwk.KeyUsageKey, "sig"))

	keySet := jwk.NewSet()
	require.NoError(t, keySet.AddKey(key))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		buf, err := json.Marshal(keySet)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(buf)
	}))
	t.Cleanup(srv.Close)

	return srv, privateKey
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestTokenValidator(t *testing.T) {
	t.Parallel()

	srv, key := newJWKSServer(t)

	validator, err := NewTokenValidator(context.Background(), TokenValidatorConfig{
		Issuer:            "test-issuer",
		Audience:          "test-audience",
		JWKSURL:           srv.URL,
		InsecureAllowHTTP: true,
	})
	require.NoError(t, err)

	validClaims := func() jwt.MapClaims {
		return jwt.MapClaims{
			"iss":   "test-issuer",
			"aud":   "test-audience",
			"exp":   time.Now().Add(time.Hour).Unix(),
			"sub":   "subject-1",
			"name":  "Jane Doe",
			"scp":   "openid user.read",
			"roles": []string{"admin"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(jwt.MapClaims)
		wantErr error
	}{
		{
			name: "valid_token",
		},
		{
			name:    "wrong_issuer",
			mutate:  func(c jwt.MapClaims) { c["iss"] = "evil-issuer" },
			wantErr: ErrInvalidIssuer,
		},
		{
			name:    "wrong_audience",
			mutate:  func(c jwt.MapClaims) { c["aud"] = "other-audience" },
			wantErr: ErrInvalidAudience,
		},
		{
			name:    "expired",
			mutate:  func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() },
			wantErr: ErrTokenExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			claims := validClaims()
			if tt.mutate != nil {
				tt.mutate(claims)
			}

			p, err := validator.ValidateToken(context.Background(), signToken(t, key, claims))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, p.Authenticated)
			assert.Equal(t, SchemeBearer, p.Scheme)
			assert.Equal(t, "Jane Doe", p.Name())
			assert.Equal(t, []string{"admin"}, p.Roles())
			assert.Equal(t, []string{"openid", "user.read"}, p.Scopes())
		})
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	t.Parallel()

	srv, _ := newJWKSServer(t)
	validator, err := NewTokenValidator(context.Background(), TokenValidatorConfig{
		Issuer:            "test-issuer",
		JWKSURL:           srv.URL,
		InsecureAllowHTTP: true,
	})
	require.NoError(t, err)

	_, err = validator.ValidateToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = validator.ValidateToken(context.Background(), "not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenValidatorRequiresSource(t *testing.T) {
	t.Parallel()

	_, err := NewTokenValidator(context.Background(), TokenValidatorConfig{})
	assert.ErrorIs(t, err, ErrMissingJWKSURL)
}

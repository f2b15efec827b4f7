package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/easyauth-k8s/easyauth/pkg/networking"
	"github.com/easyauth-k8s/easyauth/pkg/versions"
)

// Common errors
var (
	ErrNoToken              = errors.New("no token provided")
	ErrInvalidToken         = errors.New("invalid token")
	ErrTokenExpired         = errors.New("token expired")
	ErrInvalidIssuer        = errors.New("invalid issuer")
	ErrInvalidAudience      = errors.New("invalid audience")
	ErrFailedToDiscoverOIDC = errors.New("failed to discover OIDC configuration")
	ErrMissingJWKSURL       = errors.New("either issuer or JWKS URL must be provided")
)

// TokenValidator validates bearer JWTs against the identity provider's JWKS.
type TokenValidator struct {
	issuer     string
	audience   string
	jwksURL    string
	jwksClient *jwk.Cache

	// Lazy JWKS registration
	jwksRegistered      bool
	jwksRegistrationMu  sync.Mutex
	jwksRegistrationErr error
}

// TokenValidatorConfig contains configuration for the token validator.
type TokenValidatorConfig struct {
	// Issuer is the OIDC issuer URL (e.g. https://login.example.com/tenant/v2.0)
	Issuer string

	// Audience is the expected audience for the token
	Audience string

	// JWKSURL is the URL to fetch the JWKS from. Discovered from the issuer
	// when empty.
	JWKSURL string

	// CACertPath is the path to the CA certificate bundle for HTTPS requests
	CACertPath string

	// InsecureAllowHTTP permits plain-HTTP issuers (tests only)
	InsecureAllowHTTP bool
}

type discoveryDocument struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// discoverJWKSURL fetches the issuer's well-known configuration to find the
// JWKS endpoint.
func discoverJWKSURL(ctx context.Context, client *http.Client, issuer string) (string, error) {
	wellKnownURL := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", versions.UserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch OIDC configuration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OIDC discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode OIDC configuration: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", errors.New("OIDC configuration missing jwks_uri")
	}
	return doc.JWKSURI, nil
}

// NewTokenValidator creates a new token validator.
func NewTokenValidator(ctx context.Context, config TokenValidatorConfig) (*TokenValidator, error) {
	httpClient, err := networking.NewHttpClientBuilder().
		WithCABundle(config.CACertPath).
		WithInsecureHTTP(config.InsecureAllowHTTP).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	jwksURL := config.JWKSURL
	if jwksURL == "" && config.Issuer != "" {
		jwksURL, err = discoverJWKSURL(ctx, httpClient, config.Issuer)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToDiscoverOIDC, err)
		}
	}
	if jwksURL == "" {
		return nil, ErrMissingJWKSURL
	}

	httprcClient := httprc.NewClient(httprc.WithHTTPClient(httpClient))
	cache, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	// JWKS registration happens lazily on first use to avoid blocking startup.
	return &TokenValidator{
		issuer:     config.Issuer,
		audience:   config.Audience,
		jwksURL:    jwksURL,
		jwksClient: cache,
	}, nil
}

// JWKSURL returns the JWKS endpoint in use.
func (v *TokenValidator) JWKSURL() string {
	return v.jwksURL
}

// ensureJWKSRegistered ensures that the JWKS URL is registered with the cache.
func (v *TokenValidator) ensureJWKSRegistered(ctx context.Context) error {
	v.jwksRegistrationMu.Lock()
	defer v.jwksRegistrationMu.Unlock()

	if v.jwksRegistered {
		return v.jwksRegistrationErr
	}

	registrationCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := v.jwksClient.Register(registrationCtx, v.jwksURL); err != nil {
		v.jwksRegistrationErr = fmt.Errorf("failed to register JWKS URL: %w", err)
	} else {
		v.jwksRegistrationErr = nil
	}

	v.jwksRegistered = true
	return v.jwksRegistrationErr
}

// getKeyFromJWKS resolves the signing key referenced by the token header.
func (v *TokenValidator) getKeyFromJWKS(ctx context.Context, token *jwt.Token) (any, error) {
	if err := v.ensureJWKSRegistered(ctx); err != nil {
		return nil, fmt.Errorf("JWKS registration failed: %w", err)
	}

	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, errors.New("token header missing kid")
	}

	keySet, err := v.jwksClient.Lookup(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
	}

	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
	}

	var rawKey any
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	return rawKey, nil
}

// validateClaims validates the registered claims in the token.
func (v *TokenValidator) validateClaims(claims jwt.MapClaims) error {
	if v.issuer != "" {
		issuerClaim, err := claims.GetIssuer()
		if err != nil {
			return fmt.Errorf("failed to get issuer from claims: %w", err)
		}
		if strings.TrimSpace(issuerClaim) != strings.TrimSpace(v.issuer) {
			return ErrInvalidIssuer
		}
	}

	if v.audience != "" {
		audiences, err := claims.GetAudience()
		if err != nil {
			return ErrInvalidAudience
		}
		found := false
		for _, aud := range audiences {
			if aud == v.audience {
				found = true
				break
			}
		}
		if !found {
			return ErrInvalidAudience
		}
	}

	expirationTime, err := claims.GetExpirationTime()
	if err != nil || expirationTime == nil || expirationTime.Before(time.Now()) {
		return ErrTokenExpired
	}
	return nil
}

// ValidateToken validates a bearer token and returns the principal it
// describes.
func (v *TokenValidator) ValidateToken(ctx context.Context, tokenString string) (*Principal, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return v.getKeyFromJWKS(ctx, token)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if err := v.validateClaims(claims); err != nil {
		return nil, err
	}

	return &Principal{
		Authenticated: true,
		Scheme:        SchemeBearer,
		Claims:        ClaimsFromMap(claims),
	}, nil
}

package graph

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/easyauth-k8s/easyauth/pkg/versions"
)

// Manifest is the slice of the application registration the gateway needs:
// enough to tell which requested scopes belong to the application itself,
// which are standard OIDC scopes, and how to qualify the former for the
// authorization request.
type Manifest struct {
	// AppID is the application (client) identifier.
	AppID string
	// IdentifierURIs are the application ID URIs, used as scope qualifiers
	// when present.
	IdentifierURIs []string
	// AppScopes are the delegated permission scope values the application
	// publishes.
	AppScopes []string
	// OIDCScopes are the scopes_supported advertised by the issuer.
	OIDCScopes []string
}

// qualifier returns the prefix for application scopes.
func (m *Manifest) qualifier() string {
	if len(m.IdentifierURIs) > 0 {
		return strings.TrimSuffix(m.IdentifierURIs[0], "/")
	}
	return m.AppID
}

// FormattedScopeString flattens the requested scope groups into the scope
// parameter for the authorization request: standard OIDC scopes first,
// application scopes qualified with the app identifier, anything unknown
// passed through last. The result is de-duplicated and stable.
func (m *Manifest) FormattedScopeString(scopeGroups [][]string) string {
	oidcKnown := make(map[string]struct{}, len(m.OIDCScopes))
	for _, s := range m.OIDCScopes {
		oidcKnown[s] = struct{}{}
	}
	appKnown := make(map[string]struct{}, len(m.AppScopes))
	for _, s := range m.AppScopes {
		appKnown[s] = struct{}{}
	}

	var oidcScopes, appScopes, unknownScopes []string
	seen := make(map[string]struct{})
	for _, group := range scopeGroups {
		for _, scope := range group {
			if _, dup := seen[scope]; dup {
				continue
			}
			seen[scope] = struct{}{}
			switch {
			case hasKey(oidcKnown, scope):
				oidcScopes = append(oidcScopes, scope)
			case hasKey(appKnown, scope):
				appScopes = append(appScopes, m.qualifier()+"/"+scope)
			default:
				unknownScopes = append(unknownScopes, scope)
			}
		}
	}

	sort.Strings(oidcScopes)
	sort.Strings(appScopes)
	sort.Strings(unknownScopes)

	all := make([]string, 0, len(oidcScopes)+len(appScopes)+len(unknownScopes))
	all = append(all, oidcScopes...)
	all = append(all, appScopes...)
	all = append(all, unknownScopes...)
	return strings.Join(all, " ")
}

func hasKey(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}

// RetrieverConfig configures the manifest retriever.
type RetrieverConfig struct {
	// Issuer is the OIDC issuer, used for discovery of scopes_supported and
	// the token endpoint.
	Issuer string
	// ClientID and ClientSecret authenticate the application itself.
	ClientID     string
	ClientSecret string
	// GraphBaseURL overrides the Graph endpoint (tests).
	GraphBaseURL string
}

// Retriever fetches the application manifest from the directory using the
// client-credentials grant.
type Retriever struct {
	cfg    RetrieverConfig
	client *http.Client
}

// NewRetriever builds a manifest retriever.
func NewRetriever(client *http.Client, cfg RetrieverConfig) *Retriever {
	if cfg.GraphBaseURL == "" {
		cfg.GraphBaseURL = DefaultBaseURL
	}
	cfg.GraphBaseURL = strings.TrimSuffix(cfg.GraphBaseURL, "/")
	return &Retriever{cfg: cfg, client: client}
}

// Fetch retrieves the manifest: it acquires an application token, locates
// the service principal's directory object from the token's oid claim, and
// merges in the issuer's advertised OIDC scopes.
func (r *Retriever) Fetch(ctx context.Context) (*Manifest, error) {
	ctx = contextWithClient(ctx, r.client)

	tokenURL, oidcScopes, err := r.discover(ctx)
	if err != nil {
		return nil, err
	}

	cc := clientcredentials.Config{
		ClientID:     r.cfg.ClientID,
		ClientSecret: r.cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{r.cfg.GraphBaseURL + "/.default"},
	}
	token, err := cc.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire application token: %w", err)
	}

	oid, err := objectIDFromToken(token.AccessToken)
	if err != nil {
		return nil, err
	}

	raw, err := r.get(ctx, fmt.Sprintf("%s/directoryObjects/%s", r.cfg.GraphBaseURL, oid), token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch directory object: %w", err)
	}

	manifest := &Manifest{
		AppID:      gjson.GetBytes(raw, "appId").String(),
		OIDCScopes: oidcScopes,
	}
	for _, uri := range gjson.GetBytes(raw, "identifierUris").Array() {
		manifest.IdentifierURIs = append(manifest.IdentifierURIs, uri.String())
	}
	for _, scope := range gjson.GetBytes(raw, "api.oauth2PermissionScopes.#.value").Array() {
		manifest.AppScopes = append(manifest.AppScopes, scope.String())
	}
	// Service principals surface published scopes differently from
	// application objects.
	for _, scope := range gjson.GetBytes(raw, "oauth2PermissionScopes.#.value").Array() {
		manifest.AppScopes = append(manifest.AppScopes, scope.String())
	}
	return manifest, nil
}

// discover reads the issuer's well-known configuration.
func (r *Retriever) discover(ctx context.Context) (tokenURL string, scopes []string, err error) {
	wellKnown := strings.TrimSuffix(r.cfg.Issuer, "/") + "/.well-known/openid-configuration"
	raw, err := r.get(ctx, wellKnown, "")
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch issuer configuration: %w", err)
	}

	tokenURL = gjson.GetBytes(raw, "token_endpoint").String()
	if tokenURL == "" {
		return "", nil, fmt.Errorf("issuer configuration missing token_endpoint")
	}
	for _, s := range gjson.GetBytes(raw, "scopes_supported").Array() {
		scopes = append(scopes, s.String())
	}
	return tokenURL, scopes, nil
}

func (r *Retriever) get(ctx context.Context, url, bearer string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", versions.UserAgent())
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return raw, nil
}

// contextWithClient routes the oauth2 token exchange through our configured
// HTTP client.
func contextWithClient(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// objectIDFromToken pulls the oid claim without verifying the signature; the
// token came straight from the token endpoint over TLS.
func objectIDFromToken(accessToken string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return "", fmt.Errorf("failed to parse application token: %w", err)
	}
	oid, _ := claims["oid"].(string)
	if oid == "" {
		return "", fmt.Errorf("application token missing oid claim")
	}
	return oid, nil
}

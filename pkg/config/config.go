// Package config loads and validates the easyauth runtime configuration.
//
// Configuration comes from environment variables prefixed with EASYAUTH_
// (e.g. EASYAUTH_CLIENT_ID) and, optionally, a YAML file pointed at by the
// --config flag. Values bound through cobra flags take precedence over the
// file, which takes precedence over the defaults below.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// EncodingMethod selects how projected claim values are encoded into
// response headers.
type EncodingMethod string

// Supported claim value encodings.
const (
	EncodingURL            EncodingMethod = "urlencode"
	EncodingBase64         EncodingMethod = "base64"
	EncodingNone           EncodingMethod = "none"
	EncodingNoneWithReject EncodingMethod = "nonewithreject"
)

// HeaderFormat selects between one header per claim and a single combined
// JSON header.
type HeaderFormat string

// Supported header formats.
const (
	HeaderFormatSeparate HeaderFormat = "separate"
	HeaderFormatCombined HeaderFormat = "combined"
)

// Config is the full runtime configuration for the gateway.
type Config struct {
	// ListenAddress is the address the HTTP server binds to.
	ListenAddress string `mapstructure:"listen_address"`

	// Issuer is the OIDC issuer URL of the identity provider.
	Issuer string `mapstructure:"issuer"`
	// ClientID is the application (client) identifier registered with the IdP.
	ClientID string `mapstructure:"client_id"`
	// ClientSecret is the confidential client secret.
	ClientSecret string `mapstructure:"client_secret"`
	// TenantDomainHint, when set, is sent as domain_hint on sign-in redirects
	// to simplify home-realm discovery for users with several accounts.
	TenantDomainHint string `mapstructure:"tenant_domain_hint"`

	// SigninPath is the proxy-visible challenge endpoint.
	SigninPath string `mapstructure:"signin_path"`
	// AuthPath is the subrequest authorization endpoint.
	AuthPath string `mapstructure:"auth_path"`
	// SignoutPath is the browser-visible sign-out endpoint.
	SignoutPath string `mapstructure:"signout_path"`
	// CallbackPath receives the IdP authorization-code redirect.
	CallbackPath string `mapstructure:"callback_path"`

	// DefaultRedirectAfterSignin is where users land after sign-in when no
	// better target is known.
	DefaultRedirectAfterSignin string `mapstructure:"default_redirect_after_signin"`
	// DefaultRedirectAfterSignout is where users land after sign-out unless
	// the request carries an rd parameter.
	DefaultRedirectAfterSignout string `mapstructure:"default_redirect_after_signout"`

	// AllowBearerToken enables the bearer-token fallback scheme on the auth
	// endpoint, for non-browser clients.
	AllowBearerToken bool `mapstructure:"allow_bearer_token"`
	// BearerAudience is the expected audience of bearer tokens. Defaults to
	// the client ID when empty.
	BearerAudience string `mapstructure:"bearer_audience"`

	// DataProtectionPath is the directory holding the cookie signing and
	// encryption key material. It must be shared across replicas.
	DataProtectionPath string `mapstructure:"data_protection_path"`

	// ResponseHeaderPrefix is prepended to every projected claim header.
	ResponseHeaderPrefix string `mapstructure:"response_header_prefix"`
	// ClaimEncodingMethod is the header value encoding (see EncodingMethod).
	ClaimEncodingMethod EncodingMethod `mapstructure:"claim_encoding_method"`
	// HeaderFormat selects separate per-claim headers or one combined header.
	HeaderFormat HeaderFormat `mapstructure:"header_format"`

	// CompressSessionClaims compresses the minimized claims payload before it
	// is encrypted into the session cookie. Compressing before encryption is
	// a known compression-oracle tradeoff; it is on by default because the
	// payload is not attacker-controlled byte-for-byte, but it can be turned
	// off. See the deployment docs before changing this under TLS-terminating
	// proxies you do not control.
	CompressSessionClaims bool `mapstructure:"compress_session_claims"`

	// SessionTTLHours is the lifetime of the session cookie.
	SessionTTLHours int `mapstructure:"session_ttl_hours"`

	// GraphEnabled turns on the Microsoft Graph enrichment subsystem.
	GraphEnabled bool `mapstructure:"graph_enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_address", ":8080")
	v.SetDefault("issuer", "")
	v.SetDefault("client_id", "")
	v.SetDefault("client_secret", "")
	v.SetDefault("tenant_domain_hint", "")
	v.SetDefault("bearer_audience", "")
	v.SetDefault("signin_path", "/easyauth/signin")
	v.SetDefault("auth_path", "/easyauth/auth")
	v.SetDefault("signout_path", "/easyauth/signout")
	v.SetDefault("callback_path", "/easyauth/callback")
	v.SetDefault("default_redirect_after_signin", "/")
	v.SetDefault("default_redirect_after_signout", "/")
	v.SetDefault("allow_bearer_token", false)
	v.SetDefault("data_protection_path", "/mnt/dp")
	v.SetDefault("response_header_prefix", "x-injected-")
	v.SetDefault("claim_encoding_method", string(EncodingURL))
	v.SetDefault("header_format", string(HeaderFormatSeparate))
	v.SetDefault("compress_session_claims", true)
	v.SetDefault("session_ttl_hours", 8)
	v.SetDefault("graph_enabled", true)
}

// Load reads configuration from the environment and the optional config file.
func Load(configFile string) (*Config, error) {
	v := viper.GetViper()
	return load(v, configFile)
}

func load(v *viper.Viper, configFile string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("easyauth")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so bind every defaulted
	// key to its environment variable explicitly.
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and normalizes enum values.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	if u, err := url.Parse(c.Issuer); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("issuer %q is not a valid URL", c.Issuer)
	}
	if c.ClientID == "" {
		return errors.New("client_id is required")
	}
	if c.ClientSecret == "" {
		return errors.New("client_secret is required")
	}
	if c.BearerAudience == "" {
		c.BearerAudience = c.ClientID
	}

	for _, p := range []struct {
		name, value string
	}{
		{"signin_path", c.SigninPath},
		{"auth_path", c.AuthPath},
		{"signout_path", c.SignoutPath},
		{"callback_path", c.CallbackPath},
	} {
		if !strings.HasPrefix(p.value, "/") {
			return fmt.Errorf("%s must be an absolute path, got %q", p.name, p.value)
		}
	}

	c.ClaimEncodingMethod = EncodingMethod(strings.ToLower(string(c.ClaimEncodingMethod)))
	switch c.ClaimEncodingMethod {
	case EncodingURL, EncodingBase64, EncodingNone, EncodingNoneWithReject:
	default:
		return fmt.Errorf("unknown claim_encoding_method %q", c.ClaimEncodingMethod)
	}

	c.HeaderFormat = HeaderFormat(strings.ToLower(string(c.HeaderFormat)))
	switch c.HeaderFormat {
	case HeaderFormatSeparate, HeaderFormatCombined:
	default:
		return fmt.Errorf("unknown header_format %q", c.HeaderFormat)
	}

	if c.SessionTTLHours <= 0 {
		return fmt.Errorf("session_ttl_hours must be positive, got %d", c.SessionTTLHours)
	}
	return nil
}

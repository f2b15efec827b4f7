// Package headers projects the minimized claims payload into the response
// headers the ingress copies onto the upstream request.
package headers

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/easyauth-k8s/easyauth/pkg/auth"
	"github.com/easyauth-k8s/easyauth/pkg/config"
)

// fallbackName replaces claim names that sanitize down to nothing.
const fallbackName = "illegal-name"

// rejectedValue replaces claim values the nonewithreject encoding refuses to
// pass through.
const rejectedValue = "encoding_error"

// headerNameDelimiters are the RFC 7230 separator characters that cannot
// appear in a header (token) name.
var headerNameDelimiters = map[byte]struct{}{
	'"': {}, '(': {}, ')': {}, ',': {}, '/': {}, ':': {}, ';': {},
	'<': {}, '=': {}, '>': {}, '?': {}, '@': {}, '[': {}, '\\': {},
	']': {}, '{': {}, '}': {},
}

// Projector turns a claims payload into upstream headers according to the
// configured prefix, encoding, and format.
type Projector struct {
	prefix   string
	encoding config.EncodingMethod
	format   config.HeaderFormat
}

// NewProjector builds a projector from the gateway configuration.
func NewProjector(cfg *config.Config) *Projector {
	return &Projector{
		prefix:   cfg.ResponseHeaderPrefix,
		encoding: cfg.ClaimEncodingMethod,
		format:   cfg.HeaderFormat,
	}
}

// Project renders the payload as headers. In combined format the whole
// payload becomes one JSON-valued header; in separate format each populated
// claim gets its own header, with repeated values joined by "|".
func (p *Projector) Project(info *auth.UserInfo) (map[string]string, error) {
	if p.format == config.HeaderFormatCombined {
		raw, err := info.JSON()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize claims payload: %w", err)
		}
		return map[string]string{
			p.prefix + "userinfo": p.encodeValue(string(raw)),
		}, nil
	}

	// Accumulate values per sanitized name first; distinct claim names can
	// collapse onto one header name after sanitization.
	names := make([]string, 0, 16)
	values := make(map[string][]string)
	add := func(name, value string) {
		if value == "" {
			return
		}
		if _, seen := values[name]; !seen {
			names = append(names, name)
		}
		values[name] = append(values[name], value)
	}

	add("name", info.Name)
	add("oid", info.ObjectID)
	add("preferred-username", info.PreferredUsername)
	for _, role := range info.Roles {
		add("roles", role)
	}
	add("sub", info.Subject)
	add("tid", info.TenantID)
	add("email", info.Email)
	add("groups", info.Groups)
	add("scp", info.Scope)
	for _, claim := range info.OtherClaims {
		add(SanitizeName(FriendlyName(claim.Name)), claim.Value)
	}
	for _, result := range info.Graph {
		add("graph", result)
	}

	headers := make(map[string]string, len(names))
	for _, name := range names {
		encoded := make([]string, 0, len(values[name]))
		for _, v := range values[name] {
			encoded = append(encoded, p.encodeValue(v))
		}
		headers[p.prefix+name] = strings.Join(encoded, "|")
	}
	return headers, nil
}

func (p *Projector) encodeValue(value string) string {
	switch p.encoding {
	case config.EncodingBase64:
		return base64.StdEncoding.EncodeToString([]byte(value))
	case config.EncodingNone:
		return value
	case config.EncodingNoneWithReject:
		if !isSafeHeaderValue(value) {
			return rejectedValue
		}
		return value
	default:
		return url.QueryEscape(value)
	}
}

// isSafeHeaderValue reports whether the value is plain visible ASCII (plus
// space and tab), the only bytes that survive a header unescaped.
func isSafeHeaderValue(value string) bool {
	for i := 0; i < len(value); i++ {
		b := value[i]
		if b == ' ' || b == '\t' {
			continue
		}
		if b < 0x21 || b > 0x7e {
			return false
		}
	}
	return true
}

// SanitizeName lowercases a claim name and strips every character that
// cannot appear in a header name. Underscores become hyphens so the names
// survive proxies that mangle underscored headers. An empty result maps to
// the fallback name.
func SanitizeName(name string) string {
	var sb strings.Builder
	for i := 0; i < len(name); i++ {
		b := name[i]
		if b == '_' {
			sb.WriteByte('-')
			continue
		}
		if b <= 0x20 || b >= 0x7f {
			continue
		}
		if _, bad := headerNameDelimiters[b]; bad {
			continue
		}
		sb.WriteByte(b)
	}
	if sb.Len() == 0 {
		return fallbackName
	}
	return strings.ToLower(sb.String())
}

// FriendlyName shortens URI-style claim types to their last path segment, so
// "http://schemas.xmlsoap.org/.../nameidentifier" projects as
// "nameidentifier". A name with no segments left falls back the same way an
// unsanitizable name does.
func FriendlyName(name string) string {
	trimmed := strings.TrimRight(name, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if trimmed == "" {
		return fallbackName
	}
	return trimmed
}

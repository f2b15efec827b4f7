package auth

import (
	"encoding/json"
	"sort"
)

// Common URI-style claim types seen in tokens issued by Azure AD and other
// WS-Fed-lineage providers. They are remapped to the short forms on ingest.
const (
	claimURIName             = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name"
	claimURINameIdentifier   = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier"
	claimURIEmail            = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress"
	claimURIRole             = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"
	claimURIObjectIdentifier = "http://schemas.microsoft.com/identity/claims/objectidentifier"
	claimURITenantID         = "http://schemas.microsoft.com/identity/claims/tenantid"
	claimURIScope            = "http://schemas.microsoft.com/identity/claims/scope"
)

// ignoredClaims are protocol claims that carry no information the backend
// application could want; they are dropped instead of landing in OtherClaims.
var ignoredClaims = map[string]struct{}{
	"iss":     {},
	"aud":     {},
	"exp":     {},
	"iat":     {},
	"nbf":     {},
	"nonce":   {},
	"c_hash":  {},
	"at_hash": {},
	"azp":     {},
	"ver":     {},
	"amr":     {},
	"rh":      {},
	"uti":     {},
	"aio":     {},
	"sid":     {},
}

// ClaimValue is a free-form claim preserved in the minimized payload.
type ClaimValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// UserInfo is the minimized claims payload persisted in the session cookie
// and projected into response headers. Only this set, never the provider's
// full claim bag, survives past sign-in.
type UserInfo struct {
	Name              string       `json:"name"`
	ObjectID          string       `json:"oid"`
	PreferredUsername string       `json:"preferred_username"`
	Roles             []string     `json:"roles"`
	Subject           string       `json:"sub"`
	TenantID          string       `json:"tid"`
	Email             string       `json:"email"`
	Groups            string       `json:"groups"`
	Scope             string       `json:"scp"`
	OtherClaims       []ClaimValue `json:"otherClaims"`
	Graph             []string     `json:"graph"`
}

// userInfoSlots maps every recognized claim type to its payload slot. The
// table is deliberately explicit (rather than reflective) so the minimized
// payload is exhaustive and testable; anything not listed here and not
// ignored ends up in OtherClaims.
var userInfoSlots = map[string]func(*UserInfo, string){
	ClaimName:                func(u *UserInfo, v string) { u.Name = v },
	claimURIName:             func(u *UserInfo, v string) { u.Name = v },
	ClaimObjectID:            func(u *UserInfo, v string) { u.ObjectID = v },
	claimURIObjectIdentifier: func(u *UserInfo, v string) { u.ObjectID = v },
	ClaimPreferredUsername:   func(u *UserInfo, v string) { u.PreferredUsername = v },
	ClaimRole:                func(u *UserInfo, v string) { u.Roles = append(u.Roles, v) },
	"role":                   func(u *UserInfo, v string) { u.Roles = append(u.Roles, v) },
	claimURIRole:             func(u *UserInfo, v string) { u.Roles = append(u.Roles, v) },
	ClaimSubject:             func(u *UserInfo, v string) { u.Subject = v },
	claimURINameIdentifier:   func(u *UserInfo, v string) { u.Subject = v },
	ClaimTenantID:            func(u *UserInfo, v string) { u.TenantID = v },
	claimURITenantID:         func(u *UserInfo, v string) { u.TenantID = v },
	ClaimEmail:               func(u *UserInfo, v string) { u.Email = v },
	claimURIEmail:            func(u *UserInfo, v string) { u.Email = v },
	ClaimGroups:              func(u *UserInfo, v string) { u.Groups = v },
	ClaimScope:               func(u *UserInfo, v string) { u.Scope = v },
	claimURIScope:            func(u *UserInfo, v string) { u.Scope = v },
}

// NewUserInfo builds the minimized payload from a claim list.
func NewUserInfo(claims []Claim) *UserInfo {
	u := &UserInfo{}
	u.Populate(claims)
	return u
}

// Populate folds claims into the payload, mapping recognized types onto
// their slots and keeping the rest as OtherClaims.
func (u *UserInfo) Populate(claims []Claim) {
	for _, claim := range claims {
		if assign, ok := userInfoSlots[claim.Type]; ok {
			assign(u, claim.Value)
			continue
		}
		if _, skip := ignoredClaims[claim.Type]; skip {
			continue
		}
		u.OtherClaims = append(u.OtherClaims, ClaimValue{Name: claim.Type, Value: claim.Value})
	}
}

// JSON returns the canonical serialized form (also used by the combined
// header format).
func (u *UserInfo) JSON() ([]byte, error) {
	return json.Marshal(u)
}

// UserInfoFromJSON parses a serialized minimized payload.
func UserInfoFromJSON(data []byte) (*UserInfo, error) {
	var u UserInfo
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Claims expands the payload back into a claim list, the inverse of
// Populate for the recognized slots. Empty slots emit nothing.
func (u *UserInfo) Claims() []Claim {
	var claims []Claim
	add := func(claimType, value string) {
		if value != "" {
			claims = append(claims, Claim{Type: claimType, Value: value})
		}
	}
	add(ClaimName, u.Name)
	add(ClaimObjectID, u.ObjectID)
	add(ClaimPreferredUsername, u.PreferredUsername)
	for _, role := range u.Roles {
		add(ClaimRole, role)
	}
	add(ClaimSubject, u.Subject)
	add(ClaimTenantID, u.TenantID)
	add(ClaimEmail, u.Email)
	add(ClaimGroups, u.Groups)
	add(ClaimScope, u.Scope)
	for _, other := range u.OtherClaims {
		add(other.Name, other.Value)
	}
	return claims
}

// ClaimsFromMap flattens a decoded token claim map into a claim list.
// Multi-valued claims (arrays) become repeated claims of the same type;
// scalar values are stringified. Claims are emitted in sorted type order so
// downstream projections are reproducible.
func ClaimsFromMap(m map[string]any) []Claim {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	claims := make([]Claim, 0, len(m))
	for _, name := range names {
		switch v := m[name].(type) {
		case []any:
			for _, item := range v {
				claims = append(claims, Claim{Type: name, Value: stringify(item)})
			}
		default:
			claims = append(claims, Claim{Type: name, Value: stringify(v)})
		}
	}
	return claims
}
func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

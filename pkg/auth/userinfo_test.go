package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserInfo(t *testing.T) {
	t.Parallel()

	info := NewUserInfo([]Claim{
		{Type: ClaimName, Value: "Jane Doe"},
		{Type: ClaimObjectID, Value: "oid-1"},
		{Type: ClaimRole, Value: "admin"},
		{Type: ClaimRole, Value: "reader"},
		{Type: ClaimSubject, Value: "sub-1"},
		{Type: ClaimScope, Value: "openid user.read"},
		{Type: "favorite_color", Value: "green"},
		{Type: "nonce", Value: "dropped"},
		{Type: "aud", Value: "dropped"},
	})

	assert.Equal(t, "Jane Doe", info.Name)
	assert.Equal(t, "oid-1", info.ObjectID)
	assert.Equal(t, []string{"admin", "reader"}, info.Roles)
	assert.Equal(t, "sub-1", info.Subject)
	assert.Equal(t, "openid user.read", info.Scope)
	assert.Equal(t, []ClaimValue{{Name: "favorite_color", Value: "green"}}, info.OtherClaims)
}

func TestUserInfoMapsURIClaimTypes(t *testing.T) {
	t.Parallel()

	info := NewUserInfo([]Claim{
		{Type: claimURINameIdentifier, Value: "sub-1"},
		{Type: claimURIRole, Value: "admin"},
		{Type: claimURIEmail, Value: "jane@example.com"},
	})

	assert.Equal(t, "sub-1", info.Subject)
	assert.Equal(t, []string{"admin"}, info.Roles)
	assert.Equal(t, "jane@example.com", info.Email)
	assert.Empty(t, info.OtherClaims)
}

func TestUserInfoClaimsRoundTrip(t *testing.T) {
	t.Parallel()

	original := &UserInfo{
		Name:    "Jane",
		Subject: "sub-1",
		Roles:   []string{"admin"},
		Scope:   "openid",
		OtherClaims: []ClaimValue{
			{Name: "favorite_color", Value: "green"},
		},
	}

	rebuilt := NewUserInfo(original.Claims())
	assert.Equal(t, original, rebuilt)
}

func TestUserInfoJSONRoundTrip(t *testing.T) {
	t.Parallel()

	original := &UserInfo{Name: "Jane", Subject: "sub-1", Graph: []string{`{"a":1}`}}
	raw, err := original.JSON()
	require.NoError(t, err)

	parsed, err := UserInfoFromJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestClaimsFromMap(t *testing.T) {
	t.Parallel()

	claims := ClaimsFromMap(map[string]any{
		"name":  "Jane",
		"roles": []any{"admin", "reader"},
		"count": float64(3),
	})

	assert.Equal(t, []Claim{
		{Type: "count", Value: "3"},
		{Type: "name", Value: "Jane"},
		{Type: "roles", Value: "admin"},
		{Type: "roles", Value: "reader"},
	}, claims)
}

func TestPrincipalAccessors(t *testing.T) {
	t.Parallel()

	p := &Principal{
		Authenticated: true,
		Scheme:        SchemeCookie,
		Claims: []Claim{
			{Type: ClaimName, Value: "Jane"},
			{Type: ClaimRole, Value: "admin"},
			{Type: ClaimScope, Value: "openid user.read"},
		},
	}

	assert.Equal(t, "Jane", p.DisplayName())
	assert.True(t, p.HasRole("admin"))
	assert.False(t, p.HasRole("Admin"), "role comparison is case-sensitive")
	assert.Equal(t, []string{"openid", "user.read"}, p.Scopes())

	assert.Equal(t, "[anonymous]", Anonymous().DisplayName())
}

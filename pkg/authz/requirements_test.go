package authz

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequirements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		rawQuery  string
		wantNodes int
		check     func(t *testing.T, set RequirementSet)
	}{
		{
			name:      "no_parameters",
			rawQuery:  "",
			wantNodes: 1, // DenyAnonymous only
		},
		{
			name:      "single_role",
			rawQuery:  "role=admin",
			wantNodes: 2,
			check: func(t *testing.T, set RequirementSet) {
				t.Helper()
				role, ok := set.Nodes()[1].(RoleRequirement)
				require.True(t, ok)
				assert.Equal(t, []string{"admin"}, role.AllowedRoles)
			},
		},
		{
			name:      "role_alternatives",
			rawQuery:  "role=foo%7Cfoo2",
			wantNodes: 2,
			check: func(t *testing.T, set RequirementSet) {
				t.Helper()
				role, ok := set.Nodes()[1].(RoleRequirement)
				require.True(t, ok)
				assert.Equal(t, []string{"foo", "foo2"}, role.AllowedRoles)
			},
		},
		{
			name:      "repeated_roles_and_across_groups",
			rawQuery:  "role=foo&role=bar",
			wantNodes: 3,
		},
		{
			name:      "scope_and_role_mixed",
			rawQuery:  "role=foo&scope=user.read%7Cuser.write",
			wantNodes: 3,
			check: func(t *testing.T, set RequirementSet) {
				t.Helper()
				assert.Equal(t, [][]string{{"user.read", "user.write"}}, set.ScopeGroups())
			},
		},
		{
			name:      "empty_values_dropped",
			rawQuery:  "role=&role=%20&scope=",
			wantNodes: 1,
		},
		{
			name:      "empty_alternatives_dropped",
			rawQuery:  "role=foo%7C%7Cbar",
			wantNodes: 2,
			check: func(t *testing.T, set RequirementSet) {
				t.Helper()
				role, ok := set.Nodes()[1].(RoleRequirement)
				require.True(t, ok)
				assert.Equal(t, []string{"foo", "bar"}, role.AllowedRoles)
			},
		},
		{
			name:      "whitespace_alternatives_dropped",
			rawQuery:  "role=%20%7Cfoo&role=%09%7C%20",
			wantNodes: 2,
			check: func(t *testing.T, set RequirementSet) {
				t.Helper()
				role, ok := set.Nodes()[1].(RoleRequirement)
				require.True(t, ok)
				assert.Equal(t, []string{"foo"}, role.AllowedRoles)
			},
		},
		{
			name:      "alternatives_trimmed",
			rawQuery:  "role=%20foo%20%7Cbar",
			wantNodes: 2,
			check: func(t *testing.T, set RequirementSet) {
				t.Helper()
				role, ok := set.Nodes()[1].(RoleRequirement)
				require.True(t, ok)
				assert.Equal(t, []string{"foo", "bar"}, role.AllowedRoles)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			query, err := url.ParseQuery(tt.rawQuery)
			require.NoError(t, err)

			set := ParseRequirements(query)
			require.Len(t, set.Nodes(), tt.wantNodes)
			_, isDeny := set.Nodes()[0].(DenyAnonymousRequirement)
			assert.True(t, isDeny, "first node must be DenyAnonymous")
			if tt.check != nil {
				tt.check(t, set)
			}
		})
	}
}

func TestParseRequirementsPreservesOrder(t *testing.T) {
	t.Parallel()

	query, err := url.ParseQuery("role=first&role=second&role=third")
	require.NoError(t, err)

	set := ParseRequirements(query)
	require.Len(t, set.Nodes(), 4)
	assert.Equal(t, []string{"first"}, set.Nodes()[1].(RoleRequirement).AllowedRoles)
	assert.Equal(t, []string{"second"}, set.Nodes()[2].(RoleRequirement).AllowedRoles)
	assert.Equal(t, []string{"third"}, set.Nodes()[3].(RoleRequirement).AllowedRoles)
}

func TestParseGraphQueries(t *testing.T) {
	t.Parallel()

	query, err := url.ParseQuery("graph=me%2Fphoto%7Cme%2Fmanager&graph=me%2FmemberOf")
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"me/photo", "me/manager", "me/memberOf"},
		ParseGraphQueries(query))
}

func TestRequirementDescriptions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Requires an authenticated user.", DenyAnonymousRequirement{}.String())
	assert.Equal(t,
		"User.IsInRole must be true for one of the following roles: (foo|foo2)",
		RoleRequirement{AllowedRoles: []string{"foo", "foo2"}}.String())
	assert.Equal(t,
		"Consented scope must contain one of the following values: (foo, bar)",
		ScopeRequirement{AllowedValues: []string{"foo", "bar"}}.String())
}

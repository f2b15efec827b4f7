package authz

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyauth-k8s/easyauth/pkg/auth"
)

func principalWith(name string, roles []string, scope string) *auth.Principal {
	claims := []auth.Claim{{Type: auth.ClaimName, Value: name}}
	for _, r := range roles {
		claims = append(claims, auth.Claim{Type: auth.ClaimRole, Value: r})
	}
	if scope != "" {
		claims = append(claims, auth.Claim{Type: auth.ClaimScope, Value: scope})
	}
	return &auth.Principal{
		Authenticated: true,
		Scheme:        auth.SchemeCookie,
		Claims:        claims,
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		principal     *auth.Principal
		rawQuery      string
		wantSucceeded bool
		wantOutcome   Outcome
		wantFailed    int
	}{
		{
			name:          "anonymous_no_requirements",
			principal:     auth.Anonymous(),
			rawQuery:      "",
			wantOutcome:   OutcomeUnauthenticated,
			wantFailed:    1,
		},
		{
			name:          "nil_principal_treated_as_anonymous",
			principal:     nil,
			rawQuery:      "role=admin",
			wantOutcome:   OutcomeUnauthenticated,
			wantFailed:    1,
		},
		{
			name:          "authenticated_no_requirements",
			principal:     principalWith("jane", nil, ""),
			rawQuery:      "",
			wantSucceeded: true,
		},
		{
			name:          "role_satisfied",
			principal:     principalWith("jane", []string{"admin"}, ""),
			rawQuery:      "role=admin",
			wantSucceeded: true,
		},
		{
			name:          "role_alternatives_one_matches",
			principal:     principalWith("jane", []string{"foo2"}, ""),
			rawQuery:      "role=foo%7Cfoo2",
			wantSucceeded: true,
		},
		{
			name:        "role_case_sensitive",
			principal:   principalWith("jane", []string{"Admin"}, ""),
			rawQuery:    "role=admin",
			wantOutcome: OutcomeForbidden,
			wantFailed:  1,
		},
		{
			name:        "repeated_roles_all_must_match",
			principal:   principalWith("jane", []string{"foo"}, ""),
			rawQuery:    "role=foo&role=bar",
			wantOutcome: OutcomeForbidden,
			wantFailed:  1,
		},
		{
			name:          "scope_satisfied",
			principal:     principalWith("jane", nil, "openid user.read"),
			rawQuery:      "scope=user.read",
			wantSucceeded: true,
		},
		{
			name:        "scope_missing_is_unauthorized",
			principal:   principalWith("jane", nil, "openid"),
			rawQuery:    "scope=user.read",
			wantOutcome: OutcomeUnauthorized,
			wantFailed:  1,
		},
		{
			name:        "role_failure_wins_over_scope_failure",
			principal:   principalWith("jane", nil, "openid"),
			rawQuery:    "role=admin&scope=user.read",
			wantOutcome: OutcomeForbidden,
			wantFailed:  2,
		},
		{
			name:          "role_and_scope_both_satisfied",
			principal:     principalWith("jane", []string{"admin"}, "openid user.read"),
			rawQuery:      "role=admin&scope=user.read",
			wantSucceeded: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			query, err := url.ParseQuery(tt.rawQuery)
			require.NoError(t, err)

			result := Evaluate(tt.principal, ParseRequirements(query))
			assert.Equal(t, tt.wantSucceeded, result.Succeeded)
			if !tt.wantSucceeded {
				assert.Equal(t, tt.wantOutcome, result.Outcome)
				assert.Len(t, result.Failed, tt.wantFailed)
				assert.NotEmpty(t, result.Message)
			}
		})
	}
}

func TestEvaluateMessages(t *testing.T) {
	t.Parallel()

	t.Run("anonymous_short_circuit", func(t *testing.T) {
		t.Parallel()

		result := Evaluate(auth.Anonymous(), ParseRequirements(url.Values{"role": {"admin"}}))
		assert.Equal(t,
			"Access denied for subject [anonymous]. Requires an authenticated user. ",
			result.Message)
	})

	t.Run("role_failure_names_subject_and_roles", func(t *testing.T) {
		t.Parallel()

		p := principalWith("Jon Lester", nil, "")
		result := Evaluate(p, ParseRequirements(url.Values{"role": {"foo|foo2"}}))
		assert.Equal(t,
			"Access denied for subject Jon Lester. "+
				"User.IsInRole must be true for one of the following roles: (foo|foo2) ",
			result.Message)
	})
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Unauthenticated", OutcomeUnauthenticated.String())
	assert.Equal(t, "Unauthorized", OutcomeUnauthorized.String())
	assert.Equal(t, "Forbidden", OutcomeForbidden.String())
	assert.Equal(t, "Unknown", Outcome(9).String())
}

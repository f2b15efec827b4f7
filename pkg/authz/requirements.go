// Package authz implements the gateway's authorization requirement system:
// parsing role/scope requirements from the subrequest query string and
// evaluating a principal against them.
package authz

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/easyauth-k8s/easyauth/pkg/auth"
)

// Query parameter names recognized on the auth endpoint.
const (
	// RoleParameterName carries role requirements.
	RoleParameterName = "role"
	// ScopeParameterName carries scope requirements.
	ScopeParameterName = "scope"
	// GraphParameterName carries graph enrichment queries (not a
	// requirement, but parsed alongside them).
	GraphParameterName = "graph"
)

// Requirement is one node of a requirement set.
type Requirement interface {
	// Satisfied reports whether the principal meets the requirement.
	// Callers must check authentication separately; Satisfied assumes an
	// authenticated principal except for DenyAnonymous itself.
	Satisfied(p *auth.Principal) bool
	fmt.Stringer
}

// DenyAnonymousRequirement requires an authenticated principal. It is always
// the first node of a parsed requirement set.
type DenyAnonymousRequirement struct{}

// Satisfied implements Requirement.
func (DenyAnonymousRequirement) Satisfied(p *auth.Principal) bool {
	return p != nil && p.Authenticated
}

func (DenyAnonymousRequirement) String() string {
	return "Requires an authenticated user."
}

// RoleRequirement requires the principal to hold ANY of the allowed roles.
// Role comparison is case-sensitive.
type RoleRequirement struct {
	AllowedRoles []string
}

// Satisfied implements Requirement.
func (r RoleRequirement) Satisfied(p *auth.Principal) bool {
	for _, role := range r.AllowedRoles {
		if p.HasRole(role) {
			return true
		}
	}
	return false
}

func (r RoleRequirement) String() string {
	return fmt.Sprintf("User.IsInRole must be true for one of the following roles: (%s)",
		strings.Join(r.AllowedRoles, "|"))
}

// ScopeRequirement requires the principal's consented scopes to intersect
// the allowed values. Scope comparison is case-sensitive, matching the role
// comparer; OIDC leaves scope case handling to the server, and the IdPs we
// target emit stable casing.
type ScopeRequirement struct {
	AllowedValues []string
}

// Satisfied implements Requirement.
func (s ScopeRequirement) Satisfied(p *auth.Principal) bool {
	granted := p.Scopes()
	for _, allowed := range s.AllowedValues {
		for _, g := range granted {
			if g == allowed {
				return true
			}
		}
	}
	return false
}

func (s ScopeRequirement) String() string {
	return fmt.Sprintf("Consented scope must contain one of the following values: (%s)",
		strings.Join(s.AllowedValues, ", "))
}

// RequirementSet is an ordered list of requirement nodes. The first node is
// always DenyAnonymous; the remaining nodes combine with AND while the
// values inside each node combine with OR.
type RequirementSet struct {
	nodes []Requirement
}

// ParseRequirements builds a requirement set from the subrequest query
// string.
//
// A single parameter with |-delimited values allows any of them to succeed
// ("?role=foo|foo2"), while repeated parameters must all succeed
// ("?role=foo&role=foo2"). Empty and whitespace-only values contribute
// nothing. Node order follows input order so failure messages are
// reproducible.
func ParseRequirements(query url.Values) RequirementSet {
	nodes := []Requirement{DenyAnonymousRequirement{}}

	for _, raw := range query[RoleParameterName] {
		if values := splitAlternatives(raw); len(values) > 0 {
			nodes = append(nodes, RoleRequirement{AllowedRoles: values})
		}
	}
	for _, raw := range query[ScopeParameterName] {
		if values := splitAlternatives(raw); len(values) > 0 {
			nodes = append(nodes, ScopeRequirement{AllowedValues: values})
		}
	}
	return RequirementSet{nodes: nodes}
}

// splitAlternatives splits a |-delimited parameter value, trimming each
// piece and dropping the empty and whitespace-only ones.
func splitAlternatives(raw string) []string {
	var values []string
	for _, v := range strings.Split(raw, "|") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

// Nodes returns the requirement nodes in order.
func (s RequirementSet) Nodes() []Requirement {
	return s.nodes
}

// Empty reports whether the set contains nothing beyond DenyAnonymous.
func (s RequirementSet) Empty() bool {
	return len(s.nodes) <= 1
}

// ScopeGroups returns the allowed-value groups of every scope node, in
// order. Each group is a set of alternatives; all groups must be satisfied.
func (s RequirementSet) ScopeGroups() [][]string {
	var groups [][]string
	for _, node := range s.nodes {
		if sr, ok := node.(ScopeRequirement); ok {
			groups = append(groups, sr.AllowedValues)
		}
	}
	return groups
}

// ParseGraphQueries extracts graph enrichment queries from the query string,
// splitting |-delimited values the same way requirements are split.
func ParseGraphQueries(query url.Values) []string {
	var queries []string
	for _, raw := range query[GraphParameterName] {
		queries = append(queries, splitAlternatives(raw)...)
	}
	return queries
}

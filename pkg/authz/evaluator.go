package authz

import (
	"strings"

	"github.com/easyauth-k8s/easyauth/pkg/auth"
)

// Outcome classifies a failed authorization decision. The numeric values are
// part of the state-cookie wire format.
type Outcome int

const (
	// OutcomeUnauthenticated means no valid principal was presented; a
	// plain challenge can fix it.
	OutcomeUnauthenticated Outcome = iota
	// OutcomeUnauthorized means the principal lacks a consented scope; a
	// re-challenge requesting wider consent can fix it.
	OutcomeUnauthorized
	// OutcomeForbidden means the principal lacks a role. Terminal: no
	// amount of re-authentication grants a role.
	OutcomeForbidden
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeUnauthenticated:
		return "Unauthenticated"
	case OutcomeUnauthorized:
		return "Unauthorized"
	case OutcomeForbidden:
		return "Forbidden"
	default:
		return "Unknown"
	}
}

// Result is the outcome of evaluating a principal against a requirement set.
type Result struct {
	// Succeeded reports whether every requirement was met.
	Succeeded bool
	// Outcome classifies the failure; meaningless when Succeeded.
	Outcome Outcome
	// Failed holds the requirements that were not met, in set order.
	Failed []Requirement
	// Message is the human-readable reason trail.
	Message string
}

// Evaluate checks the principal against every node of the requirement set.
//
// DenyAnonymous is evaluated first and short-circuits: role and scope checks
// are meaningless without an identity. For an authenticated principal all
// remaining nodes are evaluated independently and the failures aggregated.
// When both a role and a scope requirement fail, the role failure wins and
// the outcome is Forbidden; a scope failure alone yields Unauthorized, which
// the challenge path can recover from by requesting wider consent.
func Evaluate(p *auth.Principal, set RequirementSet) Result {
	if p == nil {
		p = auth.Anonymous()
	}

	var sb strings.Builder
	sb.WriteString("Access denied for subject " + p.DisplayName() + ". ")

	deny := DenyAnonymousRequirement{}
	if !deny.Satisfied(p) {
		sb.WriteString(deny.String() + " ")
		return Result{
			Outcome: OutcomeUnauthenticated,
			Failed:  []Requirement{deny},
			Message: sb.String(),
		}
	}

	var failed []Requirement
	outcome := OutcomeUnauthorized
	for _, node := range set.Nodes() {
		if _, isDeny := node.(DenyAnonymousRequirement); isDeny {
			continue
		}
		if node.Satisfied(p) {
			continue
		}
		failed = append(failed, node)
		if _, isRole := node.(RoleRequirement); isRole {
			outcome = OutcomeForbidden
		}
		sb.WriteString(node.String() + " ")
	}

	if len(failed) == 0 {
		return Result{Succeeded: true}
	}
	return Result{
		Outcome: outcome,
		Failed:  failed,
		Message: sb.String(),
	}
}

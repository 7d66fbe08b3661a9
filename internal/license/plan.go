// ABOUTME: Plan enumeration with its rank table
// ABOUTME: The rank table is the only place plan ordering is defined

package license

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPlan is returned when a plan name is not in the enumeration.
var ErrInvalidPlan = errors.New("invalid plan")

// Plan is a named license tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanTrial      Plan = "trial"
	PlanStarter    Plan = "starter"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// planRanks orders plans: free < trial < starter < pro < enterprise.
var planRanks = map[Plan]int{
	PlanFree:       0,
	PlanTrial:      1,
	PlanStarter:    2,
	PlanPro:        3,
	PlanEnterprise: 4,
}

// Plans returns every plan in rank order.
func Plans() []Plan {
	return []Plan{PlanFree, PlanTrial, PlanStarter, PlanPro, PlanEnterprise}
}

// ParsePlan normalizes s and checks it against the enumeration.
func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q (valid: free, trial, starter, pro, enterprise)", ErrInvalidPlan, s)
	}
	return p, nil
}

// Valid reports whether p is part of the enumeration.
func (p Plan) Valid() bool {
	_, ok := planRanks[p]
	return ok
}

// Rank returns the plan's position in the total order.
// Unknown plans rank as free.
func (p Plan) Rank() int {
	return planRanks[p]
}

// String implements fmt.Stringer.
func (p Plan) String() string {
	return string(p)
}

// PlanRank returns the rank of a plan name, 0 for unknown names.
func PlanRank(name string) int {
	return Plan(strings.ToLower(strings.TrimSpace(name))).Rank()
}

// IsPlanSufficient reports whether current is at least required.
func IsPlanSufficient(current, required Plan) bool {
	return current.Rank() >= required.Rank()
}

// ABOUTME: Static plan catalog with prices and default feature limits
// ABOUTME: Used to seed limits on new grants and served by the plans endpoint

package license

import "maps"

// PlanInfo describes a plan for display and default limits.
type PlanInfo struct {
	Key      Plan           `json:"key"`
	Name     string         `json:"name"`
	Price    *int           `json:"price"`
	Features map[string]any `json:"features"`
}

func price(n int) *int { return &n }

// Catalog returns the built-in plan catalog.
// A nil price means custom pricing.
func Catalog() []PlanInfo {
	return []PlanInfo{
		{
			Key:   PlanFree,
			Name:  "Free",
			Price: price(0),
			Features: map[string]any{
				"max_tickets": 100,
				"max_orders":  50,
				"support":     "community",
			},
		},
		{
			Key:   PlanTrial,
			Name:  "Trial",
			Price: price(0),
			Features: map[string]any{
				"max_tickets":     10000,
				"max_orders":      5000,
				"support":         "email",
				"custom_branding": true,
			},
		},
		{
			Key:   PlanStarter,
			Name:  "Starter",
			Price: price(29),
			Features: map[string]any{
				"max_tickets": 1000,
				"max_orders":  500,
				"support":     "email",
			},
		},
		{
			Key:   PlanPro,
			Name:  "Professional",
			Price: price(99),
			Features: map[string]any{
				"max_tickets":     10000,
				"max_orders":      5000,
				"support":         "priority",
				"custom_branding": true,
			},
		},
		{
			Key:   PlanEnterprise,
			Name:  "Enterprise",
			Price: nil,
			Features: map[string]any{
				"max_tickets":     -1,
				"max_orders":      -1,
				"support":         "dedicated",
				"custom_branding": true,
				"sla":             true,
			},
		},
	}
}

// DefaultLimits returns the numeric feature caps for a plan.
func DefaultLimits(p Plan) map[string]any {
	for _, info := range Catalog() {
		if info.Key != p {
			continue
		}
		limits := map[string]any{}
		for k, v := range info.Features {
			if n, ok := toInt64(v); ok {
				limits[k] = n
			}
		}
		return limits
	}
	return map[string]any{}
}

// HasDefaultLimits reports whether m's limits are exactly the catalog limits of p.
func (m Meta) HasDefaultLimits(p Plan) bool {
	return maps.Equal(m.Limits(), Meta{MetaLimits: DefaultLimits(p)}.Limits())
}

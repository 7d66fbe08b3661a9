// ABOUTME: Grant metadata bag holding per-feature limits and usage counters
// ABOUTME: Numbers may arrive as float64 from JSON, so accessors normalize them

package license

import (
	"encoding/json"
	"math"
)

const (
	MetaLimits = "limits"
	MetaUsage  = "usage"

	MetaUpgradedAt   = "upgradedAt"
	MetaPreviousPlan = "previousPlan"
)

// Unlimited is the sentinel limit meaning no cap.
const Unlimited int64 = -1

// Meta is the opaque metadata stored on a grant.
type Meta map[string]any

// Limit returns the cap for feature and whether one applies.
// Absent, non-numeric, 0 and -1 limits mean unlimited.
func (m Meta) Limit(feature string) (int64, bool) {
	v, ok := m.section(MetaLimits)[feature]
	if !ok {
		return 0, false
	}
	n, ok := toInt64(v)
	if !ok || n == 0 || n == Unlimited {
		return 0, false
	}
	return n, true
}

// Usage returns the consumed count for feature, 0 when absent.
func (m Meta) Usage(feature string) int64 {
	n, _ := toInt64(m.section(MetaUsage)[feature])
	return n
}

// WithUsage returns a copy of m with usage[feature] set to n.
func (m Meta) WithUsage(feature string, n int64) Meta {
	c := m.Clone()
	usage, _ := c[MetaUsage].(map[string]any)
	if usage == nil {
		usage = map[string]any{}
	}
	usage[feature] = n
	c[MetaUsage] = usage
	return c
}

// Limits returns the limits section as a map of integers.
func (m Meta) Limits() map[string]int64 {
	out := map[string]int64{}
	for k, v := range m.section(MetaLimits) {
		if n, ok := toInt64(v); ok {
			out[k] = n
		}
	}
	return out
}

// HasLimits reports whether a limits section is present.
func (m Meta) HasLimits() bool {
	_, ok := m[MetaLimits].(map[string]any)
	return ok
}

func (m Meta) section(name string) map[string]any {
	if m == nil {
		return nil
	}
	s, _ := m[name].(map[string]any)
	return s
}

// Clone deep-copies nested maps and slices.
func (m Meta) Clone() Meta {
	if m == nil {
		return Meta{}
	}
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		c := make(map[string]any, len(t))
		for k, vv := range t {
			c[k] = cloneValue(vv)
		}
		return c
	case Meta:
		return map[string]any(t.Clone())
	case []any:
		c := make([]any, len(t))
		for i, vv := range t {
			c[i] = cloneValue(vv)
		}
		return c
	default:
		return v
	}
}

// MergeMeta returns base overlaid with update. Keys in update win.
func MergeMeta(base, update Meta) Meta {
	out := base.Clone()
	for k, v := range update {
		out[k] = cloneValue(v)
	}
	return out
}

// ParseMeta decodes a JSON object. Empty input yields an empty Meta.
func ParseMeta(data []byte) (Meta, error) {
	if len(data) == 0 {
		return Meta{}, nil
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = Meta{}
	}
	return m, nil
}

// Encode serializes the metadata as a JSON object.
func (m Meta) Encode() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	default:
		return 0, false
	}
}

// ABOUTME: Entitlement grant record with status and scope enums
// ABOUTME: A grant is effective when active and not past its valid-until time

package license

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidStatus is returned for a status outside the enumeration.
var ErrInvalidStatus = errors.New("invalid status")

// ErrInvalidFeature is returned for feature names that cannot be used as metadata keys.
var ErrInvalidFeature = errors.New("invalid feature name")

// Status is the lifecycle state of a grant.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusExpired  Status = "expired"
)

// ParseStatus validates a status string. Empty means active.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case "":
		return StatusActive, nil
	case StatusActive, StatusInactive, StatusExpired:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// Scope says whether a grant covers a whole tenant or one member.
type Scope string

const (
	ScopeOrg    Scope = "org"
	ScopeMember Scope = "member"
)

// Grant is one entitlement row.
// PrincipalID is nil for org-scope grants.
type Grant struct {
	ID          int64      `json:"id"`
	TenantID    int64      `json:"tenant_id"`
	PrincipalID *int64     `json:"principal_id"`
	ProductKey  string     `json:"product_key"`
	Plan        Plan       `json:"plan"`
	Status      Status     `json:"status"`
	ValidUntil  *time.Time `json:"valid_until"`
	Meta        Meta       `json:"meta"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Scope derives the grant's scope from its principal.
func (g *Grant) Scope() Scope {
	if g.PrincipalID == nil {
		return ScopeOrg
	}
	return ScopeMember
}

// EffectiveAt reports whether the grant is active and unexpired at now.
func (g *Grant) EffectiveAt(now time.Time) bool {
	if g.Status != StatusActive {
		return false
	}
	return g.ValidUntil == nil || g.ValidUntil.After(now)
}

// Clone returns a deep copy of the grant.
func (g *Grant) Clone() *Grant {
	c := *g
	if g.PrincipalID != nil {
		pid := *g.PrincipalID
		c.PrincipalID = &pid
	}
	if g.ValidUntil != nil {
		vu := *g.ValidUntil
		c.ValidUntil = &vu
	}
	c.Meta = g.Meta.Clone()
	return &c
}

var featurePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

// ValidateFeature checks that a feature name is safe to use as a metadata key.
func ValidateFeature(feature string) error {
	if !featurePattern.MatchString(feature) {
		return fmt.Errorf("%w: %q", ErrInvalidFeature, feature)
	}
	return nil
}

// ErrInvalidProductKey is returned for product keys that are empty or malformed.
var ErrInvalidProductKey = errors.New("invalid product key")

var productKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidateProductKey checks a product key.
func ValidateProductKey(key string) error {
	if !productKeyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidProductKey, key)
	}
	return nil
}

// ABOUTME: Store interfaces and data types for license-gateway persistence
// ABOUTME: Defines principals, tenants, memberships, products and the grant store

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/license-gateway/internal/license"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

var (
	// ErrEmailExists is returned when creating a principal with a taken email
	ErrEmailExists = errors.New("email already registered")

	// ErrTenantExists is returned when a tenant name is taken (case-insensitive)
	ErrTenantExists = errors.New("tenant name already exists")

	// ErrMembershipExists is returned when adding a principal already in the tenant
	ErrMembershipExists = errors.New("principal is already a member of this tenant")

	// ErrLastOwner is returned when removing the only remaining owner of a tenant
	ErrLastOwner = errors.New("cannot remove the last owner of a tenant")

	// ErrLimitReached is returned by a conditional usage increment that would exceed the limit
	ErrLimitReached = errors.New("usage limit reached")
)

// PrincipalRole is the coarse account role carried into tokens
type PrincipalRole string

const (
	PrincipalRoleAdmin   PrincipalRole = "admin"
	PrincipalRoleManager PrincipalRole = "manager"
	PrincipalRoleExpert  PrincipalRole = "expert"
	PrincipalRoleClient  PrincipalRole = "client"
	PrincipalRoleSuper   PrincipalRole = "super"
)

// ValidPrincipalRoles lists all principal roles
var ValidPrincipalRoles = []PrincipalRole{
	PrincipalRoleAdmin, PrincipalRoleManager, PrincipalRoleExpert, PrincipalRoleClient, PrincipalRoleSuper,
}

// PrincipalStatus is the account state; principals are never hard-deleted
type PrincipalStatus string

const (
	PrincipalStatusActive   PrincipalStatus = "active"
	PrincipalStatusInactive PrincipalStatus = "inactive"
	PrincipalStatusPending  PrincipalStatus = "pending"
	PrincipalStatusBlocked  PrincipalStatus = "blocked"
)

// Principal is a human account
type Principal struct {
	ID              int64
	Email           string
	DisplayName     string
	Provider        string // "password", "google", "github", "microsoft", "webauthn"
	ProviderSubject string // empty for password-only accounts
	PasswordHash    string
	APIKeyHash      string
	Role            PrincipalRole
	Status          PrincipalStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TenantRole is a principal's role within one tenant
type TenantRole string

const (
	TenantRoleOwner TenantRole = "owner"
	TenantRoleAdmin TenantRole = "admin"
	TenantRoleUser  TenantRole = "user"
)

// ValidTenantRoles lists all tenant roles
var ValidTenantRoles = []TenantRole{TenantRoleOwner, TenantRoleAdmin, TenantRoleUser}

// Valid reports whether r is a known tenant role
func (r TenantRole) Valid() bool {
	for _, v := range ValidTenantRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Tenant is an organizational scope
type Tenant struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership links a principal to a tenant with a role
type Membership struct {
	TenantID    int64      `json:"tenant_id"`
	PrincipalID int64      `json:"principal_id"`
	Role        TenantRole `json:"role"`
	Email       string     `json:"email,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Product is a downstream product that grants refer to by key
type Product struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// GrantStore persists entitlement grants.
// Org-scope rows are unique per (tenant, product); member-scope rows per (tenant, principal, product).
type GrantStore interface {
	// UpsertOrgGrant inserts or overwrites plan, status, valid_until and meta on the org-scope key.
	UpsertOrgGrant(ctx context.Context, g *license.Grant) (*license.Grant, error)
	// UpsertMemberGrant does the same on the member-scope key.
	UpsertMemberGrant(ctx context.Context, g *license.Grant) (*license.Grant, error)

	GetOrgGrant(ctx context.Context, tenantID int64, productKey string) (*license.Grant, error)
	GetMemberGrant(ctx context.Context, tenantID, principalID int64, productKey string) (*license.Grant, error)
	ListGrants(ctx context.Context, tenantID int64) ([]*license.Grant, error)
	ListMemberGrants(ctx context.Context, tenantID, principalID int64) ([]*license.Grant, error)

	// SetOrgGrantStatus reports whether a row was affected.
	SetOrgGrantStatus(ctx context.Context, tenantID int64, productKey string, status license.Status) (bool, error)
	SetMemberGrantStatus(ctx context.Context, tenantID, principalID int64, productKey string, status license.Status) (bool, error)

	// ExpireGrants moves every active grant with valid_until <= now to expired and returns those rows.
	ExpireGrants(ctx context.Context, now time.Time) ([]*license.Grant, error)

	// IncrementUsage adds delta to usage[feature] in a single statement and returns the new count.
	// With enforceLimit set the update only applies while usage+delta stays within limits[feature],
	// otherwise ErrLimitReached is returned and nothing changes.
	IncrementUsage(ctx context.Context, grantID int64, feature string, delta int64, enforceLimit bool) (int64, error)
}

// PrincipalStore persists principals
type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, p *Principal) error
	GetPrincipal(ctx context.Context, id int64) (*Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error)
	GetPrincipalByAPIKeyHash(ctx context.Context, hash string) (*Principal, error)
	SetPrincipalStatus(ctx context.Context, id int64, status PrincipalStatus) error
	SetPrincipalAPIKeyHash(ctx context.Context, id int64, hash string) error
	CountPrincipals(ctx context.Context) (int, error)
}

// TenantStore persists tenants and memberships
type TenantStore interface {
	// CreateTenant creates the tenant and makes ownerID its owner atomically.
	CreateTenant(ctx context.Context, name string, ownerID int64) (*Tenant, error)
	GetTenant(ctx context.Context, id int64) (*Tenant, error)
	ListTenants(ctx context.Context) ([]*Tenant, error)

	AddMember(ctx context.Context, tenantID, principalID int64, role TenantRole) error
	GetMembership(ctx context.Context, tenantID, principalID int64) (*Membership, error)
	ListMembers(ctx context.Context, tenantID int64) ([]*Membership, error)
	// RemoveMember refuses with ErrLastOwner when the member is the tenant's only owner.
	RemoveMember(ctx context.Context, tenantID, principalID int64) error
	ListTenantIDsForPrincipal(ctx context.Context, principalID int64) ([]int64, error)
}

// ProductStore persists the product catalog
type ProductStore interface {
	UpsertProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, key string) (*Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]*Product, error)
}

// Store is the full persistence surface used by the gateway
type Store interface {
	GrantStore
	PrincipalStore
	TenantStore
	ProductStore

	Ping(ctx context.Context) error
	Close() error
}

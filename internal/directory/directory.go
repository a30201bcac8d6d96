// Package directory resolves public tenant handles to the tenant attributes
// used in generated artifacts. Implementations are read-only and safe for
// concurrent use.
package directory

import (
	"context"
	"errors"

	"github.com/l0p7/pricefeed/internal/handle"
)

// ErrTenantNotFound reports a syntactically valid handle with no tenant.
var ErrTenantNotFound = errors.New("directory: tenant not found")

// Tenant carries the attributes the artifact generator needs.
type Tenant struct {
	Handle      handle.Handle
	DisplayName string
}

// Directory resolves a public handle. Missing tenants yield ErrTenantNotFound.
type Directory interface {
	Resolve(ctx context.Context, h handle.Handle) (Tenant, error)
}

package knowledge

import (
	"fmt"
	"regexp"
)

// Tenants name directories on disk and partition the vector table.
var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateTenant rejects names that are empty, too long, or unsafe as a path segment.
func ValidateTenant(tenant string) error {
	if tenant == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTenant)
	}
	if !tenantPattern.MatchString(tenant) || tenant == "." || tenant == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidTenant, tenant)
	}
	for i := 0; i+1 < len(tenant); i++ {
		if tenant[i] == '.' && tenant[i+1] == '.' {
			return fmt.Errorf("%w: %q", ErrInvalidTenant, tenant)
		}
	}
	return nil
}

package auth

import (
	"fmt"
	"slices"
)

// Permissions granted through JWT claims or API keys.
const (
	PermManageAffiliates = "affiliates.manage"
	PermDispatchOrders   = "orders.dispatch"
)

// APIKeyPermissions are the permissions every checkout API key carries.
var APIKeyPermissions = []string{PermDispatchOrders}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Require returns a ForbiddenError unless granted contains perm. The wildcard "*"
// grants everything.
func Require(granted []string, perm string) error {
	if slices.Contains(granted, perm) || slices.Contains(granted, "*") {
		return nil
	}
	return ForbiddenError{Permission: perm}
}

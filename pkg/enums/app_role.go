package enums

import "fmt"

// AppRole is the role stored in user_roles.
type AppRole string

const (
	AppRoleAdmin    AppRole = "admin"
	AppRoleCustomer AppRole = "customer"
)

// String implements fmt.Stringer.
func (r AppRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known AppRole.
func (r AppRole) IsValid() bool {
	return r == AppRoleAdmin || r == AppRoleCustomer
}

// ParseAppRole converts raw input into an AppRole.
func ParseAppRole(value string) (AppRole, error) {
	role := AppRole(value)
	if !role.IsValid() {
		return "", fmt.Errorf("invalid app role %q", value)
	}
	return role, nil
}

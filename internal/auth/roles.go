package auth

// RoleRegistry resolves a Role's Name to its Scopes at load time, since
// Role.Scopes is never persisted (json:"-") — only the name is. This
// keeps a fixed name->permission table rather than storing permissions
// per row.
type RoleRegistry map[string]ScopeSet

// DefaultRoleRegistry is the fixed set of named roles a fresh deployment
// starts with, standing in for an operator-configured table.
func DefaultRoleRegistry() RoleRegistry {
	return RoleRegistry{
		"admin": NewScopeSet(AllScopes...),
		"writer": NewScopeSet(
			ScopeReadMetadata, ScopeReadData, ScopeWriteMetadata, ScopeWriteData,
			ScopeCreateNode, ScopeDeleteNode, ScopeDeleteRevision, ScopeRegister,
		),
		"reader": NewScopeSet(ScopeReadMetadata, ScopeReadData),
	}
}

// Hydrate fills in Scopes on each of roles by name, leaving an unknown
// role name with an empty scope set rather than erroring — an operator
// renaming/removing a role should not lock out principals still
// referencing it, only narrow what they can do.
func (r RoleRegistry) Hydrate(roles []Role) []Role {
	out := make([]Role, len(roles))
	for i, role := range roles {
		out[i] = Role{Name: role.Name, Scopes: r[role.Name]}
	}
	return out
}

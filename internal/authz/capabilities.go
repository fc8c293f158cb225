package authz

import (
	"fmt"
	"sort"
)

// Grant declares the roles allowed to perform one action of one module.
// Grants are collected at boot; a (module, action) pair missing from the
// table is a hard deny, never an implicit allow.
type Grant struct {
	Module Module
	Action ActionCode
	Roles  []RoleCode
}

// CapabilityTable is the static (module, action) -> required-role-set map.
// It is immutable after construction and safe for concurrent reads.
type CapabilityTable struct {
	entries map[capKey]map[RoleCode]struct{}
}

// NewCapabilityTable builds the table from per-module grant declarations.
// Declaring the same (module, action) twice is a configuration error: the
// table must be assembled deliberately, not by accretion.
func NewCapabilityTable(groups ...[]Grant) (*CapabilityTable, error) {
	entries := make(map[capKey]map[RoleCode]struct{})
	for _, grants := range groups {
		for _, g := range grants {
			if g.Module == "" || g.Action == "" {
				return nil, fmt.Errorf("authz: grant requires module and action, got %q/%q", g.Module, g.Action)
			}
			if len(g.Roles) == 0 {
				return nil, fmt.Errorf("authz: grant %s/%s declares no roles", g.Module, g.Action)
			}
			key := capKey{module: g.Module, action: g.Action}
			if _, exists := entries[key]; exists {
				return nil, fmt.Errorf("authz: duplicate grant for %s/%s", g.Module, g.Action)
			}
			roles := make(map[RoleCode]struct{}, len(g.Roles))
			for _, r := range g.Roles {
				roles[r] = struct{}{}
			}
			entries[key] = roles
		}
	}
	return &CapabilityTable{entries: entries}, nil
}

// Lookup returns the role set required for (module, action). The second
// return value is false when the action is not configured.
func (t *CapabilityTable) Lookup(module Module, action ActionCode) (map[RoleCode]struct{}, bool) {
	if t == nil {
		return nil, false
	}
	roles, ok := t.entries[capKey{module: module, action: action}]
	return roles, ok
}

// Actions lists the configured actions for a module, sorted for stable
// introspection output.
func (t *CapabilityTable) Actions(module Module) []ActionCode {
	if t == nil {
		return nil
	}
	var actions []ActionCode
	for key := range t.entries {
		if key.module == module {
			actions = append(actions, key.action)
		}
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// Package auth - scopes.go defines the audit API permission scopes and the helpers
// used to check them.
package auth

import (
	"fmt"
)

// Scope represents a permission/scope type
type Scope string

const (
	// ScopeAuditRead allows querying events, critical events, reports and integrity.
	ScopeAuditRead Scope = "audit:read"
	// ScopeAuditWrite allows submitting events.
	ScopeAuditWrite Scope = "audit:write"
	// ScopeAuditAdmin grants every scope, plus legal holds and retention management.
	ScopeAuditAdmin Scope = "audit:admin"
)

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{ScopeAuditRead, ScopeAuditWrite, ScopeAuditAdmin}
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	valid := make(map[string]bool, len(AllScopes()))
	for _, s := range AllScopes() {
		valid[string(s)] = true
	}
	for _, scope := range scopes {
		if !valid[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}
	return nil
}

// HasScope reports whether userScopes grant required. audit:admin grants every scope;
// audit:write does not imply audit:read, so event producers cannot read the trail.
func HasScope(userScopes []string, required Scope) bool {
	for _, scope := range userScopes {
		if scope == string(required) || scope == string(ScopeAuditAdmin) {
			return true
		}
	}
	return false
}

// HasAnyScope checks if a user has at least one of the required scopes
func HasAnyScope(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if HasScope(userScopes, required) {
			return true
		}
	}
	return false
}

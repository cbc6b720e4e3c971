// Package interp resolves {{ path }} references against a layered
// scope, implementing the four-tier name-resolution precedence of
// spec §4.1: credential alias, then in-scope variables (execution
// shadows workflow shadows global), then the per-node output cache, then
// the current item map.
package interp

import "github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"

// CredentialResolver looks up a credential by alias name, returning the
// decrypted secret when the alias matches one. Resolution never fails
// the template if no credential matches the alias — it simply falls
// through to the next tier.
type CredentialResolver func(alias string) (domain.Secret, bool)

// Scope is the layered lookup environment for one node's interpolation.
type Scope struct {
	ResolveCredential CredentialResolver
	ExecutionVars     map[string]any
	WorkflowVars      map[string]any
	GlobalVars        map[string]any
	NodeOutputs       map[string]domain.Envelope // keyed by source node name or id
	Item              domain.Item
}

// lookupResult carries whether the match came from a secret so callers
// can tag it for redaction.
type lookupResult struct {
	value  any
	secret bool
	found  bool
}

// lookupRoot resolves path's first segment against the four tiers, in
// precedence order, stopping at the first hit.
func (s Scope) lookupRoot(name string) lookupResult {
	if s.ResolveCredential != nil {
		if secret, ok := s.ResolveCredential(name); ok {
			return lookupResult{value: secret.Value, secret: true, found: true}
		}
	}
	if v, ok := s.ExecutionVars[name]; ok {
		return lookupResult{value: v, found: true}
	}
	if v, ok := s.WorkflowVars[name]; ok {
		return lookupResult{value: v, found: true}
	}
	if v, ok := s.GlobalVars[name]; ok {
		return lookupResult{value: v, found: true}
	}
	if env, ok := s.NodeOutputs[name]; ok {
		return lookupResult{value: env.First(), found: true}
	}
	if s.Item != nil {
		if v, ok := s.Item[name]; ok {
			return lookupResult{value: v, found: true}
		}
	}
	return lookupResult{}
}

// Package datastore fetches a principal's full policy footprint — identity
// policies, permission boundary, and org-level SCP/RCP levels — and caches
// it so repeated canwhat/diff calls don't re-hit the network.
package datastore

import "context"

// PolicyEntry is one named policy and its raw (possibly percent-encoded)
// JSON document, as returned by IAM's GetPolicyVersion/GetRolePolicy/etc.
type PolicyEntry struct {
	Name   string
	Policy string
}

// Level is one level of an AWS Organizations policy hierarchy (an OU, the
// root, or the account itself), holding every policy attached directly at
// that level.
type Level struct {
	OrgIdentifier string
	Policies      []PolicyEntry
}

// GroupPolicies is one IAM group's managed and inline policies.
type GroupPolicies struct {
	GroupName       string
	ManagedPolicies []PolicyEntry
	InlinePolicies  []PolicyEntry
}

// PrincipalPolicies bundles everything CombinationPipeline needs for one
// principal: identity policies, an optional permission boundary, and the
// ordered SCP/RCP levels governing it, outermost (root) first.
type PrincipalPolicies struct {
	ManagedPolicies    []PolicyEntry
	InlinePolicies     []PolicyEntry
	PermissionBoundary *PolicyEntry
	GroupPolicies      []GroupPolicies
	SCPs               []Level
	RCPs               []Level
}

// DataStore is the engine's sole external collaborator for fetching a
// principal's policy footprint.
type DataStore interface {
	GetAllPoliciesForPrincipal(ctx context.Context, principalARN string) (*PrincipalPolicies, error)
}

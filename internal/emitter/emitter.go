// Package emitter turns a resolved PermissionSet back into a canonical
// IAM-shaped policy document: atoms sharing the same resource scope and
// condition block are coalesced into one statement with a sorted,
// deduplicated action list.
package emitter

import (
	"encoding/json"
	"sort"

	"github.com/0xKirisame/canwhat/internal/algebra"
)

// PolicyDocument is the canonical output shape: a standard IAM policy
// document with Allow statements followed by Deny statements.
type PolicyDocument struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Statement is one emitted Allow/Deny entry. Action is a string when the
// bucket coalesces to exactly one action, else a sorted string slice;
// Resource/NotResource follow the same string-or-slice convention.
type Statement struct {
	Effect      string                         `json:"Effect"`
	Action      interface{}                    `json:"Action"`
	Resource    interface{}                    `json:"Resource,omitempty"`
	NotResource interface{}                    `json:"NotResource,omitempty"`
	Condition   map[string]map[string][]string `json:"Condition,omitempty"`
}

// Emit builds the combined document from a final Allow set and a
// synthesized Deny set (either may be nil or empty), per spec §4.5 step 8
// and §4.6.
func Emit(allow, deny *algebra.PermissionSet) *PolicyDocument {
	var statements []Statement
	if allow != nil {
		statements = append(statements, buildStatements(allow)...)
	}
	if deny != nil {
		statements = append(statements, buildStatements(deny)...)
	}
	return &PolicyDocument{Version: "2012-10-17", Statement: statements}
}

type bucket struct {
	effect         string
	resourceShaped bool
	resources      []string
	conditions     algebra.ConditionMap
	actions        map[string]struct{}
}

func buildStatements(set *algebra.PermissionSet) []Statement {
	buckets := make(map[string]*bucket)
	var order []string

	set.Walk(func(service, action string, p *algebra.Permission) {
		fp := fingerprint(p)
		b, ok := buckets[fp]
		if !ok {
			b = &bucket{
				effect:         p.Effect().String(),
				resourceShaped: p.IsResourceShaped(),
				conditions:     p.Conditions(),
				actions:        make(map[string]struct{}),
			}
			if p.IsResourceShaped() {
				b.resources = sortedRaw(p.ResourcePatterns())
			} else {
				b.resources = sortedRaw(p.NotResourcePatterns())
			}
			buckets[fp] = b
			order = append(order, fp)
		}
		b.actions[service+":"+action] = struct{}{}
	})

	sort.Strings(order)
	statements := make([]Statement, 0, len(order))
	for _, fp := range order {
		b := buckets[fp]
		actions := make([]string, 0, len(b.actions))
		for a := range b.actions {
			actions = append(actions, a)
		}
		sort.Strings(actions)

		stmt := Statement{Effect: b.effect, Action: stringOrSlice(actions)}
		if b.resourceShaped {
			stmt.Resource = stringOrSlice(b.resources)
		} else {
			stmt.NotResource = stringOrSlice(b.resources)
		}
		if len(b.conditions) > 0 {
			stmt.Condition = canonicalizeConditions(b.conditions)
		}
		statements = append(statements, stmt)
	}
	return statements
}

func stringOrSlice(vals []string) interface{} {
	if len(vals) == 1 {
		return vals[0]
	}
	return vals
}

func sortedRaw(patterns []*algebra.WildcardPattern) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = p.Raw()
	}
	sort.Strings(out)
	return dedupStrings(out)
}

func dedupStrings(vals []string) []string {
	if len(vals) == 0 {
		return vals
	}
	out := vals[:1]
	for _, v := range vals[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// canonicalizeConditions lowercases (already guaranteed by algebra.ConditionMap)
// and sorts operators, keys, and values for a deterministic fingerprint and
// a stable emitted Condition block.
func canonicalizeConditions(c algebra.ConditionMap) map[string]map[string][]string {
	out := make(map[string]map[string][]string, len(c))
	for op, keys := range c {
		nk := make(map[string][]string, len(keys))
		for k, v := range keys {
			sorted := append([]string(nil), v...)
			sort.Strings(sorted)
			nk[k] = sorted
		}
		out[op] = nk
	}
	return out
}

// fingerprint computes the canonical grouping key for a Permission atom:
// its resource shape, sorted resource/notResource list, and canonicalized
// condition block. encoding/json sorts map keys when marshaling, so this
// is deterministic across runs.
func fingerprint(p *algebra.Permission) string {
	type key struct {
		Shape      string                         `json:"shape"`
		Resources  []string                       `json:"resources"`
		Conditions map[string]map[string][]string `json:"conditions"`
	}
	k := key{Conditions: canonicalizeConditions(p.Conditions())}
	if p.IsResourceShaped() {
		k.Shape = "resource"
		k.Resources = sortedRaw(p.ResourcePatterns())
	} else {
		k.Shape = "notResource"
		k.Resources = sortedRaw(p.NotResourcePatterns())
	}
	b, err := json.Marshal(k)
	if err != nil {
		// json.Marshal on this shape cannot fail; this only guards
		// against a future field that isn't marshalable.
		return k.Shape
	}
	return string(b)
}

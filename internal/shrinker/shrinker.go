// Package shrinker compacts an emitted policy document for display: it
// never changes which requests the document allows or denies, only how
// compactly that is expressed.
package shrinker

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/0xKirisame/canwhat/internal/actioncatalog"
	"github.com/0xKirisame/canwhat/internal/emitter"
)

// Shrinker collapses action lists that cover a whole cataloged service
// into "service:*", then re-coalesces statements that become identical
// except for resource scope.
type Shrinker struct {
	catalog *actioncatalog.Catalog
}

// New returns a Shrinker backed by catalog.
func New(catalog *actioncatalog.Catalog) *Shrinker {
	return &Shrinker{catalog: catalog}
}

// ShrinkOptions tunes the compaction loop.
type ShrinkOptions struct {
	// Iterations bounds the collapse/re-coalesce fixed-point loop.
	// Most documents converge in one pass; a second pass only matters
	// when collapsing one statement's actions makes it identical to
	// another statement that shares its resource/condition fingerprint.
	Iterations int
}

// Shrink returns a new document with action lists collapsed to
// "service:*" wherever a statement's action set fully covers a cataloged
// service, re-running the collapse/re-coalesce pass up to
// opts.Iterations times.
func (s *Shrinker) Shrink(opts ShrinkOptions, doc *emitter.PolicyDocument) *emitter.PolicyDocument {
	if opts.Iterations <= 0 {
		opts.Iterations = 1
	}
	statements := append([]emitter.Statement(nil), doc.Statement...)

	for i := 0; i < opts.Iterations; i++ {
		collapsed := make([]emitter.Statement, len(statements))
		for j, stmt := range statements {
			collapsed[j] = s.collapseActions(stmt)
		}
		recoalesced := recoalesceByActionSet(collapsed)
		if statementsEqual(recoalesced, statements) {
			statements = recoalesced
			break
		}
		statements = recoalesced
	}

	return &emitter.PolicyDocument{Version: doc.Version, Statement: statements}
}

// collapseActions replaces a statement's action list, service by service,
// with "service:*" wherever every cataloged action for that service is
// present.
func (s *Shrinker) collapseActions(stmt emitter.Statement) emitter.Statement {
	actions := actionsOf(stmt.Action)
	byService := make(map[string][]string)
	var serviceOrder []string
	for _, a := range actions {
		service, act, ok := strings.Cut(strings.ToLower(a), ":")
		if !ok {
			service, act = "", a
		}
		if _, seen := byService[service]; !seen {
			serviceOrder = append(serviceOrder, service)
		}
		byService[service] = append(byService[service], act)
	}

	var out []string
	for _, service := range serviceOrder {
		have := byService[service]
		if s.coversWholeService(service, have) {
			out = append(out, service+":*")
			continue
		}
		for _, act := range have {
			if service == "" {
				out = append(out, act)
			} else {
				out = append(out, service+":"+act)
			}
		}
	}
	sort.Strings(out)

	result := stmt
	result.Action = stringOrSlice(dedupStrings(out))
	return result
}

func (s *Shrinker) coversWholeService(service string, have []string) bool {
	full, err := s.catalog.Expand([]string{service + ":*"}, actioncatalog.ExpandOptions{})
	if err != nil || len(full) == 0 {
		return false
	}
	fullSet := make(map[string]struct{}, len(full))
	for _, a := range full {
		_, act, _ := strings.Cut(strings.ToLower(a), ":")
		fullSet[act] = struct{}{}
	}
	if len(have) < len(fullSet) {
		return false
	}
	haveSet := make(map[string]struct{}, len(have))
	for _, a := range have {
		haveSet[a] = struct{}{}
	}
	for act := range fullSet {
		if _, ok := haveSet[act]; !ok {
			return false
		}
	}
	return true
}

// recoalesceByActionSet merges statements that share an effect, an action
// set, and a condition block but differ only in resource scope — resource
// lists are deduplicated-unioned and notResource lists intersected,
// mirroring Permission.Union's both-resource and both-notResource rules.
func recoalesceByActionSet(statements []emitter.Statement) []emitter.Statement {
	type groupKey string
	groups := make(map[groupKey]*emitter.Statement)
	var order []groupKey

	for _, stmt := range statements {
		s := stmt
		key := groupKey(fingerprintStatement(s))
		existing, ok := groups[key]
		if !ok {
			cp := s
			groups[key] = &cp
			order = append(order, key)
			continue
		}
		if existing.Resource != nil && s.Resource != nil {
			merged := dedupStrings(sortedUnion(actionsOf(existing.Resource), actionsOf(s.Resource)))
			existing.Resource = stringOrSlice(merged)
		} else if existing.NotResource != nil && s.NotResource != nil {
			merged := intersectStrings(actionsOf(existing.NotResource), actionsOf(s.NotResource))
			existing.NotResource = stringOrSlice(merged)
		}
	}

	out := make([]emitter.Statement, 0, len(order))
	for _, key := range order {
		out = append(out, *groups[key])
	}
	return out
}

// fingerprintStatement groups by everything except resource scope, so
// that only the resource lists get unioned above.
func fingerprintStatement(s emitter.Statement) string {
	type key struct {
		Effect    string                         `json:"effect"`
		Action    interface{}                    `json:"action"`
		Shape     string                         `json:"shape"`
		Condition map[string]map[string][]string `json:"condition"`
	}
	k := key{Effect: s.Effect, Condition: s.Condition}
	actions := actionsOf(s.Action)
	sort.Strings(actions)
	k.Action = actions
	if s.Resource != nil {
		k.Shape = "resource"
	} else {
		k.Shape = "notResource"
	}
	b, _ := json.Marshal(k)
	return string(b)
}

func actionsOf(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []interface{}:
		out := make([]string, len(t))
		for i, e := range t {
			out[i], _ = e.(string)
		}
		return out
	default:
		return nil
	}
}

func stringOrSlice(vals []string) interface{} {
	if len(vals) == 1 {
		return vals[0]
	}
	return vals
}

func dedupStrings(vals []string) []string {
	seen := make(map[string]struct{}, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func sortedUnion(a, b []string) []string {
	out := dedupStrings(append(append([]string(nil), a...), b...))
	sort.Strings(out)
	return out
}

func intersectStrings(a, b []string) []string {
	bSet := make(map[string]struct{}, len(b))
	for _, v := range b {
		bSet[v] = struct{}{}
	}
	var out []string
	for _, v := range a {
		if _, ok := bSet[v]; ok {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return dedupStrings(out)
}

func statementsEqual(a, b []emitter.Statement) bool {
	if len(a) != len(b) {
		return false
	}
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

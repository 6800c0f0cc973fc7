package algebra

import "sort"

// Effect is the polarity of a Permission atom.
type Effect int

const (
	Allow Effect = iota
	Deny
)

func (e Effect) String() string {
	if e == Allow {
		return "Allow"
	}
	return "Deny"
}

// Permission is an immutable atom of the algebra: one statement's worth of
// access to a single (service, action) pair, scoped by resource patterns
// and gated by a condition block. Exactly one of Resource/NotResource is
// populated, never both, never neither.
type Permission struct {
	effect      Effect
	service     string
	action      string
	resource    []*WildcardPattern
	notResource []*WildcardPattern
	conditions  ConditionMap
}

// NewPermission constructs a Permission atom. Exactly one of resource or
// notResource must be non-empty; violating this is a construction bug in
// the caller and returns a ConstructionViolationError.
func NewPermission(effect Effect, service, action string, resource, notResource []string, conditions ConditionMap) (*Permission, error) {
	hasResource := len(resource) > 0
	hasNotResource := len(notResource) > 0
	if hasResource == hasNotResource {
		return nil, &ConstructionViolationError{Reason: "exactly one of resource or notResource must be present"}
	}
	p := &Permission{
		effect:     effect,
		service:    service,
		action:     action,
		conditions: conditions,
	}
	if hasResource {
		p.resource = compileAll(resource)
	} else {
		p.notResource = compileAll(notResource)
	}
	return p, nil
}

func compileAll(patterns []string) []*WildcardPattern {
	out := make([]*WildcardPattern, len(patterns))
	for i, p := range patterns {
		out[i] = CompilePattern(p)
	}
	return out
}

func (p *Permission) Effect() Effect        { return p.effect }
func (p *Permission) Service() string       { return p.service }
func (p *Permission) Action() string        { return p.action }
func (p *Permission) Conditions() ConditionMap { return p.conditions }

func (p *Permission) IsResourceShaped() bool    { return p.resource != nil }
func (p *Permission) IsNotResourceShaped() bool { return p.notResource != nil }

func (p *Permission) ResourcePatterns() []*WildcardPattern    { return p.resource }
func (p *Permission) NotResourcePatterns() []*WildcardPattern { return p.notResource }

func rawPatterns(patterns []*WildcardPattern) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = p.Raw()
	}
	return out
}

// Includes reports whether every concrete request allowed by other is also
// allowed by p (spec §4.3).
func (p *Permission) Includes(other *Permission) bool {
	if p.effect != other.effect || p.service != other.service || p.action != other.action {
		return false
	}
	if !ConditionsInclude(p.conditions, other.conditions) {
		return false
	}
	switch {
	case p.IsResourceShaped() && other.IsResourceShaped():
		for _, op := range other.resource {
			if !matchedBySome(p.resource, op) {
				return false
			}
		}
		return true
	case p.IsNotResourceShaped() && other.IsNotResourceShaped():
		for _, tp := range p.notResource {
			if !someMatches(tp, other.notResource) {
				return false
			}
		}
		return true
	case p.IsResourceShaped() && other.IsNotResourceShaped():
		for _, excluded := range other.notResource {
			if !matchedBySome(p.resource, excluded) {
				return false
			}
		}
		return true
	default: // p notResource, other resource
		for _, included := range other.resource {
			if matchedBySome(p.notResource, included) {
				return false
			}
		}
		return true
	}
}

// matchedBySome reports whether candidate is subsumed by some pattern in
// patterns — i.e. some pattern in patterns includes candidate.
func matchedBySome(patterns []*WildcardPattern, candidate *WildcardPattern) bool {
	for _, p := range patterns {
		if PatternIncludes(p, candidate) {
			return true
		}
	}
	return false
}

// someMatches reports whether pattern includes (matches the literal text
// of) some pattern in others — used for notResource/notResource where
// p's exclusion must match some of other's exclusions.
func someMatches(pattern *WildcardPattern, others []*WildcardPattern) bool {
	for _, o := range others {
		if PatternIncludes(pattern, o) {
			return true
		}
	}
	return false
}

// Union returns 1 or 2 atoms representing the combination of p and other
// (spec §4.3).
func (p *Permission) Union(other *Permission) []*Permission {
	if p.effect != other.effect || p.service != other.service || p.action != other.action {
		return []*Permission{p, other}
	}
	if p.Includes(other) {
		return []*Permission{p}
	}
	if other.Includes(p) {
		return []*Permission{other}
	}
	mergedConds, ok := MergeConditions(p.conditions, other.conditions)
	if !ok {
		return []*Permission{p, other}
	}
	switch {
	case p.IsResourceShaped() && other.IsResourceShaped():
		combined := dedupPatterns(append(append([]*WildcardPattern(nil), p.resource...), other.resource...))
		return []*Permission{{
			effect:     p.effect,
			service:    p.service,
			action:     p.action,
			resource:   combined,
			conditions: mergedConds,
		}}
	case p.IsNotResourceShaped() && other.IsNotResourceShaped():
		inter := intersectPatterns(p.notResource, other.notResource)
		return []*Permission{{
			effect:      p.effect,
			service:     p.service,
			action:      p.action,
			notResource: inter,
			conditions:  mergedConds,
		}}
	default:
		pCopy := *p
		pCopy.conditions = mergedConds
		oCopy := *other
		oCopy.conditions = mergedConds
		return []*Permission{&pCopy, &oCopy}
	}
}

// Intersection returns the atom representing requests both p and other
// allow, or nil if there is none (spec §4.3).
func (p *Permission) Intersection(other *Permission) *Permission {
	if p.effect != other.effect || p.service != other.service || p.action != other.action {
		return nil
	}
	if p.IsResourceShaped() && other.IsResourceShaped() {
		if p.Includes(other) {
			return other
		}
		if other.Includes(p) {
			return p
		}
	}
	mergedConds, ok := IntersectConditions(p.conditions, other.conditions)
	if !ok {
		return nil
	}
	switch {
	case p.IsResourceShaped() && other.IsResourceShaped():
		var kept []*WildcardPattern
		for _, pp := range p.resource {
			if someMatches(pp, other.resource) || matchedBySome(other.resource, pp) {
				kept = append(kept, pp)
			}
		}
		for _, op := range other.resource {
			if someMatches(op, p.resource) || matchedBySome(p.resource, op) {
				kept = append(kept, op)
			}
		}
		kept = dedupPatterns(kept)
		if len(kept) == 0 {
			return nil
		}
		return &Permission{effect: p.effect, service: p.service, action: p.action, resource: kept, conditions: mergedConds}
	case p.IsNotResourceShaped() && other.IsNotResourceShaped():
		union := dedupPatterns(append(append([]*WildcardPattern(nil), p.notResource...), other.notResource...))
		pruned := dropSubsumedSiblings(union)
		return &Permission{effect: p.effect, service: p.service, action: p.action, notResource: pruned, conditions: mergedConds}
	default:
		var resourceSide, notResourceSide []*WildcardPattern
		if p.IsResourceShaped() {
			resourceSide, notResourceSide = p.resource, other.notResource
		} else {
			resourceSide, notResourceSide = other.resource, p.notResource
		}
		var kept []*WildcardPattern
		for _, rp := range resourceSide {
			if !matchedBySome(notResourceSide, rp) {
				kept = append(kept, rp)
			}
		}
		if len(kept) == 0 {
			return nil
		}
		return &Permission{effect: p.effect, service: p.service, action: p.action, resource: kept, conditions: mergedConds}
	}
}

// dropSubsumedSiblings removes any pattern in patterns that is subsumed by
// a strictly more general other pattern in the same list.
func dropSubsumedSiblings(patterns []*WildcardPattern) []*WildcardPattern {
	var kept []*WildcardPattern
	for i, p := range patterns {
		subsumed := false
		for j, q := range patterns {
			if i == j || p.Raw() == q.Raw() {
				continue
			}
			if PatternIncludes(q, p) {
				subsumed = true
				break
			}
		}
		if !subsumed {
			kept = append(kept, p)
		}
	}
	return kept
}

// Subtract carves deny out of p (spec §4.3). Only defined when p.effect is
// Allow and deny.effect is Deny with matching service/action; otherwise
// returns []*Permission{p} unchanged.
func (p *Permission) Subtract(deny *Permission) []*Permission {
	if p.effect != Allow || deny.effect != Deny || p.service != deny.service || p.action != deny.action {
		return []*Permission{p}
	}

	identicalConds := ConditionsEqual(p.conditions, deny.conditions)
	if identicalConds {
		switch {
		case p.IsResourceShaped() && deny.IsResourceShaped():
			if allCoveredBy(p.resource, deny.resource) {
				return nil
			}
		case p.IsNotResourceShaped() && deny.IsNotResourceShaped():
			if isSubsetPatterns(p.notResource, deny.notResource) {
				return nil
			}
		}
	}

	merged, err := SynthesizeSubtractConditions(p.conditions, deny.conditions)
	if err != nil {
		// An uninvertible deny cannot be safely carved out: treat the
		// allow as fully denied rather than emit an incorrect carve-out.
		return nil
	}

	denyHasConditions := len(deny.conditions) > 0

	switch {
	case p.IsResourceShaped() && deny.IsResourceShaped():
		if !denyHasConditions {
			var residue []*WildcardPattern
			for _, ap := range p.resource {
				if !matchedBySome(deny.resource, ap) {
					residue = append(residue, ap)
				}
			}
			if len(residue) == len(p.resource) && allCoveredBy(deny.resource, p.resource) {
				return []*Permission{p, deny}
			}
			if len(residue) == 0 {
				return nil
			}
			return []*Permission{{effect: Allow, service: p.service, action: p.action, resource: residue, conditions: CloneConditions(p.conditions)}}
		}
		return []*Permission{{effect: Allow, service: p.service, action: p.action, resource: append([]*WildcardPattern(nil), p.resource...), conditions: merged}}

	case p.IsResourceShaped() && deny.IsNotResourceShaped():
		if !denyHasConditions {
			var residue []*WildcardPattern
			for _, ap := range p.resource {
				if matchedBySome(deny.notResource, ap) {
					residue = append(residue, ap)
				}
			}
			if len(residue) == 0 {
				return nil
			}
			return []*Permission{{effect: Allow, service: p.service, action: p.action, resource: residue, conditions: CloneConditions(p.conditions)}}
		}
		return []*Permission{{effect: Allow, service: p.service, action: p.action, resource: append([]*WildcardPattern(nil), p.resource...), conditions: merged}}

	case p.IsNotResourceShaped() && deny.IsResourceShaped():
		if !denyHasConditions {
			if allCoveredBy(deny.resource, p.notResource) {
				return []*Permission{p}
			}
			union := dedupPatterns(append(append([]*WildcardPattern(nil), p.notResource...), deny.resource...))
			return []*Permission{{effect: Allow, service: p.service, action: p.action, notResource: union, conditions: CloneConditions(p.conditions)}}
		}
		return []*Permission{{effect: Allow, service: p.service, action: p.action, notResource: append([]*WildcardPattern(nil), p.notResource...), conditions: merged}}

	default: // notResource / notResource
		if !denyHasConditions {
			var residue []*WildcardPattern
			for _, np := range p.notResource {
				if !matchedBySome(deny.notResource, np) {
					residue = append(residue, np)
				}
			}
			return []*Permission{{effect: Allow, service: p.service, action: p.action, notResource: residue, conditions: CloneConditions(p.conditions)}}
		}
		return []*Permission{{effect: Allow, service: p.service, action: p.action, notResource: append([]*WildcardPattern(nil), p.notResource...), conditions: merged}}
	}
}

func allCoveredBy(target, coverers []*WildcardPattern) bool {
	for _, t := range target {
		if !matchedBySome(coverers, t) {
			return false
		}
	}
	return true
}

func isSubsetPatterns(sub, super []*WildcardPattern) bool {
	set := make(map[string]struct{}, len(super))
	for _, p := range super {
		set[p.Raw()] = struct{}{}
	}
	for _, p := range sub {
		if _, ok := set[p.Raw()]; !ok {
			return false
		}
	}
	return true
}

func dedupPatterns(patterns []*WildcardPattern) []*WildcardPattern {
	seen := make(map[string]struct{}, len(patterns))
	out := make([]*WildcardPattern, 0, len(patterns))
	for _, p := range patterns {
		if _, ok := seen[p.Raw()]; ok {
			continue
		}
		seen[p.Raw()] = struct{}{}
		out = append(out, p)
	}
	return out
}

func intersectPatterns(a, b []*WildcardPattern) []*WildcardPattern {
	bSet := make(map[string]struct{}, len(b))
	for _, p := range b {
		bSet[p.Raw()] = struct{}{}
	}
	var out []*WildcardPattern
	seen := make(map[string]struct{}, len(a))
	for _, p := range a {
		if _, ok := bSet[p.Raw()]; ok {
			if _, dup := seen[p.Raw()]; !dup {
				seen[p.Raw()] = struct{}{}
				out = append(out, p)
			}
		}
	}
	return out
}

// sortedRawPatterns returns the raw pattern strings sorted, for use in
// canonical fingerprints.
func sortedRawPatterns(patterns []*WildcardPattern) []string {
	raw := rawPatterns(patterns)
	sort.Strings(raw)
	return raw
}

package algebra

// PermissionSet indexes Permission atoms by service -> action -> ordered
// atom list, all sharing one effect. addPermission maintains the
// invariant that no two atoms in a bucket are comparable under Includes.
type PermissionSet struct {
	effect Effect
	data   map[string]map[string][]*Permission
}

// NewPermissionSet returns an empty set for the given effect.
func NewPermissionSet(effect Effect) *PermissionSet {
	return &PermissionSet{effect: effect, data: make(map[string]map[string][]*Permission)}
}

func (s *PermissionSet) Effect() Effect { return s.effect }

// IsEmpty reports whether the set holds no atoms.
func (s *PermissionSet) IsEmpty() bool {
	for _, actions := range s.data {
		for _, atoms := range actions {
			if len(atoms) > 0 {
				return false
			}
		}
	}
	return true
}

// Walk calls fn once per atom in the set, in service/action/insertion
// order as stored (order across services/actions is not semantic).
func (s *PermissionSet) Walk(fn func(service, action string, p *Permission)) {
	for service, actions := range s.data {
		for action, atoms := range actions {
			for _, p := range atoms {
				fn(service, action, p)
			}
		}
	}
}

func permissionEqual(a, b *Permission) bool {
	if a.effect != b.effect || a.service != b.service || a.action != b.action {
		return false
	}
	if a.IsResourceShaped() != b.IsResourceShaped() {
		return false
	}
	if a.IsResourceShaped() {
		if !sameSet(rawPatterns(a.resource), rawPatterns(b.resource)) {
			return false
		}
	} else {
		if !sameSet(rawPatterns(a.notResource), rawPatterns(b.notResource)) {
			return false
		}
	}
	return ConditionsEqual(a.conditions, b.conditions)
}

// AddPermission inserts p into the set, re-coalescing its bucket so that
// no two atoms remain comparable under Includes (spec §4.4).
func (s *PermissionSet) AddPermission(p *Permission) error {
	if p.effect != s.effect {
		return &ConstructionViolationError{Reason: "permission effect does not match set effect"}
	}
	if s.data[p.service] == nil {
		s.data[p.service] = make(map[string][]*Permission)
	}
	existing := s.data[p.service][p.action]

	newBucket := make([]*Permission, 0, len(existing)+1)
	merged := false
	for _, e := range existing {
		u := e.Union(p)
		if len(u) == 2 {
			newBucket = append(newBucket, e)
			continue
		}
		switch {
		case permissionEqual(u[0], e):
			// p contributes nothing new: abort, leaving the bucket
			// exactly as it was before this call.
			return nil
		case permissionEqual(u[0], p):
			// e is subsumed by p: drop e, keep scanning the rest of the
			// bucket against the original p.
			continue
		default:
			newBucket = append(newBucket, u[0])
			merged = true
		}
	}
	if !merged {
		newBucket = append(newBucket, p)
	}
	s.data[p.service][p.action] = newBucket
	return nil
}

// Intersection narrows s by other: both must share an effect. Result holds
// the pairwise Permission.Intersection of every atom pair sharing a
// (service, action), re-coalesced via AddPermission.
func (s *PermissionSet) Intersection(other *PermissionSet) (*PermissionSet, error) {
	if s.effect != other.effect {
		return nil, &ConstructionViolationError{Reason: "cannot intersect permission sets of differing effect"}
	}
	result := NewPermissionSet(s.effect)
	for service, actions := range s.data {
		otherActions, ok := other.data[service]
		if !ok {
			continue
		}
		for action, atoms := range actions {
			otherAtoms, ok := otherActions[action]
			if !ok {
				continue
			}
			for _, a := range atoms {
				for _, b := range otherAtoms {
					inter := a.Intersection(b)
					if inter == nil {
						continue
					}
					if err := result.AddPermission(inter); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return result, nil
}

// Subtract carves deny out of an Allow set (spec §4.4). It returns the
// residual allow set and a deny set collecting the Deny atoms that
// Permission.Subtract passes through (a narrower unconditional deny that
// removes no allow pattern), which must be emitted as explicit Deny
// statements.
func (s *PermissionSet) Subtract(deny *PermissionSet) (*PermissionSet, *PermissionSet, error) {
	if s.effect != Allow || deny.effect != Deny {
		return nil, nil, &ConstructionViolationError{Reason: "subtract requires an Allow set and a Deny set"}
	}
	allowOut := NewPermissionSet(Allow)
	denyOut := NewPermissionSet(Deny)

	for service, actions := range s.data {
		denyActions, hasDenyService := deny.data[service]
		for action, atoms := range actions {
			var denyAtoms []*Permission
			if hasDenyService {
				denyAtoms = denyActions[action]
			}
			if len(denyAtoms) == 0 {
				for _, a := range atoms {
					if err := allowOut.AddPermission(a); err != nil {
						return nil, nil, err
					}
				}
				continue
			}
			current := append([]*Permission(nil), atoms...)
			for _, d := range denyAtoms {
				var next []*Permission
				for _, a := range current {
					for _, r := range a.Subtract(d) {
						if r.Effect() == Allow {
							next = append(next, r)
						} else if err := denyOut.AddPermission(r); err != nil {
							return nil, nil, err
						}
					}
				}
				current = next
			}
			for _, a := range current {
				if err := allowOut.AddPermission(a); err != nil {
					return nil, nil, err
				}
			}
		}
	}
	return allowOut, denyOut, nil
}

// AddAll merges every atom of each of others into s, re-coalescing as it
// goes. All sets must share s's effect.
func (s *PermissionSet) AddAll(others ...*PermissionSet) error {
	for _, o := range others {
		if o == nil {
			continue
		}
		if o.effect != s.effect {
			return &ConstructionViolationError{Reason: "cannot combine permission sets of differing effect"}
		}
		for _, actions := range o.data {
			for _, atoms := range actions {
				for _, a := range atoms {
					if err := s.AddPermission(a); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// Clone deep-copies the bucket structure; the atoms themselves are
// immutable and shared.
func (s *PermissionSet) Clone() *PermissionSet {
	out := NewPermissionSet(s.effect)
	for service, actions := range s.data {
		na := make(map[string][]*Permission, len(actions))
		for action, atoms := range actions {
			na[action] = append([]*Permission(nil), atoms...)
		}
		out.data[service] = na
	}
	return out
}

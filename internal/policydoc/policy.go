// Package policydoc parses IAM-shaped policy documents off the wire into
// a typed, read-only view. It deliberately does no validation beyond JSON
// shape — statements that are semantically malformed (both or neither of
// Action/NotAction, both or neither of Resource/NotResource) are surfaced
// as-is; skipping them is the ingest layer's job, not the parser's.
package policydoc

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Policy is a parsed IAM policy document.
type Policy struct {
	raw rawDocument
}

type rawDocument struct {
	Version   string        `json:"Version"`
	Statement []rawStatement `json:"Statement"`
}

type rawStatement struct {
	Sid         string                         `json:"Sid,omitempty"`
	Effect      string                         `json:"Effect"`
	Action      stringOrSlice                  `json:"Action,omitempty"`
	NotAction   stringOrSlice                  `json:"NotAction,omitempty"`
	Resource    stringOrSlice                  `json:"Resource,omitempty"`
	NotResource stringOrSlice                  `json:"NotResource,omitempty"`
	Condition   map[string]map[string]stringOrSlice `json:"Condition,omitempty"`
}

// stringOrSlice unmarshals an IAM field that may appear as either a bare
// string or an array of strings.
type stringOrSlice []string

func (s *stringOrSlice) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*s = arr
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("value must be a string or array of strings: %w", err)
	}
	*s = stringOrSlice{single}
	return nil
}

// LoadPolicy parses raw into a Policy. raw may be percent-encoded (as
// returned by IAM's GetPolicyVersion) or plain JSON.
func LoadPolicy(raw string) (*Policy, error) {
	decoded := raw
	if d, err := url.QueryUnescape(raw); err == nil {
		decoded = d
	}
	var doc rawDocument
	if err := json.Unmarshal([]byte(decoded), &doc); err != nil {
		return nil, fmt.Errorf("parsing policy JSON: %w", err)
	}
	return &Policy{raw: doc}, nil
}

// Version returns the policy document's Version field.
func (p *Policy) Version() string { return p.raw.Version }

// Statements returns every statement in the document.
func (p *Policy) Statements() []Statement {
	out := make([]Statement, len(p.raw.Statement))
	for i, s := range p.raw.Statement {
		out[i] = Statement{raw: s}
	}
	return out
}

// Statement is one Allow/Deny entry in a policy document.
type Statement struct {
	raw rawStatement
}

// Sid returns the statement's identifier, if any.
func (s Statement) Sid() string { return s.raw.Sid }

// IsAllow reports whether the statement's effect is "Allow".
func (s Statement) IsAllow() bool { return strings.EqualFold(s.raw.Effect, "Allow") }

// IsDeny reports whether the statement's effect is "Deny".
func (s Statement) IsDeny() bool { return strings.EqualFold(s.raw.Effect, "Deny") }

// EffectString returns the raw effect string, unmodified.
func (s Statement) EffectString() string { return s.raw.Effect }

// IsActionStatement reports whether the statement uses the Action field.
func (s Statement) IsActionStatement() bool { return len(s.raw.Action) > 0 }

// IsNotActionStatement reports whether the statement uses the NotAction field.
func (s Statement) IsNotActionStatement() bool { return len(s.raw.NotAction) > 0 }

// Actions returns the statement's Action list.
func (s Statement) Actions() []string { return []string(s.raw.Action) }

// NotActions returns the statement's NotAction list.
func (s Statement) NotActions() []string { return []string(s.raw.NotAction) }

// IsResourceStatement reports whether the statement uses the Resource field.
func (s Statement) IsResourceStatement() bool { return len(s.raw.Resource) > 0 }

// IsNotResourceStatement reports whether the statement uses the NotResource field.
func (s Statement) IsNotResourceStatement() bool { return len(s.raw.NotResource) > 0 }

// Resources returns the statement's Resource list.
func (s Statement) Resources() []string { return []string(s.raw.Resource) }

// NotResources returns the statement's NotResource list.
func (s Statement) NotResources() []string { return []string(s.raw.NotResource) }

// ConditionMap returns the statement's condition block as a
// map[operator]map[key][]string, suitable for algebra.NormalizeConditions.
func (s Statement) ConditionMap() map[string]map[string][]string {
	if len(s.raw.Condition) == 0 {
		return nil
	}
	out := make(map[string]map[string][]string, len(s.raw.Condition))
	for op, keys := range s.raw.Condition {
		nk := make(map[string][]string, len(keys))
		for k, v := range keys {
			nk[k] = []string(v)
		}
		out[op] = nk
	}
	return out
}

// IsWellFormed reports whether the statement has exactly one of
// Action/NotAction and exactly one of Resource/NotResource — the shape
// PolicyIngest requires before an atom can be built from it.
func (s Statement) IsWellFormed() bool {
	hasAction := s.IsActionStatement()
	hasNotAction := s.IsNotActionStatement()
	hasResource := s.IsResourceStatement()
	hasNotResource := s.IsNotResourceStatement()
	return (hasAction != hasNotAction) && (hasResource != hasNotResource)
}

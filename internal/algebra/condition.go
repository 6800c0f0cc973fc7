package algebra

import (
	"sort"
	"strconv"
	"strings"
)

// ConditionMap is a normalized condition block: operator -> context key ->
// ordered, deduplicated list of string values. Operators and keys are
// always lowercase within a ConditionMap; an empty or nil ConditionMap
// means "no condition".
type ConditionMap map[string]map[string][]string

// opParts is an operator decomposed into its three normalized components,
// per the spec's normalization rule: optional set-operator prefix,
// base operator, optional ifExists suffix.
type opParts struct {
	setPrefix string // "", "forallvalues", "foranyvalue"
	base      string
	ifExists  bool
}

func parseOperator(op string) opParts {
	op = strings.ToLower(op)
	var p opParts
	switch {
	case strings.HasPrefix(op, "forallvalues:"):
		p.setPrefix = "forallvalues"
		op = strings.TrimPrefix(op, "forallvalues:")
	case strings.HasPrefix(op, "foranyvalue:"):
		p.setPrefix = "foranyvalue"
		op = strings.TrimPrefix(op, "foranyvalue:")
	}
	if strings.HasSuffix(op, "ifexists") {
		p.ifExists = true
		op = strings.TrimSuffix(op, "ifexists")
	}
	p.base = op
	return p
}

func (p opParts) String() string {
	s := p.base
	if p.ifExists {
		s += "ifexists"
	}
	if p.setPrefix != "" {
		s = p.setPrefix + ":" + s
	}
	return s
}

func flipSetPrefix(prefix string) string {
	switch prefix {
	case "forallvalues":
		return "foranyvalue"
	case "foranyvalue":
		return "forallvalues"
	default:
		return prefix
	}
}

// NormalizeConditions lowercases every operator and key and deduplicates
// each value list, preserving first-seen order.
func NormalizeConditions(raw map[string]map[string][]string) ConditionMap {
	if len(raw) == 0 {
		return nil
	}
	out := make(ConditionMap, len(raw))
	for op, keys := range raw {
		normOp := strings.ToLower(op)
		normKeys := make(map[string][]string, len(keys))
		for key, vals := range keys {
			normKeys[strings.ToLower(key)] = dedupPreserveOrder(vals)
		}
		out[normOp] = normKeys
	}
	return out
}

func dedupPreserveOrder(vals []string) []string {
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

// CloneConditions deep-copies a ConditionMap.
func CloneConditions(c ConditionMap) ConditionMap {
	if c == nil {
		return nil
	}
	out := make(ConditionMap, len(c))
	for op, keys := range c {
		nk := make(map[string][]string, len(keys))
		for k, v := range keys {
			nk[k] = append([]string(nil), v...)
		}
		out[op] = nk
	}
	return out
}

// ConditionsEqual reports whether two ConditionMaps are semantically
// identical: same operators, same keys per operator, same value sets per
// key (order-insensitive).
func ConditionsEqual(a, b ConditionMap) bool {
	if len(a) != len(b) {
		return false
	}
	for op, aKeys := range a {
		bKeys, ok := b[op]
		if !ok || len(aKeys) != len(bKeys) {
			return false
		}
		for key, aVals := range aKeys {
			bVals, ok := bKeys[key]
			if !ok || !sameSet(aVals, bVals) {
				return false
			}
		}
	}
	return true
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// --- Inclusion (spec §4.2 "does A imply B?") ---

// ConditionsInclude reports whether condition set a is no more
// restrictive than condition set b — every request satisfying b also
// satisfies a. Used by Permission.includes.
func ConditionsInclude(a, b ConditionMap) bool {
	for op, aKeys := range a {
		bKeys, ok := b[op]
		if !ok {
			return false
		}
		for key, aVals := range aKeys {
			bVals, ok := bKeys[key]
			if !ok {
				return false
			}
			if !inclusionRule(op, aVals, bVals) {
				return false
			}
		}
	}
	return true
}

func inclusionRule(fullOp string, aVals, bVals []string) bool {
	base := parseOperator(fullOp).base
	switch base {
	case "stringequals", "stringlike", "arnequals", "arnlike":
		return isSubset(bVals, aVals)
	case "stringnotequals", "stringnotlike", "arnnotequals", "arnnotlike":
		return isSubset(aVals, bVals)
	case "numericlessthan", "numericlessthanequals":
		av, aok := maxFloat(aVals)
		bv, bok := maxFloat(bVals)
		return aok && bok && bv <= av
	case "numericgreaterthan", "numericgreaterthanequals":
		av, aok := minFloat(aVals)
		bv, bok := minFloat(bVals)
		return aok && bok && bv >= av
	case "bool":
		return len(aVals) > 0 && len(bVals) > 0 && aVals[0] == bVals[0]
	case "ipaddress", "notipaddress":
		return isSubset(bVals, aVals)
	case "datelessthan", "datelessthanequals":
		av, aok := maxLex(aVals)
		bv, bok := maxLex(bVals)
		return aok && bok && bv <= av
	case "dategreaterthan", "dategreaterthanequals":
		av, aok := minLex(aVals)
		bv, bok := minLex(bVals)
		return aok && bok && bv >= av
	default:
		return false
	}
}

// --- Merge (single-block union, spec §4.2) ---

// MergeConditions combines two condition sets into one, for the case where
// two Allow atoms are being unioned into a single statement. It succeeds
// only when both sides share the same operator set and the same
// context-key set per operator.
func MergeConditions(a, b ConditionMap) (ConditionMap, bool) {
	if len(a) != len(b) {
		return nil, false
	}
	result := make(ConditionMap, len(a))
	for op, aKeys := range a {
		bKeys, ok := b[op]
		if !ok || len(aKeys) != len(bKeys) {
			return nil, false
		}
		mergedKeys := make(map[string][]string, len(aKeys))
		for key, aVals := range aKeys {
			bVals, ok := bKeys[key]
			if !ok {
				return nil, false
			}
			merged, ok := mergeRule(op, aVals, bVals)
			if !ok {
				return nil, false
			}
			mergedKeys[key] = merged
		}
		result[op] = mergedKeys
	}
	return result, true
}

func mergeRule(fullOp string, aVals, bVals []string) ([]string, bool) {
	base := parseOperator(fullOp).base
	switch base {
	case "stringequals", "stringnotequals", "stringlike", "stringnotlike",
		"arnequals", "arnnotequals", "arnlike", "arnnotlike":
		return union(aVals, bVals), true
	case "numericlessthan", "numericlessthanequals":
		return widestNumeric(aVals, bVals, true)
	case "numericgreaterthan", "numericgreaterthanequals":
		return widestNumeric(aVals, bVals, false)
	case "numericequals", "numericnotequals":
		return union(aVals, bVals), true
	case "datelessthan", "datelessthanequals":
		return widestLex(aVals, bVals, true)
	case "dategreaterthan", "dategreaterthanequals":
		return widestLex(aVals, bVals, false)
	case "bool":
		if len(aVals) > 0 && len(bVals) > 0 && aVals[0] == bVals[0] {
			return []string{aVals[0]}, true
		}
		return nil, false
	case "ipaddress", "notipaddress":
		return union(aVals, bVals), true
	default:
		return nil, false
	}
}

// widestNumeric picks the largest boundary when wantLargest is true
// (widening a less-than bound), else the smallest (widening a
// greater-than bound).
func widestNumeric(a, b []string, wantLargest bool) ([]string, bool) {
	av, aok := singleFloat(a)
	bv, bok := singleFloat(b)
	if !aok || !bok {
		return nil, false
	}
	if wantLargest {
		if av >= bv {
			return a, true
		}
		return b, true
	}
	if av <= bv {
		return a, true
	}
	return b, true
}

func widestLex(a, b []string, wantLatest bool) ([]string, bool) {
	if len(a) == 0 || len(b) == 0 {
		return nil, false
	}
	av, bv := a[0], b[0]
	if wantLatest {
		if av >= bv {
			return a, true
		}
		return b, true
	}
	if av <= bv {
		return a, true
	}
	return b, true
}

// --- Intersection (spec §4.2) ---

// IntersectConditions combines two condition sets by narrowing: used to
// constrain an Allow by a boundary/SCP/RCP Allow. ok is false iff the
// intersection is empty (the whole combination must be dropped).
func IntersectConditions(a, b ConditionMap) (ConditionMap, bool) {
	result := make(ConditionMap)
	ops := make(map[string]struct{}, len(a)+len(b))
	for op := range a {
		ops[op] = struct{}{}
	}
	for op := range b {
		ops[op] = struct{}{}
	}
	for op := range ops {
		aKeys := a[op]
		bKeys := b[op]
		keys := make(map[string]struct{}, len(aKeys)+len(bKeys))
		for k := range aKeys {
			keys[k] = struct{}{}
		}
		for k := range bKeys {
			keys[k] = struct{}{}
		}
		mergedKeys := make(map[string][]string, len(keys))
		for key := range keys {
			aVals, aok := aKeys[key]
			bVals, bok := bKeys[key]
			switch {
			case aok && bok:
				combined, ok := intersectRule(op, aVals, bVals)
				if !ok {
					return nil, false
				}
				mergedKeys[key] = combined
			case aok:
				mergedKeys[key] = aVals
			case bok:
				mergedKeys[key] = bVals
			}
		}
		result[op] = mergedKeys
	}
	return result, true
}

func intersectRule(fullOp string, aVals, bVals []string) ([]string, bool) {
	base := parseOperator(fullOp).base
	switch base {
	case "stringequals", "stringlike", "arnequals", "arnlike":
		inter := intersect(aVals, bVals)
		if len(inter) == 0 {
			return nil, false
		}
		return inter, true
	case "stringnotequals", "stringnotlike", "arnnotequals", "arnnotlike":
		return union(aVals, bVals), true
	case "numericlessthan", "numericlessthanequals":
		return widestNumeric(aVals, bVals, false)
	case "numericgreaterthan", "numericgreaterthanequals":
		return widestNumeric(aVals, bVals, true)
	case "bool":
		if len(aVals) > 0 && len(bVals) > 0 && aVals[0] == bVals[0] {
			return []string{aVals[0]}, true
		}
		return nil, false
	case "ipaddress", "notipaddress":
		inter := intersect(aVals, bVals)
		if len(inter) == 0 {
			return nil, false
		}
		return inter, true
	case "datelessthan", "datelessthanequals":
		return widestLex(aVals, bVals, false)
	case "dategreaterthan", "dategreaterthanequals":
		return widestLex(aVals, bVals, true)
	default:
		return nil, false
	}
}

// --- Inversion (spec §4.2) ---

var invertBaseTable = map[string]string{
	"stringequals":             "stringnotequals",
	"stringnotequals":          "stringequals",
	"stringlike":               "stringnotlike",
	"stringnotlike":            "stringlike",
	"arnequals":                "arnnotequals",
	"arnnotequals":             "arnequals",
	"arnlike":                  "arnnotlike",
	"arnnotlike":               "arnlike",
	"numericlessthan":          "numericgreaterthanequals",
	"numericgreaterthanequals": "numericlessthan",
	"numericlessthanequals":    "numericgreaterthan",
	"numericgreaterthan":       "numericlessthanequals",
	"numericequals":            "numericnotequals",
	"numericnotequals":         "numericequals",
	"datelessthan":             "dategreaterthanequals",
	"dategreaterthanequals":    "datelessthan",
	"datelessthanequals":       "dategreaterthan",
	"dategreaterthan":          "datelessthanequals",
	"bool":                     "bool",
	"ipaddress":                "notipaddress",
	"notipaddress":             "ipaddress",
}

// InvertConditions replaces every operator with its complement, per the
// table in spec §4.2. It fails loudly (returns UnsupportedOperatorError)
// if any operator present has no inversion entry — the caller (subtract)
// must then treat the Allow as fully denied rather than emit an
// incorrectly-narrow carve-out.
func InvertConditions(c ConditionMap) (ConditionMap, error) {
	result := make(ConditionMap, len(c))
	for fullOp, keys := range c {
		parts := parseOperator(fullOp)
		invBase, ok := invertBaseTable[parts.base]
		if !ok {
			return nil, &UnsupportedOperatorError{Operator: fullOp}
		}
		newParts := opParts{
			setPrefix: flipSetPrefix(parts.setPrefix),
			base:      invBase,
			ifExists:  parts.ifExists,
		}
		newKeys := make(map[string][]string, len(keys))
		for key, vals := range keys {
			if invBase == "bool" {
				flipped := make([]string, len(vals))
				for i, v := range vals {
					flipped[i] = flipBool(v)
				}
				newKeys[key] = flipped
			} else {
				newKeys[key] = append([]string(nil), vals...)
			}
		}
		result[newParts.String()] = newKeys
	}
	return MergeComplementaryPairs(result), nil
}

func flipBool(v string) string {
	if strings.EqualFold(v, "true") {
		return "false"
	}
	return "true"
}

// MergeComplementaryPairs removes, for each operator/complement pair
// present in c, any context key that appears under both — the pair
// cancels for that key (spec §4.2's cleanup pass).
func MergeComplementaryPairs(c ConditionMap) ConditionMap {
	result := CloneConditions(c)
	ops := make([]string, 0, len(result))
	for op := range result {
		ops = append(ops, op)
	}
	for _, op := range ops {
		keys, ok := result[op]
		if !ok {
			continue
		}
		parts := parseOperator(op)
		compBase, ok := invertBaseTable[parts.base]
		if !ok {
			continue
		}
		compOp := (opParts{setPrefix: flipSetPrefix(parts.setPrefix), base: compBase, ifExists: parts.ifExists}).String()
		if compOp == op {
			continue
		}
		compKeys, exists := result[compOp]
		if !exists {
			continue
		}
		for key := range keys {
			if _, alsoIn := compKeys[key]; alsoIn {
				delete(keys, key)
				delete(compKeys, key)
			}
		}
		if len(keys) == 0 {
			delete(result, op)
		}
		if len(compKeys) == 0 {
			delete(result, compOp)
		}
	}
	return result
}

// ShallowUnion combines two condition sets without requiring matching
// operator/key shapes: for a key present under the same operator on both
// sides, the value lists are unioned; otherwise the entry is carried
// through as-is. Used as the fallback when MergeConditions's
// stricter-shape union fails (spec §4.3 subtract step 2).
func ShallowUnion(a, b ConditionMap) ConditionMap {
	result := CloneConditions(a)
	if result == nil {
		result = make(ConditionMap)
	}
	for op, bKeys := range b {
		if result[op] == nil {
			result[op] = make(map[string][]string, len(bKeys))
		}
		for key, bVals := range bKeys {
			if existing, ok := result[op][key]; ok {
				result[op][key] = union(existing, bVals)
			} else {
				result[op][key] = append([]string(nil), bVals...)
			}
		}
	}
	return result
}

// SynthesizeSubtractConditions computes the condition block an Allow must
// carry after a conditional Deny has been carved out of it: allowConds AND
// NOT denyConds, expressed as a single condition block where possible.
func SynthesizeSubtractConditions(allowConds, denyConds ConditionMap) (ConditionMap, error) {
	inverted, err := InvertConditions(denyConds)
	if err != nil {
		return nil, err
	}
	if merged, ok := MergeConditions(allowConds, inverted); ok {
		return MergeComplementaryPairs(merged), nil
	}
	return MergeComplementaryPairs(ShallowUnion(allowConds, inverted)), nil
}

// --- value-list set helpers ---

func isSubset(sub, super []string) bool {
	set := make(map[string]struct{}, len(super))
	for _, v := range super {
		set[v] = struct{}{}
	}
	for _, v := range sub {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

func union(a, b []string) []string {
	return dedupPreserveOrder(append(append([]string(nil), a...), b...))
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(a))
	seen := make(map[string]struct{}, len(a))
	for _, v := range a {
		if _, ok := set[v]; ok {
			if _, dup := seen[v]; !dup {
				seen[v] = struct{}{}
				out = append(out, v)
			}
		}
	}
	return out
}

func singleFloat(vals []string) (float64, bool) {
	if len(vals) == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(vals[0], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func minFloat(vals []string) (float64, bool) {
	var best float64
	found := false
	for _, v := range vals {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		if !found || f < best {
			best = f
			found = true
		}
	}
	return best, found
}

func maxFloat(vals []string) (float64, bool) {
	var best float64
	found := false
	for _, v := range vals {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		if !found || f > best {
			best = f
			found = true
		}
	}
	return best, found
}

func minLex(vals []string) (string, bool) {
	if len(vals) == 0 {
		return "", false
	}
	best := vals[0]
	for _, v := range vals[1:] {
		if v < best {
			best = v
		}
	}
	return best, true
}

func maxLex(vals []string) (string, bool) {
	if len(vals) == 0 {
		return "", false
	}
	best := vals[0]
	for _, v := range vals[1:] {
		if v > best {
			best = v
		}
	}
	return best, true
}

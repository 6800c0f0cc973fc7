package algebra

import "testing"

func cm(raw map[string]map[string][]string) ConditionMap {
	return NormalizeConditions(raw)
}

func TestConditionsInclude(t *testing.T) {
	tests := []struct {
		name string
		a, b ConditionMap
		want bool
	}{
		{
			name: "nil includes nil",
			a:    nil, b: nil,
			want: true,
		},
		{
			name: "nil A includes anything",
			a:    nil,
			b:    cm(map[string]map[string][]string{"stringequals": {"aws:username": {"alice"}}}),
			want: true,
		},
		{
			name: "stringequals subset",
			a:    cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"alice", "bob"}}}),
			b:    cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"alice"}}}),
			want: true,
		},
		{
			name: "stringequals not subset",
			a:    cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"alice"}}}),
			b:    cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"bob"}}}),
			want: false,
		},
		{
			name: "stringnotequals A exclusions subset of B",
			a:    cm(map[string]map[string][]string{"StringNotEquals": {"aws:username": {"mallory"}}}),
			b:    cm(map[string]map[string][]string{"StringNotEquals": {"aws:username": {"mallory", "eve"}}}),
			want: true,
		},
		{
			name: "numericlessthan B boundary smaller",
			a:    cm(map[string]map[string][]string{"NumericLessThan": {"s3:max-keys": {"100"}}}),
			b:    cm(map[string]map[string][]string{"NumericLessThan": {"s3:max-keys": {"50"}}}),
			want: true,
		},
		{
			name: "numericlessthan B boundary larger fails",
			a:    cm(map[string]map[string][]string{"NumericLessThan": {"s3:max-keys": {"50"}}}),
			b:    cm(map[string]map[string][]string{"NumericLessThan": {"s3:max-keys": {"100"}}}),
			want: false,
		},
		{
			name: "numericlessthan A has a value spread, reduced by its max",
			a:    cm(map[string]map[string][]string{"NumericLessThan": {"s3:max-keys": {"10", "100"}}}),
			b:    cm(map[string]map[string][]string{"NumericLessThan": {"s3:max-keys": {"60"}}}),
			want: true,
		},
		{
			name: "numericgreaterthan A has a value spread, reduced by its min",
			a:    cm(map[string]map[string][]string{"NumericGreaterThan": {"s3:max-keys": {"10", "100"}}}),
			b:    cm(map[string]map[string][]string{"NumericGreaterThan": {"s3:max-keys": {"50"}}}),
			want: true,
		},
		{
			name: "bool must equal",
			a:    cm(map[string]map[string][]string{"Bool": {"aws:multifactorauthpresent": {"true"}}}),
			b:    cm(map[string]map[string][]string{"Bool": {"aws:multifactorauthpresent": {"false"}}}),
			want: false,
		},
		{
			name: "ipaddress literal subset",
			a:    cm(map[string]map[string][]string{"IpAddress": {"aws:sourceip": {"10.0.0.0/8", "192.168.0.0/16"}}}),
			b:    cm(map[string]map[string][]string{"IpAddress": {"aws:sourceip": {"10.0.0.0/8"}}}),
			want: true,
		},
		{
			name: "operator missing from B fails",
			a:    cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"alice"}}}),
			b:    nil,
			want: false,
		},
		{
			name: "unsupported operator fails",
			a:    cm(map[string]map[string][]string{"NumericEquals": {"s3:max-keys": {"10"}}}),
			b:    cm(map[string]map[string][]string{"NumericEquals": {"s3:max-keys": {"10"}}}),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConditionsInclude(tt.a, tt.b); got != tt.want {
				t.Errorf("ConditionsInclude(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestMergeConditions(t *testing.T) {
	t.Run("union on matching shape", func(t *testing.T) {
		a := cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"alice"}}})
		b := cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"bob"}}})
		merged, ok := MergeConditions(a, b)
		if !ok {
			t.Fatalf("expected merge to succeed")
		}
		vals := merged["stringequals"]["aws:username"]
		if !sameSet(vals, []string{"alice", "bob"}) {
			t.Errorf("got %v, want union of alice/bob", vals)
		}
	})

	t.Run("differing operator sets fail", func(t *testing.T) {
		a := cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"alice"}}})
		b := cm(map[string]map[string][]string{"Bool": {"aws:multifactorauthpresent": {"true"}}})
		if _, ok := MergeConditions(a, b); ok {
			t.Errorf("expected merge to fail on differing operator sets")
		}
	})

	t.Run("numericlessthan picks largest boundary", func(t *testing.T) {
		a := cm(map[string]map[string][]string{"NumericLessThan": {"s3:max-keys": {"50"}}})
		b := cm(map[string]map[string][]string{"NumericLessThan": {"s3:max-keys": {"100"}}})
		merged, ok := MergeConditions(a, b)
		if !ok || merged["numericlessthan"]["s3:max-keys"][0] != "100" {
			t.Errorf("expected widest boundary 100, got %v ok=%v", merged, ok)
		}
	})

	t.Run("bool mismatch fails merge", func(t *testing.T) {
		a := cm(map[string]map[string][]string{"Bool": {"aws:multifactorauthpresent": {"true"}}})
		b := cm(map[string]map[string][]string{"Bool": {"aws:multifactorauthpresent": {"false"}}})
		if _, ok := MergeConditions(a, b); ok {
			t.Errorf("expected bool mismatch merge to fail")
		}
	})
}

func TestIntersectConditions(t *testing.T) {
	t.Run("string equals intersect", func(t *testing.T) {
		a := cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"alice", "bob"}}})
		b := cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"bob", "carol"}}})
		result, ok := IntersectConditions(a, b)
		if !ok {
			t.Fatalf("expected intersection to succeed")
		}
		if !sameSet(result["stringequals"]["aws:username"], []string{"bob"}) {
			t.Errorf("got %v, want [bob]", result["stringequals"]["aws:username"])
		}
	})

	t.Run("empty intersection fails", func(t *testing.T) {
		a := cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"alice"}}})
		b := cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"bob"}}})
		if _, ok := IntersectConditions(a, b); ok {
			t.Errorf("expected empty intersection to fail")
		}
	})

	t.Run("keys present on only one side carried through", func(t *testing.T) {
		a := cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"alice"}}})
		b := cm(map[string]map[string][]string{"StringEquals": {"aws:resourcetag/env": {"prod"}}})
		result, ok := IntersectConditions(a, b)
		if !ok {
			t.Fatalf("expected success")
		}
		if !sameSet(result["stringequals"]["aws:username"], []string{"alice"}) {
			t.Errorf("missing carried-through key aws:username")
		}
		if !sameSet(result["stringequals"]["aws:resourcetag/env"], []string{"prod"}) {
			t.Errorf("missing carried-through key aws:resourcetag/env")
		}
	})
}

func TestInvertConditions(t *testing.T) {
	t.Run("stringequals inverts to stringnotequals", func(t *testing.T) {
		c := cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"alice"}}})
		inv, err := InvertConditions(c)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !sameSet(inv["stringnotequals"]["aws:username"], []string{"alice"}) {
			t.Errorf("got %v", inv)
		}
	})

	t.Run("bool flips value", func(t *testing.T) {
		c := cm(map[string]map[string][]string{"Bool": {"aws:multifactorauthpresent": {"true"}}})
		inv, err := InvertConditions(c)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if inv["bool"]["aws:multifactorauthpresent"][0] != "false" {
			t.Errorf("expected flipped bool, got %v", inv)
		}
	})

	t.Run("set operator prefix flips", func(t *testing.T) {
		c := cm(map[string]map[string][]string{"ForAllValues:StringEquals": {"s3:prefix": {"docs/"}}})
		inv, err := InvertConditions(c)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := inv["foranyvalue:stringnotequals"]; !ok {
			t.Errorf("expected foranyvalue:stringnotequals, got %v", inv)
		}
	})

	t.Run("unsupported operator fails loudly", func(t *testing.T) {
		c := cm(map[string]map[string][]string{"Null": {"aws:tokenissuetime": {"true"}}})
		if _, err := InvertConditions(c); err == nil {
			t.Errorf("expected UnsupportedOperatorError for Null")
		}
	})

	t.Run("complementary pair cancels after invert", func(t *testing.T) {
		allow := cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"alice"}}})
		deny := cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"alice"}}})
		merged, err := SynthesizeSubtractConditions(allow, deny)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(merged) != 0 {
			t.Errorf("expected complementary pair to cancel entirely, got %v", merged)
		}
	})
}

func TestConditionsEqual(t *testing.T) {
	a := cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"alice", "bob"}}})
	b := cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"bob", "alice"}}})
	if !ConditionsEqual(a, b) {
		t.Errorf("expected order-insensitive equality to hold")
	}
	c := cm(map[string]map[string][]string{"StringEquals": {"aws:username": {"alice"}}})
	if ConditionsEqual(a, c) {
		t.Errorf("expected differing value sets to be unequal")
	}
}

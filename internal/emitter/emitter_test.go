package emitter

import (
	"testing"

	"github.com/0xKirisame/canwhat/internal/algebra"
)

func mustPermission(t *testing.T, effect algebra.Effect, service, action string, resource []string) *algebra.Permission {
	t.Helper()
	p, err := algebra.NewPermission(effect, service, action, resource, nil, nil)
	if err != nil {
		t.Fatalf("NewPermission: %v", err)
	}
	return p
}

func TestEmit_CoalescesSharedResourceAndConditions(t *testing.T) {
	set := algebra.NewPermissionSet(algebra.Allow)
	if err := set.AddPermission(mustPermission(t, algebra.Allow, "s3", "getobject", []string{"arn:aws:s3:::bucket/*"})); err != nil {
		t.Fatalf("AddPermission: %v", err)
	}
	if err := set.AddPermission(mustPermission(t, algebra.Allow, "s3", "putobject", []string{"arn:aws:s3:::bucket/*"})); err != nil {
		t.Fatalf("AddPermission: %v", err)
	}

	doc := Emit(set, nil)
	if len(doc.Statement) != 1 {
		t.Fatalf("expected coalesced single statement, got %d", len(doc.Statement))
	}
	actions, ok := doc.Statement[0].Action.([]string)
	if !ok || len(actions) != 2 {
		t.Errorf("expected both actions coalesced into one statement, got %#v", doc.Statement[0].Action)
	}
}

func TestEmit_SingleActionIsString(t *testing.T) {
	set := algebra.NewPermissionSet(algebra.Allow)
	if err := set.AddPermission(mustPermission(t, algebra.Allow, "s3", "getobject", []string{"*"})); err != nil {
		t.Fatalf("AddPermission: %v", err)
	}
	doc := Emit(set, nil)
	if _, ok := doc.Statement[0].Action.(string); !ok {
		t.Errorf("expected single action to serialize as a bare string, got %#v", doc.Statement[0].Action)
	}
}

func TestEmit_AllowThenDenyOrdering(t *testing.T) {
	allow := algebra.NewPermissionSet(algebra.Allow)
	if err := allow.AddPermission(mustPermission(t, algebra.Allow, "s3", "getobject", []string{"*"})); err != nil {
		t.Fatalf("AddPermission: %v", err)
	}
	deny := algebra.NewPermissionSet(algebra.Deny)
	if err := deny.AddPermission(mustPermission(t, algebra.Deny, "s3", "deleteobject", []string{"*"})); err != nil {
		t.Fatalf("AddPermission: %v", err)
	}

	doc := Emit(allow, deny)
	if len(doc.Statement) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(doc.Statement))
	}
	if doc.Statement[0].Effect != "Allow" || doc.Statement[1].Effect != "Deny" {
		t.Errorf("expected Allow statements before Deny statements, got %v then %v", doc.Statement[0].Effect, doc.Statement[1].Effect)
	}
}

func TestEmit_DistinctConditionsSplitIntoSeparateStatements(t *testing.T) {
	set := algebra.NewPermissionSet(algebra.Allow)
	condA := algebra.NormalizeConditions(map[string]map[string][]string{"StringEquals": {"aws:username": {"alice"}}})
	condB := algebra.NormalizeConditions(map[string]map[string][]string{"Bool": {"aws:multifactorauthpresent": {"true"}}})
	pa, err := algebra.NewPermission(algebra.Allow, "s3", "getobject", []string{"arn:aws:s3:::bucket-a/*"}, nil, condA)
	if err != nil {
		t.Fatalf("NewPermission: %v", err)
	}
	pb, err := algebra.NewPermission(algebra.Allow, "s3", "getobject", []string{"arn:aws:s3:::bucket-b/*"}, nil, condB)
	if err != nil {
		t.Fatalf("NewPermission: %v", err)
	}
	if err := set.AddPermission(pa); err != nil {
		t.Fatalf("AddPermission: %v", err)
	}
	if err := set.AddPermission(pb); err != nil {
		t.Fatalf("AddPermission: %v", err)
	}

	doc := Emit(set, nil)
	if len(doc.Statement) != 2 {
		t.Errorf("expected distinct conditions to remain separate statements, got %d", len(doc.Statement))
	}
}

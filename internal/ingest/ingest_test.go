package ingest

import (
	"encoding/json"
	"testing"

	"github.com/0xKirisame/canwhat/internal/actioncatalog"
	"github.com/0xKirisame/canwhat/internal/algebra"
	"github.com/0xKirisame/canwhat/internal/emitter"
	"github.com/0xKirisame/canwhat/internal/policydoc"
)

func loadCatalog(t *testing.T) *actioncatalog.Catalog {
	t.Helper()
	c, err := actioncatalog.Load(nil)
	if err != nil {
		t.Fatalf("actioncatalog.Load: %v", err)
	}
	return c
}

func TestIngestPolicy_SkipsMalformedStatements(t *testing.T) {
	raw := `{"Version":"2012-10-17","Statement":[
		{"Effect":"Allow","Resource":"*"},
		{"Effect":"Allow","Action":"s3:GetObject","Resource":"arn:aws:s3:::bucket/*"}
	]}`
	policy, err := policydoc.LoadPolicy(raw)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	set := algebra.NewPermissionSet(algebra.Allow)
	if err := IngestPolicy(set, policy, loadCatalog(t), DefaultOptions(), nil); err != nil {
		t.Fatalf("IngestPolicy: %v", err)
	}
	var count int
	set.Walk(func(service, action string, p *algebra.Permission) { count++ })
	if count != 1 {
		t.Errorf("expected malformed statement to be skipped, got %d atoms", count)
	}
}

func TestIngestPolicy_ExpandsActionWildcards(t *testing.T) {
	raw := `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":"s3:Get*","Resource":"*"}]}`
	policy, err := policydoc.LoadPolicy(raw)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	set := algebra.NewPermissionSet(algebra.Allow)
	if err := IngestPolicy(set, policy, loadCatalog(t), DefaultOptions(), nil); err != nil {
		t.Fatalf("IngestPolicy: %v", err)
	}
	var count int
	set.Walk(func(service, action string, p *algebra.Permission) { count++ })
	if count < 2 {
		t.Errorf("expected wildcard to expand to multiple atoms, got %d", count)
	}
}

func TestIngestPolicy_NotActionBecomesComplement(t *testing.T) {
	raw := `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","NotAction":"s3:DeleteObject","Resource":"*"}]}`
	policy, err := policydoc.LoadPolicy(raw)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	set := algebra.NewPermissionSet(algebra.Allow)
	if err := IngestPolicy(set, policy, loadCatalog(t), DefaultOptions(), nil); err != nil {
		t.Fatalf("IngestPolicy: %v", err)
	}
	found := false
	set.Walk(func(service, action string, p *algebra.Permission) {
		if service == "s3" && action == "deleteobject" {
			found = true
		}
	})
	if found {
		t.Errorf("expected s3:DeleteObject to be excluded by NotAction complement")
	}
}

func TestIngestPolicy_OnlyMatchingEffectIngested(t *testing.T) {
	raw := `{"Version":"2012-10-17","Statement":[
		{"Effect":"Allow","Action":"s3:GetObject","Resource":"*"},
		{"Effect":"Deny","Action":"s3:DeleteObject","Resource":"*"}
	]}`
	policy, err := policydoc.LoadPolicy(raw)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	allowSet := algebra.NewPermissionSet(algebra.Allow)
	if err := IngestPolicy(allowSet, policy, loadCatalog(t), DefaultOptions(), nil); err != nil {
		t.Fatalf("IngestPolicy: %v", err)
	}
	var count int
	allowSet.Walk(func(service, action string, p *algebra.Permission) { count++ })
	if count != 1 {
		t.Errorf("expected only the Allow statement ingested into the Allow set, got %d atoms", count)
	}
}

func TestEmitThenIngest_RoundTripIsEquivalent(t *testing.T) {
	raw := `{"Version":"2012-10-17","Statement":[
		{"Effect":"Allow","Action":["s3:GetObject","s3:PutObject"],"Resource":"arn:aws:s3:::bucket/*"},
		{"Effect":"Allow","Action":"ec2:DescribeInstances","Resource":"*","Condition":{"StringEquals":{"aws:username":["alice"]}}}
	]}`
	policy, err := policydoc.LoadPolicy(raw)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	catalog := loadCatalog(t)

	original := algebra.NewPermissionSet(algebra.Allow)
	if err := IngestPolicy(original, policy, catalog, DefaultOptions(), nil); err != nil {
		t.Fatalf("IngestPolicy: %v", err)
	}

	doc := emitter.Emit(original, nil)
	encoded, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}

	reloadedPolicy, err := policydoc.LoadPolicy(string(encoded))
	if err != nil {
		t.Fatalf("LoadPolicy (round trip): %v", err)
	}
	roundTripped := algebra.NewPermissionSet(algebra.Allow)
	if err := IngestPolicy(roundTripped, reloadedPolicy, catalog, DefaultOptions(), nil); err != nil {
		t.Fatalf("IngestPolicy (round trip): %v", err)
	}

	var originalCount, roundTrippedCount int
	original.Walk(func(service, action string, p *algebra.Permission) { originalCount++ })
	roundTripped.Walk(func(service, action string, p *algebra.Permission) { roundTrippedCount++ })
	if originalCount != roundTrippedCount {
		t.Errorf("expected round trip to preserve atom count: original=%d roundTripped=%d", originalCount, roundTrippedCount)
	}

	secondDoc := emitter.Emit(roundTripped, nil)
	secondEncoded, err := json.Marshal(secondDoc)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	if string(encoded) != string(secondEncoded) {
		t.Errorf("expected emit(ingest(emit(x))) == emit(x):\nfirst:  %s\nsecond: %s", encoded, secondEncoded)
	}
}

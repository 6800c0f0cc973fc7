package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/0xKirisame/canwhat/internal/actioncatalog"
	"github.com/0xKirisame/canwhat/internal/algebra"
	"github.com/0xKirisame/canwhat/internal/emitter"
	"github.com/0xKirisame/canwhat/internal/ingest"
	"github.com/0xKirisame/canwhat/internal/policydoc"
)

// DiffOp is a set algebra operation applied across two resolved
// PolicyDocuments.
type DiffOp string

const (
	DiffUnion     DiffOp = "union"
	DiffIntersect DiffOp = "intersect"
	DiffSubtract  DiffOp = "subtract"
)

// Diff re-ingests two already-emitted PolicyDocuments back into
// PermissionSets — exercising the emit→ingest idempotence property — and
// applies op across their Allow (and, for union/intersect, Deny)
// residues, emitting the combined result.
func Diff(a, b *emitter.PolicyDocument, op DiffOp, catalog *actioncatalog.Catalog) (*emitter.PolicyDocument, error) {
	allowA, denyA, err := reingest(a, catalog)
	if err != nil {
		return nil, err
	}
	allowB, denyB, err := reingest(b, catalog)
	if err != nil {
		return nil, err
	}

	switch op {
	case DiffUnion:
		union := allowA.Clone()
		if err := union.AddAll(allowB); err != nil {
			return nil, &ConstructionViolationRelay{Err: err}
		}
		denyUnion := denyA.Clone()
		if err := denyUnion.AddAll(denyB); err != nil {
			return nil, &ConstructionViolationRelay{Err: err}
		}
		return emitter.Emit(union, denyUnion), nil

	case DiffIntersect:
		intersectAllow, err := allowA.Intersection(allowB)
		if err != nil {
			return nil, &ConstructionViolationRelay{Err: err}
		}
		intersectDeny, err := denyA.Intersection(denyB)
		if err != nil {
			return nil, &ConstructionViolationRelay{Err: err}
		}
		return emitter.Emit(intersectAllow, intersectDeny), nil

	case DiffSubtract:
		flippedB, err := flipToDeny(allowB)
		if err != nil {
			return nil, &ConstructionViolationRelay{Err: err}
		}
		final, synthesized, err := allowA.Subtract(flippedB)
		if err != nil {
			return nil, &ConstructionViolationRelay{Err: err}
		}
		return emitter.Emit(final, synthesized), nil

	default:
		return nil, &InvalidInputError{Reason: fmt.Sprintf("unknown diff operation %q", op)}
	}
}

// reingest parses doc's own JSON shape back into Allow/Deny PermissionSets.
func reingest(doc *emitter.PolicyDocument, catalog *actioncatalog.Catalog) (allow, deny *algebra.PermissionSet, err error) {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling policy document for re-ingest: %w", err)
	}
	policy, err := policydoc.LoadPolicy(string(encoded))
	if err != nil {
		return nil, nil, &UpstreamFailure{Op: "re-ingesting policy document", Err: err}
	}

	allow = algebra.NewPermissionSet(algebra.Allow)
	if err := ingest.IngestPolicy(allow, policy, catalog, ingest.DefaultOptions(), nil); err != nil {
		return nil, nil, &UpstreamFailure{Op: "ingesting allow statements", Err: err}
	}
	deny = algebra.NewPermissionSet(algebra.Deny)
	if err := ingest.IngestPolicy(deny, policy, catalog, ingest.DefaultOptions(), nil); err != nil {
		return nil, nil, &UpstreamFailure{Op: "ingesting deny statements", Err: err}
	}
	return allow, deny, nil
}

// flipToDeny rebuilds allow's atoms as Deny-effect atoms with the same
// service, action, resource shape, and conditions, so they can be fed to
// PermissionSet.Subtract as the deny side of a diff.
func flipToDeny(allow *algebra.PermissionSet) (*algebra.PermissionSet, error) {
	deny := algebra.NewPermissionSet(algebra.Deny)
	var constructionErr error
	allow.Walk(func(service, action string, p *algebra.Permission) {
		if constructionErr != nil {
			return
		}
		var resource, notResource []string
		if p.IsResourceShaped() {
			resource = rawFromPatterns(p.ResourcePatterns())
		} else {
			notResource = rawFromPatterns(p.NotResourcePatterns())
		}
		flipped, err := algebra.NewPermission(algebra.Deny, service, action, resource, notResource, p.Conditions())
		if err != nil {
			constructionErr = err
			return
		}
		if err := deny.AddPermission(flipped); err != nil {
			constructionErr = err
		}
	})
	if constructionErr != nil {
		return nil, constructionErr
	}
	return deny, nil
}

func rawFromPatterns(patterns []*algebra.WildcardPattern) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = p.Raw()
	}
	return out
}

// Package pipeline orchestrates CanWhat: it fetches a principal's full
// policy footprint from a DataStore, ingests every policy document into
// algebra.PermissionSets, and combines them — identity ∩ boundary, then ∩
// each SCP level, then ∩ each RCP level, then minus the combined deny
// footprint — into a single emitted PolicyDocument.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/0xKirisame/canwhat/internal/actioncatalog"
	"github.com/0xKirisame/canwhat/internal/algebra"
	"github.com/0xKirisame/canwhat/internal/datastore"
	"github.com/0xKirisame/canwhat/internal/emitter"
	"github.com/0xKirisame/canwhat/internal/ingest"
	"github.com/0xKirisame/canwhat/internal/metrics"
	"github.com/0xKirisame/canwhat/internal/policydoc"
	"github.com/0xKirisame/canwhat/internal/shrinker"
)

// Options controls a single CanWhat invocation.
type Options struct {
	// Principal is the IAM user or role ARN to evaluate.
	Principal string
	// ShrinkActionLists post-processes the emitted document, collapsing
	// action lists to wildcards where the whole service is covered.
	ShrinkActionLists bool
}

// Engine runs CanWhat against a DataStore.
type Engine struct {
	store   datastore.DataStore
	catalog *actioncatalog.Catalog
	shrink  *shrinker.Shrinker
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine builds an Engine. catalog and store are required; log and m
// default to slog.Default() and a no-op Metrics if nil.
func NewEngine(store datastore.DataStore, catalog *actioncatalog.Catalog, log *slog.Logger, m *metrics.Metrics) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:   store,
		catalog: catalog,
		shrink:  shrinker.New(catalog),
		log:     log,
		metrics: m,
	}
}

// CanWhat runs the full combination pipeline for opts.Principal and
// returns the resulting policy document.
func (e *Engine) CanWhat(ctx context.Context, opts Options) (*emitter.PolicyDocument, error) {
	start := time.Now()
	if e.metrics != nil {
		e.metrics.CanWhatRequests.Inc()
	}

	doc, err := e.run(ctx, opts)
	if err != nil {
		if e.metrics != nil {
			e.metrics.CanWhatErrors.WithLabelValues(errorKind(err)).Inc()
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.CanWhatDuration.Observe(time.Since(start).Seconds())
		e.metrics.StatementsEmitted.Observe(float64(len(doc.Statement)))
	}
	e.log.Info("canWhat complete", "principal", opts.Principal, "statements", len(doc.Statement), "duration_s", time.Since(start).Seconds())
	return doc, nil
}

func (e *Engine) run(ctx context.Context, opts Options) (*emitter.PolicyDocument, error) {
	if opts.Principal == "" {
		return nil, &InvalidInputError{Reason: "no principal ARN supplied"}
	}

	principal, err := e.fetch(ctx, opts.Principal)
	if err != nil {
		return nil, err
	}

	identityPolicies := append(append([]datastore.PolicyEntry(nil), principal.ManagedPolicies...), principal.InlinePolicies...)
	for _, g := range principal.GroupPolicies {
		identityPolicies = append(identityPolicies, g.ManagedPolicies...)
		identityPolicies = append(identityPolicies, g.InlinePolicies...)
	}

	allowed, err := e.buildAllowSet(identityPolicies)
	if err != nil {
		return nil, err
	}
	identityDeny, err := e.buildDenySet(identityPolicies)
	if err != nil {
		return nil, err
	}

	if principal.PermissionBoundary != nil {
		boundaryAllow, err := e.buildAllowSet([]datastore.PolicyEntry{*principal.PermissionBoundary})
		if err != nil {
			return nil, err
		}
		allowed, err = allowed.Intersection(boundaryAllow)
		if err != nil {
			return nil, &ConstructionViolationRelay{Err: err}
		}
	}

	var scpAllowsByLevel, rcpAllowsByLevel []*algebra.PermissionSet
	for _, level := range principal.SCPs {
		levelAllow, err := e.buildAllowSet(level.Policies)
		if err != nil {
			return nil, err
		}
		scpAllowsByLevel = append(scpAllowsByLevel, levelAllow)

		levelDeny, err := e.buildDenySet(level.Policies)
		if err != nil {
			return nil, err
		}
		if err := identityDeny.AddAll(levelDeny); err != nil {
			return nil, &ConstructionViolationRelay{Err: err}
		}
	}

	principalAccountDeny := identityDeny.Clone()
	for _, level := range principal.RCPs {
		levelAllow, err := e.buildAllowSet(level.Policies)
		if err != nil {
			return nil, err
		}
		rcpAllowsByLevel = append(rcpAllowsByLevel, levelAllow)

		levelDeny, err := e.buildDenySet(level.Policies)
		if err != nil {
			return nil, err
		}
		if err := principalAccountDeny.AddAll(levelDeny); err != nil {
			return nil, &ConstructionViolationRelay{Err: err}
		}
	}

	for _, entry := range append(scpAllowsByLevel, rcpAllowsByLevel...) {
		allowed, err = allowed.Intersection(entry)
		if err != nil {
			return nil, &ConstructionViolationRelay{Err: err}
		}
	}

	final, synthesized, err := allowed.Subtract(principalAccountDeny)
	if err != nil {
		return nil, &ConstructionViolationRelay{Err: err}
	}

	doc := emitter.Emit(final, synthesized)
	if opts.ShrinkActionLists {
		doc = e.shrink.Shrink(shrinker.ShrinkOptions{Iterations: 2}, doc)
	}
	return doc, nil
}

func (e *Engine) fetch(ctx context.Context, principalARN string) (*datastore.PrincipalPolicies, error) {
	principal, err := e.store.GetAllPoliciesForPrincipal(ctx, principalARN)
	if err != nil {
		return nil, &UpstreamFailure{Op: "GetAllPoliciesForPrincipal", Err: err}
	}
	return principal, nil
}

// buildAllowSet parses every entry and ingests its Allow-effect statements
// into a fresh PermissionSet.
func (e *Engine) buildAllowSet(entries []datastore.PolicyEntry) (*algebra.PermissionSet, error) {
	return e.buildSet(entries, algebra.Allow)
}

// buildDenySet parses every entry and ingests its Deny-effect statements
// into a fresh PermissionSet.
func (e *Engine) buildDenySet(entries []datastore.PolicyEntry) (*algebra.PermissionSet, error) {
	return e.buildSet(entries, algebra.Deny)
}

func (e *Engine) buildSet(entries []datastore.PolicyEntry, effect algebra.Effect) (*algebra.PermissionSet, error) {
	set := algebra.NewPermissionSet(effect)
	for _, entry := range entries {
		policy, err := policydoc.LoadPolicy(entry.Policy)
		if err != nil {
			return nil, &UpstreamFailure{Op: fmt.Sprintf("parsing policy %q", entry.Name), Err: err}
		}
		if err := ingest.IngestPolicy(set, policy, e.catalog, ingest.DefaultOptions(), e.log); err != nil {
			return nil, &UpstreamFailure{Op: fmt.Sprintf("ingesting policy %q", entry.Name), Err: err}
		}
	}
	return set, nil
}

// ConstructionViolationRelay wraps a *algebra.ConstructionViolationError
// surfaced from the algebra package so callers can still distinguish it
// from InvalidInput/UpstreamFailure without this package importing the
// algebra error type into its own taxonomy name.
type ConstructionViolationRelay struct {
	Err error
}

func (e *ConstructionViolationRelay) Error() string { return e.Err.Error() }
func (e *ConstructionViolationRelay) Unwrap() error  { return e.Err }

func errorKind(err error) string {
	switch err.(type) {
	case *InvalidInputError:
		return "invalid_input"
	case *ConstructionViolationRelay:
		return "construction_violation"
	case *UpstreamFailure:
		return "upstream_failure"
	default:
		return "unknown"
	}
}

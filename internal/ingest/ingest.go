// Package ingest bridges parsed policy statements into the permission
// algebra, expanding action wildcards and skipping malformed statements
// rather than failing the whole policy.
package ingest

import (
	"log/slog"
	"strings"

	"github.com/0xKirisame/canwhat/internal/actioncatalog"
	"github.com/0xKirisame/canwhat/internal/algebra"
	"github.com/0xKirisame/canwhat/internal/policydoc"
)

// Options tunes how action wildcards are expanded during ingest.
type Options struct {
	// ExpandAsterisk controls whether a bare "*" action/NotAction is
	// expanded against the full catalog. Ingest defaults this to true:
	// unlike a simulator answering one request, canWhat needs concrete
	// (service, action) atoms to reason about, so a bare "*" is expanded
	// by default unless the caller opts out.
	ExpandAsterisk bool
}

// DefaultOptions returns the ingest-layer default (ExpandAsterisk: true).
func DefaultOptions() Options {
	return Options{ExpandAsterisk: true}
}

// IngestPolicy adds one Permission atom per expanded action of every
// well-formed, effect-matching statement in policy to target. Malformed statements (missing or
// duplicated Action/NotAction or Resource/NotResource) are skipped with a
// logged warning.
func IngestPolicy(target *algebra.PermissionSet, policy *policydoc.Policy, expander *actioncatalog.Catalog, opts Options, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	wantAllow := target.Effect() == algebra.Allow

	for _, stmt := range policy.Statements() {
		if stmt.IsAllow() != wantAllow {
			continue
		}
		if !stmt.IsWellFormed() {
			logger.Warn("ingest: skipping malformed statement",
				"sid", stmt.Sid(),
				"has_action", stmt.IsActionStatement(),
				"has_not_action", stmt.IsNotActionStatement(),
				"has_resource", stmt.IsResourceStatement(),
				"has_not_resource", stmt.IsNotResourceStatement(),
			)
			continue
		}

		actions, err := expandStatementActions(stmt, expander, opts)
		if err != nil {
			return err
		}

		var resource, notResource []string
		if stmt.IsResourceStatement() {
			resource = stmt.Resources()
		} else {
			notResource = stmt.NotResources()
		}
		conditions := algebra.NormalizeConditions(stmt.ConditionMap())

		for _, action := range actions {
			service, act, ok := strings.Cut(strings.ToLower(action), ":")
			if !ok {
				logger.Warn("ingest: skipping action with no service separator", "action", action)
				continue
			}
			p, err := algebra.NewPermission(target.Effect(), service, act, resource, notResource, conditions)
			if err != nil {
				logger.Warn("ingest: skipping statement that failed construction", "sid", stmt.Sid(), "error", err)
				continue
			}
			if err := target.AddPermission(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func expandStatementActions(stmt policydoc.Statement, expander *actioncatalog.Catalog, opts Options) ([]string, error) {
	expandOpts := actioncatalog.ExpandOptions{ExpandAsterisk: opts.ExpandAsterisk}
	if stmt.IsActionStatement() {
		return expander.Expand(stmt.Actions(), expandOpts)
	}
	return expander.Invert(stmt.NotActions(), expandOpts)
}

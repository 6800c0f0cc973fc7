// Package actioncatalog expands IAM action wildcards ("s3:*", "s3:Get*",
// "*") against a small embedded catalog of known actions per service. It
// is a best-effort accelerant, not a source of truth: unknown services or
// actions are passed through unexpanded rather than rejected.
package actioncatalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	_ "embed"
)

//go:embed data/actions.json
var embeddedCatalog []byte

// Catalog maps a lowercased service id to its known lowercased action ids.
type Catalog struct {
	services map[string][]string
	logger   *slog.Logger
}

// Load parses the embedded action catalog.
func Load(logger *slog.Logger) (*Catalog, error) {
	var raw map[string][]string
	if err := json.Unmarshal(embeddedCatalog, &raw); err != nil {
		return nil, fmt.Errorf("parsing embedded action catalog: %w", err)
	}
	services := make(map[string][]string, len(raw))
	for svc, actions := range raw {
		lowered := make([]string, len(actions))
		for i, a := range actions {
			lowered[i] = strings.ToLower(a)
		}
		services[strings.ToLower(svc)] = lowered
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{services: services, logger: logger}, nil
}

// ExpandOptions tunes Expand's handling of the bare "*" action.
type ExpandOptions struct {
	// ExpandAsterisk, when true, expands a bare "*" action into every
	// action of every cataloged service. When false (the default),
	// a bare "*" is passed through unexpanded.
	ExpandAsterisk bool
}

// Expand replaces service-wildcard and prefix-wildcard actions with their
// concrete catalog entries. Unknown services/actions are passed through
// unexpanded.
func (c *Catalog) Expand(actions []string, opts ExpandOptions) ([]string, error) {
	var out []string
	for _, action := range actions {
		if action == "*" {
			if !opts.ExpandAsterisk {
				out = append(out, action)
				continue
			}
			for svc, svcActions := range c.services {
				for _, a := range svcActions {
					out = append(out, svc+":"+a)
				}
			}
			continue
		}

		service, rest, ok := strings.Cut(action, ":")
		if !ok {
			out = append(out, action)
			continue
		}
		service = strings.ToLower(service)
		svcActions, known := c.services[service]
		if !known {
			c.logger.Debug("action expander: unknown service, passing through", "action", action)
			out = append(out, action)
			continue
		}

		switch {
		case rest == "*":
			for _, a := range svcActions {
				out = append(out, service+":"+a)
			}
		case strings.Contains(rest, "*"):
			prefix := strings.TrimSuffix(rest, "*")
			prefix = strings.ToLower(prefix)
			matched := false
			for _, a := range svcActions {
				if strings.HasPrefix(a, prefix) {
					out = append(out, service+":"+a)
					matched = true
				}
			}
			if !matched {
				c.logger.Debug("action expander: wildcard matched nothing in catalog, passing through", "action", action)
				out = append(out, action)
			}
		default:
			out = append(out, action)
		}
	}
	return dedup(out), nil
}

// Invert returns the complement of notActions across every cataloged
// action, implementing the "NotAction becomes the complement of its
// expansion" rule.
func (c *Catalog) Invert(notActions []string, opts ExpandOptions) ([]string, error) {
	expanded, err := c.Expand(notActions, opts)
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]struct{}, len(expanded))
	for _, a := range expanded {
		excluded[strings.ToLower(a)] = struct{}{}
	}

	var out []string
	for svc, svcActions := range c.services {
		for _, a := range svcActions {
			full := svc + ":" + a
			if _, denied := excluded[full]; !denied {
				out = append(out, full)
			}
		}
	}
	return dedup(out), nil
}

func dedup(actions []string) []string {
	seen := make(map[string]struct{}, len(actions))
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		key := strings.ToLower(a)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

package generator

import (
	"encoding/json"
	"io"
	"time"

	"github.com/0xKirisame/canwhat/internal/emitter"
)

// JSONReport is the top-level structure for JSON/YAML output — the raw
// PolicyDocument plus a little reporting metadata around it.
type JSONReport struct {
	GeneratedAt time.Time       `json:"generated_at" yaml:"generated_at"`
	Principal   string          `json:"principal"    yaml:"principal"`
	Version     string          `json:"version"      yaml:"version"`
	Statements  []JSONStatement `json:"statements"    yaml:"statements"`
}

// JSONStatement mirrors emitter.Statement with an added action count for
// at-a-glance reporting.
type JSONStatement struct {
	Effect      string                         `json:"effect"                 yaml:"effect"`
	ActionCount int                            `json:"action_count"           yaml:"action_count"`
	Action      interface{}                    `json:"action"                 yaml:"action"`
	Resource    interface{}                    `json:"resource,omitempty"     yaml:"resource,omitempty"`
	NotResource interface{}                    `json:"not_resource,omitempty" yaml:"not_resource,omitempty"`
	Condition   map[string]map[string][]string `json:"condition,omitempty"    yaml:"condition,omitempty"`
}

// JSONGenerator produces JSON-formatted reports.
type JSONGenerator struct{}

// Generate writes a JSON report to w.
func (g *JSONGenerator) Generate(principal string, doc *emitter.PolicyDocument, w io.Writer) error {
	report := buildReport(principal, doc)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// buildReport converts a PolicyDocument into a JSONReport.
func buildReport(principal string, doc *emitter.PolicyDocument) JSONReport {
	statements := make([]JSONStatement, 0, len(doc.Statement))
	for _, s := range doc.Statement {
		statements = append(statements, JSONStatement{
			Effect:      s.Effect,
			ActionCount: actionCount(s.Action),
			Action:      s.Action,
			Resource:    s.Resource,
			NotResource: s.NotResource,
			Condition:   s.Condition,
		})
	}
	return JSONReport{
		GeneratedAt: time.Now(),
		Principal:   principal,
		Version:     doc.Version,
		Statements:  statements,
	}
}

func actionCount(v interface{}) int {
	switch t := v.(type) {
	case string:
		if t == "" {
			return 0
		}
		return 1
	case []string:
		return len(t)
	default:
		return 0
	}
}

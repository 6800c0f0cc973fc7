package generator

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/0xKirisame/canwhat/internal/emitter"
)

// YAMLGenerator produces YAML-formatted reports.
type YAMLGenerator struct{}

// Generate writes a YAML report to w.
// Reuses the JSONReport structure (yaml tags are already defined there).
func (g *YAMLGenerator) Generate(principal string, doc *emitter.PolicyDocument, w io.Writer) error {
	report := buildReport(principal, doc)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}
	return enc.Close()
}

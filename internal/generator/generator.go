// Package generator renders a canWhat PolicyDocument into an output
// format suitable for humans or downstream tooling: raw JSON, YAML, or a
// Terraform aws_iam_policy resource block.
package generator

import (
	"fmt"
	"io"

	"github.com/0xKirisame/canwhat/internal/emitter"
)

// Generator renders a PolicyDocument for a principal to w.
type Generator interface {
	Generate(principal string, doc *emitter.PolicyDocument, w io.Writer) error
}

// New returns a Generator for the given format string.
// Supported formats: "terraform", "json", "yaml".
func New(format string) (Generator, error) {
	switch format {
	case "terraform":
		return &TerraformGenerator{}, nil
	case "json":
		return &JSONGenerator{}, nil
	case "yaml":
		return &YAMLGenerator{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (supported: terraform, json, yaml)", format)
	}
}

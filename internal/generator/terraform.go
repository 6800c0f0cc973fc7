package generator

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/0xKirisame/canwhat/internal/emitter"
)

// TerraformGenerator emits an aws_iam_policy resource block wrapping the
// policy document's JSON, suitable for dropping straight into a Terraform
// module.
type TerraformGenerator struct{}

var terraformNameSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// terraformResourceName derives a valid Terraform resource name from a
// principal ARN or plain name: lowercased, with any run of characters
// outside [a-z0-9_] collapsed to a single underscore.
func terraformResourceName(principal string) string {
	lower := strings.ToLower(principal)
	name := terraformNameSanitizer.ReplaceAllString(lower, "_")
	return strings.Trim(name, "_")
}

// Generate writes a Terraform aws_iam_policy resource block to w.
func (g *TerraformGenerator) Generate(principal string, doc *emitter.PolicyDocument, w io.Writer) error {
	name := terraformResourceName(principal)

	policyJSON, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling policy document: %w", err)
	}

	var denyCount int
	for _, s := range doc.Statement {
		if s.Effect == "Deny" {
			denyCount++
		}
	}

	fmt.Fprintf(w, "# canwhat generated policy for %s\n", principal)
	if len(doc.Statement) == 0 {
		fmt.Fprintf(w, "# WARNING: no statements resolved for this principal\n")
	} else if denyCount > 0 {
		fmt.Fprintf(w, "# contains %d explicit deny statement(s) synthesized from SCP/RCP/identity denies\n", denyCount)
	} else {
		fmt.Fprintf(w, "# no deny statements\n")
	}

	fmt.Fprintf(w, "resource \"aws_iam_policy\" \"%s\" {\n", name)
	fmt.Fprintf(w, "  name   = %q\n", name)
	fmt.Fprintf(w, "  policy = <<POLICY\n%s\nPOLICY\n", policyJSON)
	fmt.Fprintf(w, "}\n")
	return nil
}

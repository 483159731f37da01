package main

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/user/issuepilot/internal/types"
)

var commentTemplate = template.Must(template.New("comment").Funcs(template.FuncMap{
	"join":  strings.Join,
	"value": types.StringValue,
}).Parse(`## Automated scoping
{{with .ScopingResult}}
**Confidence:** {{.ConfidenceScore}}/100 · **Complexity:** {{.Complexity}}{{if .EstimatedTime}} · **Estimate:** {{.EstimatedTime}}{{end}}

{{.Summary}}
{{if .ActionPlan}}
### Plan
{{range .ActionPlan}}{{.Step}}. [{{.Type}}] {{.Description}}
{{end}}{{end}}{{if .FilesToModify}}
**Files:** {{join .FilesToModify ", "}}
{{end}}{{if .PotentialRisks}}
**Risks:** {{join .PotentialRisks "; "}}
{{end}}{{end}}{{with .FixResult}}
## Fix attempt

**Success:** {{.Success}}{{if value .PRURL}} · **Pull request:** {{value .PRURL}}{{end}}

{{.Summary}}
{{if .ChangesMade}}
**Changes:** {{join .ChangesMade "; "}}
{{end}}{{end}}`))

// resultComment renders the stored results of sess as a Markdown comment.
func resultComment(sess *types.Session) (string, error) {
	var b strings.Builder
	if err := commentTemplate.Execute(&b, sess); err != nil {
		return "", fmt.Errorf("render comment for %s: %w", sess.Key(), err)
	}
	return strings.TrimSpace(b.String()) + "\n", nil
}

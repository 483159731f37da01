package devin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// Issue is the tracked issue a session works on.
type Issue struct {
	Owner  string
	Repo   string
	Number int
	Title  string
	Body   string
}

// ScopingPrompt is the task template for a scoping session. It uses Go
// text/template syntax with promptData fields.
const ScopingPrompt = `Analyze and scope GitHub issue #{{.Number}} in @{{.Owner}}/{{.Repo}}.

Issue Title: {{.Title}}

Issue Description:
{{.Body}}

Please analyze this issue and provide a detailed scoping assessment. Update the structured output with your findings in this exact format:
{{.Schema}}

Instructions:
1. confidence_score: A number from 0-100 indicating how confident you are that this issue can be resolved programmatically
2. complexity: "low", "medium", or "high" based on the scope of changes needed
3. estimated_time: Human-readable estimate (e.g., "2-4 hours", "1-2 days")
4. summary: A brief summary of what needs to be done
5. action_plan: Array of steps with { step: number, description: string, type: "analysis" | "implementation" | "testing" | "documentation" }
6. potential_risks: Array of strings describing potential risks or blockers
7. files_to_modify: Array of file paths that will likely need changes
8. dependencies: Array of external dependencies or requirements

CRITICAL: Once you have a clear action plan, you MUST post it as a comment on the GitHub issue #{{.Number}}. The comment should be formatted nicely and explain what you've analyzed and what your plan is.

Please update the structured output immediately as you analyze the issue.`

// FixPrompt is the task template for a fix session.
const FixPrompt = `Fix GitHub issue #{{.Number}} in @{{.Owner}}/{{.Repo}}.

Issue Title: {{.Title}}

Issue Description:
{{.Body}}

Scoping Analysis:
- Confidence Score: {{.Scoping.ConfidenceScore}}%
- Complexity: {{.Scoping.Complexity}}
- Estimated Time: {{.Scoping.EstimatedTime}}
- Summary: {{.Scoping.Summary}}

Action Plan:
{{- range .Scoping.ActionPlan}}
{{.Step}}. [{{.Type}}] {{.Description}}
{{- end}}

Files to Modify:
{{if .Scoping.FilesToModify}}{{join .Scoping.FilesToModify "\n"}}{{else}}To be determined{{end}}

Please implement the fix following the action plan above. Create a PR with your changes.

Update the structured output with your progress in this exact format:
{{.Schema}}

Instructions:
1. success: true if the fix was completed and PR created, false otherwise
2. pr_url: URL to the created PR (null if not created yet)
3. summary: Brief summary of what was done
4. changes_made: Array of descriptions of changes made
5. tests_added: Array of tests that were added
6. notes: Any additional notes or observations

Please update the structured output as you make progress.`

const noDescription = "No description provided"

var (
	scopingTmpl = template.Must(template.New("scoping").Parse(ScopingPrompt))
	fixTmpl     = template.Must(template.New("fix").Funcs(template.FuncMap{"join": strings.Join}).Parse(FixPrompt))
)

// promptData holds the fields available to the prompt templates.
type promptData struct {
	Issue
	Schema  string
	Scoping *ScopingResult
}

// ScopingSchema is the structured output shape requested from a scoping
// session.
func ScopingSchema() string {
	return mustSchema(&ScopingResult{
		Complexity:     ComplexityMedium,
		ActionPlan:     []ActionPlanItem{},
		PotentialRisks: []string{},
		FilesToModify:  []string{},
		Dependencies:   []string{},
	})
}

// FixSchema is the structured output shape requested from a fix session.
func FixSchema() string {
	return mustSchema(&FixResult{
		ChangesMade: []string{},
		TestsAdded:  []string{},
	})
}

// BuildScopingPrompt renders the scoping task for issue.
func BuildScopingPrompt(issue Issue) (string, error) {
	return render(scopingTmpl, promptData{Issue: withBody(issue), Schema: ScopingSchema()})
}

// BuildFixPrompt renders the fix task for issue, embedding the scoping
// result the fix should follow.
func BuildFixPrompt(issue Issue, scoping *ScopingResult) (string, error) {
	if scoping == nil {
		return "", fmt.Errorf("build fix prompt: scoping result is required")
	}
	return render(fixTmpl, promptData{Issue: withBody(issue), Schema: FixSchema(), Scoping: scoping})
}

func withBody(issue Issue) Issue {
	if strings.TrimSpace(issue.Body) == "" {
		issue.Body = noDescription
	}
	return issue
}

func render(tmpl *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func mustSchema(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

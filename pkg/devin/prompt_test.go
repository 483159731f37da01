package devin

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBuildScopingPrompt(t *testing.T) {
	prompt, err := BuildScopingPrompt(Issue{
		Owner: "acme", Repo: "widgets", Number: 42,
		Title: "Crash on save", Body: "Saving an empty doc panics.",
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"Analyze and scope GitHub issue #42 in @acme/widgets.",
		"Issue Title: Crash on save",
		"Saving an empty doc panics.",
		`"confidence_score":0`,
		`"action_plan":[]`,
		"post it as a comment on the GitHub issue #42",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("scoping prompt missing %q", want)
		}
	}
}

func TestBuildFixPrompt(t *testing.T) {
	scoping := &ScopingResult{
		ConfidenceScore: 80,
		Complexity:      ComplexityLow,
		EstimatedTime:   "2 hours",
		Summary:         "Null check in save",
		ActionPlan: []ActionPlanItem{
			{Step: 1, Description: "Reproduce", Type: StepAnalysis},
			{Step: 2, Description: "Add guard", Type: StepImplementation},
		},
		FilesToModify: []string{"save.go", "save_test.go"},
	}
	prompt, err := BuildFixPrompt(Issue{Owner: "acme", Repo: "widgets", Number: 42, Title: "Crash on save"}, scoping)
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"Fix GitHub issue #42 in @acme/widgets.",
		"No description provided",
		"- Confidence Score: 80%",
		"- Complexity: low",
		"- Estimated Time: 2 hours",
		"- Summary: Null check in save",
		"1. [analysis] Reproduce\n2. [implementation] Add guard",
		"save.go\nsave_test.go",
		"Create a PR with your changes.",
		`"pr_url":null`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("fix prompt missing %q", want)
		}
	}
}

func TestBuildFixPromptNoFiles(t *testing.T) {
	prompt, err := BuildFixPrompt(Issue{Owner: "a", Repo: "b", Number: 1}, &ScopingResult{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "Files to Modify:\nTo be determined") {
		t.Error("expected placeholder for empty file list")
	}
}

func TestSchemas(t *testing.T) {
	want := `{"confidence_score":0,"complexity":"medium","estimated_time":"","summary":"","action_plan":[],"potential_risks":[],"files_to_modify":[],"dependencies":[]}`
	if got := ScopingSchema(); got != want {
		t.Errorf("scoping schema\n got %s\nwant %s", got, want)
	}
	want = `{"success":false,"pr_url":null,"summary":"","changes_made":[],"tests_added":[],"notes":""}`
	if got := FixSchema(); got != want {
		t.Errorf("fix schema\n got %s\nwant %s", got, want)
	}
}

func TestPrepareConvertsHTML(t *testing.T) {
	var p BodyPreparer
	got := p.Prepare("<p>Hello <strong>world</strong></p>")
	if strings.Contains(got, "<p>") {
		t.Errorf("expected markdown, got %q", got)
	}
	if !strings.Contains(got, "**world**") {
		t.Errorf("expected bold markdown, got %q", got)
	}
}

func TestPrepareLeavesMarkdown(t *testing.T) {
	var p BodyPreparer
	body := "## Steps\n\n1. open <file>\n2. save"
	if got := p.Prepare(body); got != body {
		t.Errorf("markdown body changed: %q", got)
	}
}

func TestPrepareNoBudget(t *testing.T) {
	p := &BodyPreparer{}
	body := strings.Repeat("word ", 5000)
	if got := p.Prepare(body); got != strings.TrimSpace(body) {
		t.Error("body should not be truncated without a budget")
	}
}

func TestPrepareTruncatesToBudget(t *testing.T) {
	body := strings.Repeat("héllo wörld ", 200)
	p := &BodyPreparer{MaxTokens: 5}
	got := p.Prepare(body)
	if len(got) >= len(body) {
		t.Fatalf("expected truncated body, got %d bytes", len(got))
	}
	if !strings.HasSuffix(got, "\n\n"+TruncationMarker) {
		t.Errorf("expected truncation marker, got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncated body is not valid UTF-8: %q", got)
	}
}

func TestPrepareTruncatesByCharacterEstimate(t *testing.T) {
	p := &BodyPreparer{MaxTokens: 5}
	p.once.Do(func() {}) // no tokenizer

	got := p.Prepare(strings.Repeat("hello world ", 50))
	if want := "hello world hello wo\n\n" + TruncationMarker; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	short := "hello world"
	if got := p.Prepare(short); got != short {
		t.Errorf("body within budget changed: %q", got)
	}

	got = p.Prepare(strings.Repeat("é", 30))
	if !utf8.ValidString(got) || !strings.HasPrefix(got, strings.Repeat("é", 10)+"\n\n") {
		t.Errorf("expected rune-safe cut at 20 bytes, got %q", got)
	}
}

func TestCutRunes(t *testing.T) {
	if got := cutRunes("héllo", 2); got != "h" {
		t.Errorf("expected rune-safe cut, got %q", got)
	}
	if got := cutRunes("abc", 10); got != "abc" {
		t.Errorf("expected unchanged, got %q", got)
	}
}

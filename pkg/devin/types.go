package devin

import "encoding/json"

// Complexity is the agent's estimate of how large a change is.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// StepType classifies an action plan step.
type StepType string

const (
	StepAnalysis       StepType = "analysis"
	StepImplementation StepType = "implementation"
	StepTesting        StepType = "testing"
	StepDocumentation  StepType = "documentation"
)

// ActionPlanItem is one ordered step of a scoping action plan.
type ActionPlanItem struct {
	Step        int      `json:"step"`
	Description string   `json:"description"`
	Type        StepType `json:"type"`
}

// ScopingResult is the typed form of a scoping session's structured output.
type ScopingResult struct {
	ConfidenceScore int              `json:"confidence_score"`
	Complexity      Complexity       `json:"complexity"`
	EstimatedTime   string           `json:"estimated_time"`
	Summary         string           `json:"summary"`
	ActionPlan      []ActionPlanItem `json:"action_plan"`
	PotentialRisks  []string         `json:"potential_risks"`
	FilesToModify   []string         `json:"files_to_modify"`
	Dependencies    []string         `json:"dependencies"`
}

// Clone returns a deep copy of r.
func (r *ScopingResult) Clone() *ScopingResult {
	if r == nil {
		return nil
	}
	out := *r
	out.ActionPlan = append([]ActionPlanItem{}, r.ActionPlan...)
	out.PotentialRisks = append([]string{}, r.PotentialRisks...)
	out.FilesToModify = append([]string{}, r.FilesToModify...)
	out.Dependencies = append([]string{}, r.Dependencies...)
	return &out
}

// FixResult is the typed form of a fix session's structured output.
type FixResult struct {
	Success     bool     `json:"success"`
	PRURL       *string  `json:"pr_url"`
	Summary     string   `json:"summary"`
	ChangesMade []string `json:"changes_made"`
	TestsAdded  []string `json:"tests_added"`
	Notes       string   `json:"notes"`
}

// Clone returns a deep copy of r.
func (r *FixResult) Clone() *FixResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.PRURL != nil {
		url := *r.PRURL
		out.PRURL = &url
	}
	out.ChangesMade = append([]string{}, r.ChangesMade...)
	out.TestsAdded = append([]string{}, r.TestsAdded...)
	return &out
}

// StatusEnum is the remote agent's fine-grained session state. The empty
// value stands for a null status_enum.
type StatusEnum string

const (
	StatusWorking                  StatusEnum = "working"
	StatusBlocked                  StatusEnum = "blocked"
	StatusExpired                  StatusEnum = "expired"
	StatusFinished                 StatusEnum = "finished"
	StatusSuspendRequested         StatusEnum = "suspend_requested"
	StatusSuspendRequestedFrontend StatusEnum = "suspend_requested_frontend"
	StatusResumeRequested          StatusEnum = "resume_requested"
	StatusResumeRequestedFrontend  StatusEnum = "resume_requested_frontend"
	StatusResumed                  StatusEnum = "resumed"
)

// createSessionRequest is the body for POST /sessions.
type createSessionRequest struct {
	Prompt string `json:"prompt"`
}

// CreateSessionResponse identifies a newly created remote session.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// PullRequest is the remote platform's record of a change request.
type PullRequest struct {
	URL string `json:"url"`
}

// SessionStatus is the body of GET /sessions/{id}.
type SessionStatus struct {
	SessionID        string          `json:"session_id"`
	Status           string          `json:"status"`
	StatusEnum       StatusEnum      `json:"status_enum"`
	StructuredOutput json.RawMessage `json:"structured_output"`
	PullRequest      *PullRequest    `json:"pull_request,omitempty"`
}

// PullRequestURL returns the remote pull request URL, or "" when absent.
func (s *SessionStatus) PullRequestURL() string {
	if s == nil || s.PullRequest == nil {
		return ""
	}
	return s.PullRequest.URL
}

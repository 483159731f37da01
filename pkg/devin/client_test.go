package devin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCreateScopingSession(t *testing.T) {
	var gotPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing or invalid auth header")
		}
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		gotPrompt = req.Prompt
		json.NewEncoder(w).Encode(map[string]string{
			"session_id": "devin-1",
			"url":        "https://app.devin.ai/sessions/devin-1",
		})
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL + "/", APIKey: "test-key"})
	resp, err := client.CreateScopingSession(context.Background(), ScopingRequest{
		Issue: Issue{Owner: "acme", Repo: "widgets", Number: 42, Title: "Crash on save"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != "devin-1" {
		t.Errorf("expected session id devin-1, got %s", resp.SessionID)
	}
	if resp.URL != "https://app.devin.ai/sessions/devin-1" {
		t.Errorf("unexpected url %s", resp.URL)
	}
	if !strings.Contains(gotPrompt, "issue #42 in @acme/widgets") {
		t.Errorf("prompt does not name the issue: %q", gotPrompt)
	}
	if !strings.Contains(gotPrompt, noDescription) {
		t.Error("prompt should note the missing description")
	}
}

func TestCreateFixSession(t *testing.T) {
	var gotPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotPrompt = req.Prompt
		w.Write([]byte(`{"session_id":"devin-fix","url":"https://app.devin.ai/sessions/devin-fix"}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "k"})
	resp, err := client.CreateFixSession(context.Background(), FixRequest{
		Issue: Issue{Owner: "acme", Repo: "widgets", Number: 42, Title: "Crash on save", Body: "Steps..."},
		Scoping: &ScopingResult{
			ConfidenceScore: 80,
			Complexity:      ComplexityLow,
			EstimatedTime:   "2 hours",
			Summary:         "Null check",
			ActionPlan:      []ActionPlanItem{{Step: 1, Description: "Add guard", Type: StepImplementation}},
			FilesToModify:   []string{"save.go"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != "devin-fix" {
		t.Errorf("expected devin-fix, got %s", resp.SessionID)
	}
	if !strings.Contains(gotPrompt, "1. [implementation] Add guard") {
		t.Errorf("prompt missing action plan: %q", gotPrompt)
	}
}

func TestCreateSessionAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"invalid api key"}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	_, err := client.CreateScopingSession(context.Background(), ScopingRequest{Issue: Issue{Owner: "a", Repo: "b", Number: 1}})
	if !errors.Is(err, ErrCreateSession) {
		t.Fatalf("expected ErrCreateSession, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", apiErr.StatusCode)
	}
	if apiErr.Body != `{"detail":"invalid api key"}` {
		t.Errorf("remote body not carried verbatim: %q", apiErr.Body)
	}
}

func TestCreateSessionMissingID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	_, err := New(Config{BaseURL: server.URL}).CreateScopingSession(context.Background(), ScopingRequest{})
	if !errors.Is(err, ErrCreateSession) {
		t.Fatalf("expected ErrCreateSession, got %v", err)
	}
}

func TestFixPromptRequiresScoping(t *testing.T) {
	_, err := New(Config{BaseURL: "http://127.0.0.1:0"}).CreateFixSession(context.Background(), FixRequest{})
	if err == nil {
		t.Fatal("expected error for missing scoping result")
	}
}

func TestGetSessionStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/sessions/devin-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{
			"session_id": "devin-1",
			"status": "running",
			"status_enum": "finished",
			"structured_output": {"confidence_score": 70},
			"pull_request": {"url": "https://github.com/acme/widgets/pull/7"}
		}`))
	}))
	defer server.Close()

	status, err := New(Config{BaseURL: server.URL}).GetSessionStatus(context.Background(), "devin-1")
	if err != nil {
		t.Fatal(err)
	}
	if status.StatusEnum != StatusFinished {
		t.Errorf("expected finished, got %q", status.StatusEnum)
	}
	if status.PullRequestURL() != "https://github.com/acme/widgets/pull/7" {
		t.Errorf("unexpected pull request url %q", status.PullRequestURL())
	}
	if got := ParseScopingResult(status.StructuredOutput); got == nil || got.ConfidenceScore != 70 {
		t.Errorf("structured output not usable: %+v", got)
	}
}

func TestGetSessionStatusNulls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"session_id":"d","status":"running","status_enum":null,"structured_output":null}`))
	}))
	defer server.Close()

	status, err := New(Config{BaseURL: server.URL}).GetSessionStatus(context.Background(), "d")
	if err != nil {
		t.Fatal(err)
	}
	if status.StatusEnum != "" {
		t.Errorf("expected empty status enum, got %q", status.StatusEnum)
	}
	if ParseScopingResult(status.StructuredOutput) != nil {
		t.Error("null structured output should not parse")
	}
	if status.PullRequestURL() != "" {
		t.Error("expected no pull request")
	}
}

func TestGetSessionStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := New(Config{BaseURL: server.URL}).GetSessionStatus(context.Background(), "missing")
	if !errors.Is(err, ErrSessionStatus) {
		t.Fatalf("expected ErrSessionStatus, got %v", err)
	}
	if errors.Is(err, ErrCreateSession) {
		t.Error("status error must not match ErrCreateSession")
	}
}

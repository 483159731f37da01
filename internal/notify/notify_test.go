package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/user/issuepilot/internal/types"
	"github.com/user/issuepilot/pkg/devin"
)

func testSession() *types.Session {
	return &types.Session{
		ID:          "sess-1",
		RepoOwner:   "acme",
		RepoName:    "widgets",
		IssueNumber: 42,
		IssueTitle:  "Crash on save",
		Status:      types.StatusScoped,
		ScopingResult: &devin.ScopingResult{
			ConfidenceScore: 80,
			Complexity:      devin.ComplexityLow,
			EstimatedTime:   "2 hours",
			Summary:         "Null check",
		},
		DevinSessionURL: types.StringPtr("https://app.devin.ai/sessions/d1"),
		FixResult: &devin.FixResult{
			Success: true,
			PRURL:   types.StringPtr("https://github.com/acme/widgets/pull/7"),
			Summary: "Guarded nil",
		},
	}
}

func TestMessage(t *testing.T) {
	sess := testSession()

	scoped := Message(Event{Session: sess, From: types.StatusScoping, To: types.StatusScoped})
	for _, want := range []string{"acme/widgets#42 Crash on save: scoped", "Confidence 80%", "Null check", "https://app.devin.ai/sessions/d1"} {
		if !strings.Contains(scoped, want) {
			t.Errorf("scoped message missing %q:\n%s", want, scoped)
		}
	}

	fixed := Message(Event{Session: sess, From: types.StatusFixing, To: types.StatusFixed})
	if !strings.Contains(fixed, "PR: https://github.com/acme/widgets/pull/7") {
		t.Errorf("fixed message missing PR:\n%s", fixed)
	}

	failed := Message(Event{Session: sess, From: types.StatusFixing, To: types.StatusFailed})
	if !strings.HasSuffix(failed, "failed (was fixing)") {
		t.Errorf("unexpected failed message %q", failed)
	}
}

func TestTerminal(t *testing.T) {
	for status, want := range map[types.Status]bool{
		types.StatusPending: false,
		types.StatusScoping: false,
		types.StatusScoped:  true,
		types.StatusFixing:  false,
		types.StatusFixed:   true,
		types.StatusFailed:  true,
	} {
		if Terminal(status) != want {
			t.Errorf("Terminal(%s) = %v, want %v", status, !want, want)
		}
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	var calls int
	ok := Func(func(context.Context, Event) error { calls++; return nil })
	bad := Func(func(context.Context, Event) error { calls++; return errors.New("sink down") })

	err := Multi{ok, bad, ok}.Notify(context.Background(), Event{Session: testSession(), To: types.StatusScoped})
	if err == nil || !strings.Contains(err.Error(), "sink down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("every sink should be called, got %d", calls)
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	n := LogNotifier{Logger: logger}
	if err := n.Notify(context.Background(), Event{Session: testSession(), From: types.StatusFixing, To: types.StatusFailed}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "issue=acme/widgets#42") {
		t.Errorf("unexpected log output %q", out)
	}
}

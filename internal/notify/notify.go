// Package notify tells people when a session reaches scoped, fixed or
// failed.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/issuepilot/internal/types"
)

// Event is a session status change observed by a poll.
type Event struct {
	Session *types.Session
	From    types.Status
	To      types.Status
}

// Notifier delivers an Event somewhere.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, event Event) error

func (f Func) Notify(ctx context.Context, event Event) error { return f(ctx, event) }

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes events to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, event Event) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"session_id", event.Session.ID,
		"issue", event.Session.Key().String(),
		"from", event.From,
		"status", event.To,
	}
	if event.To == types.StatusFailed {
		logger.Warn("session failed", attrs...)
		return nil
	}
	logger.Info("session "+string(event.To), attrs...)
	return nil
}

// Terminal reports whether a transition into to is worth notifying.
func Terminal(to types.Status) bool {
	return to == types.StatusScoped || to == types.StatusFixed || to == types.StatusFailed
}

// Message renders event as plain text.
func Message(event Event) string {
	s := event.Session
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s", s.Key(), s.IssueTitle, event.To)

	switch event.To {
	case types.StatusScoped:
		if r := s.ScopingResult; r != nil {
			fmt.Fprintf(&b, "\nConfidence %d%%, complexity %s, estimate %s", r.ConfidenceScore, r.Complexity, r.EstimatedTime)
			if r.Summary != "" {
				fmt.Fprintf(&b, "\n%s", r.Summary)
			}
		}
		if url := types.StringValue(s.DevinSessionURL); url != "" {
			fmt.Fprintf(&b, "\n%s", url)
		}
	case types.StatusFixed:
		if r := s.FixResult; r != nil {
			if r.Summary != "" {
				fmt.Fprintf(&b, "\n%s", r.Summary)
			}
			if pr := types.StringValue(r.PRURL); pr != "" {
				fmt.Fprintf(&b, "\nPR: %s", pr)
			}
		}
		if url := types.StringValue(s.FixSessionURL); url != "" {
			fmt.Fprintf(&b, "\n%s", url)
		}
	case types.StatusFailed:
		fmt.Fprintf(&b, " (was %s)", event.From)
	}
	return b.String()
}

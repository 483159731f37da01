// Package lifecycle drives an issue session through scoping and fixing,
// reconciling the stored record with the remote agent's polled status.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/user/issuepilot/internal/types"
	"github.com/user/issuepilot/pkg/devin"
)

// Machine holds no session state of its own; every call re-reads the store.
// Calls for one session are expected to be serialized by the caller.
type Machine struct {
	store  types.SessionStore
	agent  devin.Agent
	logger *slog.Logger
}

// New creates a Machine. A nil logger uses slog.Default().
func New(store types.SessionStore, agent devin.Agent, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{store: store, agent: agent, logger: logger}
}

// ScopeInput identifies the issue to scope.
type ScopeInput struct {
	Owner  string
	Repo   string
	Number int
	Title  string
	Body   string
}

// FixInput identifies the issue to fix. An empty Title falls back to the
// stored title.
type FixInput struct {
	Owner  string
	Repo   string
	Number int
	Title  string
	Body   string
}

// StartResult is the persisted session plus the new remote session.
type StartResult struct {
	Session          *types.Session
	RemoteSessionID  string
	RemoteSessionURL string
}

// PollResult is the reconciled session plus the raw remote status.
type PollResult struct {
	Session *types.Session
	Remote  *devin.SessionStatus
}

// StartScoping creates a remote scoping run for the issue. An issue whose
// session is anything but pending or failed is rejected with a
// *types.ConflictError carrying that session.
func (m *Machine) StartScoping(ctx context.Context, in ScopeInput) (*StartResult, error) {
	key := types.NewIssueKey(in.Owner, in.Repo, in.Number)

	existing, err := m.store.FindByIssue(ctx, in.Owner, in.Repo, in.Number)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if existing != nil && !canStartScoping(existing.Status) {
		return nil, &types.ConflictError{Key: key, Session: existing}
	}

	remote, err := m.agent.CreateScopingSession(ctx, devin.ScopingRequest{Issue: devin.Issue{
		Owner: in.Owner, Repo: in.Repo, Number: in.Number, Title: in.Title, Body: in.Body,
	}})
	if err != nil {
		return nil, err
	}

	var sess *types.Session
	if existing == nil {
		sess, err = m.store.Create(ctx, types.SessionDraft{
			IssueNumber:     in.Number,
			IssueTitle:      in.Title,
			RepoOwner:       in.Owner,
			RepoName:        in.Repo,
			Status:          types.StatusScoping,
			DevinSessionID:  types.StringPtr(remote.SessionID),
			DevinSessionURL: types.StringPtr(remote.URL),
		})
		if err != nil {
			if errors.Is(err, types.ErrConflict) {
				m.logger.Warn("lost scoping race, remote session orphaned",
					"issue", key.String(), "devin_session_id", remote.SessionID)
				return nil, err
			}
			return nil, fmt.Errorf("create session: %w", err)
		}
	} else {
		sess, err = m.store.Update(ctx, existing.ID, func(s *types.Session) {
			s.Status = types.StatusScoping
			if in.Title != "" {
				s.IssueTitle = in.Title
			}
			s.DevinSessionID = types.StringPtr(remote.SessionID)
			s.DevinSessionURL = types.StringPtr(remote.URL)
			s.ScopingResult = nil
			s.FixSessionID = nil
			s.FixSessionURL = nil
			s.FixResult = nil
		})
		if err != nil {
			return nil, fmt.Errorf("update session: %w", err)
		}
	}

	m.logger.Info("scoping started",
		"session_id", sess.ID, "issue", key.String(), "devin_session_id", remote.SessionID)
	return &StartResult{Session: sess, RemoteSessionID: remote.SessionID, RemoteSessionURL: remote.URL}, nil
}

// StartFix creates a remote fix run following the stored scoping result.
func (m *Machine) StartFix(ctx context.Context, in FixInput) (*StartResult, error) {
	key := types.NewIssueKey(in.Owner, in.Repo, in.Number)

	sess, err := m.store.FindByIssue(ctx, in.Owner, in.Repo, in.Number)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, key)
	}
	if sess.Status != types.StatusScoped {
		return nil, fmt.Errorf("%w: %s is %s, fix requires %s", types.ErrInvalidState, key, sess.Status, types.StatusScoped)
	}
	if sess.ScopingResult == nil {
		return nil, fmt.Errorf("%w: %s has no scoping result", types.ErrMissingData, key)
	}

	title := in.Title
	if title == "" {
		title = sess.IssueTitle
	}
	remote, err := m.agent.CreateFixSession(ctx, devin.FixRequest{
		Issue:   devin.Issue{Owner: in.Owner, Repo: in.Repo, Number: in.Number, Title: title, Body: in.Body},
		Scoping: sess.ScopingResult,
	})
	if err != nil {
		return nil, err
	}

	sess, err = m.store.Update(ctx, sess.ID, func(s *types.Session) {
		s.FixSessionID = types.StringPtr(remote.SessionID)
		s.FixSessionURL = types.StringPtr(remote.URL)
		s.Status = types.StatusFixing
	})
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	m.logger.Info("fix started",
		"session_id", sess.ID, "issue", key.String(), "fix_session_id", remote.SessionID)
	return &StartResult{Session: sess, RemoteSessionID: remote.SessionID, RemoteSessionURL: remote.URL}, nil
}

// PollStatus fetches the remote status of the session's active run and
// folds it into the stored record.
func (m *Machine) PollStatus(ctx context.Context, id types.SessionID) (*PollResult, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var remoteID string
	switch sess.Status {
	case types.StatusScoping:
		remoteID = types.StringValue(sess.DevinSessionID)
	case types.StatusFixing:
		remoteID = types.StringValue(sess.FixSessionID)
	default:
		return nil, fmt.Errorf("%w: session %s is %s, no active remote session", types.ErrInvalidState, id, sess.Status)
	}
	if remoteID == "" {
		return nil, fmt.Errorf("%w: session %s is %s but has no active remote session", types.ErrInvalidState, id, sess.Status)
	}

	remote, err := m.agent.GetSessionStatus(ctx, remoteID)
	if err != nil {
		return nil, err
	}

	progress := Classify(remote.StatusEnum)
	var (
		scoping *devin.ScopingResult
		fix     *devin.FixResult
		parsed  bool
	)
	if sess.Status == types.StatusScoping {
		scoping = devin.ParseScopingResult(remote.StructuredOutput)
		parsed = scoping != nil
	} else {
		fix = devin.ParseFixResult(remote.StructuredOutput)
		if fix != nil {
			if url := remote.PullRequestURL(); url != "" {
				fix.PRURL = &url
			}
		}
		parsed = fix != nil
	}

	next, err := nextStatus(sess.Status, progress, parsed, failureSignal(remote))
	if err != nil {
		return nil, err
	}

	from := sess.Status
	updated, err := m.store.Update(ctx, id, func(s *types.Session) {
		// A result is only ever replaced, never cleared, by a poll.
		if scoping != nil {
			s.ScopingResult = scoping
		}
		if fix != nil {
			s.FixResult = fix
		}
		s.Status = next
	})
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	if next != from {
		m.logger.Info("session status changed",
			"session_id", id, "issue", updated.Key().String(), "from", from, "status", next,
			"progress", progress.String())
	} else {
		m.logger.Debug("session polled",
			"session_id", id, "status", next, "progress", progress.String(), "parsed", parsed)
	}
	return &PollResult{Session: updated, Remote: remote}, nil
}

// Store exposes the underlying store for administrative pass-through use.
func (m *Machine) Store() types.SessionStore {
	return m.store
}

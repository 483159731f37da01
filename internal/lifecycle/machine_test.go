package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/issuepilot/internal/state"
	"github.com/user/issuepilot/internal/types"
	"github.com/user/issuepilot/pkg/devin"
)

// fakeAgent is a scripted devin.Agent.
type fakeAgent struct {
	created  int
	scoping  []devin.ScopingRequest
	fixes    []devin.FixRequest
	statusFn func(id string) (*devin.SessionStatus, error)
	createFn func() error
}

func (f *fakeAgent) next() (*devin.CreateSessionResponse, error) {
	if f.createFn != nil {
		if err := f.createFn(); err != nil {
			return nil, err
		}
	}
	f.created++
	id := fmt.Sprintf("devin-%d", f.created)
	return &devin.CreateSessionResponse{SessionID: id, URL: "https://app.devin.ai/sessions/" + id}, nil
}

func (f *fakeAgent) CreateScopingSession(_ context.Context, req devin.ScopingRequest) (*devin.CreateSessionResponse, error) {
	f.scoping = append(f.scoping, req)
	return f.next()
}

func (f *fakeAgent) CreateFixSession(_ context.Context, req devin.FixRequest) (*devin.CreateSessionResponse, error) {
	f.fixes = append(f.fixes, req)
	return f.next()
}

func (f *fakeAgent) GetSessionStatus(_ context.Context, id string) (*devin.SessionStatus, error) {
	if f.statusFn == nil {
		return nil, errors.New("no status scripted")
	}
	return f.statusFn(id)
}

// respond makes every status call return the given values.
func (f *fakeAgent) respond(enum devin.StatusEnum, output string, prURL string) {
	f.statusFn = func(id string) (*devin.SessionStatus, error) {
		st := &devin.SessionStatus{SessionID: id, Status: "running", StatusEnum: enum}
		if output != "" {
			st.StructuredOutput = json.RawMessage(output)
		}
		if prURL != "" {
			st.PullRequest = &devin.PullRequest{URL: prURL}
		}
		return st, nil
	}
}

func newMachine() (*Machine, *fakeAgent, *state.MemoryStore) {
	store := state.NewMemoryStore()
	agent := &fakeAgent{}
	return New(store, agent, nil), agent, store
}

func scope(t *testing.T, m *Machine) *StartResult {
	t.Helper()
	res, err := m.StartScoping(context.Background(), ScopeInput{
		Owner: "acme", Repo: "widgets", Number: 42, Title: "Bug", Body: "Body",
	})
	require.NoError(t, err)
	return res
}

// scopedSession drives a session to scoped with a parsed result.
func scopedSession(t *testing.T, m *Machine, agent *fakeAgent) *types.Session {
	t.Helper()
	res := scope(t, m)
	agent.respond(devin.StatusFinished, `{"confidence_score":80,"summary":"Null check"}`, "")
	poll, err := m.PollStatus(context.Background(), res.Session.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusScoped, poll.Session.Status)
	return poll.Session
}

func TestScenario(t *testing.T) {
	m, agent, _ := newMachine()
	ctx := context.Background()

	res := scope(t, m)
	assert.Equal(t, types.StatusScoping, res.Session.Status)
	require.NotNil(t, res.Session.DevinSessionID)
	assert.Equal(t, res.RemoteSessionID, *res.Session.DevinSessionID)
	assert.Equal(t, "Body", agent.scoping[0].Issue.Body)

	output := `{"confidence_score":70,"complexity":"low","summary":"Patch save"}`
	agent.respond(devin.StatusWorking, output, "")
	poll, err := m.PollStatus(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusScoping, poll.Session.Status)
	require.NotNil(t, poll.Session.ScopingResult)
	assert.Equal(t, 70, poll.Session.ScopingResult.ConfidenceScore)
	assert.Equal(t, devin.StatusWorking, poll.Remote.StatusEnum)

	agent.respond(devin.StatusFinished, output, "")
	poll, err = m.PollStatus(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusScoped, poll.Session.Status)
	assert.Equal(t, 70, poll.Session.ScopingResult.ConfidenceScore)
}

func TestStartScopingConflict(t *testing.T) {
	m, agent, _ := newMachine()
	first := scope(t, m)

	_, err := m.StartScoping(context.Background(), ScopeInput{Owner: "acme", Repo: "widgets", Number: 42, Title: "Bug"})
	require.ErrorIs(t, err, types.ErrConflict)
	var conflict *types.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, first.Session.ID, conflict.Session.ID)
	assert.Equal(t, 1, agent.created, "no remote session for a rejected request")
}

func TestUniquenessAcrossSerialCalls(t *testing.T) {
	m, agent, store := newMachine()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m.StartScoping(ctx, ScopeInput{Owner: "acme", Repo: "widgets", Number: 42, Title: "Bug"})
	}
	agent.respond(devin.StatusExpired, "", "")
	sess, err := store.FindByIssue(ctx, "acme", "widgets", 42)
	require.NoError(t, err)
	_, err = m.PollStatus(ctx, sess.ID)
	require.NoError(t, err)
	m.StartScoping(ctx, ScopeInput{Owner: "acme", Repo: "widgets", Number: 42, Title: "Bug"})

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStartScopingRemoteError(t *testing.T) {
	m, agent, store := newMachine()
	agent.createFn = func() error {
		return &devin.APIError{Op: devin.ErrCreateSession, StatusCode: 500, Body: "boom"}
	}

	_, err := m.StartScoping(context.Background(), ScopeInput{Owner: "acme", Repo: "widgets", Number: 42})
	require.ErrorIs(t, err, devin.ErrCreateSession)

	list, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list, "nothing is persisted when the remote create fails")
}

func TestStartScopingFromPending(t *testing.T) {
	m, _, store := newMachine()
	ctx := context.Background()
	pending, err := store.Create(ctx, types.SessionDraft{RepoOwner: "acme", RepoName: "widgets", IssueNumber: 42, IssueTitle: "Bug"})
	require.NoError(t, err)

	res := scope(t, m)
	assert.Equal(t, pending.ID, res.Session.ID)
	assert.Equal(t, types.StatusScoping, res.Session.Status)
}

func TestRetryFromFailedClearsResults(t *testing.T) {
	m, agent, _ := newMachine()
	ctx := context.Background()
	first := scope(t, m)

	agent.respond(devin.StatusExpired, `{"confidence_score":10}`, "")
	poll, err := m.PollStatus(ctx, first.Session.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, poll.Session.Status)
	require.NotNil(t, poll.Session.ScopingResult)

	retry := scope(t, m)
	assert.Equal(t, first.Session.ID, retry.Session.ID)
	assert.Equal(t, types.StatusScoping, retry.Session.Status)
	assert.NotEqual(t, first.RemoteSessionID, retry.RemoteSessionID)
	assert.Equal(t, retry.RemoteSessionID, types.StringValue(retry.Session.DevinSessionID))
	assert.Nil(t, retry.Session.ScopingResult)
	assert.Nil(t, retry.Session.FixSessionID)
	assert.Nil(t, retry.Session.FixResult)
}

func TestFailurePrecedence(t *testing.T) {
	cases := map[string]struct {
		enum   devin.StatusEnum
		status string
	}{
		"expired":       {enum: devin.StatusExpired, status: "running"},
		"failed status": {enum: devin.StatusWorking, status: "failed"},
		"failed null":   {enum: "", status: "failed"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			m, agent, _ := newMachine()
			res := scope(t, m)
			agent.statusFn = func(id string) (*devin.SessionStatus, error) {
				return &devin.SessionStatus{
					SessionID:        id,
					Status:           tc.status,
					StatusEnum:       tc.enum,
					StructuredOutput: json.RawMessage(`{"confidence_score":90,"complexity":"low"}`),
				}, nil
			}
			poll, err := m.PollStatus(context.Background(), res.Session.ID)
			require.NoError(t, err)
			assert.Equal(t, types.StatusFailed, poll.Session.Status)
		})
	}
}

func TestFinishedWithoutOutput(t *testing.T) {
	m, agent, _ := newMachine()
	ctx := context.Background()
	res := scope(t, m)

	agent.respond(devin.StatusFinished, "", "")
	poll, err := m.PollStatus(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusScoped, poll.Session.Status)
	assert.Nil(t, poll.Session.ScopingResult)

	// Fix cannot start without a scoping result.
	_, err = m.StartFix(ctx, FixInput{Owner: "acme", Repo: "widgets", Number: 42})
	assert.ErrorIs(t, err, types.ErrMissingData)
}

func TestUnknownEnumCountsAsFinished(t *testing.T) {
	m, agent, _ := newMachine()
	res := scope(t, m)

	agent.respond(devin.StatusBlocked, `{"confidence_score":50}`, "")
	poll, err := m.PollStatus(context.Background(), res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusScoped, poll.Session.Status)
}

func TestNullEnumKeepsWorking(t *testing.T) {
	m, agent, _ := newMachine()
	res := scope(t, m)

	agent.respond("", `{"confidence_score":50}`, "")
	poll, err := m.PollStatus(context.Background(), res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusScoping, poll.Session.Status)
	assert.Equal(t, 50, poll.Session.ScopingResult.ConfidenceScore)
}

func TestIdempotentPolling(t *testing.T) {
	m, agent, _ := newMachine()
	ctx := context.Background()
	res := scope(t, m)

	agent.respond(devin.StatusWorking, `{"confidence_score":30,"action_plan":["look"]}`, "")
	first, err := m.PollStatus(ctx, res.Session.ID)
	require.NoError(t, err)
	second, err := m.PollStatus(ctx, res.Session.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Session.Status, second.Session.Status)
	assert.Equal(t, first.Session.ScopingResult, second.Session.ScopingResult)
	assert.Equal(t, first.Session.FixResult, second.Session.FixResult)
}

func TestResultNonRegression(t *testing.T) {
	m, agent, _ := newMachine()
	ctx := context.Background()
	res := scope(t, m)

	agent.respond(devin.StatusWorking, `{"confidence_score":65}`, "")
	_, err := m.PollStatus(ctx, res.Session.ID)
	require.NoError(t, err)

	for _, output := range []string{"", "null", `"not json"`, `[1,2]`} {
		agent.respond(devin.StatusWorking, output, "")
		poll, err := m.PollStatus(ctx, res.Session.ID)
		require.NoError(t, err)
		require.NotNil(t, poll.Session.ScopingResult, "output %q regressed the result", output)
		assert.Equal(t, 65, poll.Session.ScopingResult.ConfidenceScore)
	}

	// A later successful parse replaces the earlier one wholesale.
	agent.respond(devin.StatusWorking, `{"summary":"rewritten"}`, "")
	poll, err := m.PollStatus(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, poll.Session.ScopingResult.ConfidenceScore)
	assert.Equal(t, "rewritten", poll.Session.ScopingResult.Summary)
}

func TestStartFixTransitions(t *testing.T) {
	m, agent, _ := newMachine()
	ctx := context.Background()
	res := scope(t, m)

	_, err := m.StartFix(ctx, FixInput{Owner: "acme", Repo: "widgets", Number: 42})
	assert.ErrorIs(t, err, types.ErrInvalidState)

	agent.respond(devin.StatusFinished, `{"confidence_score":80}`, "")
	_, err = m.PollStatus(ctx, res.Session.ID)
	require.NoError(t, err)

	fix, err := m.StartFix(ctx, FixInput{Owner: "acme", Repo: "widgets", Number: 42})
	require.NoError(t, err)
	assert.Equal(t, types.StatusFixing, fix.Session.Status)
	assert.Equal(t, fix.RemoteSessionID, types.StringValue(fix.Session.FixSessionID))
	assert.Equal(t, fix.RemoteSessionURL, types.StringValue(fix.Session.FixSessionURL))
	// The scoping run's remote id is kept.
	assert.Equal(t, res.RemoteSessionID, types.StringValue(fix.Session.DevinSessionID))

	last := agent.fixes[len(agent.fixes)-1]
	assert.Equal(t, "Bug", last.Issue.Title, "title falls back to the stored title")
	assert.Equal(t, "", last.Issue.Body)
	assert.Equal(t, 80, last.Scoping.ConfidenceScore)
}

func TestStartFixOverrides(t *testing.T) {
	m, agent, _ := newMachine()
	scopedSession(t, m, agent)

	_, err := m.StartFix(context.Background(), FixInput{
		Owner: "acme", Repo: "widgets", Number: 42, Title: "Better title", Body: "Fresh body",
	})
	require.NoError(t, err)
	assert.Equal(t, "Better title", agent.fixes[0].Issue.Title)
	assert.Equal(t, "Fresh body", agent.fixes[0].Issue.Body)
}

func TestStartFixNotFound(t *testing.T) {
	m, _, _ := newMachine()
	_, err := m.StartFix(context.Background(), FixInput{Owner: "acme", Repo: "widgets", Number: 1})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStartFixRemoteError(t *testing.T) {
	m, agent, store := newMachine()
	sess := scopedSession(t, m, agent)
	agent.createFn = func() error {
		return &devin.APIError{Op: devin.ErrCreateSession, StatusCode: 429, Body: "slow down"}
	}

	_, err := m.StartFix(context.Background(), FixInput{Owner: "acme", Repo: "widgets", Number: 42})
	require.ErrorIs(t, err, devin.ErrCreateSession)

	got, err := store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusScoped, got.Status)
}

func TestPRURLPrecedence(t *testing.T) {
	m, agent, _ := newMachine()
	ctx := context.Background()
	sess := scopedSession(t, m, agent)
	_, err := m.StartFix(ctx, FixInput{Owner: "acme", Repo: "widgets", Number: 42})
	require.NoError(t, err)

	agent.respond(devin.StatusWorking, `{"success":false,"pr_url":"https://x/1"}`, "https://x/2")
	poll, err := m.PollStatus(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFixing, poll.Session.Status)
	require.NotNil(t, poll.Session.FixResult)
	assert.Equal(t, "https://x/2", types.StringValue(poll.Session.FixResult.PRURL))

	agent.respond(devin.StatusFinished, `{"success":true,"pr_url":"https://x/1","summary":"done"}`, "")
	poll, err = m.PollStatus(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFixed, poll.Session.Status)
	assert.Equal(t, "https://x/1", types.StringValue(poll.Session.FixResult.PRURL))
	assert.True(t, poll.Session.FixResult.Success)
}

func TestFixPollUsesFixSession(t *testing.T) {
	m, agent, _ := newMachine()
	ctx := context.Background()
	sess := scopedSession(t, m, agent)
	fix, err := m.StartFix(ctx, FixInput{Owner: "acme", Repo: "widgets", Number: 42})
	require.NoError(t, err)

	var polled string
	agent.statusFn = func(id string) (*devin.SessionStatus, error) {
		polled = id
		return &devin.SessionStatus{SessionID: id, StatusEnum: devin.StatusFinished}, nil
	}
	poll, err := m.PollStatus(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, fix.RemoteSessionID, polled)
	assert.Equal(t, types.StatusFixed, poll.Session.Status)
	assert.Nil(t, poll.Session.FixResult)
}

func TestPollInvalidState(t *testing.T) {
	m, agent, store := newMachine()
	ctx := context.Background()
	pending, err := store.Create(ctx, types.SessionDraft{RepoOwner: "acme", RepoName: "widgets", IssueNumber: 42})
	require.NoError(t, err)

	_, err = m.PollStatus(ctx, pending.ID)
	assert.ErrorIs(t, err, types.ErrInvalidState)

	sess := scopedSession(t, m, agent)
	_, err = m.PollStatus(ctx, sess.ID)
	assert.ErrorIs(t, err, types.ErrInvalidState)
}

func TestPollWithoutRemoteID(t *testing.T) {
	m, agent, store := newMachine()
	ctx := context.Background()
	sess, err := store.Create(ctx, types.SessionDraft{
		RepoOwner: "acme", RepoName: "widgets", IssueNumber: 42, Status: types.StatusScoping,
	})
	require.NoError(t, err)
	agent.statusFn = func(string) (*devin.SessionStatus, error) {
		t.Error("remote status must not be fetched without a remote id")
		return nil, errors.New("unexpected call")
	}

	_, err = m.PollStatus(ctx, sess.ID)
	assert.ErrorIs(t, err, types.ErrInvalidState)
}

func TestPollNotFound(t *testing.T) {
	m, _, _ := newMachine()
	_, err := m.PollStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPollRemoteError(t *testing.T) {
	m, agent, store := newMachine()
	res := scope(t, m)
	agent.statusFn = func(string) (*devin.SessionStatus, error) {
		return nil, &devin.APIError{Op: devin.ErrSessionStatus, StatusCode: 503, Body: "unavailable"}
	}

	_, err := m.PollStatus(context.Background(), res.Session.ID)
	require.ErrorIs(t, err, devin.ErrSessionStatus)

	got, err := store.Get(context.Background(), res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusScoping, got.Status)
}

func TestClassify(t *testing.T) {
	cases := map[devin.StatusEnum]Progress{
		"":                                   ProgressIndeterminate,
		devin.StatusWorking:                  ProgressWorking,
		devin.StatusResumed:                  ProgressWorking,
		devin.StatusSuspendRequested:         ProgressWorking,
		devin.StatusSuspendRequestedFrontend: ProgressWorking,
		devin.StatusResumeRequested:          ProgressWorking,
		devin.StatusResumeRequestedFrontend:  ProgressWorking,
		devin.StatusFinished:                 ProgressFinished,
		devin.StatusBlocked:                  ProgressFinished,
		devin.StatusExpired:                  ProgressFinished,
		"something_new":                      ProgressFinished,
	}
	for enum, want := range cases {
		assert.Equal(t, want, Classify(enum), "status_enum %q", enum)
	}
}

func TestTransitionTableCoversActiveStates(t *testing.T) {
	for _, from := range []types.Status{types.StatusScoping, types.StatusFixing} {
		for _, p := range []Progress{ProgressIndeterminate, ProgressWorking, ProgressFinished} {
			for _, parsed := range []bool{false, true} {
				next, err := nextStatus(from, p, parsed, false)
				require.NoError(t, err)
				assert.True(t, next.Valid())

				failed, err := nextStatus(from, p, parsed, true)
				require.NoError(t, err)
				assert.Equal(t, types.StatusFailed, failed)
			}
		}
	}
	for _, from := range []types.Status{types.StatusPending, types.StatusScoped, types.StatusFixed, types.StatusFailed} {
		_, err := nextStatus(from, ProgressFinished, true, false)
		assert.ErrorIs(t, err, types.ErrInvalidState)
	}
}

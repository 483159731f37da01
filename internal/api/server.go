// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/user/issuepilot/internal/github"
	"github.com/user/issuepilot/internal/lifecycle"
	"github.com/user/issuepilot/internal/types"
	"github.com/user/issuepilot/pkg/devin"
)

// IssueFetcher looks up an issue on the tracker. It fills in a missing
// title or body on scope and fix requests.
type IssueFetcher interface {
	GetIssue(ctx context.Context, owner, repo string, number int) (*github.Issue, error)
}

// Server is the HTTP front end for the session state machine.
type Server struct {
	machine *lifecycle.Machine
	store   types.SessionStore
	issues  IssueFetcher
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewServer creates a Server. issues may be nil, in which case scope
// requests must carry a title.
func NewServer(machine *lifecycle.Machine, issues IssueFetcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		machine: machine,
		store:   machine.Store(),
		issues:  issues,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/devin/scope", s.handleScope)
	s.mux.HandleFunc("POST /api/devin/fix", s.handleFix)
	s.mux.HandleFunc("GET /api/devin/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("PATCH /api/sessions/{id}", s.handlePatchSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// issueRequest is the JSON body for POST /api/devin/scope and /api/devin/fix.
type issueRequest struct {
	RepoOwner   string `json:"repo_owner"`
	RepoName    string `json:"repo_name"`
	IssueNumber int    `json:"issue_number"`
	IssueTitle  string `json:"issue_title"`
	IssueBody   string `json:"issue_body"`
}

type startResponse struct {
	Session         *types.Session `json:"session"`
	DevinSessionID  string         `json:"devin_session_id"`
	DevinSessionURL string         `json:"devin_session_url"`
}

func (s *Server) decodeIssueRequest(w http.ResponseWriter, r *http.Request) (*issueRequest, bool) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return nil, false
	}
	if req.RepoOwner == "" || req.RepoName == "" || req.IssueNumber <= 0 {
		writeError(w, http.StatusBadRequest, "repo_owner, repo_name and issue_number are required")
		return nil, false
	}
	return &req, true
}

// fillFromTracker fetches title and body when either is missing. Tracker
// errors are logged; the request proceeds with what it has.
func (s *Server) fillFromTracker(ctx context.Context, req *issueRequest) {
	if s.issues == nil || (req.IssueTitle != "" && req.IssueBody != "") {
		return
	}
	issue, err := s.issues.GetIssue(ctx, req.RepoOwner, req.RepoName, req.IssueNumber)
	if err != nil {
		s.logger.Warn("fetch issue failed",
			"issue", types.NewIssueKey(req.RepoOwner, req.RepoName, req.IssueNumber).String(), "error", err)
		return
	}
	if req.IssueTitle == "" {
		req.IssueTitle = issue.Title
	}
	if req.IssueBody == "" {
		req.IssueBody = issue.BodyText()
	}
}

func (s *Server) handleScope(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeIssueRequest(w, r)
	if !ok {
		return
	}
	s.fillFromTracker(r.Context(), req)
	if req.IssueTitle == "" {
		writeError(w, http.StatusBadRequest, "issue_title is required")
		return
	}

	res, err := s.machine.StartScoping(r.Context(), lifecycle.ScopeInput{
		Owner:  req.RepoOwner,
		Repo:   req.RepoName,
		Number: req.IssueNumber,
		Title:  req.IssueTitle,
		Body:   req.IssueBody,
	})
	if err != nil {
		s.writeMachineError(w, "start scoping", err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{
		Session:         res.Session,
		DevinSessionID:  res.RemoteSessionID,
		DevinSessionURL: res.RemoteSessionURL,
	})
}

func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeIssueRequest(w, r)
	if !ok {
		return
	}
	if req.IssueBody == "" {
		s.fillFromTracker(r.Context(), req)
	}

	res, err := s.machine.StartFix(r.Context(), lifecycle.FixInput{
		Owner:  req.RepoOwner,
		Repo:   req.RepoName,
		Number: req.IssueNumber,
		Title:  req.IssueTitle,
		Body:   req.IssueBody,
	})
	if err != nil {
		s.writeMachineError(w, "start fix", err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{
		Session:         res.Session,
		DevinSessionID:  res.RemoteSessionID,
		DevinSessionURL: res.RemoteSessionURL,
	})
}

type statusResponse struct {
	Session          *types.Session     `json:"session"`
	DevinStatus      string             `json:"devin_status"`
	DevinStatusEnum  devin.StatusEnum   `json:"devin_status_enum"`
	StructuredOutput json.RawMessage    `json:"structured_output"`
	PullRequest      *devin.PullRequest `json:"pull_request"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	res, err := s.machine.PollStatus(r.Context(), types.SessionID(id))
	if err != nil {
		s.writeMachineError(w, "poll status", err)
		return
	}
	resp := statusResponse{Session: res.Session}
	if res.Remote != nil {
		resp.DevinStatus = res.Remote.Status
		resp.DevinStatusEnum = res.Remote.StatusEnum
		resp.PullRequest = res.Remote.PullRequest
		if len(res.Remote.StructuredOutput) > 0 {
			resp.StructuredOutput = res.Remote.StructuredOutput
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner, repo, number := q.Get("repo_owner"), q.Get("repo_name"), q.Get("issue_number")
	if owner != "" || repo != "" || number != "" {
		n, err := strconv.Atoi(number)
		if owner == "" || repo == "" || err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "repo_owner, repo_name and issue_number must be given together")
			return
		}
		sess, err := s.store.FindByIssue(r.Context(), owner, repo, n)
		if err != nil {
			s.writeMachineError(w, "find session", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]*types.Session{"session": sess})
		return
	}

	sessions, err := s.store.List(r.Context())
	if err != nil {
		s.writeMachineError(w, "list sessions", err)
		return
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	writeJSON(w, http.StatusOK, map[string][]*types.Session{"sessions": sessions})
}

// createSessionRequest is the JSON body for POST /api/sessions.
type createSessionRequest struct {
	RepoOwner       string       `json:"repo_owner"`
	RepoName        string       `json:"repo_name"`
	IssueNumber     int          `json:"issue_number"`
	IssueTitle      string       `json:"issue_title"`
	Status          types.Status `json:"status"`
	DevinSessionID  string       `json:"devin_session_id"`
	DevinSessionURL string       `json:"devin_session_url"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RepoOwner == "" || req.RepoName == "" || req.IssueNumber <= 0 || req.IssueTitle == "" {
		writeError(w, http.StatusBadRequest, "repo_owner, repo_name, issue_number and issue_title are required")
		return
	}
	if req.Status != "" && !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status: "+string(req.Status))
		return
	}

	sess, err := s.store.Create(r.Context(), types.SessionDraft{
		IssueNumber:     req.IssueNumber,
		IssueTitle:      req.IssueTitle,
		RepoOwner:       req.RepoOwner,
		RepoName:        req.RepoName,
		Status:          req.Status,
		DevinSessionID:  types.StringPtr(req.DevinSessionID),
		DevinSessionURL: types.StringPtr(req.DevinSessionURL),
	})
	if err != nil {
		s.writeMachineError(w, "create session", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]*types.Session{"session": sess})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r.Context(), types.SessionID(r.PathValue("id")))
	if err != nil {
		s.writeMachineError(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*types.Session{"session": sess})
}

func (s *Server) handlePatchSession(w http.ResponseWriter, r *http.Request) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if raw, ok := fields["status"]; ok {
		var status types.Status
		if err := json.Unmarshal(raw, &status); err != nil || !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status: "+string(raw))
			return
		}
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	// Reject patches that do not fit the session shape before touching the store.
	var shape types.Session
	if err := json.Unmarshal(patch, &shape); err != nil {
		writeError(w, http.StatusBadRequest, "invalid session fields: "+err.Error())
		return
	}

	// Identity fields in the patch are restored by the store.
	sess, err := s.store.Update(r.Context(), types.SessionID(r.PathValue("id")), func(sess *types.Session) {
		_ = json.Unmarshal(patch, sess)
	})
	if err != nil {
		s.writeMachineError(w, "update session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*types.Session{"session": sess})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), types.SessionID(r.PathValue("id"))); err != nil {
		s.writeMachineError(w, "delete session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeMachineError maps error kinds from the state machine, store and
// agent client onto HTTP statuses.
func (s *Server) writeMachineError(w http.ResponseWriter, op string, err error) {
	var conflict *types.ConflictError
	var apiErr *devin.APIError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "session": conflict.Session})
	case errors.Is(err, types.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrInvalidState), errors.Is(err, types.ErrMissingData):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &apiErr),
		errors.Is(err, devin.ErrCreateSession),
		errors.Is(err, devin.ErrSessionStatus):
		s.logger.Warn(op+" failed upstream", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

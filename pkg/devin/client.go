package devin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public Devin API root.
const DefaultBaseURL = "https://api.devin.ai/v1"

var (
	// ErrCreateSession marks a rejected session creation.
	ErrCreateSession = errors.New("create devin session")
	// ErrSessionStatus marks a rejected status lookup.
	ErrSessionStatus = errors.New("get devin session status")
)

// APIError is a non-success response from the Devin API. Body carries the
// remote error text as received.
type APIError struct {
	Op         error
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%v: API error (status %d): %s", e.Op, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.Op }

// ScopingRequest describes the issue a scoping session should analyze.
type ScopingRequest struct {
	Issue Issue
}

// FixRequest describes the issue to fix and the plan to follow.
type FixRequest struct {
	Issue   Issue
	Scoping *ScopingResult
}

// Agent is the remote task-execution service used by the session lifecycle.
type Agent interface {
	CreateScopingSession(ctx context.Context, req ScopingRequest) (*CreateSessionResponse, error)
	CreateFixSession(ctx context.Context, req FixRequest) (*CreateSessionResponse, error)
	GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error)
}

// Config holds Devin client settings.
type Config struct {
	BaseURL        string
	APIKey         string
	MaxIssueTokens int
	Timeout        time.Duration
}

// Client talks to the Devin sessions API.
type Client struct {
	config     Config
	httpClient *http.Client
	body       *BodyPreparer
}

var _ Agent = (*Client)(nil)

// New creates a Devin client. Empty fields take their defaults.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		body:       &BodyPreparer{MaxTokens: config.MaxIssueTokens},
	}
}

// CreateScopingSession starts a remote session that scopes req.Issue.
func (c *Client) CreateScopingSession(ctx context.Context, req ScopingRequest) (*CreateSessionResponse, error) {
	issue := req.Issue
	issue.Body = c.body.Prepare(issue.Body)
	prompt, err := BuildScopingPrompt(issue)
	if err != nil {
		return nil, err
	}
	return c.createSession(ctx, prompt)
}

// CreateFixSession starts a remote session that implements req.Scoping.
func (c *Client) CreateFixSession(ctx context.Context, req FixRequest) (*CreateSessionResponse, error) {
	issue := req.Issue
	issue.Body = c.body.Prepare(issue.Body)
	prompt, err := BuildFixPrompt(issue, req.Scoping)
	if err != nil {
		return nil, err
	}
	return c.createSession(ctx, prompt)
}

// GetSessionStatus fetches the current state of a remote session.
func (c *Client) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	respBody, status, err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionStatus, err)
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{Op: ErrSessionStatus, StatusCode: status, Body: string(respBody)}
	}

	var out SessionStatus
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %w", ErrSessionStatus, err)
	}
	return &out, nil
}

func (c *Client) createSession(ctx context.Context, prompt string) (*CreateSessionResponse, error) {
	body, err := json.Marshal(createSessionRequest{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	respBody, status, err := c.do(ctx, http.MethodPost, "/sessions", body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateSession, err)
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{Op: ErrCreateSession, StatusCode: status, Body: string(respBody)}
	}

	var out CreateSessionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %w", ErrCreateSession, err)
	}
	if out.SessionID == "" {
		return nil, fmt.Errorf("%w: response has no session_id", ErrCreateSession)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

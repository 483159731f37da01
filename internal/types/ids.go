// internal/types/ids.go
package types

import (
	"fmt"

	"github.com/google/uuid"
)

type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// IssueKey identifies a tracked issue. At most one session exists per key.
type IssueKey struct {
	Owner  string
	Repo   string
	Number int
}

func NewIssueKey(owner, repo string, number int) IssueKey {
	return IssueKey{Owner: owner, Repo: repo, Number: number}
}

func (k IssueKey) String() string {
	return fmt.Sprintf("%s/%s#%d", k.Owner, k.Repo, k.Number)
}

package lifecycle

import (
	"fmt"
	"strings"

	"github.com/user/issuepilot/internal/types"
	"github.com/user/issuepilot/pkg/devin"
)

// Progress is the local reading of a remote session's status_enum.
type Progress int

const (
	// ProgressIndeterminate means status_enum was null. It is treated as
	// working.
	ProgressIndeterminate Progress = iota
	ProgressWorking
	ProgressFinished
)

func (p Progress) String() string {
	switch p {
	case ProgressWorking:
		return "working"
	case ProgressFinished:
		return "finished"
	default:
		return "indeterminate"
	}
}

// Classify maps a remote status_enum onto a Progress. Any non-null value
// that is not recognizably in flight counts as finished.
func Classify(e devin.StatusEnum) Progress {
	switch {
	case e == "":
		return ProgressIndeterminate
	case e == devin.StatusWorking, e == devin.StatusResumed, strings.Contains(string(e), "requested"):
		return ProgressWorking
	default:
		return ProgressFinished
	}
}

// failureSignal reports whether the remote session ended in failure.
func failureSignal(remote *devin.SessionStatus) bool {
	return remote.StatusEnum == devin.StatusExpired || remote.Status == "failed"
}

type transitionKey struct {
	from     types.Status
	progress Progress
	parsed   bool
}

// transitions is the complete poll outcome table for sessions with an
// active remote run. A failure signal overrides every row with failed.
var transitions = map[transitionKey]types.Status{
	{types.StatusScoping, ProgressIndeterminate, false}: types.StatusScoping,
	{types.StatusScoping, ProgressIndeterminate, true}:  types.StatusScoping,
	{types.StatusScoping, ProgressWorking, false}:       types.StatusScoping,
	{types.StatusScoping, ProgressWorking, true}:        types.StatusScoping,
	{types.StatusScoping, ProgressFinished, false}:      types.StatusScoped,
	{types.StatusScoping, ProgressFinished, true}:       types.StatusScoped,

	{types.StatusFixing, ProgressIndeterminate, false}: types.StatusFixing,
	{types.StatusFixing, ProgressIndeterminate, true}:  types.StatusFixing,
	{types.StatusFixing, ProgressWorking, false}:       types.StatusFixing,
	{types.StatusFixing, ProgressWorking, true}:        types.StatusFixing,
	{types.StatusFixing, ProgressFinished, false}:      types.StatusFixed,
	{types.StatusFixing, ProgressFinished, true}:       types.StatusFixed,
}

// nextStatus returns the status a poll moves a session to.
func nextStatus(from types.Status, progress Progress, parsed, failed bool) (types.Status, error) {
	next, ok := transitions[transitionKey{from, progress, parsed}]
	if !ok {
		return "", fmt.Errorf("%w: no active remote session in status %s", types.ErrInvalidState, from)
	}
	if failed {
		return types.StatusFailed, nil
	}
	return next, nil
}

// canStartScoping reports whether a scoping run may begin from status.
func canStartScoping(status types.Status) bool {
	return status == types.StatusPending || status == types.StatusFailed
}

package coordinator

import "fmt"

// ErrorKind enumerates the error kinds the coordinator returns in replies.
// Errors never mutate state; they are propagated in the reply only.
type ErrorKind string

const (
	ErrCoordinatorUnavailable ErrorKind = "coordinator_unavailable"
	ErrTimeout                ErrorKind = "timeout"
	ErrNotFound               ErrorKind = "not_found"
	ErrStreamNotFound         ErrorKind = "stream_not_found"
	ErrWriterNotFound         ErrorKind = "writer_not_found"
	ErrLastStreamMember       ErrorKind = "last_stream_member"
	ErrDisallowed             ErrorKind = "disallowed"
	ErrUnknownCommand         ErrorKind = "unknown_command"
)

// Error is the coordinator's typed error, following the same
// Code/Message shape as pkg/db.Error rather than a bare string.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds an Error of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrDisallowedOutOfSyncReplica is the specific disallowed reason returned
// by add_replica's freshness gate (enforced by the API caller, not here).
const ErrDisallowedOutOfSyncReplica = "out_of_sync_replica"

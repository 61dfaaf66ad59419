package core

// StatusType classifies the terminal (or deferred) outcome of a round.
type StatusType string

const (
	StatusOK              StatusType = "ok"
	StatusInProgress      StatusType = "in_progress"
	StatusUnknownError    StatusType = "unknown_error"
	StatusPreconditionErr StatusType = "precondition_error"
	StatusInvalidArgument StatusType = "invalid_argument"
)

// Status is the result of executing a collective operation. StatusInProgress
// is a deferred-success marker: completion will be signaled later through each
// entry's callback. Every other type is terminal.
type Status struct {
	Type   StatusType
	Reason string
}

// OK returns a terminal success status.
func OK() Status {
	return Status{Type: StatusOK}
}

// InProgress marks a round whose completion is signaled asynchronously.
func InProgress() Status {
	return Status{Type: StatusInProgress}
}

// UnknownError returns a terminal failure status with the given reason.
func UnknownError(reason string) Status {
	return Status{Type: StatusUnknownError, Reason: reason}
}

// PreconditionError returns a terminal failure status for rounds that were
// rejected before any collective call was made.
func PreconditionError(reason string) Status {
	return Status{Type: StatusPreconditionErr, Reason: reason}
}

// InvalidArgument returns a terminal failure status for malformed rounds.
func InvalidArgument(reason string) Status {
	return Status{Type: StatusInvalidArgument, Reason: reason}
}

// Ok reports whether the status is terminal success.
func (s Status) Ok() bool {
	return s.Type == StatusOK
}

// Deferred reports whether completion will arrive through callbacks.
func (s Status) Deferred() bool {
	return s.Type == StatusInProgress
}

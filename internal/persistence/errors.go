package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrConstraintViolation is returned when a write would break a storage constraint.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrDuplicate is returned when a record with the same key already exists.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrVersionConflict is returned by CloseSession when the expected version is stale.
	ErrVersionConflict = errors.New("persistence: version conflict")
	// ErrAlreadyClosed is returned by CloseSession when the session is no longer open.
	ErrAlreadyClosed = errors.New("persistence: session already closed")
	// ErrSessionClosed is returned when records of a closed session are written.
	ErrSessionClosed = errors.New("persistence: session closed")
	// ErrUnknownStudent is returned when a write targets a student without a seeded record.
	ErrUnknownStudent = errors.New("persistence: student not in session")
)

// UnknownStudentsError lists the student ids that have no record in the session.
type UnknownStudentsError struct {
	StudentIDs []string
}

// Error implements the error interface.
func (e *UnknownStudentsError) Error() string {
	return ErrUnknownStudent.Error()
}

// Is reports whether target is ErrUnknownStudent.
func (e *UnknownStudentsError) Is(target error) bool {
	return target == ErrUnknownStudent
}

package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrForbidden is returned when the acting principal does not own the session and is not an administrator.
	ErrForbidden = errors.New("application: forbidden")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrConflict groups failures caused by the current state of a session.
	ErrConflict = errors.New("application: conflict")

	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = fmt.Errorf("session %w", ErrNotFound)
	// ErrCourseNotFound is returned when the course directory does not know a course.
	ErrCourseNotFound = fmt.Errorf("course %w", ErrNotFound)

	// ErrSessionClosed is returned when marks target a closed session.
	ErrSessionClosed = fmt.Errorf("%w: session closed", ErrConflict)
	// ErrSessionAlreadyClosed is returned when a closed session is closed again.
	ErrSessionAlreadyClosed = fmt.Errorf("%w: session already closed", ErrConflict)
	// ErrCloseConflict is returned when a close lost the version race on every attempt.
	ErrCloseConflict = fmt.Errorf("%w: close conflict", ErrConflict)

	// ErrRosterUnavailable is returned when the roster could not be fetched while opening a session.
	ErrRosterUnavailable = errors.New("application: roster unavailable")

	// ErrStudentNotInSession is returned when a mark names a student outside the session roster.
	ErrStudentNotInSession = errors.New("application: student not in session")
)

// StudentNotInSessionError lists the students that are not part of the session roster.
type StudentNotInSessionError struct {
	StudentIDs []string
}

// Error implements the error interface.
func (e *StudentNotInSessionError) Error() string {
	if e == nil || len(e.StudentIDs) == 0 {
		return ErrStudentNotInSession.Error()
	}
	ids := append([]string(nil), e.StudentIDs...)
	sort.Strings(ids)
	return fmt.Sprintf("%s: %s", ErrStudentNotInSession.Error(), strings.Join(ids, ", "))
}

// Is reports whether target is ErrStudentNotInSession.
func (e *StudentNotInSessionError) Is(target error) bool {
	return target == ErrStudentNotInSession
}

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

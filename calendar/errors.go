package calendar

import "fmt"

// ErrorType classifies calendar engine errors.
type ErrorType string

const (
	// ErrPermDenied means the acting account lacks a required right.
	ErrPermDenied ErrorType = "perm_denied"
	// ErrForbidden means the operation would produce an invalid item,
	// such as a series with no expandable instances.
	ErrForbidden ErrorType = "forbidden"
	// ErrFailure wraps I/O and messaging errors from collaborators.
	ErrFailure ErrorType = "failure"
)

// Error represents a calendar engine error.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func permDenied(message string) error {
	return &Error{Type: ErrPermDenied, Message: message}
}

func forbidden(message string) error {
	return &Error{Type: ErrForbidden, Message: message}
}

func failure(message string, err error) error {
	return &Error{Type: ErrFailure, Message: message, Err: err}
}

// OrganizerViolation distinguishes the ways an invite can illegally alter
// the organizer of an existing series.
type OrganizerViolation string

const (
	OrganizerAddNotAllowed    OrganizerViolation = "add_organizer_not_allowed"
	OrganizerChangeNotAllowed OrganizerViolation = "change_organizer_not_allowed"
	OrganizerDeleteNotAllowed OrganizerViolation = "delete_organizer_not_allowed"
	// OrganizerMismatch means two components of the same series disagree
	// on the organizer.
	OrganizerMismatch OrganizerViolation = "organizer_mismatch"
)

// BadOrganizerError reports an organizer-integrity violation. The violation
// kind is kept separate from the message so clients can distinguish
// same-component from cross-component problems.
type BadOrganizerError struct {
	Violation OrganizerViolation
	Existing  string // existing organizer address, empty if none
	Incoming  string // incoming organizer address, empty if none
}

func (e *BadOrganizerError) Error() string {
	return fmt.Sprintf("bad organizer (%s): existing=%q incoming=%q", e.Violation, e.Existing, e.Incoming)
}

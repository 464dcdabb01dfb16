package application

import (
	"errors"
	"sort"
	"strings"

	"github.com/example/chair-portal/internal/recurrence"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when a uniqueness constraint rejects a write.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrInvalidCredentials is returned when an email/password pair or token does not match.
	ErrInvalidCredentials = errors.New("application: invalid credentials")
	// ErrSessionExpired is returned for sessions past their expiry.
	ErrSessionExpired = errors.New("application: session expired")
	// ErrSessionRevoked is returned for sessions that were logged out.
	ErrSessionRevoked = errors.New("application: session revoked")

	// ErrAlreadyClaimed is returned when another user already chairs the meeting.
	ErrAlreadyClaimed = errors.New("application: meeting already has a chairperson")
	// ErrMeetingNotFound is returned when a meeting id resolves to neither a
	// stored meeting nor a template instance.
	ErrMeetingNotFound = errors.New("application: meeting not found")
	// ErrMeetingClosed is returned when a meeting is cancelled or not accepting signups.
	ErrMeetingClosed = errors.New("application: meeting is not accepting signups")
	// ErrGenderRestricted is returned when the user's gender does not match the meeting restriction.
	ErrGenderRestricted = errors.New("application: meeting is restricted to another gender")
	// ErrNotOwner is returned when someone other than the chair or an admin releases a signup.
	ErrNotOwner = errors.New("application: signup belongs to another user")
	// ErrSignupNotFound is returned when a meeting has no active signup.
	ErrSignupNotFound = errors.New("application: signup not found")
	// ErrDuplicateSignup is returned when a user volunteers twice for the same date.
	ErrDuplicateSignup = errors.New("application: already volunteered for this date")
	// ErrPastDate is returned when volunteering for a date before today.
	ErrPastDate = errors.New("application: date is in the past")
	// ErrTransientStore is returned for retryable storage failures.
	ErrTransientStore = errors.New("application: storage temporarily unavailable")
)

// ConfigurationError reports an invalid recurring schedule. It is fatal at startup.
type ConfigurationError = recurrence.ConfigurationError

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
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

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

func newValidationError(field, message string) *ValidationError {
	v := &ValidationError{}
	v.add(field, message)
	return v
}

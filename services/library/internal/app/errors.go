package app

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("not found")
	ErrPayloadTooLarge = errors.New("payload too large")

	ErrBookNotFound     = fmt.Errorf("book %w", ErrNotFound)
	ErrProfileNotFound  = fmt.Errorf("user profile %w", ErrNotFound)
	ErrCommentNotFound  = fmt.Errorf("comment %w", ErrNotFound)
	ErrFeedbackNotFound = fmt.Errorf("feedback %w", ErrNotFound)

	// ErrInvalidCredentials is returned by SignIn; it wraps ErrUnauthorized.
	ErrInvalidCredentials = fmt.Errorf("invalid login credentials: %w", ErrUnauthorized)
	// ErrInvalidPassword is returned by AdminLogin; it wraps ErrUnauthorized.
	ErrInvalidPassword = fmt.Errorf("invalid password: %w", ErrUnauthorized)
)

// PublicMessage returns the message of an ErrInvalidInput or
// ErrPayloadTooLarge error without its sentinel prefix.
func PublicMessage(err error) string {
	var pe publicError
	if errors.As(err, &pe) {
		return pe.msg
	}
	return err.Error()
}

type publicError struct {
	kind error
	msg  string
}

func (e publicError) Error() string { return e.kind.Error() + ": " + e.msg }
func (e publicError) Unwrap() error { return e.kind }

func badRequest(msg string) error {
	return publicError{kind: ErrInvalidInput, msg: msg}
}

func tooLarge(msg string) error {
	return publicError{kind: ErrPayloadTooLarge, msg: msg}
}

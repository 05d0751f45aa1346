package observable

import "errors"

var (
	// ErrInvalidObserver is returned when a target and selector do not
	// resolve to a callable with the slot's notification signature.
	ErrInvalidObserver = errors.New("invalid observer")

	// ErrNilHost is returned when a nil host is passed to Set or Register.
	ErrNilHost = errors.New("nil host")
)

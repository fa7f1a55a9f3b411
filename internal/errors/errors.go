// Package errors defines the sentinel errors shared by every layer of the application.
//
// Services and core components wrap these with fmt.Errorf("%w: ...") so callers can classify a
// failure with errors.Is without knowing which component produced it. The HTTP layer maps them to
// status codes in one place.
package errors

import "errors"

var (
	// ErrValidation signals input that failed a pre-flight check, such as an empty chat message or
	// a setting outside its allowed range. No request is sent and no state changes.
	ErrValidation = errors.New("validation failed")

	// ErrParse signals a single stream payload that is not valid JSON or lacks the expected shape.
	// The payload is dropped and the stream keeps going.
	ErrParse = errors.New("malformed stream payload")

	// ErrTransport signals that the stream connection ended before the done event arrived.
	ErrTransport = errors.New("stream transport failed")

	// ErrBusy signals a submission while the previous reply is still streaming.
	ErrBusy = errors.New("reply still streaming")

	// ErrInternal is the catch-all for unexpected failures.
	ErrInternal = errors.New("internal server error")
)

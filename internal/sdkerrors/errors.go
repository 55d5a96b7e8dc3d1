package sdkerrors

import (
	"errors"
	"fmt"
)

// Unrecoverable error classes surfaced to unrecoverable-error listeners.
// Recoverable (validation) failures are represented by ErrorWithResponse.

// ConfigurationError indicates a rail is disabled or its remote configuration
// is missing required values. No external switch is attempted.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

func NewConfigurationError(message string) *ConfigurationError {
	return &ConfigurationError{Message: message}
}

// AppSwitchNotAvailableError indicates the target provider app is not
// installed, fails signature verification, or has no browser fallback.
type AppSwitchNotAvailableError struct {
	Message string
}

func (e *AppSwitchNotAvailableError) Error() string {
	return e.Message
}

func NewAppSwitchNotAvailableError(message string) *AppSwitchNotAvailableError {
	return &AppSwitchNotAvailableError{Message: message}
}

// AuthorizationError indicates the current credential does not permit the
// requested operation, e.g. a client key used where a client token is required.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

func NewAuthorizationError(message string) *AuthorizationError {
	return &AuthorizationError{Message: message}
}

// ServerError indicates the gateway violated its own contract: a 5xx status
// or a response that cannot be decoded into the expected shape.
type ServerError struct {
	Message    string
	StatusCode int
}

func (e *ServerError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status: %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

func NewServerError(message string) *ServerError {
	return &ServerError{Message: message}
}

// UnexpectedError wraps failures with no more specific classification, such
// as an exception thrown inside a challenge surface or a malformed provider
// payload.
type UnexpectedError struct {
	Message string
	Err     error
}

func (e *UnexpectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *UnexpectedError) Unwrap() error {
	return e.Err
}

func NewUnexpectedError(message string, err error) *UnexpectedError {
	return &UnexpectedError{Message: message, Err: err}
}

// TransportError wraps a network-level failure, as opposed to an HTTP-level
// failure which carries a status code.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func NewTransportError(err error) *TransportError {
	return &TransportError{Err: err}
}

func IsErrorWithResponse(err error) (*ErrorWithResponse, bool) {
	var ewr *ErrorWithResponse
	ok := errors.As(err, &ewr)
	return ewr, ok
}

func IsAppSwitchNotAvailable(err error) bool {
	var asErr *AppSwitchNotAvailableError
	return errors.As(err, &asErr)
}

func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

func IsAuthorizationError(err error) bool {
	var authErr *AuthorizationError
	return errors.As(err, &authErr)
}

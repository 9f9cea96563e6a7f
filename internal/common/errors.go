package common

import (
	"errors"
	"fmt"
)

// ErrSinkNotFound is returned by a sink when the outward message it was asked
// to edit or delete no longer exists on the chat platform.
var ErrSinkNotFound = errors.New("outward message not found")

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id '%s' not found", e.Resource, e.ID)
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError indicates invalid input data.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// UnauthorizedError indicates missing or invalid authentication.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string {
	if e.Message == "" {
		return "unauthorized"
	}
	return e.Message
}

// NewUnauthorizedError creates a new UnauthorizedError.
func NewUnauthorizedError(message string) *UnauthorizedError {
	return &UnauthorizedError{Message: message}
}

// SourceUnavailableError indicates an external source could not be fetched or parsed.
// It is transient: the tick is skipped and the next scheduled tick retries.
type SourceUnavailableError struct {
	Source string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// NewSourceUnavailableError creates a new SourceUnavailableError.
func NewSourceUnavailableError(source string, err error) *SourceUnavailableError {
	return &SourceUnavailableError{Source: source, Err: err}
}

// StoreUnavailableError indicates the durable store rejected or failed an operation.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// NewStoreUnavailableError creates a new StoreUnavailableError.
func NewStoreUnavailableError(op string, err error) *StoreUnavailableError {
	return &StoreUnavailableError{Op: op, Err: err}
}

// SinkDeliveryFailedError indicates a permanent delivery failure, such as a
// user that does not accept direct messages. It is never retried.
type SinkDeliveryFailedError struct {
	Target string
	Reason string
}

func (e *SinkDeliveryFailedError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %s", e.Target, e.Reason)
}

// NewSinkDeliveryFailedError creates a new SinkDeliveryFailedError.
func NewSinkDeliveryFailedError(target, reason string) *SinkDeliveryFailedError {
	return &SinkDeliveryFailedError{Target: target, Reason: reason}
}

// ConfigurationMissingError indicates a loop cannot start because a required
// setting is absent. The loop stays disabled; the process keeps running.
type ConfigurationMissingError struct {
	Loop string
	Key  string
}

func (e *ConfigurationMissingError) Error() string {
	return fmt.Sprintf("%s: required setting %s is not set", e.Loop, e.Key)
}

// NewConfigurationMissingError creates a new ConfigurationMissingError.
func NewConfigurationMissingError(loop, key string) *ConfigurationMissingError {
	return &ConfigurationMissingError{Loop: loop, Key: key}
}

// IsPermanentDelivery reports whether err is a SinkDeliveryFailedError.
func IsPermanentDelivery(err error) bool {
	var failed *SinkDeliveryFailedError
	return errors.As(err, &failed)
}

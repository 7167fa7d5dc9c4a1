package prompts

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized marks an admin-only operation attempted with a bad or missing credential.
	ErrUnauthorized = errors.New("prompts: unauthorized")
	// ErrBadRequest marks a request missing required fields or carrying invalid values.
	ErrBadRequest = errors.New("prompts: bad request")
	// ErrNotFound marks an operation on an unknown prompt.
	ErrNotFound = errors.New("prompts: not found")
	// ErrRecordCorrupt marks a stored record that cannot be decoded.
	ErrRecordCorrupt = errors.New("prompts: record corrupt")
	// ErrStoreUnavailable marks a failed or timed out record or blob store call.
	ErrStoreUnavailable = errors.New("prompts: store unavailable")
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "prompts.service.new"
	opList       = "prompts.list"
	opUpsert     = "prompts.upsert"
	opDelete     = "prompts.delete"
	opLike       = "prompts.like"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// storeFailure tags a store-layer error as ErrStoreUnavailable while keeping the cause.
func storeFailure(cause error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, cause)
}

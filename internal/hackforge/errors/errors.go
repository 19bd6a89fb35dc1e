// Package errors defines the error taxonomy shared by the campaign,
// orchestration, and HTTP layers.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions
var (
	// Lookup errors
	ErrNotFound          = errors.New("not found")
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrMachineNotFound   = errors.New("machine not found")
	ErrBlueprintNotFound = errors.New("blueprint not found")
	ErrContainerNotFound = errors.New("container not found")
	ErrUserNotFound      = errors.New("user not found")

	// Validation errors
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidDifficulty = errors.New("no variant available for requested difficulty")
	ErrEmptyFlag         = errors.New("flag cannot be empty")
	ErrEmptyBlueprints   = errors.New("blueprint selection cannot be empty")

	// Resource errors
	ErrAllocation     = errors.New("resource allocation failed")
	ErrNoFreePorts    = errors.New("no free ports available")
	ErrCampaignExists = errors.New("campaign already exists")

	// Flag validation errors
	ErrAlreadySolved = errors.New("machine already solved")

	// Container runtime errors
	ErrRuntimeTimeout     = errors.New("container runtime timed out")
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")

	// Storage errors
	ErrStoreClosed = errors.New("store is closed")
)

// Wrap wraps an error with additional context
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is checks if the error is of a specific type
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As checks if the error can be unwrapped to the target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

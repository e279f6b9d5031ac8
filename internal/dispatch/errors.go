package dispatch

import (
	"errors"
	"fmt"
)

// Error describes a message that was dropped as malformed.
//
// Malformed messages are never retried: the dispatcher logs the Error and
// the transport acknowledges the delivery.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// DeviceID identifies the sending device.
	DeviceID string

	// Field names the offending message field, if any.
	Field string
}

// ErrorCode categorizes malformed messages.
type ErrorCode string

const (
	// ErrCodeMissingType indicates the messageType field is absent.
	ErrCodeMissingType ErrorCode = "MISSING_TYPE"

	// ErrCodeUnknownType indicates an unrecognized messageType.
	ErrCodeUnknownType ErrorCode = "UNKNOWN_TYPE"

	// ErrCodeMissingField indicates a mandatory field is absent.
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"

	// ErrCodeUnknownAction indicates a recipe event with an unrecognized action.
	ErrCodeUnknownAction ErrorCode = "UNKNOWN_ACTION"

	// ErrCodeInvalidFragment indicates an image fragment that cannot be cached.
	ErrCodeInvalidFragment ErrorCode = "INVALID_FRAGMENT"

	// ErrCodeInvalidValues indicates a values string no decoder accepted.
	ErrCodeInvalidValues ErrorCode = "INVALID_VALUES"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (device=%s, field=%s)", e.Code, e.Message, e.DeviceID, e.Field)
	}
	return fmt.Sprintf("%s: %s (device=%s)", e.Code, e.Message, e.DeviceID)
}

// IsInvalidMessage reports whether err marks a dropped malformed message.
// Uses errors.As to handle wrapped errors.
func IsInvalidMessage(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// CodeOf returns the ErrorCode carried by err, or "" when err is not an
// *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func missingField(deviceID string, typ MessageType, field string) *Error {
	return &Error{
		Code:     ErrCodeMissingField,
		Message:  fmt.Sprintf("%s message requires %s", typ, field),
		DeviceID: deviceID,
		Field:    field,
	}
}

/*
Copyright 2026 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors provides the structured error type used across every
// subsystem of the coordination fabric. All errors that cross a bus
// boundary are *AppError, so the Diagnostic Supervisor has a single,
// predictable shape to turn into a FaultRecord.
package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorType classifies an AppError for HTTP mapping and safe-message lookup.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
)

var statusByType = map[ErrorType]int{
	ErrorTypeValidation: http.StatusBadRequest,
	ErrorTypeAuth:       http.StatusUnauthorized,
	ErrorTypeNotFound:   http.StatusNotFound,
	ErrorTypeConflict:   http.StatusConflict,
	ErrorTypeTimeout:    http.StatusRequestTimeout,
	ErrorTypeRateLimit:  http.StatusTooManyRequests,
	ErrorTypeDatabase:   http.StatusInternalServerError,
	ErrorTypeNetwork:    http.StatusInternalServerError,
	ErrorTypeInternal:   http.StatusInternalServerError,
}

// Severity mirrors spec.md §3's Fault Record severity and §7's propagation
// policy (HIGH faults are mirrored to the user-visible surface).
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// AppError is the fabric-wide structured error. FaultCode, when set, follows
// the spec.md §7 grammar <ADDRESS>-<XX> and is what the Diagnostic
// Supervisor keys a FaultRecord on.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
	FaultCode  string
	Severity   Severity
}

// New creates an AppError of the given type with no cause.
func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusByType[t],
	}
}

// Newf creates an AppError with a formatted message.
func Newf(t ErrorType, format string, args ...interface{}) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap creates an AppError of the given type wrapping cause.
func Wrap(cause error, t ErrorType, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

// Wrapf creates an AppError wrapping cause with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails sets Details in place and returns the same error for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf sets a formatted Details string in place.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithFault attaches a spec.md §7 fault code and severity in place.
func (e *AppError) WithFault(code string, sev Severity) *AppError {
	e.FaultCode = code
	e.Severity = sev
	return e
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Predefined constructors, matching the teacher's internal/errors contract.

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

func NewNotFoundError(resource string) *AppError {
	return Newf(ErrorTypeNotFound, "%s not found", resource)
}

func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

func NewTimeoutError(operation string) *AppError {
	return Newf(ErrorTypeTimeout, "operation timed out: %s", operation)
}

// spec.md §7 family constructors, each pre-wired with a Severity consistent
// with the propagation policy table (class 90/91 = fatal; 40/60/80/93 =
// local-retry; 31/32/51/52 = report-only).

// NewInvalidState constructs a class-51 "invalid state" AppError.
func NewInvalidState(faultCode, message string) *AppError {
	return New(ErrorTypeConflict, message).WithFault(faultCode, SeverityMedium)
}

// NewForbidden constructs a class-52 "operation forbidden in current state" AppError.
func NewForbidden(faultCode, message string) *AppError {
	return New(ErrorTypeAuth, message).WithFault(faultCode, SeverityMedium)
}

// NewCorruption constructs a class-32 "data corruption" AppError.
func NewCorruption(faultCode, message string) *AppError {
	return New(ErrorTypeDatabase, message).WithFault(faultCode, SeverityHigh)
}

// NewAddressUnknown constructs a class-24 "address not found" AppError.
func NewAddressUnknown(address string) *AppError {
	return Newf(ErrorTypeNotFound, "address not found: %s", address).WithFault(address+"-24", SeverityMedium)
}

// NewFabricTimeout constructs a class-20 timeout AppError with an explicit fault code.
func NewFabricTimeout(faultCode, operation string) *AppError {
	return NewTimeoutError(operation).WithFault(faultCode, SeverityMedium)
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == t
	}
	return false
}

// GetType returns the ErrorType of err, or ErrorTypeInternal for non-AppErrors.
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status code associated with err.
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorMessages carries canned, non-leaky messages for error types that must
// not surface internal details to an external caller.
var ErrorMessages = struct {
	ResourceNotFound       string
	AuthenticationFailed   string
	OperationTimeout       string
	RateLimitExceeded      string
	ConcurrentModification string
}{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded, please try again later",
	ConcurrentModification: "The resource was modified concurrently, please retry",
}

// SafeErrorMessage returns a message safe to show an end user: validation
// errors pass their message through verbatim (they describe caller input,
// not internals), everything else maps to a canned message.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}

// LogFields renders err as a structured field map suitable for
// zap.Any-style structured logging call sites.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{
		"error": err.Error(),
	}
	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	if appErr.FaultCode != "" {
		fields["fault_code"] = appErr.FaultCode
		fields["severity"] = string(appErr.Severity)
	}
	return fields
}

// Chain joins multiple non-nil errors into one, separated by " -> ". A
// single non-nil error is returned unwrapped; an all-nil input returns nil.
func Chain(errs ...error) error {
	var parts []string
	var first error
	n := 0
	for _, e := range errs {
		if e == nil {
			continue
		}
		if first == nil {
			first = e
		}
		n++
		parts = append(parts, e.Error())
	}
	switch n {
	case 0:
		return nil
	case 1:
		return first
	default:
		return fmt.Errorf("%s", strings.Join(parts, " -> "))
	}
}

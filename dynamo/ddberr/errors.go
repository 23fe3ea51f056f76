// Package ddberr defines the error taxonomy surfaced by the core. Errors the
// AWS SDK already models (conditional check failures, cancelled transactions,
// missing resources) are returned as the SDK's own typed exceptions; this
// package fills the gaps the SDK leaves generic, with values implementing
// smithy.APIError so the protocol layer can render them uniformly.
package ddberr

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

const (
	CodeValidation              = "ValidationException"
	CodeConditionalCheckFailed  = "ConditionalCheckFailedException"
	CodeTransactionCanceled     = "TransactionCanceledException"
	CodeResourceNotFound        = "ResourceNotFoundException"
	CodeResourceInUse           = "ResourceInUseException"
	CodeItemCollectionSizeLimit = "ItemCollectionSizeLimitExceededException"
	CodeRequestTimeout          = "RequestTimeout"
	CodeInternal                = "InternalServerError"
)

// Error is a coded API error.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) ErrorCode() string { return e.Code }

func (e *Error) ErrorMessage() string { return e.Message }

func (e *Error) ErrorFault() smithy.ErrorFault {
	if e.Code == CodeInternal {
		return smithy.FaultServer
	}
	return smithy.FaultClient
}

// Validation builds a ValidationException.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// RequestTimeout builds a deadline-exceeded error.
func RequestTimeout(format string, args ...any) *Error {
	return &Error{Code: CodeRequestTimeout, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps a backend failure.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: err.Error()}
}

// ResourceNotFound builds the SDK's typed not-found exception.
func ResourceNotFound(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return &types.ResourceNotFoundException{Message: &msg}
}

// ResourceInUse builds the SDK's typed in-use exception, used for
// create-on-existing-table.
func ResourceInUse(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return &types.ResourceInUseException{Message: &msg}
}

// ConditionalCheckFailed builds the SDK's typed conditional failure.
func ConditionalCheckFailed(item map[string]types.AttributeValue) error {
	msg := "The conditional request failed"
	return &types.ConditionalCheckFailedException{Message: &msg, Item: item}
}

// TransactionCanceled builds the SDK's typed cancellation with per-item reasons.
func TransactionCanceled(reasons []types.CancellationReason) error {
	msg := "Transaction cancelled, please refer cancellation reasons for specific reasons"
	return &types.TransactionCanceledException{Message: &msg, CancellationReasons: reasons}
}

// Code extracts the API error code from any error, defaulting to InternalServerError.
func Code(err error) string {
	var api smithy.APIError
	if errors.As(err, &api) {
		return api.ErrorCode()
	}
	return CodeInternal
}

// IsClientFault reports whether the error should map to a 4xx response.
func IsClientFault(err error) bool {
	var api smithy.APIError
	if errors.As(err, &api) {
		return api.ErrorFault() != smithy.FaultServer
	}
	return false
}

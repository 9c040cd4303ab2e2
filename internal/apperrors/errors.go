// Package apperrors defines the typed errors surfaced to API callers as
// {statusCode, errorCode, message}.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error identifier
type Code string

const (
	CodeRequestPayloadMissing     Code = "request_payload_missing"
	CodeRequestPayloadWrongFormat Code = "request_payload_wrong_format"

	CodeAPIKeyInvalid      Code = "auth_api_key_invalid"
	CodeAPIKeyNotActive    Code = "auth_api_key_not_active"
	CodeAPIKeyPubKeyNotSet Code = "auth_api_key_pub_key_not_set"
	CodeAPIKeyNotProvided  Code = "auth_api_key_not_provided"
	CodeAPIKeyNotFound     Code = "auth_api_key_not_found"

	CodeOriginNotAllowed Code = "auth_origin_not_allowed"

	CodeAPIJWTInvalid     Code = "auth_api_jwt_invalid"
	CodeAPIJWTNotActive   Code = "auth_api_jwt_not_active"
	CodeAPIJWTNotProvided Code = "auth_api_jwt_not_provided"

	CodeClientJWTInvalid            Code = "auth_client_jwt_invalid"
	CodeClientJWTMissingExternalID  Code = "auth_client_jwt_missing_external_id_payload"
	CodeClientJWTMissingExp         Code = "auth_client_jwt_missing_exp_payload"
	CodeClientJWTExternalIDNotMatch Code = "auth_client_jwt_external_id_not_match"
	CodeClientJWTExpired            Code = "auth_client_jwt_expired"
	CodeClientJWTNotProvided        Code = "auth_client_jwt_not_provided"

	CodeChallengeNotMatch        Code = "auth_client_pub_key_and_message_not_match"
	CodeChallengeExpired         Code = "auth_client_pub_key_and_message_expired"
	CodeChallengeAlreadyUsed     Code = "auth_client_pub_key_and_message_already_used"
	CodeChallengeSignatureFailed Code = "auth_client_pub_key_and_message_signature_failed"
	CodeClientPubKeyNotFound     Code = "auth_client_pub_key_not_found"

	CodeUserNotAllowed    Code = "auth_user_not_allowed_to_perform_the_action"
	CodeUserNotFound      Code = "user_not_found"
	CodeUserAlreadyExists Code = "user_already_exists"

	CodeSeedCouldNotBeDecrypted Code = "seedphrase_could_not_be_decrypted"
	CodeSeedInvalid             Code = "seedphrase_invalid"
	CodeWalletNotFound          Code = "wallet_not_found"
	CodeWalletAlreadyExists     Code = "wallet_already_exists"

	CodeMultisigParticipantNotFound        Code = "multisig_participant_not_found"
	CodeMultisigThresholdMismatch          Code = "multisig_threshold_mismatch"
	CodeMultisigParticipantsNotUnique      Code = "multisig_participants_not_unique"
	CodeMultisigParticipantsNotOnboarded   Code = "multisig_participants_not_onboarded"
	CodeMultisigParticipantAlreadyRejected Code = "multisig_participant_already_rejected"
	CodeAssetNotFound                      Code = "asset_not_found"

	CodeTransactionNotFound           Code = "transaction_not_found"
	CodeTransactionNotPendingApproval Code = "transaction_not_pending_approval"
	CodeTransactionNotPending         Code = "transaction_not_pending"

	CodeInternal Code = "internal_error"
)

// Error is an expected failure with a fixed HTTP status and code
type Error struct {
	StatusCode int
	Code       Code
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns a copy of e that carries cause for logging
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

func New(status int, code Code, message string) *Error {
	return &Error{StatusCode: status, Code: code, Message: message}
}

func BadRequest(code Code, message string) *Error {
	return New(http.StatusBadRequest, code, message)
}

func Unauthorized(code Code, message string) *Error {
	return New(http.StatusUnauthorized, code, message)
}

func Forbidden(code Code, message string) *Error {
	return New(http.StatusForbidden, code, message)
}

func NotFound(code Code, message string) *Error {
	return New(http.StatusNotFound, code, message)
}

func Conflict(code Code, message string) *Error {
	return New(http.StatusConflict, code, message)
}

// Internal wraps an unexpected failure. Its message never reaches callers.
func Internal(err error) *Error {
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    "internal server error",
		Err:        err,
	}
}

// As extracts an *Error from err's chain
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err carries the given code
func Is(err error, code Code) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// CodeOf returns the code carried by err, or CodeInternal
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

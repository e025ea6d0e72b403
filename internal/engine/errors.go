package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeFetchFailed indicates a conversation or message listing failed.
	ErrCodeFetchFailed ErrorCode = "FETCH_FAILED"

	// ErrCodeSendFailed indicates the backend rejected a send. The provisional
	// message was rolled back and the draft restored.
	ErrCodeSendFailed ErrorCode = "SEND_FAILED"

	// ErrCodeStartFailed indicates a conversation could not be started. The
	// directory is unchanged and the resolution may be retried.
	ErrCodeStartFailed ErrorCode = "START_FAILED"

	// ErrCodeMarkReadFailed indicates the backend did not record a read mark.
	ErrCodeMarkReadFailed ErrorCode = "MARK_READ_FAILED"

	// ErrCodeEmptyContent indicates a send with blank text. No request was made.
	ErrCodeEmptyContent ErrorCode = "EMPTY_CONTENT"

	// ErrCodeSendInFlight indicates a send to the same conversation is pending.
	ErrCodeSendInFlight ErrorCode = "SEND_IN_FLIGHT"

	// ErrCodeUnknownConversation indicates the conversation is not in the directory.
	ErrCodeUnknownConversation ErrorCode = "UNKNOWN_CONVERSATION"

	// ErrCodeInvalidTarget indicates a resolution target without a participant.
	ErrCodeInvalidTarget ErrorCode = "INVALID_TARGET"

	// ErrCodeMalformedResponse indicates the backend answered with a record
	// the transformer rejected.
	ErrCodeMalformedResponse ErrorCode = "MALFORMED_RESPONSE"

	// ErrCodeStopped indicates the engine is not running.
	ErrCodeStopped ErrorCode = "STOPPED"
)

// Error is a recoverable engine error. None of them are fatal to the host.
type Error struct {
	Code           ErrorCode
	Op             string
	ConversationID string
	Message        string
	Err            error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ConversationID != "" {
		msg += fmt.Sprintf(" (conversation=%s)", e.ConversationID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrStopped is returned by calls made after the engine stopped.
var ErrStopped = &Error{Code: ErrCodeStopped, Op: "engine", Message: "engine is not running"}

// CodeOf returns the engine error code of err, or "" if err is not an *Error.
// Uses errors.As so wrapped errors match.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRecoverable reports whether the user can retry the failed action.
func IsRecoverable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeFetchFailed, ErrCodeSendFailed, ErrCodeStartFailed, ErrCodeMarkReadFailed, ErrCodeSendInFlight:
		return true
	default:
		return false
	}
}

func newError(code ErrorCode, op, conversationID, message string, err error) *Error {
	return &Error{Code: code, Op: op, ConversationID: conversationID, Message: message, Err: err}
}

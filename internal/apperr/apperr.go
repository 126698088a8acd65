package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindResourceUnavailable  Kind = "RESOURCE_UNAVAILABLE"
	KindNotInitialized       Kind = "NOT_INITIALIZED"
	KindTransportNotReady    Kind = "TRANSPORT_NOT_READY"
	KindAuthenticationFailed Kind = "AUTHENTICATION_FAILED"
	KindRemoteExecution      Kind = "REMOTE_EXECUTION_ERROR"
	KindSQLGenerationFailed  Kind = "SQL_GENERATION_FAILED"
	KindInvalidRequest       Kind = "INVALID_REQUEST"
	KindInternal             Kind = "INTERNAL"
)

// Stage names the part of the pipeline a failure belongs to so callers can tell
// "rephrase the question" apart from "re-enter the password".
type Stage string

const (
	StageInitialization Stage = "initialization"
	StageGeneration     Stage = "generation"
	StageExecution      Stage = "execution"
	StageAuthentication Stage = "authentication"
	StageRequest        Stage = "request"
)

type Error struct {
	Kind       Kind
	Stage      Stage
	Message    string
	Diagnostic string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, stage Stage, message string) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message}
}

func Wrap(kind Kind, stage Stage, message string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal
// for anything unclassified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// As returns err as an *Error, classifying unknown errors as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return Wrap(KindInternal, StageRequest, "unexpected internal failure", err)
}

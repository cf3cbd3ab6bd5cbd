package models

import (
	"context"
	"errors"
	"fmt"
)

// Code is the failure taxonomy surfaced to callers.
type Code string

const (
	CodeOK                    Code = "OK"
	CodeNoConnectivity        Code = "NO_CONNECTIVITY"
	CodeNoRouteFound          Code = "NO_ROUTE_FOUND"
	CodeEndpointNotFound      Code = "ENDPOINT_NOT_FOUND"
	CodeUnresolvableReference Code = "UNRESOLVABLE_REFERENCE"
	CodeUpstreamInconsistent  Code = "UPSTREAM_INCONSISTENT"
)

var (
	ErrNoConnectivity        = errors.New("upstream unreachable")
	ErrNoRouteFound          = errors.New("no route exists between the endpoints")
	ErrEndpointNotFound      = errors.New("endpoint not found")
	ErrUnresolvableReference = errors.New("unresolvable reference")
	ErrUpstreamInconsistent  = errors.New("upstream returned an inconsistent result")
)

// sentinels is ordered by precedence. An error matching several sentinels
// gets the code listed first.
var sentinels = []struct {
	code Code
	err  error
}{
	{CodeNoConnectivity, ErrNoConnectivity},
	{CodeNoRouteFound, ErrNoRouteFound},
	{CodeEndpointNotFound, ErrEndpointNotFound},
	{CodeUnresolvableReference, ErrUnresolvableReference},
	{CodeUpstreamInconsistent, ErrUpstreamInconsistent},
}

// Failure is a classified error. errors.Is matches it against the sentinel of
// its code, and Unwrap exposes the underlying cause.
type Failure struct {
	Code    Code
	Message string
	Err     error
}

func NewFailure(code Code, message string, cause error) *Failure {
	return &Failure{Code: code, Message: message, Err: cause}
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Err)
	}

	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func (f *Failure) Is(target error) bool {
	for _, s := range sentinels {
		if s.code == f.Code {
			return s.err == target
		}
	}

	return false
}

// CodeOf maps any error to the taxonomy. Context cancellation and deadlines
// count as lost connectivity.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}

	var f *Failure
	if errors.As(err, &f) {
		return f.Code
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.code
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeNoConnectivity
	}

	return CodeUpstreamInconsistent
}

// MessageOf returns the human readable part of a classified error.
func MessageOf(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Message
	}

	if err != nil {
		return err.Error()
	}

	return ""
}

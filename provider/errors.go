package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/gosom/courier-routes/models"
)

// Provider status values that matter to callers.
const (
	StatusOK                     = "OK"
	StatusZeroResults            = "ZERO_RESULTS"
	StatusNotFound               = "NOT_FOUND"
	StatusMaxRouteLengthExceeded = "MAX_ROUTE_LENGTH_EXCEEDED"
	StatusOverQueryLimit         = "OVER_QUERY_LIMIT"
	StatusOverDailyLimit         = "OVER_DAILY_LIMIT"
	StatusRequestDenied          = "REQUEST_DENIED"
	StatusInvalidRequest         = "INVALID_REQUEST"
	StatusUnknownError           = "UNKNOWN_ERROR"
)

// TransportError is a failure to get any response from the provider.
// It always matches models.ErrNoConnectivity.
type TransportError struct {
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("provider timeout: %v", e.Err)
	}

	return fmt.Sprintf("provider unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{models.ErrNoConnectivity, e.Err}
}

// StatusError is a response whose status (HTTP or provider level) is not OK.
type StatusError struct {
	Endpoint   string
	HTTPStatus int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("%s: http status %d", e.Endpoint, e.HTTPStatus)
	}

	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Endpoint, e.Status, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Endpoint, e.Status)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.HTTPStatus >= http.StatusInternalServerError:
		return models.ErrNoConnectivity
	case e.Status == StatusOverQueryLimit, e.Status == StatusOverDailyLimit, e.Status == StatusUnknownError:
		return models.ErrNoConnectivity
	case e.Status == StatusZeroResults:
		return models.ErrNoRouteFound
	case e.Status == StatusNotFound:
		return models.ErrEndpointNotFound
	default:
		return models.ErrUpstreamInconsistent
	}
}

// IsTimeout reports whether err is a timed out call, the only transport
// failure worth retrying.
func IsTimeout(err error) bool {
	var te *TransportError

	return errors.As(err, &te) && te.Timeout
}

// IsUnreachable reports whether err means the provider could not be reached.
func IsUnreachable(err error) bool {
	return errors.Is(err, models.ErrNoConnectivity)
}

// Classify turns an http.Client error into a TransportError. Cancellation of
// the caller context is returned as is.
func Classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	return &TransportError{Timeout: timeout(err), Err: err}
}

func timeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// Refused reports whether err is a connection refused or name resolution
// failure, i.e. there is no point retrying.
func Refused(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH)
}

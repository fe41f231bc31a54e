package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidState        = errors.New("invalid state")
	ErrInvalidInput        = errors.New("invalid input")
	ErrRateLimited         = errors.New("rate limited")
	ErrSSRFRejected        = errors.New("callback url rejected")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInternal            = errors.New("internal error")
)

// Machine-readable error codes returned to API callers.
const (
	CodeBountyNotFound     = "BOUNTY_NOT_FOUND"
	CodeServiceNotFound    = "SERVICE_NOT_FOUND"
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidSecret      = "INVALID_SECRET"
	CodeInvalidStatus      = "INVALID_STATUS"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInvalidCallbackURL = "INVALID_CALLBACK_URL"
	CodeUpstream           = "UPSTREAM_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// Code maps an error to its machine-readable code. Unknown errors are internal.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeInvalidSecret
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidStatus
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrSSRFRejected):
		return CodeInvalidCallbackURL
	case errors.Is(err, ErrUpstreamUnavailable):
		return CodeUpstream
	default:
		return CodeInternal
	}
}

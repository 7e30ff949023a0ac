package models

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidInput    = errors.New("invalid input")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrConflict        = errors.New("conflict")
	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrUnavailable     = errors.New("service unavailable")
)

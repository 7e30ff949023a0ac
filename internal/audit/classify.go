package audit

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

// Classification describes how an insert failure should be handled.
type Classification struct {
	Code      string
	Retryable bool
}

// PostgREST formats errors as "(CODE) message". CODE is either a
// PGRSTnnn code or a Postgres SQLSTATE passed through from the database.
var postgrestCode = regexp.MustCompile(`^\((PGRST\d{3}|[0-9A-Z]{5})\)`)

var retryableStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
}

// Classify decides whether err is worth another insert attempt. Unknown
// errors are not retried.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return Classification{Code: code, Retryable: retryableState(code)}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Classification{Code: "context"}
	}

	if m := postgrestCode.FindStringSubmatch(err.Error()); m != nil {
		code := m[1]
		if strings.HasPrefix(code, "PGRST") {
			return Classification{Code: code, Retryable: retryablePostgREST(code)}
		}
		return Classification{Code: code, Retryable: retryableState(code)}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Classification{Code: "timeout", Retryable: true}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Classification{Code: "network", Retryable: true}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, driver.ErrBadConn) {
		return Classification{Code: "connection", Retryable: true}
	}

	return Classification{Code: "unknown"}
}

// Retryable is shorthand for Classify(err).Retryable.
func Retryable(err error) bool {
	return Classify(err).Retryable
}

func retryableState(code string) bool {
	if retryableStates[code] {
		return true
	}
	switch {
	case strings.HasPrefix(code, "08"): // connection_exception
		return true
	case strings.HasPrefix(code, "53"): // insufficient_resources
		return true
	}
	return false
}

// PGRST000-PGRST003 are connection and pool errors between PostgREST and the
// database. Everything else in the PGRST range is a request error.
func retryablePostgREST(code string) bool {
	switch code {
	case "PGRST000", "PGRST001", "PGRST002", "PGRST003":
		return true
	}
	return false
}

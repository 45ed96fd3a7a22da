// Package dberror classifies database failures so the operator can tell a
// broken connection from a broken query.
package dberror

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorType classifies database errors.
type ErrorType int

const (
	// ErrorTypeUnknown is an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeConnectivity indicates the database is unreachable.
	ErrorTypeConnectivity
	// ErrorTypeTimeout indicates the operation timed out or was cancelled.
	ErrorTypeTimeout
	// ErrorTypeAuth indicates authentication/authorization failure.
	ErrorTypeAuth
	// ErrorTypeQuery indicates a query, schema or data error.
	ErrorTypeQuery
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeConnectivity:
		return "connectivity"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Classify determines the type of database error.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeConnectivity
	}

	errStr := strings.ToLower(err.Error())

	connectivityPatterns := []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"conn closed",
		"no such host",
		"dial tcp",
		"dial unix",
		"eof",
		"broken pipe",
		"network is unreachable",
		"no route to host",
		"i/o timeout",
		"server shutdown",
		"pool is closed",
		"closed pool",
	}
	for _, pattern := range connectivityPatterns {
		if strings.Contains(errStr, pattern) {
			return ErrorTypeConnectivity
		}
	}

	timeoutPatterns := []string{
		"timeout",
		"deadline exceeded",
		"timed out",
	}
	for _, pattern := range timeoutPatterns {
		if strings.Contains(errStr, pattern) {
			return ErrorTypeTimeout
		}
	}

	authPatterns := []string{
		"password authentication failed",
		"authentication failed",
		"permission denied",
		"access denied",
	}
	for _, pattern := range authPatterns {
		if strings.Contains(errStr, pattern) {
			return ErrorTypeAuth
		}
	}

	queryPatterns := []string{
		"syntax error",
		"does not exist",
		"unknown column",
		"unknown table",
	}
	for _, pattern := range queryPatterns {
		if strings.Contains(errStr, pattern) {
			return ErrorTypeQuery
		}
	}

	return ErrorTypeUnknown
}

// classifySQLState maps a Postgres SQLSTATE onto an ErrorType using its class.
func classifySQLState(code string) ErrorType {
	if len(code) < 2 {
		return ErrorTypeUnknown
	}
	switch code {
	case "57014": // query_canceled
		return ErrorTypeTimeout
	case "57P01", "57P02", "57P03": // admin/crash shutdown, cannot connect now
		return ErrorTypeConnectivity
	}
	switch code[:2] {
	case "08":
		return ErrorTypeConnectivity
	case "28":
		return ErrorTypeAuth
	case "42":
		if code == "42501" { // insufficient_privilege
			return ErrorTypeAuth
		}
		return ErrorTypeQuery
	case "22", "23", "2B", "3F", "0A":
		return ErrorTypeQuery
	}
	return ErrorTypeUnknown
}

// Hint returns a short operator-facing explanation for the error.
func Hint(err error) string {
	if err == nil {
		return ""
	}

	switch Classify(err) {
	case ErrorTypeConnectivity:
		return "database unreachable; check PG_HOST/PG_PORT and that the server is running"
	case ErrorTypeTimeout:
		return "operation timed out or was interrupted; committed partitions are kept"
	case ErrorTypeAuth:
		return "authentication or permission failure; check PG_USER/PG_PASSWORD and grants"
	case ErrorTypeQuery:
		return "query failed; check that PG_SCHEMA_RAW holds the raw trip and zone tables"
	default:
		return ""
	}
}

// Package dberror classifies failures of the backing databases so callers can
// tell an outage from a bad request.
package dberror

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samu-project/rewards/utils/pkg/retry"
)

type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeConnectivity
	ErrorTypeTimeout
	ErrorTypeAuth
	ErrorTypeQuery
	// ErrorTypeSerialization is a postgres serialization or deadlock failure.
	// The transaction can be replayed as is.
	ErrorTypeSerialization
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
	case ErrorTypeSerialization:
		return "serialization"
	default:
		return "unknown"
	}
}

// IsTransient reports whether the error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch Classify(err) {
	case ErrorTypeConnectivity, ErrorTypeTimeout, ErrorTypeSerialization:
		return true
	default:
		return false
	}
}

var (
	connectivityPatterns = []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"no such host",
		"dial tcp",
		"eof",
		"broken pipe",
		"network is unreachable",
		"client is closing",
		"closed pool",
		"pool is closed",
	}
	timeoutPatterns = []string{"timeout", "deadline exceeded", "timed out"}
	authPatterns    = []string{"authentication failed", "access denied", "permission denied"}
	queryPatterns   = []string{"syntax error", "unknown column", "unknown table", "does not exist"}
)

// Classify determines the type of a database error.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			return ErrorTypeSerialization
		case strings.HasPrefix(pgErr.Code, "08"):
			return ErrorTypeConnectivity
		case strings.HasPrefix(pgErr.Code, "28"):
			return ErrorTypeAuth
		case strings.HasPrefix(pgErr.Code, "42"):
			return ErrorTypeQuery
		case pgErr.Code == "57014":
			return ErrorTypeTimeout
		}
		return ErrorTypeUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeConnectivity
	}

	msg := strings.ToLower(err.Error())
	for _, group := range []struct {
		patterns []string
		typ      ErrorType
	}{
		{connectivityPatterns, ErrorTypeConnectivity},
		{timeoutPatterns, ErrorTypeTimeout},
		{authPatterns, ErrorTypeAuth},
		{queryPatterns, ErrorTypeQuery},
	} {
		for _, p := range group.patterns {
			if strings.Contains(msg, p) {
				return group.typ
			}
		}
	}
	return ErrorTypeUnknown
}

// IsSerializationFailure reports whether err carries SQLSTATE 40001 or 40P01.
// Only the server's error code counts; message text is never inspected.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

// UserMessage returns a message safe to show API clients.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch Classify(err) {
	case ErrorTypeConnectivity:
		return "Database temporarily unavailable. Please try again in a moment."
	case ErrorTypeTimeout:
		return "Request timed out. Please try again."
	case ErrorTypeSerialization:
		return "Concurrent update detected. Please retry."
	case ErrorTypeAuth:
		return "Database authentication error. Please contact support."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

func DefaultRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: 3,
		BaseBackoff: 200 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
		Retryable:   IsTransient,
	}
}

// Retry runs fn again while it fails with a transient database error.
func Retry[T any](ctx context.Context, cfg retry.Config, fn func() (T, error)) (T, error) {
	if cfg.Retryable == nil {
		cfg.Retryable = IsTransient
	}
	return retry.DoValue(ctx, cfg, fn)
}

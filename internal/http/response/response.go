// Package response defines the JSON envelope every API response is wrapped in
// and writers for handlers that sit outside huma (middleware, streaming).
package response

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	domainerrors "github.com/circulate/circulation-server/internal/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version is the envelope schema version sent as "v".
const Version = 1

// Envelope wraps successful responses and plain errors.
type Envelope struct {
	Version int    `json:"v"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorEnvelope wraps coded errors.
type ErrorEnvelope struct {
	Version int    `json:"v"`
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Wrap builds the envelope for data sent with status.
func Wrap(status int, data any) Envelope {
	return Envelope{Version: Version, Success: status < http.StatusBadRequest, Data: data}
}

// JSON writes data wrapped in an Envelope.
func JSON(w http.ResponseWriter, status int, data any, logger *slog.Logger) {
	write(w, status, Wrap(status, data), logger)
}

// Error writes a coded error envelope.
func Error(w http.ResponseWriter, status int, code domainerrors.Code, message string, logger *slog.Logger) {
	write(w, status, ErrorEnvelope{
		Version: Version,
		Code:    string(code),
		Message: message,
	}, logger)
}

// DomainError writes err using its code and reason. Foreign errors are
// logged and reported as a generic 500.
func DomainError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var domainErr *domainerrors.Error
	if !errors.As(err, &domainErr) {
		if logger != nil {
			logger.Error("unhandled error", "error", err)
		}
		Error(w, http.StatusInternalServerError, domainerrors.CodeInternal, "internal server error", logger)
		return
	}
	write(w, domainErr.HTTPStatus(), ErrorEnvelope{
		Version: Version,
		Code:    string(domainErr.Code),
		Reason:  string(domainErr.Reason),
		Message: domainErr.Message,
		Details: domainErr.Details,
	}, logger)
}

// TooManyRequests writes a 429 with a Retry-After header rounded up to whole seconds.
func TooManyRequests(w http.ResponseWriter, retryAfter time.Duration, logger *slog.Logger) {
	if retryAfter > 0 {
		secs := int((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	Error(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, try again later", logger)
}

func write(w http.ResponseWriter, status int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil && logger != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

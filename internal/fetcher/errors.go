package fetcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
)

// Error is a classified page fetch failure.
type Error struct {
	// StatusCode is the HTTP status, or 0 when no response was received
	// or the body could not be decoded.
	StatusCode int

	// RetryAfterSeconds is the server-suggested wait, when present.
	RetryAfterSeconds *float64

	// Message is the server's error message, if the body carried one.
	Message string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.StatusCode == 0 {
		b.WriteString("fetcher: network error")
	} else {
		fmt.Fprintf(&b, "fetcher: status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsRateLimited reports whether the server rejected the request with 429.
func (e *Error) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// IsServerError reports whether the status is in the 5xx class.
func (e *Error) IsServerError() bool { return e.StatusCode >= 500 }

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// StatusCode returns the classified status of err, or 0 if err carries none.
func StatusCode(err error) int {
	if fe, ok := AsError(err); ok {
		return fe.StatusCode
	}
	return 0
}

// errorBody is the shape of an error response from the patients API.
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter any    `json:"retry_after"`
}

// Classify builds an *Error from a non-2xx response.
func Classify(status int, body []byte, header http.Header) *Error {
	fe := &Error{StatusCode: status}

	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil {
		fe.Message = eb.Message
		if fe.Message == "" {
			fe.Message = eb.Error
		}
		if s, ok := seconds(eb.RetryAfter); ok {
			fe.RetryAfterSeconds = &s
		}
	}
	if fe.RetryAfterSeconds == nil && header != nil {
		if s, ok := seconds(header.Get("Retry-After")); ok {
			fe.RetryAfterSeconds = &s
		}
	}
	if fe.Message == "" {
		fe.Message = http.StatusText(status)
	}
	return fe
}

// seconds interprets a retry_after value given as a JSON number or a
// numeric string. Negative and non-finite values are rejected.
func seconds(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}

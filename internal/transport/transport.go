// Package transport performs single request/response exchanges with the
// brokerage. It never retries and never interprets status codes; callers
// classify responses, transports only report that an exchange could not
// complete.
package transport

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Transport performs one exchange. A non-nil error is always a *Error and
// means no HTTP response was received.
type Transport interface {
	Exchange(ctx context.Context, req *Request) (*Response, error)
}

// Request is one outgoing exchange. Form takes precedence over Body.
type Request struct {
	Method string
	URL    string
	Form   url.Values
	Body   []byte
	Header http.Header
}

type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Location returns the redirect target of a 3xx response.
func (r *Response) Location() string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get("Location")
}

// Error is a transport-level failure: timeout, refused connection, TLS, or
// a body that could not be read. It carries no HTTP status.
type Error struct {
	Method string
	URL    string
	Err    error
}

func (e *Error) Error() string {
	return e.Method + " " + redact(e.URL) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsError reports whether err is a transport-level failure.
func IsError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

func wrapError(req *Request, err error, msg string) *Error {
	// *url.Error repeats the full URL, query included.
	var ue *url.Error
	if errors.As(err, &ue) {
		err = ue.Err
	}
	return &Error{Method: req.method(), URL: req.URL, Err: errors.Wrap(err, msg)}
}

// redact drops the query string so request tokens never reach an error
// message.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}

// Limits configures the outgoing rate of a transport.
type Limits struct {
	RatePerSecond float64
	Burst         int
}

func newLimiter(l Limits) *rate.Limiter {
	if l.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := l.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(l.RatePerSecond), burst)
}

func (r *Request) method() string {
	if r.Method == "" {
		if r.Form != nil || r.Body != nil {
			return http.MethodPost
		}
		return http.MethodGet
	}
	return r.Method
}

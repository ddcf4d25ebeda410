package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// CollyConfig configures the HTML form transport.
type CollyConfig struct {
	UserAgent string
	Timeout   time.Duration
	Limits    Limits
}

// Colly exchanges server-rendered form pages. Redirects are never followed
// so a 302 after login, or to the login page, reaches the caller as is.
// Cookies live in the jar handed in by the session owner.
type Colly struct {
	cfg     CollyConfig
	jar     http.CookieJar
	limiter *rate.Limiter
}

func NewColly(cfg CollyConfig, jar http.CookieJar) *Colly {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Colly{cfg: cfg, jar: jar, limiter: newLimiter(cfg.Limits)}
}

// newCollector builds a collector bound to ctx. Collectors are cheap and
// carry the request context, so each exchange gets its own.
func (t *Colly) newCollector(ctx context.Context) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.StdlibContext(ctx),
	}
	if t.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(t.cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	if t.jar != nil {
		c.SetCookieJar(t.jar)
	}
	c.SetRequestTimeout(t.cfg.Timeout)
	c.SetRedirectHandler(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})
	return c
}

func (t *Colly) Exchange(ctx context.Context, req *Request) (*Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, wrapError(req, err, "rate limiter")
	}

	var body io.Reader
	hdr := http.Header{}
	for k, vs := range req.Header {
		for _, v := range vs {
			hdr.Add(k, v)
		}
	}
	switch {
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		if hdr.Get("Content-Type") == "" {
			hdr.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	case req.Body != nil:
		body = bytes.NewReader(req.Body)
	}

	var out *Response
	c := t.newCollector(ctx)
	c.OnResponse(func(r *colly.Response) {
		resp := &Response{StatusCode: r.StatusCode, Body: r.Body, Header: http.Header{}}
		if r.Headers != nil {
			resp.Header = r.Headers.Clone()
		}
		out = resp
	})

	if err := c.Request(req.method(), req.URL, body, nil, hdr); err != nil {
		return nil, wrapError(req, err, "exchange failed")
	}
	if out == nil {
		return nil, wrapError(req, errors.New("no response received"), "exchange failed")
	}
	return out, nil
}

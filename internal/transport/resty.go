package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// RestyConfig configures the JSON RPC transport.
type RestyConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Limits    Limits
	// Header is sent on every request, e.g. the Origin the service insists on.
	Header http.Header
}

// Resty exchanges JSON bodies with the RPC service. Its own retry support is
// switched off; restarting is decided above the transport.
type Resty struct {
	client  *resty.Client
	limiter *rate.Limiter
}

func NewResty(cfg RestyConfig, jar http.CookieJar) *Resty {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	for k, vs := range cfg.Header {
		if len(vs) > 0 {
			client.SetHeader(k, vs[0])
		}
	}
	if jar != nil {
		client.SetCookieJar(jar)
	}
	return &Resty{client: client, limiter: newLimiter(cfg.Limits)}
}

func (t *Resty) Exchange(ctx context.Context, req *Request) (*Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, wrapError(req, err, "rate limiter")
	}

	r := t.client.R().SetContext(ctx)
	for k, vs := range req.Header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	switch {
	case req.Form != nil:
		r.SetFormDataFromValues(req.Form)
	case req.Body != nil:
		if r.Header.Get("Content-Type") == "" {
			r.SetHeader("Content-Type", "application/json")
		}
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(req.method(), req.URL)
	if err != nil {
		return nil, wrapError(req, err, "exchange failed")
	}
	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
		Header:     resp.Header().Clone(),
	}, nil
}

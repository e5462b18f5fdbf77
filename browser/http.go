package browser

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"
)

const maxBodyBytes = 8 << 20

// HTTPFactory creates sessions that fetch pages with plain GET requests.
// It is the fallback when no browser is available; pages that need
// JavaScript will usually fail marker checks.
type HTTPFactory struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFactory returns a factory with a timeout-bounded client.
func NewHTTPFactory(timeout time.Duration, userAgent string) *HTTPFactory {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFactory{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
	}
}

func (f *HTTPFactory) NewSession(context.Context) (Session, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &httpSession{client: client, userAgent: pickUserAgent(f.UserAgent)}, nil
}

type httpSession struct {
	client    *http.Client
	userAgent string
}

func (s *httpSession) FetchPage(ctx context.Context, req PageRequest) (*RawPage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &NavigationError{URL: req.URL, Err: err}
	}
	httpReq.Header.Set("User-Agent", s.userAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.5")

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		timeout := errors.As(err, &netErr) && netErr.Timeout()
		return nil, &NavigationError{URL: req.URL, Timeout: timeout, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &NavigationError{URL: req.URL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NavigationError{URL: req.URL, Err: err}
	}

	return NewRawPage(req, resp.Request.URL.String(), string(body), time.Since(start))
}

func (s *httpSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

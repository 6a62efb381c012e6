package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptoscan/internal/net/circuit"
	"github.com/sawpanic/cryptoscan/internal/net/ratelimit"
)

const (
	defaultTimeout = 6 * time.Second
	maxBodyBytes   = 32 << 20
	userAgent      = "cryptoscan/1.0 (+public market data)"
)

// Observer receives one callback per attempted upstream call
type Observer interface {
	ObserveFetch(venue, outcome string, elapsed time.Duration)
}

// Config wires the shared guards into a Fetcher
type Config struct {
	Timeout    time.Duration
	Limits     *ratelimit.Manager
	Breakers   *circuit.Manager
	Observer   Observer
	HTTPClient *http.Client
}

// Fetcher performs time-bounded GETs against an ordered list of endpoint candidates
type Fetcher struct {
	http     *http.Client
	timeout  time.Duration
	limits   *ratelimit.Manager
	breakers *circuit.Manager
	observer Observer
}

// NewFetcher creates a fetcher. Nil guards are skipped.
func NewFetcher(cfg Config) *Fetcher {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Fetcher{
		http:     hc,
		timeout:  timeout,
		limits:   cfg.Limits,
		breakers: cfg.Breakers,
		observer: cfg.Observer,
	}
}

// Timeout returns the per-call deadline
func (f *Fetcher) Timeout() time.Duration { return f.timeout }

// Get tries each URL in order and returns the first 2xx body.
// Breakers are kept per host, so an open host is skipped and the next candidate is tried.
// The error from the last attempt is returned when every candidate fails.
func (f *Fetcher) Get(ctx context.Context, venue string, urls ...string) ([]byte, error) {
	if len(urls) == 0 {
		return nil, &ProviderError{Venue: venue, Type: ErrTypeTransport, Err: errors.New("no endpoint candidates")}
	}

	var lastErr error
	for i, u := range urls {
		body, err := f.getOne(ctx, venue, u)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		log.Debug().
			Str("venue", venue).
			Str("url", u).
			Int("attempt", i+1).
			Int("candidates", len(urls)).
			Err(err).
			Msg("endpoint candidate failed")
	}
	return nil, lastErr
}

func (f *Fetcher) getOne(ctx context.Context, venue, rawURL string) ([]byte, error) {
	start := time.Now()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ProviderError{Venue: venue, Type: ErrTypeTransport, URL: rawURL, Err: err}
	}

	if f.limits != nil {
		if err := f.limits.Wait(ctx, venue, parsed.Host); err != nil {
			f.observe(venue, ErrTypeRateLimit, start)
			return nil, &ProviderError{Venue: venue, Type: ErrTypeRateLimit, URL: rawURL, Err: err}
		}
	}

	var body []byte
	call := func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		b, err := f.do(attemptCtx, venue, rawURL)
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	if f.breakers != nil {
		err = f.breakers.Call(ctx, circuit.Key(venue, parsed.Host), call)
		if errors.Is(err, circuit.ErrOpen) {
			err = &ProviderError{Venue: venue, Type: ErrTypeCircuit, URL: rawURL, Err: err}
		}
	} else {
		err = call(ctx)
	}

	if err != nil {
		var perr *ProviderError
		outcome := ErrTypeTransport
		if errors.As(err, &perr) {
			outcome = perr.Type
		}
		f.observe(venue, outcome, start)
		return nil, err
	}
	f.observe(venue, "ok", start)
	return body, nil
}

func (f *Fetcher) do(ctx context.Context, venue, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &ProviderError{Venue: venue, Type: ErrTypeTransport, URL: rawURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		typ := ErrTypeTransport
		if errors.Is(err, context.DeadlineExceeded) {
			typ = ErrTypeTimeout
		}
		return nil, &ProviderError{Venue: venue, Type: typ, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		typ := ErrTypeTransport
		if errors.Is(err, context.DeadlineExceeded) {
			typ = ErrTypeTimeout
		}
		return nil, &ProviderError{Venue: venue, Type: typ, URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{
			Venue:      venue,
			Type:       ErrTypeHTTP,
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}
	return body, nil
}

func (f *Fetcher) observe(venue, outcome string, start time.Time) {
	if f.observer != nil {
		f.observer.ObserveFetch(venue, outcome, time.Since(start))
	}
}

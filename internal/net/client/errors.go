package client

import (
	"errors"
	"fmt"
)

// Error types carried by ProviderError
const (
	ErrTypeRateLimit = "rate_limit"
	ErrTypeCircuit   = "circuit"
	ErrTypeTransport = "transport"
	ErrTypeTimeout   = "timeout"
	ErrTypeHTTP      = "http_error"
	ErrTypeDecode    = "decode"
)

// ProviderError describes a failed upstream call
type ProviderError struct {
	Venue      string `json:"venue"`
	Type       string `json:"type"`
	URL        string `json:"url,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Err        error  `json:"-"`
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("venue %s %s error (HTTP %d): %v", e.Venue, e.Type, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("venue %s %s error: %v", e.Venue, e.Type, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether the call hit its deadline
func (e *ProviderError) IsTimeout() bool { return e.Type == ErrTypeTimeout }

// IsTransport reports whether no HTTP response was received at all
func (e *ProviderError) IsTransport() bool { return e.Type == ErrTypeTransport }

// DecodeError wraps a normalization failure for venue
func DecodeError(venue, url string, err error) error {
	return &ProviderError{Venue: venue, Type: ErrTypeDecode, URL: url, Err: err}
}

// IsTransport reports whether err is a ProviderError without any HTTP response
func IsTransport(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.IsTransport()
}

// IsTimeout reports whether err is a ProviderError caused by the per-call deadline
func IsTimeout(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.IsTimeout()
}

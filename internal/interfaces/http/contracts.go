package http

import (
	"time"

	"github.com/sawpanic/cryptoscan/internal/net/circuit"
	"github.com/sawpanic/cryptoscan/internal/scheduler"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusResponse is returned while a store has nothing to serve yet
type StatusResponse struct {
	Status string `json:"status"`
}

// HealthResponse reports breaker state per venue
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Breakers  map[string]circuit.Stats `json:"breakers"`
	Unhealthy []string                 `json:"unhealthy,omitempty"`
	Jobs      []scheduler.JobStatus    `json:"jobs,omitempty"`
}


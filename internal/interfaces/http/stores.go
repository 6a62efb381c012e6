package http

import (
	"sync"
	"time"

	"github.com/sawpanic/cryptoscan/internal/models"
)

// ResultStore keeps the newest scheduled scan result
type ResultStore struct {
	mu          sync.RWMutex
	job         string
	result      *models.ScanResult
	publishedAt time.Time
}

// NewResultStore returns an empty store
func NewResultStore() *ResultStore {
	return &ResultStore{}
}

// Publish records result as the latest one
func (s *ResultStore) Publish(job string, result *models.ScanResult) {
	if result == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job = job
	s.result = result
	s.publishedAt = time.Now().UTC()
}

// Latest returns the newest result and its job name; ok is false until the first publish
func (s *ResultStore) Latest() (job string, result *models.ScanResult, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.job, s.result, s.result != nil
}

// SignalStore keeps the newest live stream signal
type SignalStore struct {
	mu     sync.RWMutex
	signal *models.LiveSignal
}

// NewSignalStore returns an empty store
func NewSignalStore() *SignalStore {
	return &SignalStore{}
}

// Set replaces the stored signal
func (s *SignalStore) Set(sig models.LiveSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signal = &sig
}

// Latest returns a copy of the stored signal
func (s *SignalStore) Latest() (models.LiveSignal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.signal == nil {
		return models.LiveSignal{}, false
	}
	return *s.signal, true
}

package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HealthStatus represents the health of the checkpoint store
type HealthStatus struct {
	Healthy      bool      `json:"healthy"`
	LastCheck    time.Time `json:"last_check"`
	LastError    string    `json:"last_error,omitempty"`
	ResponseTime int64     `json:"response_time_ms"`
	ErrorCount   int       `json:"error_count"`
	SuccessCount int       `json:"success_count"`
}

// StoreMonitor pings the checkpoint store and keeps the latest outcome. It
// is itself a HealthChecker, so every live check is recorded too.
type StoreMonitor struct {
	checker HealthChecker
	logger  *logrus.Logger

	mu     sync.RWMutex
	status HealthStatus
}

// NewStoreMonitor creates a new monitor over checker
func NewStoreMonitor(checker HealthChecker, logger *logrus.Logger) *StoreMonitor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StoreMonitor{checker: checker, logger: logger}
}

// HealthCheck pings the store and records the result.
func (m *StoreMonitor) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := m.checker.HealthCheck(ctx)
	elapsed := time.Since(start).Milliseconds()

	m.mu.Lock()
	defer m.mu.Unlock()

	wasHealthy := m.status.Healthy || m.status.LastCheck.IsZero()
	m.status.LastCheck = time.Now()
	m.status.ResponseTime = elapsed
	if err != nil {
		m.status.ErrorCount++
		m.status.Healthy = false
		m.status.LastError = err.Error()
		if wasHealthy {
			m.logger.WithError(err).Warn("checkpoint store became unreachable")
		}
		return err
	}

	m.status.SuccessCount++
	m.status.Healthy = true
	m.status.LastError = ""
	if !wasHealthy {
		m.logger.Info("checkpoint store reachable again")
	}
	return nil
}

// Status returns a copy of the latest recorded status
func (m *StoreMonitor) Status() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Run checks the store every interval until ctx is done.
func (m *StoreMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = m.HealthCheck(ctx)
		case <-ctx.Done():
			return
		}
	}
}

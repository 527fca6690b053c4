package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines timeout values for the application's timeout
// hierarchy. Each layer must complete before its parent times out:
//
//	Cron/operator handler (5m reconciliation, 60s settlement)
//	  Service layer (50s)
//	    Escrow gateway call (30s)
//	      Single retry attempt (10s)
type TimeoutConfig struct {
	// Handler layer timeouts
	HTTPHandler time.Duration // settlement/report request timeout
	CronJob     time.Duration // full reconciliation run timeout

	// Service layer timeout
	Service time.Duration

	// External escrow gateway timeouts
	ExternalAPI time.Duration // full call including retries
	SingleRetry time.Duration // individual attempt
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler: 60 * time.Second,
		CronJob:     5 * time.Minute,
		Service:     50 * time.Second,
		ExternalAPI: 30 * time.Second,
		SingleRetry: 10 * time.Second,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler: 5 * time.Second,
		CronJob:     30 * time.Second,
		Service:     4 * time.Second,
		ExternalAPI: 2 * time.Second,
		SingleRetry: 1 * time.Second,
	}
}

// HandlerContext creates a context with timeout for HTTP handlers
func (tc *TimeoutConfig) HandlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.HTTPHandler)
}

// CronContext creates a context with timeout for scheduled runs
func (tc *TimeoutConfig) CronContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.CronJob)
}

// ServiceContext creates a context with timeout for service layer operations
func (tc *TimeoutConfig) ServiceContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Service)
}

// ExternalAPIContext creates a context for escrow gateway calls
func (tc *TimeoutConfig) ExternalAPIContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.ExternalAPI)
}

// RetryAttemptContext creates a context for a single retry attempt
func (tc *TimeoutConfig) RetryAttemptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.SingleRetry)
}

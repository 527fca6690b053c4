package resilience

import (
	"context"
	"testing"
	"time"
)

func TestDefaultTimeoutConfigHierarchy(t *testing.T) {
	config := DefaultTimeoutConfig()

	if config.CronJob <= config.HTTPHandler {
		t.Errorf("CronJob (%v) must be > HTTPHandler (%v)", config.CronJob, config.HTTPHandler)
	}
	if config.HTTPHandler <= config.Service {
		t.Errorf("HTTPHandler (%v) must be > Service (%v)", config.HTTPHandler, config.Service)
	}
	if config.Service <= config.ExternalAPI {
		t.Errorf("Service (%v) must be > ExternalAPI (%v)", config.Service, config.ExternalAPI)
	}
	if config.ExternalAPI <= config.SingleRetry {
		t.Errorf("ExternalAPI (%v) must be > SingleRetry (%v)", config.ExternalAPI, config.SingleRetry)
	}
}

func TestTestTimeoutConfigHierarchy(t *testing.T) {
	config := TestTimeoutConfig()

	if config.HTTPHandler >= 10*time.Second {
		t.Errorf("test timeouts should be < 10s, got %v", config.HTTPHandler)
	}
	if config.Service <= config.ExternalAPI {
		t.Errorf("Service (%v) must be > ExternalAPI (%v)", config.Service, config.ExternalAPI)
	}
}

func TestContextCreators(t *testing.T) {
	config := DefaultTimeoutConfig()
	parent := context.Background()

	tests := []struct {
		name    string
		creator func(context.Context) (context.Context, context.CancelFunc)
		timeout time.Duration
	}{
		{"HandlerContext", config.HandlerContext, config.HTTPHandler},
		{"CronContext", config.CronContext, config.CronJob},
		{"ServiceContext", config.ServiceContext, config.Service},
		{"ExternalAPIContext", config.ExternalAPIContext, config.ExternalAPI},
		{"RetryAttemptContext", config.RetryAttemptContext, config.SingleRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := tt.creator(parent)
			defer cancel()

			deadline, ok := ctx.Deadline()
			if !ok {
				t.Fatalf("%s should have deadline", tt.name)
			}

			expectedDeadline := time.Now().Add(tt.timeout)
			diff := deadline.Sub(expectedDeadline).Abs()
			if diff > 100*time.Millisecond {
				t.Errorf("%s: deadline diff too large: %v (expected ~%v)", tt.name, diff, tt.timeout)
			}
		})
	}
}

func TestChildInheritsShorterParentDeadline(t *testing.T) {
	config := DefaultTimeoutConfig()

	parent, parentCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer parentCancel()

	child, childCancel := config.HandlerContext(parent)
	defer childCancel()

	parentDeadline, _ := parent.Deadline()
	childDeadline, _ := child.Deadline()
	if childDeadline.After(parentDeadline) {
		t.Errorf("child deadline (%v) should not be after parent deadline (%v)", childDeadline, parentDeadline)
	}
}

func TestContextCancellationPropagation(t *testing.T) {
	config := DefaultTimeoutConfig()

	ctx, cancel := config.ServiceContext(context.Background())
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Error("context should be cancelled immediately")
	}
	if ctx.Err() != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", ctx.Err())
	}
}

func TestContextTimesOut(t *testing.T) {
	config := TestTimeoutConfig()
	config.Service = 100 * time.Millisecond

	ctx, cancel := config.ServiceContext(context.Background())
	defer cancel()

	select {
	case <-ctx.Done():
		if ctx.Err() != context.DeadlineExceeded {
			t.Errorf("expected context.DeadlineExceeded, got %v", ctx.Err())
		}
	case <-time.After(200 * time.Millisecond):
		t.Error("context should time out after 100ms")
	}
}

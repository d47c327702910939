package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"timeout", ErrTimeout, true},
		{"capacity underflow", ErrCapacityUnderflow, true},
		{"external fault", ErrExternalFault, true},
		{"wrapped timeout", Wrap(ErrTimeout, "Composite", "Push", "commit"), true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"validation", ErrValidation, false},
		{"fatal fault", ErrFatalFault, false},
		{"transition in flight", ErrTransitionInFlight, false},
		{"unavailable in message", fmt.Errorf("device temporarily unavailable"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"fatal fault", ErrFatalFault, true},
		{"wrapped fatal fault", Wrap(ErrFatalFault, "Base", "Load", "allocate"), true},
		{"external fault raised fatal", Newf(ErrorFatal, ErrExternalFault, "Discovery", "remove", "device %s gone", "video0"), true},
		{"external fault", ErrExternalFault, false},
		{"invalid config", ErrInvalidConfig, false},
		{"timeout", ErrTimeout, false},
		{"panic in message", fmt.Errorf("panic: loop crashed"), true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsFatal(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"validation", ErrValidation, true},
		{"unsupported operation", ErrUnsupportedOperation, true},
		{"incompatible format", ErrIncompatibleFormat, true},
		{"access violation", ErrAccessViolation, true},
		{"invalid transition", ErrInvalidTransition, true},
		{"invalid config", ErrInvalidConfig, true},
		{"missing config", ErrMissingConfig, true},
		{"timeout", ErrTimeout, false},
		{"fatal fault", ErrFatalFault, false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil error", nil, ErrorTransient},
		{"timeout", ErrTimeout, ErrorTransient},
		{"capacity underflow", ErrCapacityUnderflow, ErrorTransient},
		{"fatal fault", ErrFatalFault, ErrorFatal},
		{"validation", ErrValidation, ErrorInvalid},
		{"missing config", ErrMissingConfig, ErrorInvalid},
		{"class overrides kind", Newf(ErrorFatal, ErrExternalFault, "Reader", "loop", "read failed"), ErrorFatal},
		{"unknown error", fmt.Errorf("unknown error"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := Classify(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestResourceConflictKinds(t *testing.T) {
	for _, kind := range []error{ErrTransitionInFlight, ErrNotOwner, ErrNegotiationBusy} {
		t.Run(kind.Error(), func(t *testing.T) {
			if !errors.Is(kind, ErrResourceConflict) {
				t.Errorf("%v should match ErrResourceConflict", kind)
			}
			err := Newf(ErrorInvalid, kind, "Port", "Release", "slot 3")
			if !errors.Is(err, kind) || !errors.Is(err, ErrResourceConflict) {
				t.Errorf("classified %v lost its kind", err)
			}
		})
	}

	if errors.Is(ErrNotOwner, ErrNegotiationBusy) {
		t.Error("sibling conflict kinds must not match each other")
	}
	if errors.Is(ErrResourceConflict, ErrNotOwner) {
		t.Error("the parent kind must not match a specific conflict")
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ErrorInvalid, ErrValidation, "Integer", "Set", "value %d above maximum %d", 120, 100)

	expected := "Integer.Set: value 120 above maximum 100: value outside declared domain"
	if err.Error() != expected {
		t.Errorf("expected '%s', got '%s'", expected, err.Error())
	}
	if !errors.Is(err, ErrValidation) {
		t.Error("Newf should keep the kind in the chain")
	}

	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatal("Newf should return a ClassifiedError")
	}
	if ce.Class != ErrorInvalid || ce.Component != "Integer" || ce.Operation != "Set" {
		t.Errorf("unexpected classification %+v", ce)
	}
}

func TestClassifiedError(t *testing.T) {
	baseErr := fmt.Errorf("base error")
	ce := newClassified(ErrorTransient, baseErr, "testComponent", "testOperation", "custom message")

	if ce.Class != ErrorTransient {
		t.Errorf("expected ErrorTransient, got %v", ce.Class)
	}

	if ce.Component != "testComponent" {
		t.Errorf("expected testComponent, got %s", ce.Component)
	}

	if ce.Operation != "testOperation" {
		t.Errorf("expected testOperation, got %s", ce.Operation)
	}

	if ce.Error() != "custom message" {
		t.Errorf("expected 'custom message', got %s", ce.Error())
	}

	if !errors.Is(ce, baseErr) {
		t.Error("classified error should unwrap to base error")
	}
}

func TestClassifiedError_NoMessage(t *testing.T) {
	baseErr := fmt.Errorf("base error")
	ce := newClassified(ErrorTransient, baseErr, "testComponent", "testOperation", "")

	if ce.Error() != "base error" {
		t.Errorf("expected 'base error', got %s", ce.Error())
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		component string
		method    string
		action    string
		expected  string
	}{
		{
			"nil error",
			nil,
			"component",
			"method",
			"action",
			"",
		},
		{
			"basic wrap",
			fmt.Errorf("original error"),
			"Writer",
			"Load",
			"create file:out.raw",
			"Writer.Load: create file:out.raw failed: original error",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := Wrap(test.err, test.component, test.method, test.action)
			if test.expected == "" {
				if result != nil {
					t.Errorf("expected nil, got %v", result)
				}
			} else {
				if result == nil || result.Error() != test.expected {
					t.Errorf("expected '%s', got '%v'", test.expected, result)
				}
			}
		})
	}
}

func TestWrapClassified(t *testing.T) {
	baseErr := fmt.Errorf("original error")

	tests := []struct {
		name     string
		wrapFunc func(error, string, string, string) error
		class    ErrorClass
	}{
		{"WrapTransient", WrapTransient, ErrorTransient},
		{"WrapFatal", WrapFatal, ErrorFatal},
		{"WrapInvalid", WrapInvalid, ErrorInvalid},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := test.wrapFunc(baseErr, "component", "method", "action")

			var ce *ClassifiedError
			if !errors.As(result, &ce) {
				t.Error("result should be a ClassifiedError")
				return
			}

			if ce.Class != test.class {
				t.Errorf("expected %v, got %v", test.class, ce.Class)
			}

			if ce.Component != "component" {
				t.Errorf("expected 'component', got %s", ce.Component)
			}

			if ce.Operation != "method" {
				t.Errorf("expected 'method', got %s", ce.Operation)
			}

			if !strings.Contains(ce.Error(), "component.method: action failed") {
				t.Errorf("error should contain standard format, got: %s", ce.Error())
			}

			if test.wrapFunc(nil, "component", "method", "action") != nil {
				t.Error("wrapping nil should return nil")
			}
		})
	}
}

func TestRetryConfig_ShouldRetry(t *testing.T) {
	config := DefaultRetryConfig()

	tests := []struct {
		name     string
		err      error
		attempt  int
		expected bool
	}{
		{"nil error", nil, 0, false},
		{"max retries exceeded", ErrTimeout, 3, false},
		{"transient error within limit", ErrExternalFault, 1, true},
		{"fatal error", ErrFatalFault, 1, false},
		{"invalid error", ErrValidation, 1, false},
		{"busy in message", fmt.Errorf("device busy"), 1, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := config.ShouldRetry(test.err, test.attempt)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v, attempt: %d",
					test.expected, result, test.err, test.attempt)
			}
		})
	}
}

func TestRetryConfig_ShouldRetry_WithSpecificErrors(t *testing.T) {
	config := RetryConfig{
		MaxRetries:      3,
		InitialDelay:    100 * time.Millisecond,
		BackoffFactor:   2.0,
		RetryableErrors: []error{ErrTimeout},
	}

	if !config.ShouldRetry(Wrap(ErrTimeout, "Connection", "negotiate", "wait for peer"), 1) {
		t.Error("should retry a wrapped timeout")
	}

	// Transient, but not in the list
	if config.ShouldRetry(ErrCapacityUnderflow, 1) {
		t.Error("should not retry capacity underflow when not in retryable list")
	}
}

func TestRetryConfig_BackoffDelay(t *testing.T) {
	config := RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      1 * time.Second,
		BackoffFactor: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second}, // Capped at MaxDelay
		{5, 1 * time.Second},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("attempt_%d", test.attempt), func(t *testing.T) {
			result := config.BackoffDelay(test.attempt)
			if result != test.expected {
				t.Errorf("expected %v, got %v", test.expected, result)
			}
		})
	}
}

func TestRetryConfig_ToRetryConfig(t *testing.T) {
	errorsConfig := RetryConfig{
		MaxRetries:    5,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 1.5,
	}

	retryConfig := errorsConfig.ToRetryConfig()

	if retryConfig.MaxAttempts != 6 { // MaxRetries + 1
		t.Errorf("expected MaxAttempts %d, got %d", 6, retryConfig.MaxAttempts)
	}
	if retryConfig.InitialDelay != 200*time.Millisecond {
		t.Errorf("expected InitialDelay %v, got %v", 200*time.Millisecond, retryConfig.InitialDelay)
	}
	if retryConfig.MaxDelay != 10*time.Second {
		t.Errorf("expected MaxDelay %v, got %v", 10*time.Second, retryConfig.MaxDelay)
	}
	if retryConfig.Multiplier != 1.5 {
		t.Errorf("expected Multiplier %f, got %f", 1.5, retryConfig.Multiplier)
	}
	if !retryConfig.AddJitter {
		t.Error("expected AddJitter to be true")
	}
}

func TestErrorKinds(t *testing.T) {
	kinds := []error{
		ErrValidation,
		ErrUnsupportedOperation,
		ErrCapacityOverflow,
		ErrCapacityUnderflow,
		ErrResourceConflict,
		ErrTransitionInFlight,
		ErrNotOwner,
		ErrNegotiationBusy,
		ErrReleaseFailure,
		ErrIncompatibleFormat,
		ErrInvalidTransition,
		ErrNotFound,
		ErrExternalFault,
		ErrFatalFault,
		ErrAccessViolation,
		ErrOutOfWindow,
		ErrClosed,
		ErrTimeout,
		ErrInvalidConfig,
		ErrMissingConfig,
	}

	seen := make(map[string]int)
	for i, err := range kinds {
		if err == nil {
			t.Fatalf("error kind at index %d is nil", i)
		}
		if err.Error() == "" {
			t.Errorf("error kind at index %d has empty message", i)
		}
		if j, dup := seen[err.Error()]; dup {
			t.Errorf("error kinds %d and %d share the message %q", j, i, err.Error())
		}
		seen[err.Error()] = i
	}
}

func BenchmarkIsTransient(b *testing.B) {
	err := Wrap(ErrTimeout, "Composite", "Push", "commit")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		IsTransient(err)
	}
}

func BenchmarkClassify(b *testing.B) {
	err := ErrValidation
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Classify(err)
	}
}

func BenchmarkWrap(b *testing.B) {
	err := fmt.Errorf("base error")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Wrap(err, "component", "method", "action")
	}
}

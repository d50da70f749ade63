package testutil

import (
	"testing"
	"time"
)

// WaitForCondition polls condition every interval until it holds or timeout passes.
func WaitForCondition(condition func() bool, timeout, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}
	return condition()
}

// AssertEventually fails the test if condition does not hold within timeout.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()
	if !WaitForCondition(condition, timeout, 10*time.Millisecond) {
		t.Fatalf("condition not met within %v: %s", timeout, message)
	}
}

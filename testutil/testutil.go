// Package testutil holds helpers shared by package tests: an isolated
// Prometheus registry and bounded polling waits.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"entropy-compare/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	pollInterval = 2 * time.Millisecond
	// DefaultWait bounds waits whose context carries no deadline.
	DefaultWait = 5 * time.Second
)

var registryMu sync.Mutex

// ResetRegistryForTest points the metrics package at a fresh registry until
// t finishes, then restores the default registerer. Tests that call it run
// one at a time.
func ResetRegistryForTest(t testing.TB) *prometheus.Registry {
	t.Helper()

	registryMu.Lock()
	reg := prometheus.NewRegistry()
	metrics.ResetForTesting(reg)
	t.Cleanup(func() {
		defer registryMu.Unlock()
		metrics.ResetForTesting(prometheus.DefaultRegisterer)
	})
	return reg
}

// WaitForCondition calls check every few milliseconds until it reports true
// and returns its value. A ctx without a deadline is bounded by DefaultWait.
func WaitForCondition[T any](ctx context.Context, check func() (T, bool)) (T, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultWait)
		defer cancel()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if v, ok := check(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForError returns the first value received on ch. The test fails when
// nothing arrives within DefaultWait.
func WaitForError(t testing.TB, ch <-chan error, what string) error {
	t.Helper()

	select {
	case err := <-ch:
		return err
	case <-time.After(DefaultWait):
		t.Fatalf("timed out after %v waiting for %s", DefaultWait, what)
		return nil
	}
}

package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fhirstack/internal/config"
)

func probeDef(target string, successThreshold, failureThreshold int) config.HealthCheckDefinition {
	return config.HealthCheckDefinition{
		Protocol:         config.ProbeHTTP,
		Target:           target,
		Interval:         20 * time.Millisecond,
		Timeout:          time.Second,
		SuccessThreshold: successThreshold,
		FailureThreshold: failureThreshold,
	}
}

func waitForStatus(t *testing.T, m *Monitor, name string, want Status) Record {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		rec := m.Status(name)
		if rec.Status == want {
			return rec
		}
		select {
		case <-deadline:
			t.Fatalf("service %s never reached status %s (current: %s)", name, want, rec.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWatch_NoProbeIsImmediatelyHealthy(t *testing.T) {
	m := NewMonitor()
	require.NoError(t, m.Watch(context.Background(), "db", config.HealthCheckDefinition{}))

	rec := m.Status("db")
	assert.Equal(t, StatusHealthy, rec.Status)
}

func TestWatch_BecomesHealthyAfterSuccessThreshold(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewMonitor()
	require.NoError(t, m.Watch(context.Background(), "fhir", probeDef(server.URL, 2, 3)))

	rec := waitForStatus(t, m, "fhir", StatusHealthy)
	assert.GreaterOrEqual(t, rec.ConsecutiveSuccesses, 2)
	m.Unwatch("fhir")
}

func TestWatch_BecomesUnhealthyAfterFailureThreshold(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	m := NewMonitor()
	require.NoError(t, m.Watch(context.Background(), "fhir", probeDef(server.URL, 1, 3)))
	waitForStatus(t, m, "fhir", StatusHealthy)

	healthy.Store(false)
	rec := waitForStatus(t, m, "fhir", StatusUnhealthy)
	assert.GreaterOrEqual(t, rec.ConsecutiveFailures, 3)
	assert.Error(t, rec.LastErr)
	m.Unwatch("fhir")
}

func TestWatch_SingleFailureBelowThresholdStaysHealthy(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Fail exactly one probe, then recover.
		if calls.Add(1) == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewMonitor()
	require.NoError(t, m.Watch(context.Background(), "fhir", probeDef(server.URL, 1, 3)))
	waitForStatus(t, m, "fhir", StatusHealthy)

	// Let several probe cycles pass over the single failure.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StatusHealthy, m.Status("fhir").Status)
	m.Unwatch("fhir")
}

func TestUnwatch_ResetsToUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewMonitor()
	require.NoError(t, m.Watch(context.Background(), "fhir", probeDef(server.URL, 1, 3)))
	waitForStatus(t, m, "fhir", StatusHealthy)

	m.Unwatch("fhir")
	assert.Equal(t, StatusUnknown, m.Status("fhir").Status)
}

// A check in flight when Unwatch runs must not publish its result afterwards:
// the Unknown reset is final until the next Watch.
func TestUnwatch_DiscardsInFlightResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewMonitor()
	for i := 0; i < 50; i++ {
		require.NoError(t, m.Watch(context.Background(), "fhir", probeDef(server.URL, 1, 3)))
		m.Unwatch("fhir")
	}

	// Let any straggling check complete; none may overwrite the reset.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StatusUnknown, m.Status("fhir").Status)
}

func TestAwaitHealthy_UnblocksOnTransition(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	m := NewMonitor()
	require.NoError(t, m.Watch(context.Background(), "db", probeDef(server.URL, 1, 100)))

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- m.AwaitHealthy(ctx, "db")
	}()

	// Wait must still be pending while the probe keeps failing.
	select {
	case err := <-done:
		t.Fatalf("AwaitHealthy returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	healthy.Store(true)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitHealthy never unblocked")
	}
	m.Unwatch("db")
}

func TestAwaitHealthy_ImmediateWhenAlreadyHealthy(t *testing.T) {
	m := NewMonitor()
	require.NoError(t, m.Watch(context.Background(), "db", config.HealthCheckDefinition{}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, m.AwaitHealthy(ctx, "db"))
}

func TestAwaitHealthy_ContextDeadline(t *testing.T) {
	m := NewMonitor()
	// Never watched, never transitions.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := m.AwaitHealthy(ctx, "ghost")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMarkFailed_UnblocksWaitersWithError(t *testing.T) {
	m := NewMonitor()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- m.AwaitHealthy(ctx, "db")
	}()

	time.Sleep(20 * time.Millisecond)
	cause := errors.New("launch failed permanently")
	m.MarkFailed("db", cause)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, cause)
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitHealthy never unblocked after MarkFailed")
	}

	rec := m.Status("db")
	assert.Equal(t, StatusUnhealthy, rec.Status)
	assert.True(t, rec.Terminal)
}

func TestTransitionCallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	type transition struct {
		name     string
		from, to Status
	}

	var mu sync.Mutex
	var seen []transition

	m := NewMonitor()
	m.SetTransitionCallback(func(name string, oldStatus, newStatus Status, err error) {
		mu.Lock()
		seen = append(seen, transition{name, oldStatus, newStatus})
		mu.Unlock()
	})

	require.NoError(t, m.Watch(context.Background(), "fhir", probeDef(server.URL, 1, 3)))
	waitForStatus(t, m, "fhir", StatusHealthy)
	m.Unwatch("fhir")

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, transition{"fhir", StatusUnknown, StatusHealthy}, seen[0])
}

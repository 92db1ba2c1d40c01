package stepauth

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc(MetricCodeAccepted)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.Counters[MetricCodeAccepted] != 800 {
		t.Fatalf("MetricCodeAccepted = %d, want 800", snap.Counters[MetricCodeAccepted])
	}
	if snap.Counters[MetricCodeRejected] != 0 {
		t.Fatalf("MetricCodeRejected = %d, want 0", snap.Counters[MetricCodeRejected])
	}
}

func TestMetricsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{})
	if m != nil {
		t.Fatal("disabled metrics should be nil")
	}
	m.Inc(MetricProvision)
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("disabled snapshot has %d counters", len(snap.Counters))
	}
}

func TestEngineMetrics(t *testing.T) {
	store := newMemStore(Identity{ID: "u-1"})
	engine := newTestEngine(t, store)
	ctx := context.Background()

	if _, err := engine.Provision(ctx, "u-1"); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	enrollment, _ := store.pendingEnrollment("u-1")
	code := totpAt(t, enrollment.Secret, time.Now(), engine.config.TOTP)
	if err := engine.Activate(ctx, "u-1", code); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	_ = engine.VerifyForLogin(ctx, "u-1", "000000")

	snap := engine.MetricsSnapshot()
	for _, check := range []struct {
		id   MetricID
		want uint64
	}{
		{MetricProvision, 1},
		{MetricActivationSuccess, 1},
		{MetricCodeRejected, 1},
	} {
		if got := snap.Counters[check.id]; got != check.want {
			t.Errorf("metric %d = %d, want %d", check.id, got, check.want)
		}
	}
}

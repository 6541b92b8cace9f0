package fleet

import (
	"context"
	"sync"
	"testing"
	"time"
)

// scriptedProber returns canned up/down results per worker port, in the
// order ProbeOnce visits them for that port, holding the last result once
// the script is exhausted.
type scriptedProber struct {
	mu     sync.Mutex
	script map[int][]bool
}

func (p *scriptedProber) probe(_ context.Context, port int, _ time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	steps := p.script[port]
	if len(steps) == 0 {
		return true
	}
	next := steps[0]
	if len(steps) > 1 {
		p.script[port] = steps[1:]
	}
	return next
}

func TestHealthMonitorStartsHealthy(t *testing.T) {
	p := &scriptedProber{script: map[int][]bool{9000: {true}}}
	hm := NewHealthMonitor(p.probe, time.Hour, time.Second, 3)
	hm.Track("w1", 9000)
	if !hm.IsHealthy("w1") {
		t.Fatal("expected a freshly tracked worker to start healthy")
	}
}

func TestHealthMonitorFlipsAfterThresholdFailures(t *testing.T) {
	p := &scriptedProber{script: map[int][]bool{9000: {false, false, false}}}
	hm := NewHealthMonitor(p.probe, time.Hour, time.Second, 3)
	hm.Track("w1", 9000)

	var events []HealthChangeEvent
	hm.OnHealthChange(func(e HealthChangeEvent) { events = append(events, e) })

	hm.ProbeOnce(context.Background())
	hm.ProbeOnce(context.Background())
	if !hm.IsHealthy("w1") {
		t.Fatal("expected worker to remain healthy below the failure threshold")
	}
	hm.ProbeOnce(context.Background())
	if hm.IsHealthy("w1") {
		t.Fatal("expected worker to flip unhealthy at the failure threshold")
	}
	if len(events) != 1 || events[0].Healthy {
		t.Fatalf("expected exactly one unhealthy transition, got %+v", events)
	}
}

func TestHealthMonitorRecoversAndResetsFailureCount(t *testing.T) {
	p := &scriptedProber{script: map[int][]bool{9000: {false, false, false, true}}}
	hm := NewHealthMonitor(p.probe, time.Hour, time.Second, 3)
	hm.Track("w1", 9000)

	for i := 0; i < 3; i++ {
		hm.ProbeOnce(context.Background())
	}
	if hm.IsHealthy("w1") {
		t.Fatal("expected unhealthy after 3 failures")
	}
	hm.ProbeOnce(context.Background())
	if !hm.IsHealthy("w1") {
		t.Fatal("expected recovery on a successful probe")
	}
}

func TestHealthMonitorUntrackStopsProbing(t *testing.T) {
	p := &scriptedProber{script: map[int][]bool{9000: {false, false, false}}}
	hm := NewHealthMonitor(p.probe, time.Hour, time.Second, 3)
	hm.Track("w1", 9000)
	hm.Untrack("w1")

	hm.ProbeOnce(context.Background())
	if hm.IsHealthy("w1") {
		t.Fatal("expected untracked worker to report unhealthy (not tracked)")
	}
}

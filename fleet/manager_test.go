package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/use-agent/browserbridge/apperrors"
	"github.com/use-agent/browserbridge/config"
)

func testFleetCfg() config.FleetConfig {
	return config.FleetConfig{
		PortRangeMin:           9500,
		PortRangeMax:           9510,
		MaxWorkers:             1,
		LeaseTTL:               time.Minute,
		IdleTimeout:            time.Minute,
		HardTTL:                time.Hour,
		HealthProbeInterval:    time.Hour,
		HealthProbeTimeout:     time.Second,
		HealthFailureThreshold: 3,
		WorkerStartTimeout:     time.Second,
		WorkerStopGrace:        time.Millisecond,
		ProfileDirRoot:         "/tmp/browserbridge-fleet-test",
	}
}

// plantWorker inserts an un-started (idle) worker directly into the
// manager's bookkeeping, bypassing the real Chromium spawn so fleet
// composition logic can be exercised without an actual browser binary.
func plantWorker(wm *WorkerManager, workerID, tenantID string, port int) *Worker {
	w := NewWorker(workerID, port, wm.cfg.ProfileDirRoot, wm.cfg.ChromeBin)
	wm.mu.Lock()
	wm.workers[workerID] = &managedWorker{worker: w, tenantID: tenantID}
	wm.mu.Unlock()
	wm.health.Track(workerID, port)
	return w
}

func TestAcquireForTenantReusesExistingLeaseWorker(t *testing.T) {
	cfg := testFleetCfg()
	wm, err := NewWorkerManager(cfg, alwaysHealthy)
	if err != nil {
		t.Fatal(err)
	}
	plantWorker(wm, "worker-1", "tenant-1", 9500)
	if _, err := wm.leases.Acquire("tenant-1", "ctrl-a", "worker-1", cfg.LeaseTTL); err != nil {
		t.Fatal(err)
	}

	w, lease, err := wm.AcquireForTenant(context.Background(), "tenant-1", "ctrl-a")
	if err != nil {
		t.Fatal(err)
	}
	if w.ID() != "worker-1" || lease.WorkerID != "worker-1" {
		t.Fatalf("expected the tenant's existing worker to be reused, got %+v %+v", w, lease)
	}
}

func TestAcquireForTenantAtCapacityReportsMaxWorkersReached(t *testing.T) {
	cfg := testFleetCfg() // MaxWorkers: 1
	wm, err := NewWorkerManager(cfg, alwaysHealthy)
	if err != nil {
		t.Fatal(err)
	}
	plantWorker(wm, "worker-1", "tenant-1", 9500)

	_, _, err = wm.AcquireForTenant(context.Background(), "tenant-2", "ctrl-b")
	if !apperrors.Is(err, apperrors.CodeMaxWorkersReached) {
		t.Fatalf("expected max_workers_reached, got %v", err)
	}
}

func TestReleaseLeaseMarksWorkerIdle(t *testing.T) {
	cfg := testFleetCfg()
	wm, err := NewWorkerManager(cfg, alwaysHealthy)
	if err != nil {
		t.Fatal(err)
	}
	plantWorker(wm, "worker-1", "tenant-1", 9500)
	wm.leases.Acquire("tenant-1", "ctrl-a", "worker-1", cfg.LeaseTTL)

	if err := wm.ReleaseLease("tenant-1", "ctrl-a"); err != nil {
		t.Fatal(err)
	}
	wm.mu.Lock()
	idle := !wm.workers["worker-1"].lastReleased.IsZero()
	wm.mu.Unlock()
	if !idle {
		t.Fatal("expected the released worker to be marked idle")
	}
}

func TestReapIdleAndExpiredStopsIdleWorker(t *testing.T) {
	cfg := testFleetCfg()
	cfg.IdleTimeout = time.Millisecond
	wm, err := NewWorkerManager(cfg, alwaysHealthy)
	if err != nil {
		t.Fatal(err)
	}
	plantWorker(wm, "worker-1", "tenant-1", 9500)
	wm.leases.Acquire("tenant-1", "ctrl-a", "worker-1", cfg.LeaseTTL)
	wm.ReleaseLease("tenant-1", "ctrl-a")

	time.Sleep(5 * time.Millisecond)
	stopped := wm.ReapIdleAndExpired()
	if len(stopped) != 1 || stopped[0] != "worker-1" {
		t.Fatalf("expected worker-1 to be reaped for idling, got %v", stopped)
	}
	if wm.ports.AllocatedCount() != 0 {
		t.Fatalf("expected the reaped worker's port to be released, got %d allocated", wm.ports.AllocatedCount())
	}
}

func TestStopWorkerRevokesTenantLease(t *testing.T) {
	cfg := testFleetCfg()
	wm, err := NewWorkerManager(cfg, alwaysHealthy)
	if err != nil {
		t.Fatal(err)
	}
	plantWorker(wm, "worker-1", "tenant-1", 9500)
	wm.leases.Acquire("tenant-1", "ctrl-a", "worker-1", cfg.LeaseTTL)

	if err := wm.StopWorker("worker-1", "operator request"); err != nil {
		t.Fatal(err)
	}
	if _, ok := wm.leases.Get("tenant-1"); ok {
		t.Fatal("expected tenant-1's lease to be revoked when its worker is stopped")
	}
	if _, ok := wm.workers["worker-1"]; ok {
		t.Fatal("expected the stopped worker to be removed from bookkeeping")
	}
}

func TestShutdownIsIdempotentAndStopsAllWorkers(t *testing.T) {
	cfg := testFleetCfg()
	cfg.MaxWorkers = 5
	wm, err := NewWorkerManager(cfg, alwaysHealthy)
	if err != nil {
		t.Fatal(err)
	}
	plantWorker(wm, "worker-1", "tenant-1", 9500)
	plantWorker(wm, "worker-2", "tenant-2", 9501)

	wm.Shutdown()
	wm.Shutdown() // must not panic or block on a second call

	if len(wm.workers) != 0 {
		t.Fatalf("expected all workers stopped after shutdown, got %d remaining", len(wm.workers))
	}
	if _, _, err := wm.AcquireForTenant(context.Background(), "tenant-3", "ctrl-c"); !apperrors.Is(err, apperrors.CodeInvalidState) {
		t.Fatalf("expected acquisitions to be refused after shutdown, got %v", err)
	}
}

func TestStopWorkerEmitsWorkerStoppedWithReason(t *testing.T) {
	cfg := testFleetCfg()
	wm, err := NewWorkerManager(cfg, alwaysHealthy)
	if err != nil {
		t.Fatal(err)
	}
	plantWorker(wm, "worker-1", "tenant-1", 9500)
	wm.leases.Acquire("tenant-1", "ctrl-a", "worker-1", cfg.LeaseTTL)

	var got []WorkerEvent
	wm.OnEvent(func(evt WorkerEvent) { got = append(got, evt) })

	if err := wm.StopWorker("worker-1", "idle or TTL expired"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Kind != "workerStopped" || got[0].Reason != "idle or TTL expired" {
		t.Fatalf("expected one workerStopped event with the idle reason, got %+v", got)
	}
}

func TestAcquireForTenantEmitsLeaseAcquiredOnReuse(t *testing.T) {
	cfg := testFleetCfg()
	wm, err := NewWorkerManager(cfg, alwaysHealthy)
	if err != nil {
		t.Fatal(err)
	}
	plantWorker(wm, "worker-1", "tenant-1", 9500)
	wm.leases.Acquire("tenant-1", "ctrl-a", "worker-1", cfg.LeaseTTL)

	var got []WorkerEvent
	wm.OnEvent(func(evt WorkerEvent) { got = append(got, evt) })

	if _, _, err := wm.AcquireForTenant(context.Background(), "tenant-1", "ctrl-a"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Kind != "leaseAcquired" || got[0].WorkerID != "worker-1" {
		t.Fatalf("expected one leaseAcquired event for the reused worker, got %+v", got)
	}
}

func TestOnWorkerExitEmitsWorkerCrashed(t *testing.T) {
	cfg := testFleetCfg()
	wm, err := NewWorkerManager(cfg, alwaysHealthy)
	if err != nil {
		t.Fatal(err)
	}
	plantWorker(wm, "worker-1", "tenant-1", 9500)
	wm.leases.Acquire("tenant-1", "ctrl-a", "worker-1", cfg.LeaseTTL)

	var got []WorkerEvent
	wm.OnEvent(func(evt WorkerEvent) { got = append(got, evt) })

	wm.onWorkerExit(ExitEvent{WorkerID: "worker-1", Crashed: true})
	if len(got) != 1 || got[0].Kind != "workerCrashed" || got[0].TenantID != "tenant-1" {
		t.Fatalf("expected one workerCrashed event for tenant-1, got %+v", got)
	}
}

func alwaysHealthy(_ context.Context, _ int, _ time.Duration) bool { return true }

package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/use-agent/browserbridge/apperrors"
	"github.com/use-agent/browserbridge/config"
)

// managedWorker pairs a running Worker with its fleet bookkeeping.
type managedWorker struct {
	worker       *Worker
	tenantID     string
	lastReleased time.Time // zero while held
}

// WorkerEvent reports a fleet lifecycle transition: worker creation and
// startup, lease acquisition, controlled stop, or crash.
type WorkerEvent struct {
	Kind     string // "workerCreated", "workerStarted", "leaseAcquired", "workerStopped", "workerCrashed"
	WorkerID string
	TenantID string
	Reason   string // set for workerStopped/workerCrashed
}

// WorkerManager composes the Port Allocator, Lease Manager, Chrome
// Worker Process, and Health Monitor into the tenant-facing fleet API:
// acquire a worker for a tenant, release it back to the idle pool, and
// reap workers on idle timeout, hard TTL, or crash.
type WorkerManager struct {
	mu sync.Mutex

	cfg     config.FleetConfig
	ports   *PortAllocator
	leases  *LeaseManager
	health  *HealthMonitor
	workers map[string]*managedWorker // worker_id -> managed worker
	nextSeq uint64

	shuttingDown bool

	events listeners[WorkerEvent]
}

// OnEvent registers fn to receive every fleet lifecycle event. The
// returned cancel func unsubscribes it.
func (wm *WorkerManager) OnEvent(fn func(WorkerEvent)) (cancel func()) {
	return wm.events.add(fn)
}

// NewWorkerManager wires the fleet leaves together per cfg.
func NewWorkerManager(cfg config.FleetConfig, prober Prober) (*WorkerManager, error) {
	ports, err := NewPortAllocator(cfg.PortRangeMin, cfg.PortRangeMax)
	if err != nil {
		return nil, err
	}
	if prober == nil {
		prober = HTTPProber
	}
	wm := &WorkerManager{
		cfg:     cfg,
		ports:   ports,
		leases:  NewLeaseManager(),
		health:  NewHealthMonitor(prober, cfg.HealthProbeInterval, cfg.HealthProbeTimeout, cfg.HealthFailureThreshold),
		workers: make(map[string]*managedWorker),
	}
	wm.health.OnHealthChange(wm.onHealthChange)
	return wm, nil
}

// AcquireForTenant binds tenantID to a worker: reuses its existing
// lease's worker if held, otherwise starts a new worker (subject to
// MaxWorkers and port availability) and issues a fresh lease.
func (wm *WorkerManager) AcquireForTenant(ctx context.Context, tenantID, controllerID string) (*Worker, *Lease, error) {
	wm.mu.Lock()
	if wm.shuttingDown {
		wm.mu.Unlock()
		return nil, nil, apperrors.New(apperrors.CodeInvalidState, "fleet is shutting down")
	}
	if existing, ok := wm.leases.Get(tenantID); ok && existing.isActive(time.Now()) {
		if mw, found := wm.workers[existing.WorkerID]; found {
			wm.mu.Unlock()
			lease, err := wm.leases.Acquire(tenantID, controllerID, existing.WorkerID, wm.cfg.LeaseTTL)
			if err != nil {
				return nil, nil, err
			}
			wm.markHeld(existing.WorkerID)
			wm.events.emit(WorkerEvent{Kind: "leaseAcquired", WorkerID: existing.WorkerID, TenantID: tenantID})
			return mw.worker, lease, nil
		}
	}
	if len(wm.workers) >= wm.cfg.MaxWorkers {
		wm.mu.Unlock()
		return nil, nil, apperrors.New(apperrors.CodeMaxWorkersReached, "fleet has no spare worker capacity").
			WithDetail("max_workers", wm.cfg.MaxWorkers)
	}
	wm.mu.Unlock()

	port, err := wm.ports.AllocateVerified()
	if err != nil {
		return nil, nil, err
	}

	wm.mu.Lock()
	wm.nextSeq++
	workerID := fmt.Sprintf("worker-%d", wm.nextSeq)
	wm.mu.Unlock()

	w := NewWorker(workerID, port, wm.cfg.ProfileDirRoot, wm.cfg.ChromeBin)
	wm.events.emit(WorkerEvent{Kind: "workerCreated", WorkerID: workerID, TenantID: tenantID})
	if err := w.Start(ctx, wm.cfg.WorkerStartTimeout); err != nil {
		wm.ports.Release(port)
		return nil, nil, err
	}
	wm.events.emit(WorkerEvent{Kind: "workerStarted", WorkerID: workerID, TenantID: tenantID})
	w.OnExit(func(evt ExitEvent) { wm.onWorkerExit(evt) })

	wm.mu.Lock()
	wm.workers[workerID] = &managedWorker{worker: w, tenantID: tenantID}
	wm.mu.Unlock()
	wm.health.Track(workerID, port)

	lease, err := wm.leases.Acquire(tenantID, controllerID, workerID, wm.cfg.LeaseTTL)
	if err != nil {
		wm.stopAndReclaim(workerID)
		return nil, nil, err
	}
	wm.events.emit(WorkerEvent{Kind: "leaseAcquired", WorkerID: workerID, TenantID: tenantID})
	return w, lease, nil
}

// ReleaseLease drops tenantID's lease without stopping its worker; the
// worker becomes eligible for idle-timeout eviction.
func (wm *WorkerManager) ReleaseLease(tenantID, controllerID string) error {
	lease, ok := wm.leases.Get(tenantID)
	if !ok {
		return apperrors.New(apperrors.CodeLeaseNotFound, "no lease for tenant").WithDetail("tenant_id", tenantID)
	}
	if err := wm.leases.Release(tenantID, controllerID); err != nil {
		return err
	}
	wm.markIdle(lease.WorkerID)
	return nil
}

// RefreshLease extends tenantID's lease TTL.
func (wm *WorkerManager) RefreshLease(tenantID string) (*Lease, error) {
	return wm.leases.Refresh(tenantID, wm.cfg.LeaseTTL)
}

// StopWorker force-stops workerID, revoking whichever tenant holds it
// and returning its port to the pool.
func (wm *WorkerManager) StopWorker(workerID, reason string) error {
	wm.mu.Lock()
	mw, ok := wm.workers[workerID]
	if !ok {
		wm.mu.Unlock()
		return apperrors.New(apperrors.CodeLeaseNotFound, "unknown worker").WithDetail("worker_id", workerID)
	}
	tenantID := mw.tenantID
	wm.mu.Unlock()

	wm.leases.Revoke(tenantID, reason)
	err := wm.stopAndReclaim(workerID)
	wm.events.emit(WorkerEvent{Kind: "workerStopped", WorkerID: workerID, TenantID: tenantID, Reason: reason})
	return err
}

// WorkerSnapshot is a read-only view of one managed worker, for the
// admin API's inventory listing.
type WorkerSnapshot struct {
	WorkerID string
	Port     int
	State    WorkerState
	Healthy  bool
}

// Workers returns a point-in-time snapshot of every managed worker.
func (wm *WorkerManager) Workers() []WorkerSnapshot {
	wm.mu.Lock()
	snaps := make([]WorkerSnapshot, 0, len(wm.workers))
	for id, mw := range wm.workers {
		snaps = append(snaps, WorkerSnapshot{
			WorkerID: id,
			Port:     mw.worker.Port(),
			State:    mw.worker.State(),
			Healthy:  wm.health.IsHealthy(id),
		})
	}
	wm.mu.Unlock()
	return snaps
}

// RevokeTenant stops tenantID's worker (if any) and revokes its lease,
// for operator-initiated eviction via the admin API.
func (wm *WorkerManager) RevokeTenant(tenantID, reason string) error {
	lease, ok := wm.leases.Get(tenantID)
	if !ok {
		return apperrors.New(apperrors.CodeLeaseNotFound, "no lease for tenant").WithDetail("tenant_id", tenantID)
	}
	return wm.StopWorker(lease.WorkerID, reason)
}

// ReapIdleAndExpired stops every worker whose lease has been idle
// beyond cfg.IdleTimeout or whose lease has outlived cfg.HardTTL,
// returning the stopped worker ids. Intended to be called periodically.
func (wm *WorkerManager) ReapIdleAndExpired() []string {
	now := time.Now()
	wm.leases.CleanupExpired()

	wm.mu.Lock()
	var toStop []string
	for workerID, mw := range wm.workers {
		if !mw.lastReleased.IsZero() && now.Sub(mw.lastReleased) >= wm.cfg.IdleTimeout {
			toStop = append(toStop, workerID)
			continue
		}
		if lease, ok := wm.leases.Get(mw.tenantID); ok && now.Sub(lease.AcquiredAt) >= wm.cfg.HardTTL {
			toStop = append(toStop, workerID)
		}
	}
	wm.mu.Unlock()

	for _, workerID := range toStop {
		_ = wm.StopWorker(workerID, "idle or TTL expired")
	}
	return toStop
}

// Shutdown stops accepting new acquisitions and force-stops every
// running worker. Safe to call more than once.
func (wm *WorkerManager) Shutdown() {
	wm.mu.Lock()
	if wm.shuttingDown {
		wm.mu.Unlock()
		return
	}
	wm.shuttingDown = true
	ids := make([]string, 0, len(wm.workers))
	for id := range wm.workers {
		ids = append(ids, id)
	}
	wm.mu.Unlock()

	wm.health.Stop()
	for _, id := range ids {
		_ = wm.stopAndReclaim(id)
	}
}

func (wm *WorkerManager) markHeld(workerID string) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	if mw, ok := wm.workers[workerID]; ok {
		mw.lastReleased = time.Time{}
	}
}

func (wm *WorkerManager) markIdle(workerID string) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	if mw, ok := wm.workers[workerID]; ok {
		mw.lastReleased = time.Now()
	}
}

func (wm *WorkerManager) stopAndReclaim(workerID string) error {
	wm.mu.Lock()
	mw, ok := wm.workers[workerID]
	if !ok {
		wm.mu.Unlock()
		return nil
	}
	delete(wm.workers, workerID)
	wm.mu.Unlock()

	wm.health.Untrack(workerID)
	err := mw.worker.Stop(wm.cfg.WorkerStopGrace)
	wm.ports.Release(mw.worker.Port())
	return err
}

// onWorkerExit reclaims a worker's port and revokes its tenant's lease
// when the worker process ends unexpectedly.
func (wm *WorkerManager) onWorkerExit(evt ExitEvent) {
	if !evt.Crashed {
		return
	}
	wm.mu.Lock()
	mw, ok := wm.workers[evt.WorkerID]
	if !ok {
		wm.mu.Unlock()
		return
	}
	tenantID := mw.tenantID
	delete(wm.workers, evt.WorkerID)
	wm.mu.Unlock()

	wm.health.Untrack(evt.WorkerID)
	wm.ports.Release(mw.worker.Port())
	wm.leases.Revoke(tenantID, "worker crashed")
	wm.events.emit(WorkerEvent{Kind: "workerCrashed", WorkerID: evt.WorkerID, TenantID: tenantID, Reason: "worker crashed"})
}

// onHealthChange revokes a tenant's lease and stops a worker that the
// health monitor has marked unhealthy.
func (wm *WorkerManager) onHealthChange(evt HealthChangeEvent) {
	if evt.Healthy {
		return
	}
	_ = wm.StopWorker(evt.WorkerID, "health check failed")
}

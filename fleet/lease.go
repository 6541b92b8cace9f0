package fleet

import (
	"fmt"
	"sync"
	"time"

	"github.com/use-agent/browserbridge/apperrors"
)

// LeaseStatus is a lease's lifecycle stage.
type LeaseStatus string

const (
	LeaseActive  LeaseStatus = "active"
	LeaseExpired LeaseStatus = "expired"
	LeaseRevoked LeaseStatus = "revoked"
)

// Lease is a tenant's exclusive claim on one worker for a bounded
// interval.
type Lease struct {
	LeaseID      string
	TenantID     string
	WorkerID     string
	ControllerID string
	AcquiredAt   time.Time
	ExpiresAt    time.Time
	Status       LeaseStatus
}

// isActive reports whether l is active status and unexpired, as of now.
func (l *Lease) isActive(now time.Time) bool {
	return l.Status == LeaseActive && now.Before(l.ExpiresAt)
}

// LeaseManager enforces at most one active lease per tenant.
type LeaseManager struct {
	mu      sync.Mutex
	leases  map[string]*Lease // tenant_id -> lease
	nextSeq uint64

	revokeListeners listeners[revokeEvent]
	expireListeners listeners[string]
}

type revokeEvent struct {
	TenantID string
	Reason   string
}

// NewLeaseManager builds an empty lease manager.
func NewLeaseManager() *LeaseManager {
	return &LeaseManager{leases: make(map[string]*Lease)}
}

// Acquire creates or extends a tenant's lease. If no active lease
// exists, or the active lease is already held by controllerID, the
// lease is (re)issued with expires_at = now + ttl. If a different
// controller holds an unexpired lease, LEASE_ALREADY_HELD is returned.
func (lm *LeaseManager) Acquire(tenantID, controllerID, workerID string, ttl time.Duration) (*Lease, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := time.Now()
	existing, ok := lm.leases[tenantID]
	if ok && existing.isActive(now) && existing.ControllerID != controllerID {
		return nil, apperrors.New(apperrors.CodeLeaseAlreadyHeld, "tenant lease already held by another controller").
			WithDetail("tenant_id", tenantID).WithDetail("held_by", existing.ControllerID)
	}

	var lease *Lease
	if ok && existing.isActive(now) {
		lease = existing
		lease.WorkerID = workerID
	} else {
		lm.nextSeq++
		lease = &Lease{
			LeaseID:      fmt.Sprintf("lease-%d", lm.nextSeq),
			TenantID:     tenantID,
			WorkerID:     workerID,
			ControllerID: controllerID,
			AcquiredAt:   now,
		}
		lm.leases[tenantID] = lease
	}
	lease.Status = LeaseActive
	lease.ExpiresAt = now.Add(ttl)
	return lease, nil
}

// Release drops tenantID's lease. If controllerID is non-empty, the
// release is refused unless it matches the lease's holder.
func (lm *LeaseManager) Release(tenantID, controllerID string) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lease, ok := lm.leases[tenantID]
	if !ok {
		return apperrors.New(apperrors.CodeLeaseNotFound, "no lease for tenant").WithDetail("tenant_id", tenantID)
	}
	if controllerID != "" && lease.ControllerID != controllerID {
		return apperrors.New(apperrors.CodeLeaseAlreadyHeld, "lease is held by a different controller").
			WithDetail("tenant_id", tenantID).WithDetail("held_by", lease.ControllerID)
	}
	delete(lm.leases, tenantID)
	return nil
}

// Refresh extends tenantID's lease expiry to now + ttl.
func (lm *LeaseManager) Refresh(tenantID string, ttl time.Duration) (*Lease, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lease, ok := lm.leases[tenantID]
	if !ok {
		return nil, apperrors.New(apperrors.CodeLeaseNotFound, "no lease for tenant").WithDetail("tenant_id", tenantID)
	}
	now := time.Now()
	if lease.Status != LeaseActive || now.After(lease.ExpiresAt) {
		return nil, apperrors.New(apperrors.CodeLeaseExpired, "lease has expired").WithDetail("tenant_id", tenantID)
	}
	lease.ExpiresAt = now.Add(ttl)
	return lease, nil
}

// Revoke drops tenantID's lease and notifies revocation subscribers
// regardless of whether a lease existed.
func (lm *LeaseManager) Revoke(tenantID, reason string) {
	lm.mu.Lock()
	delete(lm.leases, tenantID)
	lm.mu.Unlock()
	lm.revokeListeners.emit(revokeEvent{TenantID: tenantID, Reason: reason})
}

// CleanupExpired scans for and removes leases whose expiry has passed,
// notifying expiration subscribers for each one. Intended to be called
// periodically.
func (lm *LeaseManager) CleanupExpired() []string {
	now := time.Now()
	lm.mu.Lock()
	var expired []string
	for tenantID, lease := range lm.leases {
		if lease.Status == LeaseActive && now.After(lease.ExpiresAt) {
			expired = append(expired, tenantID)
			delete(lm.leases, tenantID)
		}
	}
	lm.mu.Unlock()

	for _, tenantID := range expired {
		lm.expireListeners.emit(tenantID)
	}
	return expired
}

// IsHeldBy reports whether tenantID currently has an active lease held
// by controllerID.
func (lm *LeaseManager) IsHeldBy(tenantID, controllerID string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lease, ok := lm.leases[tenantID]
	return ok && lease.isActive(time.Now()) && lease.ControllerID == controllerID
}

// Get returns tenantID's lease, if any.
func (lm *LeaseManager) Get(tenantID string) (*Lease, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l, ok := lm.leases[tenantID]
	return l, ok
}

// OnRevoke registers a revocation listener.
func (lm *LeaseManager) OnRevoke(fn func(tenantID, reason string)) (cancel func()) {
	return lm.revokeListeners.add(func(e revokeEvent) { fn(e.TenantID, e.Reason) })
}

// OnExpire registers an expiration listener.
func (lm *LeaseManager) OnExpire(fn func(tenantID string)) (cancel func()) {
	return lm.expireListeners.add(fn)
}

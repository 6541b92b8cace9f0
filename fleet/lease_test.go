package fleet

import (
	"testing"
	"time"

	"github.com/use-agent/browserbridge/apperrors"
)

func TestAcquireGrantsFreshLease(t *testing.T) {
	lm := NewLeaseManager()
	lease, err := lm.Acquire("tenant-1", "ctrl-a", "worker-1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if lease.TenantID != "tenant-1" || lease.WorkerID != "worker-1" || lease.Status != LeaseActive {
		t.Fatalf("unexpected lease: %+v", lease)
	}
}

func TestAcquireByDifferentControllerIsRejected(t *testing.T) {
	lm := NewLeaseManager()
	if _, err := lm.Acquire("tenant-1", "ctrl-a", "worker-1", time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := lm.Acquire("tenant-1", "ctrl-b", "worker-1", time.Minute); !apperrors.Is(err, apperrors.CodeLeaseAlreadyHeld) {
		t.Fatalf("expected lease_already_held, got %v", err)
	}
}

func TestAcquireBySameControllerExtendsLease(t *testing.T) {
	lm := NewLeaseManager()
	first, _ := lm.Acquire("tenant-1", "ctrl-a", "worker-1", time.Minute)
	firstLeaseID, firstExpiry := first.LeaseID, first.ExpiresAt
	second, err := lm.Acquire("tenant-1", "ctrl-a", "worker-1", 2*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if second.LeaseID != firstLeaseID {
		t.Fatalf("expected the same lease to be reused, got %s vs %s", firstLeaseID, second.LeaseID)
	}
	if !second.ExpiresAt.After(firstExpiry) {
		t.Fatal("expected expiry to extend")
	}
}

func TestAcquireAfterExpiryIssuesNewLease(t *testing.T) {
	lm := NewLeaseManager()
	lease, _ := lm.Acquire("tenant-1", "ctrl-a", "worker-1", -time.Second)
	if lease.isActive(time.Now()) {
		t.Fatal("expected lease to already be expired for this test setup")
	}
	second, err := lm.Acquire("tenant-1", "ctrl-b", "worker-2", time.Minute)
	if err != nil {
		t.Fatalf("expected a different controller to acquire an expired lease, got %v", err)
	}
	if second.ControllerID != "ctrl-b" {
		t.Fatalf("expected new controller to hold the lease, got %s", second.ControllerID)
	}
}

func TestReleaseByWrongControllerIsRejected(t *testing.T) {
	lm := NewLeaseManager()
	lm.Acquire("tenant-1", "ctrl-a", "worker-1", time.Minute)
	if err := lm.Release("tenant-1", "ctrl-b"); !apperrors.Is(err, apperrors.CodeLeaseAlreadyHeld) {
		t.Fatalf("expected lease_already_held, got %v", err)
	}
}

func TestReleaseUnknownTenantIsLeaseNotFound(t *testing.T) {
	lm := NewLeaseManager()
	if err := lm.Release("ghost", ""); !apperrors.Is(err, apperrors.CodeLeaseNotFound) {
		t.Fatalf("expected lease_not_found, got %v", err)
	}
}

func TestRefreshUnknownTenantIsLeaseNotFound(t *testing.T) {
	lm := NewLeaseManager()
	if _, err := lm.Refresh("ghost", time.Minute); !apperrors.Is(err, apperrors.CodeLeaseNotFound) {
		t.Fatalf("expected lease_not_found, got %v", err)
	}
}

func TestRefreshExpiredLeaseIsLeaseExpired(t *testing.T) {
	lm := NewLeaseManager()
	lm.Acquire("tenant-1", "ctrl-a", "worker-1", -time.Second)
	if _, err := lm.Refresh("tenant-1", time.Minute); !apperrors.Is(err, apperrors.CodeLeaseExpired) {
		t.Fatalf("expected lease_expired, got %v", err)
	}
}

func TestRevokeNotifiesListenersEvenWithoutExistingLease(t *testing.T) {
	lm := NewLeaseManager()
	var got []string
	lm.OnRevoke(func(tenantID, reason string) { got = append(got, tenantID+":"+reason) })
	lm.Revoke("ghost", "fleet shutdown")
	if len(got) != 1 || got[0] != "ghost:fleet shutdown" {
		t.Fatalf("expected one revoke notification, got %v", got)
	}
}

func TestCleanupExpiredRemovesAndNotifies(t *testing.T) {
	lm := NewLeaseManager()
	lm.Acquire("tenant-1", "ctrl-a", "worker-1", -time.Second)
	lm.Acquire("tenant-2", "ctrl-b", "worker-2", time.Minute)

	var expired []string
	lm.OnExpire(func(tenantID string) { expired = append(expired, tenantID) })

	removed := lm.CleanupExpired()
	if len(removed) != 1 || removed[0] != "tenant-1" {
		t.Fatalf("expected tenant-1 to be reaped, got %v", removed)
	}
	if len(expired) != 1 || expired[0] != "tenant-1" {
		t.Fatalf("expected expire listener to fire for tenant-1, got %v", expired)
	}
	if _, ok := lm.Get("tenant-2"); !ok {
		t.Fatal("expected tenant-2's unexpired lease to survive cleanup")
	}
}

func TestCancelledListenerNotNotified(t *testing.T) {
	lm := NewLeaseManager()
	var called bool
	cancel := lm.OnRevoke(func(string, string) { called = true })
	cancel()
	lm.Revoke("ghost", "reason")
	if called {
		t.Fatal("expected cancelled listener not to fire")
	}
}

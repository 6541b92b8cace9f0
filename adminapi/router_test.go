package adminapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/browserbridge/apperrors"
	"github.com/use-agent/browserbridge/config"
)

type fakeFleet struct {
	workers     []WorkerSummary
	revokeErr   error
	revokedWith string
}

func (f *fakeFleet) Workers() []WorkerSummary { return f.workers }

func (f *fakeFleet) RevokeTenant(tenantID, reason string) error {
	f.revokedWith = tenantID
	return f.revokeErr
}

func testAdminCfg() config.AdminConfig {
	return config.AdminConfig{Mode: "test", AuthEnabled: false, RateLimitRPS: 1000, RateLimitBurst: 1000}
}

func TestHealthzReportsHealthyWithoutAuth(t *testing.T) {
	r := NewRouter(&fakeFleet{}, testAdminCfg(), time.Now())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestListWorkersReturnsFleetSnapshot(t *testing.T) {
	fake := &fakeFleet{workers: []WorkerSummary{{WorkerID: "w1", Port: 9222, State: "running", Healthy: true}}}
	r := NewRouter(fake, testAdminCfg(), time.Now())
	req := httptest.NewRequest(http.MethodGet, "/fleet/workers", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "w1") {
		t.Fatalf("expected worker id in body, got %s", w.Body.String())
	}
}

func TestRevokeTenantCallsFleetInspector(t *testing.T) {
	fake := &fakeFleet{}
	r := NewRouter(fake, testAdminCfg(), time.Now())
	req := httptest.NewRequest(http.MethodPost, "/fleet/tenants/tenant-1/revoke", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if fake.revokedWith != "tenant-1" {
		t.Fatalf("expected tenant-1 to be revoked, got %q", fake.revokedWith)
	}
}

func TestRevokeTenantPropagatesNotFound(t *testing.T) {
	fake := &fakeFleet{revokeErr: apperrors.New(apperrors.CodeLeaseNotFound, "no lease")}
	r := NewRouter(fake, testAdminCfg(), time.Now())
	req := httptest.NewRequest(http.MethodPost, "/fleet/tenants/ghost/revoke", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAuthRejectsMissingAPIKeyWhenEnabled(t *testing.T) {
	cfg := testAdminCfg()
	cfg.AuthEnabled = true
	cfg.APIKeys = []string{"secret"}
	r := NewRouter(&fakeFleet{}, cfg, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/fleet/workers", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without an API key, got %d", w.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/fleet/workers", nil)
	req2.Header.Set("X-API-Key", "secret")
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 with a valid API key, got %d", w2.Code)
	}
}

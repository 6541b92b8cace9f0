package adminapi

import "github.com/use-agent/browserbridge/fleet"

// FleetAdapter adapts a *fleet.WorkerManager to the FleetInspector
// interface the router depends on, translating fleet's worker
// snapshots into the admin API's wire representation.
type FleetAdapter struct {
	WM *fleet.WorkerManager
}

func (a FleetAdapter) Workers() []WorkerSummary {
	snaps := a.WM.Workers()
	out := make([]WorkerSummary, len(snaps))
	for i, s := range snaps {
		out[i] = WorkerSummary{
			WorkerID: s.WorkerID,
			Port:     s.Port,
			State:    string(s.State),
			Healthy:  s.Healthy,
		}
	}
	return out
}

func (a FleetAdapter) RevokeTenant(tenantID, reason string) error {
	return a.WM.RevokeTenant(tenantID, reason)
}

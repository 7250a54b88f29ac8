package registry

import (
	"context"
	"log/slog"
	"time"
)

// Watchdog periodically scans for stale node heartbeats and expired
// allocations, cancelling in-flight work and restoring VRAM accordingly.
type Watchdog struct {
	svc      *Service
	store    *Store
	interval time.Duration
	logger   *slog.Logger
}

// NewWatchdog constructs a Watchdog polling at interval (default 15s).
func NewWatchdog(svc *Service, store *Store, interval time.Duration, logger *slog.Logger) *Watchdog {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Watchdog{svc: svc, store: store, interval: interval, logger: logger}
}

// Run blocks scanning until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scanOfflineNodes(ctx)
			w.scanExpiredAllocations(ctx)
		}
	}
}

func (w *Watchdog) scanOfflineNodes(ctx context.Context) {
	now := time.Now().UTC()
	online, err := w.store.OnlineNodes(ctx)
	if err != nil {
		w.logger.Error("scanning online nodes", "error", err)
		return
	}
	for _, n := range online {
		if !w.isStale(n, now) {
			continue
		}
		if err := w.store.SetNodeStatus(ctx, n.NodeID, NodeOffline); err != nil {
			w.logger.Error("marking node offline", "node_id", n.NodeID, "error", err)
			continue
		}
		w.svc.emit(ctx, "NODE_OFFLINE", n.OwnerSubjectID, n.InstitutionID, n.NodeID, "NODE", nil)

		allocs, err := w.store.AllocationsForNode(ctx, n.NodeID)
		if err != nil {
			w.logger.Error("listing node allocations", "node_id", n.NodeID, "error", err)
			continue
		}
		for _, a := range allocs {
			w.cancelAllocation(ctx, a, "node offline")
		}
	}
}

// isStale reports whether n's last heartbeat predates OfflineGracePeriods
// (default 3) times its own heartbeat interval, falling back to the platform
// default for nodes registered before a per-node interval was recorded.
func (w *Watchdog) isStale(n Node, now time.Time) bool {
	interval := n.HeartbeatInterval
	if interval <= 0 {
		interval = w.svc.config.DefaultHeartbeatEvery
	}
	return now.Sub(n.LastHeartbeatAt) > time.Duration(w.svc.config.OfflineGracePeriods)*interval
}

func (w *Watchdog) scanExpiredAllocations(ctx context.Context) {
	now := time.Now().UTC()
	expired, err := w.store.ExpiredAllocations(ctx, now)
	if err != nil {
		w.logger.Error("scanning expired allocations", "error", err)
		return
	}
	for _, a := range expired {
		changed, err := w.store.SetAllocationStatus(ctx, a.AllocationID, AllocationExpired, &now)
		if err != nil {
			w.logger.Error("expiring allocation", "allocation_id", a.AllocationID, "error", err)
			continue
		}
		if !changed {
			continue
		}
		if err := w.store.ReleaseVRAM(ctx, a.GPUID, a.VRAMReservedGB); err != nil {
			w.logger.Error("releasing expired allocation vram", "allocation_id", a.AllocationID, "error", err)
			continue
		}
		w.svc.emit(ctx, "ALLOCATION_EXPIRED", a.SubjectID, "", a.AllocationID, "ALLOCATION", map[string]string{
			"gpu_id": a.GPUID,
		})
	}
}

func (w *Watchdog) cancelAllocation(ctx context.Context, a Allocation, reason string) {
	w.svc.terminateAllocation(ctx, a, reason)
}

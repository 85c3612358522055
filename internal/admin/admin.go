// Package admin exposes the instance-operator surface: domain blocks,
// full-text search, home timeline assembly, the audit log, and a scheduled
// maintenance job that keeps denormalized stats and the delivery table tidy.
package admin

import (
	"fmt"
	"time"

	"github.com/klppl/fedid/internal/federr"
	"github.com/klppl/fedid/internal/store"
)

// Admin wraps the store with operator-facing operations that don't belong on
// the federation hot path.
type Admin struct {
	Store *store.Store

	// Logs is optional; when set by the caller, the admin log-stream
	// endpoint serves its ring buffer and live feed.
	Logs *LogBroadcaster
}

func New(st *store.Store) *Admin {
	return &Admin{Store: st}
}

// BlockDomain adds a domain to the reject list. Existing data from that
// domain is left untouched — only future inbound activity is rejected.
func (a *Admin) BlockDomain(domain string) error {
	if domain == "" {
		return federr.MalformedInput("empty domain")
	}
	if err := a.Store.BlockDomain(domain); err != nil {
		return federr.Internal(err)
	}
	return nil
}

// UnblockDomain removes a domain from the reject list.
func (a *Admin) UnblockDomain(domain string) error {
	if err := a.Store.UnblockDomain(domain); err != nil {
		return federr.Internal(err)
	}
	return nil
}

// BlockedDomains lists every currently blocked domain.
func (a *Admin) BlockedDomains() ([]string, error) {
	domains, err := a.Store.BlockedDomains()
	if err != nil {
		return nil, federr.Internal(err)
	}
	return domains, nil
}

// Search runs a full-text search over public, non-deleted content.
func (a *Admin) Search(query string, limit int) ([]*store.Object, error) {
	objs, err := a.Store.SearchObjects(query, limit)
	if err != nil {
		return nil, federr.Internal(err)
	}
	return objs, nil
}

// HomeTimeline returns a local actor's own posts merged with their accepted
// follows' posts, newest first, cursor-paginated by object id.
func (a *Admin) HomeTimeline(actorID, beforeID int64, limit int) ([]*store.Object, error) {
	objs, err := a.Store.HomeTimeline(actorID, beforeID, limit)
	if err != nil {
		return nil, federr.Internal(err)
	}
	return objs, nil
}

// AuditLog returns the most recent audit log entries, newest first.
func (a *Admin) AuditLog(limit int) ([]store.AuditLogEntry, error) {
	entries, err := a.Store.GetAuditLog(limit)
	if err != nil {
		return nil, federr.Internal(err)
	}
	return entries, nil
}

// DeliveryStats summarizes the delivery queue by status, for an operator
// dashboard.
func (a *Admin) DeliveryStats() (map[string]int, error) {
	stats, err := a.Store.DeliveryStats()
	if err != nil {
		return nil, federr.Internal(err)
	}
	return stats, nil
}

// deliveryRetention is how long terminal (Delivered/Expired) delivery rows
// are kept before the maintenance job sweeps them.
const deliveryRetention = 30 * 24 * time.Hour

// RunMaintenance refreshes every local actor's denormalized stats and
// removes stale terminal delivery rows. Invoked on the configured cron
// schedule; also callable directly (e.g. from a one-off admin command).
func (a *Admin) RunMaintenance() error {
	actorIDs, err := a.Store.LocalActorIDs()
	if err != nil {
		return fmt.Errorf("list local actors: %w", err)
	}
	for _, id := range actorIDs {
		if err := a.Store.RefreshActorStats(id); err != nil {
			return fmt.Errorf("refresh stats for actor %d: %w", id, err)
		}
	}

	n, err := a.Store.CleanupExpiredDeliveries(deliveryRetention)
	if err != nil {
		return fmt.Errorf("cleanup expired deliveries: %w", err)
	}
	a.Store.WriteAuditLog("maintenance_run", fmt.Sprintf("refreshed %d actors, pruned %d deliveries", len(actorIDs), n))
	return nil
}

package openfinance

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"
)

// ItemSyncer syncs a single item. TransactionSyncService is the production
// implementation.
type ItemSyncer interface {
	SyncItem(ctx context.Context, itemID string) (SyncSummary, error)
}

// SyncOrchestrator fans item syncs out across a user's active items.
type SyncOrchestrator struct {
	syncer        ItemSyncer
	store         Store
	locker        ItemLocker
	maxConcurrent int
}

// NewSyncOrchestrator creates an orchestrator. maxConcurrent <= 0 runs every
// item of a user at once.
func NewSyncOrchestrator(syncer ItemSyncer, store Store, locker ItemLocker, maxConcurrent int) *SyncOrchestrator {
	if locker == nil {
		locker = NewMemoryItemLocker()
	}
	return &SyncOrchestrator{
		syncer:        syncer,
		store:         store,
		locker:        locker,
		maxConcurrent: maxConcurrent,
	}
}

// SyncAllItemsForUser syncs every active item of the user concurrently and
// returns one summary per item, in the order the store listed them. A failed
// item is reported through its summary's Error; only listing the items can
// fail the call as a whole.
func (o *SyncOrchestrator) SyncAllItemsForUser(ctx context.Context, userID string) ([]SyncSummary, error) {
	itemIDs, err := o.store.GetActiveItemIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items for user %s: %w", userID, err)
	}

	results := make([]SyncSummary, len(itemIDs))

	var g errgroup.Group
	if o.maxConcurrent > 0 {
		g.SetLimit(o.maxConcurrent)
	}
	for i, itemID := range itemIDs {
		g.Go(func() error {
			summary, err := o.SyncItem(ctx, itemID)
			if err != nil {
				summary.ItemID = itemID
				summary.Error = err.Error()
			}
			results[i] = summary
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	log.Printf("User %s: synced %d items (%d failed)", userID, len(results), failed)

	return results, nil
}

// SyncItem syncs one item while holding its lock. ErrItemBusy is returned
// when another sync or a deactivation already holds the item.
func (o *SyncOrchestrator) SyncItem(ctx context.Context, itemID string) (SyncSummary, error) {
	unlock, ok, err := o.locker.TryLock(ctx, itemID)
	if err != nil {
		return SyncSummary{ItemID: itemID}, fmt.Errorf("failed to lock item %s: %w", itemID, err)
	}
	if !ok {
		log.Printf("Sync: item %s skipped, another sync holds it", itemID)
		return SyncSummary{ItemID: itemID}, ErrItemBusy
	}
	defer unlock()

	return o.syncer.SyncItem(ctx, itemID)
}

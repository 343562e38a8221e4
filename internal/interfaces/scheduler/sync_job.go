package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"finmirror/internal/domain/openfinance"
)

type UserSyncer interface {
	SyncAllItemsForUser(ctx context.Context, userID string) ([]openfinance.SyncSummary, error)
}

type ItemSyncer interface {
	SyncItem(ctx context.Context, itemID string) (openfinance.SyncSummary, error)
}

// UserLister returns the users the scheduler should sync.
type UserLister interface {
	ListUserIDsWithActiveItems(ctx context.Context) ([]string, error)
}

// UserSyncJob syncs every active item of one user.
type UserSyncJob struct {
	userID string
	syncer UserSyncer
}

func NewUserSyncJob(userID string, syncer UserSyncer) *UserSyncJob {
	return &UserSyncJob{userID: userID, syncer: syncer}
}

// Execute returns an error when any item failed so the job is counted as
// failed; the other items' results are already persisted.
func (j *UserSyncJob) Execute(ctx context.Context) error {
	results, err := j.syncer.SyncAllItemsForUser(ctx, j.userID)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	var added, modified, removed, failed int
	for _, r := range results {
		if r.Error != "" {
			failed++
			log.Printf("User %s: item %s failed: %s", j.userID, r.ItemID, r.Error)
			continue
		}
		added += r.Added
		modified += r.Modified
		removed += r.Removed
	}

	log.Printf("User %s: synced %d items: Added=%d, Modified=%d, Removed=%d, Failed=%d",
		j.userID, len(results), added, modified, removed, failed)

	if failed > 0 {
		return fmt.Errorf("%d of %d items failed", failed, len(results))
	}
	return nil
}

func (j *UserSyncJob) Target() string {
	return "user " + j.userID
}

func (j *UserSyncJob) Description() string {
	return "Transaction sync"
}

// ItemSyncJob syncs a single item, as requested by a provider webhook.
type ItemSyncJob struct {
	itemID string
	syncer ItemSyncer
}

func NewItemSyncJob(itemID string, syncer ItemSyncer) *ItemSyncJob {
	return &ItemSyncJob{itemID: itemID, syncer: syncer}
}

func (j *ItemSyncJob) Execute(ctx context.Context) error {
	summary, err := j.syncer.SyncItem(ctx, j.itemID)
	switch {
	case errors.Is(err, openfinance.ErrItemBusy):
		log.Printf("Item %s: sync already running, skipping webhook job", j.itemID)
		return nil
	case errors.Is(err, openfinance.ErrItemNotFound):
		log.Printf("Item %s: unknown or inactive, ignoring webhook job", j.itemID)
		return nil
	case err != nil:
		return fmt.Errorf("sync failed: %w", err)
	}

	log.Printf("Item %s: Added=%d, Modified=%d, Removed=%d",
		j.itemID, summary.Added, summary.Modified, summary.Removed)
	return nil
}

func (j *ItemSyncJob) Target() string {
	return "item " + j.itemID
}

func (j *ItemSyncJob) Description() string {
	return "Webhook item sync"
}

// NewUserSyncJobProvider builds one UserSyncJob per user with active items.
func NewUserSyncJobProvider(users UserLister, syncer UserSyncer) JobProvider {
	return func(ctx context.Context) ([]Job, error) {
		userIDs, err := users.ListUserIDsWithActiveItems(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}

		jobs := make([]Job, 0, len(userIDs))
		for _, id := range userIDs {
			jobs = append(jobs, NewUserSyncJob(id, syncer))
		}
		return jobs, nil
	}
}

// SyncQueue turns provider webhooks into item sync jobs on the worker pool.
type SyncQueue struct {
	pool   *WorkerPool
	syncer ItemSyncer
}

func NewSyncQueue(pool *WorkerPool, syncer ItemSyncer) *SyncQueue {
	return &SyncQueue{pool: pool, syncer: syncer}
}

func (q *SyncQueue) EnqueueItemSync(itemID string) error {
	return q.pool.Submit(NewItemSyncJob(itemID, q.syncer))
}

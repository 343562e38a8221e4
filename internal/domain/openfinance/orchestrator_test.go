package openfinance

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ofclient "finmirror/internal/infrastructure/openfinance"
)

func twoItemFixture() (*fakeStore, *fakeProvider) {
	store := newFakeStore()
	store.addItem("item-a", "user-u", "tok-a", nil)
	store.addItem("item-b", "user-u", "tok-b", nil)
	store.addItem("item-other", "user-v", "tok-other", nil)

	provider := newFakeProvider()
	provider.addPage("tok-a", "", &ofclient.SyncPage{
		Added:      []ofclient.Transaction{apiTx("a1", "acc-a", "Coffee", "3.50"), apiTx("a2", "acc-a", "Tea", "2.10")},
		NextCursor: "a-c1",
		HasMore:    true,
	})
	provider.addPage("tok-a", "a-c1", &ofclient.SyncPage{
		Removed:    []ofclient.RemovedTransaction{{TransactionID: "a1"}},
		NextCursor: "a-c2",
	})
	provider.addPage("tok-b", "", &ofclient.SyncPage{
		Accounts:   []ofclient.Account{{AccountID: "acc-b", Name: "Savings"}},
		Added:      []ofclient.Transaction{apiTx("b1", "acc-b", "Interest", "0.42")},
		NextCursor: "b-c1",
	})
	return store, provider
}

func TestSyncAllItemsForUser_ConcurrentMatchesSequential(t *testing.T) {
	ctx := context.Background()

	concurrentStore, concurrentProvider := twoItemFixture()
	orchestrator := NewSyncOrchestrator(
		NewTransactionSyncService(concurrentProvider, concurrentStore, testOptions()),
		concurrentStore, NewMemoryItemLocker(), 0,
	)
	results, err := orchestrator.SyncAllItemsForUser(ctx, "user-u")
	if err != nil {
		t.Fatalf("SyncAllItemsForUser() error = %v", err)
	}

	sequentialStore, sequentialProvider := twoItemFixture()
	engine := NewTransactionSyncService(sequentialProvider, sequentialStore, testOptions())
	var sequential []SyncSummary
	for _, id := range []string{"item-a", "item-b"} {
		s, err := engine.SyncItem(ctx, id)
		if err != nil {
			t.Fatalf("sequential SyncItem(%s) error = %v", id, err)
		}
		sequential = append(sequential, s)
	}

	if !reflect.DeepEqual(results, sequential) {
		t.Errorf("Summaries differ:\nconcurrent %+v\nsequential %+v", results, sequential)
	}
	if c, s := concurrentStore.snapshot(), sequentialStore.snapshot(); !reflect.DeepEqual(c, s) {
		t.Errorf("Final state differs:\nconcurrent %v\nsequential %v", c, s)
	}
	if calls := concurrentProvider.callsFor("tok-other"); len(calls) != 0 {
		t.Errorf("Another user's item was synced: %v", calls)
	}
}

func TestSyncAllItemsForUser_FailureIsIsolated(t *testing.T) {
	store, provider := twoItemFixture()
	provider.errs["tok-a"] = []error{transient(), transient(), transient()}

	orchestrator := NewSyncOrchestrator(NewTransactionSyncService(provider, store, testOptions()), store, nil, 2)
	results, err := orchestrator.SyncAllItemsForUser(context.Background(), "user-u")
	if err != nil {
		t.Fatalf("SyncAllItemsForUser() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 summaries, got %d", len(results))
	}

	a, b := results[0], results[1]
	if a.ItemID != "item-a" || a.Error == "" || a.Added != 0 {
		t.Errorf("Expected failed summary for item-a, got %+v", a)
	}
	if b.ItemID != "item-b" || b.Error != "" || b.Added != 1 {
		t.Errorf("Expected successful summary for item-b, got %+v", b)
	}
	if store.cursor("item-a") != nil {
		t.Error("Failed item must keep its cursor")
	}
	if c := store.cursor("item-b"); c == nil || *c != "b-c1" {
		t.Errorf("Expected item-b cursor b-c1, got %v", c)
	}
}

func TestSyncAllItemsForUser_ListFailure(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("db down")

	orchestrator := NewSyncOrchestrator(NewTransactionSyncService(newFakeProvider(), store, testOptions()), store, nil, 0)
	if _, err := orchestrator.SyncAllItemsForUser(context.Background(), "user-u"); err == nil {
		t.Fatal("Expected error when items cannot be listed")
	}
}

func TestSyncAllItemsForUser_NoItems(t *testing.T) {
	store := newFakeStore()
	orchestrator := NewSyncOrchestrator(NewTransactionSyncService(newFakeProvider(), store, testOptions()), store, nil, 0)

	results, err := orchestrator.SyncAllItemsForUser(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("SyncAllItemsForUser() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no summaries, got %+v", results)
	}
}

func TestSyncAllItemsForUser_SkipsBusyItem(t *testing.T) {
	store, provider := twoItemFixture()
	locker := NewMemoryItemLocker()
	unlock, ok, _ := locker.TryLock(context.Background(), "item-a")
	if !ok {
		t.Fatal("Expected to acquire lock")
	}
	defer unlock()

	orchestrator := NewSyncOrchestrator(NewTransactionSyncService(provider, store, testOptions()), store, locker, 0)
	results, err := orchestrator.SyncAllItemsForUser(context.Background(), "user-u")
	if err != nil {
		t.Fatalf("SyncAllItemsForUser() error = %v", err)
	}

	if results[0].Error != ErrItemBusy.Error() {
		t.Errorf("Expected busy error for item-a, got %+v", results[0])
	}
	if len(provider.callsFor("tok-a")) != 0 {
		t.Error("Busy item must not reach the provider")
	}
	if results[1].Error != "" {
		t.Errorf("Expected item-b to sync, got %+v", results[1])
	}
}

// blockingSyncer records the peak number of concurrent SyncItem calls.
type blockingSyncer struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (b *blockingSyncer) SyncItem(ctx context.Context, itemID string) (SyncSummary, error) {
	n := b.inFlight.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(b.delay)
	b.inFlight.Add(-1)
	return SyncSummary{ItemID: itemID}, nil
}

func TestSyncAllItemsForUser_RespectsConcurrencyLimit(t *testing.T) {
	store := newFakeStore()
	for _, id := range []string{"i1", "i2", "i3", "i4", "i5", "i6"} {
		store.addItem(id, "user-u", "tok-"+id, nil)
	}

	syncer := &blockingSyncer{delay: 20 * time.Millisecond}
	orchestrator := NewSyncOrchestrator(syncer, store, nil, 2)

	results, err := orchestrator.SyncAllItemsForUser(context.Background(), "user-u")
	if err != nil {
		t.Fatalf("SyncAllItemsForUser() error = %v", err)
	}
	if len(results) != 6 {
		t.Errorf("Expected 6 summaries, got %d", len(results))
	}
	if peak := syncer.peak.Load(); peak > 2 {
		t.Errorf("Expected at most 2 concurrent syncs, saw %d", peak)
	}
}

func TestMemoryItemLocker(t *testing.T) {
	locker := NewMemoryItemLocker()
	ctx := context.Background()

	unlock, ok, err := locker.TryLock(ctx, "item-1")
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}

	if _, ok, _ := locker.TryLock(ctx, "item-1"); ok {
		t.Error("Expected second lock on the same item to fail")
	}
	if u, ok, _ := locker.TryLock(ctx, "item-2"); !ok {
		t.Error("Expected lock on a different item to succeed")
	} else {
		u()
	}

	unlock()
	unlock() // releasing twice is harmless

	again, ok, _ := locker.TryLock(ctx, "item-1")
	if !ok {
		t.Fatal("Expected lock to be free after unlock")
	}
	again()
}

func TestMemoryItemLocker_ExclusiveUnderContention(t *testing.T) {
	locker := NewMemoryItemLocker()
	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, _ := locker.TryLock(context.Background(), "hot"); ok {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("Expected exactly one holder, got %d", winners.Load())
	}
}

package openfinance

import (
	"context"
	"errors"
	"testing"

	"finmirror/internal/domain/account"
	"finmirror/internal/domain/item"
	ofclient "finmirror/internal/infrastructure/openfinance"
)

// MockItemRepo implements item.Repository for testing
type MockItemRepo struct {
	CreateWithAccountsFunc func(ctx context.Context, params item.CreateParams, accounts []account.EnsureParams) (*item.Item, error)
	ListActiveByUserIDFunc func(ctx context.Context, userID string) ([]*item.Item, error)
}

func (m *MockItemRepo) CreateWithAccounts(ctx context.Context, params item.CreateParams, accounts []account.EnsureParams) (*item.Item, error) {
	if m.CreateWithAccountsFunc != nil {
		return m.CreateWithAccountsFunc(ctx, params, accounts)
	}
	return nil, nil
}
func (m *MockItemRepo) GetByID(ctx context.Context, id string) (*item.Item, error) { return nil, nil }
func (m *MockItemRepo) GetSyncState(ctx context.Context, id string) (*item.SyncState, error) {
	return nil, nil
}
func (m *MockItemRepo) ListActiveIDsByUserID(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}
func (m *MockItemRepo) ListActiveByUserID(ctx context.Context, userID string) ([]*item.Item, error) {
	if m.ListActiveByUserIDFunc != nil {
		return m.ListActiveByUserIDFunc(ctx, userID)
	}
	return nil, nil
}
func (m *MockItemRepo) ListUserIDsWithActiveItems(ctx context.Context) ([]string, error) {
	return nil, nil
}
func (m *MockItemRepo) SaveCursor(ctx context.Context, id, cursor string) error { return nil }
func (m *MockItemRepo) Deactivate(ctx context.Context, id string) error       { return nil }

func TestDeactivateItem(t *testing.T) {
	tests := []struct {
		name           string
		itemID         string
		userID         string
		setup          func(store *fakeStore, provider *fakeProvider, locker *MemoryItemLocker)
		expectedErr    error
		expectActive   bool
		expectRevoked  bool
		expectProvider bool
	}{
		{
			name:           "Owner deactivates",
			itemID:         "item-x",
			userID:         "owner",
			expectActive:   false,
			expectRevoked:  true,
			expectProvider: true,
		},
		{
			name:         "Different owner",
			itemID:       "item-x",
			userID:       "intruder",
			expectedErr:  ErrNotOwner,
			expectActive: true,
		},
		{
			name:         "Unknown item",
			itemID:       "missing",
			userID:       "owner",
			expectedErr:  ErrItemNotFound,
			expectActive: true,
		},
		{
			name:   "Already inactive",
			itemID: "item-x",
			userID: "owner",
			setup: func(store *fakeStore, _ *fakeProvider, _ *MemoryItemLocker) {
				store.items["item-x"].IsActive = false
			},
			expectedErr:  ErrItemNotFound,
			expectActive: false,
		},
		{
			name:   "Provider failure keeps item active",
			itemID: "item-x",
			userID: "owner",
			setup: func(_ *fakeStore, provider *fakeProvider, _ *MemoryItemLocker) {
				provider.removeErr = &ofclient.TransientError{Op: "item/remove", StatusCode: 500, Err: errors.New("boom")}
			},
			expectedErr:  ofclient.ErrTransient,
			expectActive: true,
		},
		{
			name:   "Provider already forgot the item",
			itemID: "item-x",
			userID: "owner",
			setup: func(_ *fakeStore, provider *fakeProvider, _ *MemoryItemLocker) {
				provider.removeErr = &ofclient.StructuralError{Op: "item/remove", StatusCode: 400, Code: "ITEM_NOT_FOUND", Err: errors.New("gone")}
			},
			expectActive:  false,
			expectRevoked: true,
		},
		{
			name:   "Sync in progress",
			itemID: "item-x",
			userID: "owner",
			setup: func(_ *fakeStore, _ *fakeProvider, locker *MemoryItemLocker) {
				locker.TryLock(context.Background(), "item-x")
			},
			expectedErr:  ErrItemBusy,
			expectActive: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.addItem("item-x", "owner", "tok-x", nil)
			provider := newFakeProvider()
			locker := NewMemoryItemLocker()
			if tt.setup != nil {
				tt.setup(store, provider, locker)
			}

			service := NewItemService(store, &MockItemRepo{}, provider, locker)
			err := service.DeactivateItem(context.Background(), tt.itemID, tt.userID)

			if tt.expectedErr != nil {
				if !errors.Is(err, tt.expectedErr) {
					t.Fatalf("DeactivateItem() error = %v, want %v", err, tt.expectedErr)
				}
			} else if err != nil {
				t.Fatalf("DeactivateItem() unexpected error = %v", err)
			}

			it := store.items["item-x"]
			if it.IsActive != tt.expectActive {
				t.Errorf("IsActive = %v, want %v", it.IsActive, tt.expectActive)
			}
			if revoked := it.AccessToken == item.RevokedCredential; revoked != tt.expectRevoked {
				t.Errorf("AccessToken = %q, revoked want %v", it.AccessToken, tt.expectRevoked)
			}
			if called := len(provider.removed) > 0; called != tt.expectProvider {
				t.Errorf("provider RemoveItem called = %v, want %v", called, tt.expectProvider)
			}
		})
	}
}

func TestDeactivateItem_ReleasesLock(t *testing.T) {
	store := newFakeStore()
	store.addItem("item-x", "owner", "tok-x", nil)
	locker := NewMemoryItemLocker()

	service := NewItemService(store, &MockItemRepo{}, newFakeProvider(), locker)
	if err := service.DeactivateItem(context.Background(), "item-x", "owner"); err != nil {
		t.Fatalf("DeactivateItem() error = %v", err)
	}

	unlock, ok, _ := locker.TryLock(context.Background(), "item-x")
	if !ok {
		t.Fatal("Expected lock to be released after deactivation")
	}
	unlock()
}

// racingStore finishes a competing deactivation right after the first read
// of the item, before the lock is taken.
type racingStore struct {
	*fakeStore
	reads int
}

func (r *racingStore) GetItem(ctx context.Context, itemID string) (*item.Item, error) {
	it, err := r.fakeStore.GetItem(ctx, itemID)
	r.reads++
	if r.reads == 1 {
		r.fakeStore.DeactivateItem(ctx, itemID)
	}
	return it, err
}

func TestDeactivateItem_RereadsItemUnderLock(t *testing.T) {
	base := newFakeStore()
	base.addItem("item-x", "owner", "tok-x", nil)
	store := &racingStore{fakeStore: base}
	provider := newFakeProvider()

	service := NewItemService(store, &MockItemRepo{}, provider, nil)
	err := service.DeactivateItem(context.Background(), "item-x", "owner")
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("DeactivateItem() error = %v, want ErrItemNotFound", err)
	}
	if len(provider.removed) != 0 {
		t.Errorf("Stale credential sent to the provider: %v", provider.removed)
	}
	if store.reads != 2 {
		t.Errorf("Expected the item to be read twice, got %d", store.reads)
	}
}

func TestDeactivatedItemIsNotSynced(t *testing.T) {
	store := newFakeStore()
	store.addItem("item-x", "owner", "tok-x", nil)
	provider := newFakeProvider()

	service := NewItemService(store, &MockItemRepo{}, provider, nil)
	if err := service.DeactivateItem(context.Background(), "item-x", "owner"); err != nil {
		t.Fatalf("DeactivateItem() error = %v", err)
	}

	engine := NewTransactionSyncService(provider, store, testOptions())
	if _, err := engine.SyncItem(context.Background(), "item-x"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound after deactivation, got %v", err)
	}
	if len(provider.callsFor(item.RevokedCredential)) != 0 {
		t.Error("Revoked credential must never reach the provider")
	}
}

func TestLinkItem(t *testing.T) {
	bank := "First Bank"
	tests := []struct {
		name     string
		params   item.CreateParams
		accounts []account.EnsureParams
		wantErr  bool
	}{
		{
			name:     "Valid",
			params:   item.CreateParams{ID: "item-1", UserID: "user-1", AccessToken: "access-sandbox-1", BankName: &bank},
			accounts: []account.EnsureParams{{ID: "acc-1", Name: "Checking"}},
		},
		{
			name:    "Revoked credential",
			params:  item.CreateParams{ID: "item-1", UserID: "user-1", AccessToken: item.RevokedCredential},
			wantErr: true,
		},
		{
			name:     "Account without id",
			params:   item.CreateParams{ID: "item-1", UserID: "user-1", AccessToken: "access"},
			accounts: []account.EnsureParams{{Name: "Checking"}},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAccounts []account.EnsureParams
			repo := &MockItemRepo{
				CreateWithAccountsFunc: func(ctx context.Context, params item.CreateParams, accounts []account.EnsureParams) (*item.Item, error) {
					gotAccounts = accounts
					return &item.Item{ID: params.ID, UserID: params.UserID, BankName: params.BankName, IsActive: true}, nil
				},
			}

			service := NewItemService(newFakeStore(), repo, newFakeProvider(), nil)
			created, err := service.LinkItem(context.Background(), tt.params, tt.accounts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LinkItem() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if created == nil || created.ID != "item-1" {
				t.Errorf("Unexpected item %+v", created)
			}
			for _, a := range gotAccounts {
				if a.ItemID != "item-1" {
					t.Errorf("Expected account %s to be attached to item-1, got %q", a.ID, a.ItemID)
				}
			}
		})
	}
}

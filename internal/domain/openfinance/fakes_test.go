package openfinance

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finmirror/internal/domain/account"
	"finmirror/internal/domain/item"
	"finmirror/internal/domain/transaction"
	ofclient "finmirror/internal/infrastructure/openfinance"
)

// fakeStore is an in-memory Store with the same constraint behaviour as the
// Postgres schema: live ids are unique and transactions need their account.
type fakeStore struct {
	mu          sync.Mutex
	items       map[string]*item.Item
	accounts    map[string]account.EnsureParams
	txs         map[string]*transaction.Transaction
	cursorSaves map[string]int
	listErr     error
	insertErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:       map[string]*item.Item{},
		accounts:    map[string]account.EnsureParams{},
		txs:         map[string]*transaction.Transaction{},
		cursorSaves: map[string]int{},
	}
}

func (f *fakeStore) addItem(id, userID, token string, cursor *string) {
	f.items[id] = &item.Item{ID: id, UserID: userID, AccessToken: token, TransactionCursor: cursor, IsActive: true}
}

func (f *fakeStore) cursor(itemID string) *string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[itemID].TransactionCursor
}

func (f *fakeStore) liveIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, tx := range f.txs {
		if !tx.IsRemoved {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeStore) tombstones() []*transaction.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*transaction.Transaction
	for _, tx := range f.txs {
		if tx.IsRemoved {
			out = append(out, tx)
		}
	}
	return out
}

// snapshot renders every row, tombstone suffixes stripped, for state comparison.
func (f *fakeStore) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []string
	for id, tx := range f.txs {
		if i := strings.Index(id, transaction.TombstoneMarker); i >= 0 {
			id = id[:i] + transaction.TombstoneMarker
		}
		rows = append(rows, id+"|"+tx.AccountID+"|"+tx.Name+"|"+tx.Amount.String())
	}
	for id, it := range f.items {
		c := "<nil>"
		if it.TransactionCursor != nil {
			c = *it.TransactionCursor
		}
		rows = append(rows, "item:"+id+"|"+c)
	}
	sort.Strings(rows)
	return rows
}

func (f *fakeStore) GetActiveItemIDs(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var ids []string
	for id, it := range f.items {
		if it.UserID == userID && it.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) GetItemSyncState(ctx context.Context, itemID string) (*item.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[itemID]
	if !ok || !it.IsActive {
		return nil, nil
	}
	return &item.SyncState{ItemID: it.ID, UserID: it.UserID, AccessToken: it.AccessToken, Cursor: it.TransactionCursor}, nil
}

func (f *fakeStore) EnsureAccount(ctx context.Context, params account.EnsureParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.accounts[params.ID]
	if !ok {
		f.accounts[params.ID] = params
		return nil
	}
	if existing.Name == "" && params.Name != "" {
		existing.Name = params.Name
		f.accounts[params.ID] = existing
	}
	return nil
}

func (f *fakeStore) InsertTransaction(ctx context.Context, params transaction.UpsertTransactionParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, exists := f.txs[params.ID]; exists {
		return transaction.ErrConstraintViolation
	}
	if _, ok := f.accounts[params.AccountID]; !ok {
		return transaction.ErrConstraintViolation
	}
	f.txs[params.ID] = &transaction.Transaction{
		ID:        params.ID,
		UserID:    params.UserID,
		AccountID: params.AccountID,
		Category:  params.Category,
		Date:      params.Date,
		Name:      params.Name,
		Amount:    params.Amount,
	}
	return nil
}

func (f *fakeStore) UpdateTransaction(ctx context.Context, params transaction.UpsertTransactionParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[params.ID]
	if !ok || tx.IsRemoved || tx.UserID != params.UserID {
		return transaction.ErrTransactionNotFound
	}
	tx.AccountID = params.AccountID
	tx.Category = params.Category
	tx.Date = params.Date
	tx.Name = params.Name
	tx.Amount = params.Amount
	return nil
}

func (f *fakeStore) TombstoneTransaction(ctx context.Context, userID, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok || tx.IsRemoved || tx.UserID != userID {
		return "", transaction.ErrTransactionNotFound
	}
	delete(f.txs, id)
	tx.ID = id + transaction.TombstoneMarker + uuid.NewString()
	tx.IsRemoved = true
	f.txs[tx.ID] = tx
	return tx.ID, nil
}

func (f *fakeStore) SaveCursor(ctx context.Context, itemID, cursor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := cursor
	f.items[itemID].TransactionCursor = &c
	f.cursorSaves[itemID]++
	return nil
}

func (f *fakeStore) GetItem(ctx context.Context, itemID string) (*item.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[itemID]
	if !ok {
		return nil, nil
	}
	cp := *it
	return &cp, nil
}

func (f *fakeStore) DeactivateItem(ctx context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[itemID]
	if !ok {
		return nil
	}
	it.IsActive = false
	it.AccessToken = item.RevokedCredential
	return nil
}

// fakeProvider serves pages keyed by access token and cursor. errs scripts
// the outcome of each call per token: a nil entry means serve the page.
type fakeProvider struct {
	mu        sync.Mutex
	pages     map[string]map[string]*ofclient.SyncPage
	errs      map[string][]error
	calls     map[string][]string
	removed   []string
	removeErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		pages: map[string]map[string]*ofclient.SyncPage{},
		errs:  map[string][]error{},
		calls: map[string][]string{},
	}
}

func (p *fakeProvider) addPage(token, cursor string, page *ofclient.SyncPage) {
	if p.pages[token] == nil {
		p.pages[token] = map[string]*ofclient.SyncPage{}
	}
	p.pages[token][cursor] = page
}

func (p *fakeProvider) callsFor(token string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls[token]...)
}

func (p *fakeProvider) FetchSyncPage(ctx context.Context, accessToken, cursor string) (*ofclient.SyncPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.calls[accessToken])
	p.calls[accessToken] = append(p.calls[accessToken], cursor)
	if script := p.errs[accessToken]; n < len(script) && script[n] != nil {
		return nil, script[n]
	}
	page, ok := p.pages[accessToken][cursor]
	if !ok {
		return nil, &ofclient.StructuralError{Op: "transactions/sync", Err: errors.New("unknown cursor " + cursor)}
	}
	return page, nil
}

func (p *fakeProvider) RemoveItem(ctx context.Context, accessToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removeErr != nil {
		return p.removeErr
	}
	p.removed = append(p.removed, accessToken)
	return nil
}

func transient() error {
	return &ofclient.TransientError{Op: "transactions/sync", StatusCode: 503, Err: errors.New("unavailable")}
}

func apiTx(id, accountID, name, amount string) ofclient.Transaction {
	return ofclient.Transaction{
		TransactionID: id,
		AccountID:     accountID,
		Name:          name,
		Amount:        decimal.RequireFromString(amount),
		DateString:    "2024-03-01",
	}
}

func strPtr(s string) *string { return &s }

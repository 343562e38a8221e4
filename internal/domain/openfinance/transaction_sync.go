package openfinance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"finmirror/internal/domain/account"
	"finmirror/internal/domain/item"
	"finmirror/internal/domain/transaction"
	ofclient "finmirror/internal/infrastructure/openfinance"
)

var (
	syncTracer             = otel.Tracer("finmirror/sync")
	syncMeter              = otel.Meter("finmirror/sync")
	syncPagesFetched, _    = syncMeter.Int64Counter("sync.pages.fetched", metric.WithDescription("Provider sync pages fetched"))
	syncAttemptsRetried, _ = syncMeter.Int64Counter("sync.attempts.retried", metric.WithDescription("Sync attempts restarted after a transient failure"))
	syncRecords, _         = syncMeter.Int64Counter("sync.records", metric.WithDescription("Reconciled records by kind and outcome"))
	syncDuration, _        = syncMeter.Float64Histogram("sync.item.duration", metric.WithDescription("Item sync duration in seconds"), metric.WithUnit("s"))
)

// SyncOptions bounds the page loop and its retries.
type SyncOptions struct {
	// MaxAttempts is the total number of page loops tried, first one included
	MaxAttempts int
	// RetryDelay is waited between attempts; zero retries immediately
	RetryDelay time.Duration
	// PageTimeout bounds each provider request
	PageTimeout time.Duration
	// MaxPagesPerAttempt guards against a provider that never stops paging
	MaxPagesPerAttempt int
}

// DefaultSyncOptions returns the production defaults.
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		MaxAttempts:        3,
		RetryDelay:         time.Second,
		PageTimeout:        30 * time.Second,
		MaxPagesPerAttempt: 1000,
	}
}

func (o SyncOptions) withDefaults() SyncOptions {
	d := DefaultSyncOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = d.PageTimeout
	}
	if o.MaxPagesPerAttempt <= 0 {
		o.MaxPagesPerAttempt = d.MaxPagesPerAttempt
	}
	return o
}

// SyncSummary reports how many records one item sync actually applied.
type SyncSummary struct {
	ItemID   string `json:"itemId"`
	Added    int    `json:"added"`
	Modified int    `json:"modified"`
	Removed  int    `json:"removed"`
	Error    string `json:"error,omitempty"`
}

// pageDelta is the transaction part of a single page.
type pageDelta struct {
	added    []ofclient.Transaction
	modified []ofclient.Transaction
	removed  []ofclient.RemovedTransaction
}

// changeset is the accumulated output of one successful page loop, kept
// page by page in provider order.
type changeset struct {
	accounts   []ofclient.Account
	deltas     []pageDelta
	pages      int
	nextCursor string
}

func (c *changeset) flatten() (added, modified []ofclient.Transaction, removed []ofclient.RemovedTransaction) {
	for _, d := range c.deltas {
		added = append(added, d.added...)
		modified = append(modified, d.modified...)
		removed = append(removed, d.removed...)
	}
	return added, modified, removed
}

// TransactionSyncService pulls an item's changes from the provider and
// mirrors them into the store.
type TransactionSyncService struct {
	client ofclient.ClientInterface
	store  Store
	opts   SyncOptions
}

// NewTransactionSyncService creates a new transaction sync service
func NewTransactionSyncService(client ofclient.ClientInterface, store Store, opts SyncOptions) *TransactionSyncService {
	return &TransactionSyncService{
		client: client,
		store:  store,
		opts:   opts.withDefaults(),
	}
}

// SyncItem runs the page loop for one item, reconciles the accumulated
// changes and advances the stored cursor.
//
// A transient provider failure restarts the page loop from the cursor that
// was stored when the sync began, discarding every page of the failed
// attempt. When all attempts fail, or on a structural failure, nothing is
// written and the cursor stays where it was.
func (s *TransactionSyncService) SyncItem(ctx context.Context, itemID string) (SyncSummary, error) {
	summary := SyncSummary{ItemID: itemID}

	ctx, span := syncTracer.Start(ctx, "sync.item", trace.WithAttributes(attribute.String("item.id", itemID)))
	defer span.End()
	start := time.Now()

	fail := func(err error) (SyncSummary, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		syncDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("status", "error")))
		return summary, err
	}

	state, err := s.store.GetItemSyncState(ctx, itemID)
	if err != nil {
		return fail(fmt.Errorf("failed to load sync state for item %s: %w", itemID, err))
	}
	if state == nil || state.AccessToken == item.RevokedCredential {
		return fail(fmt.Errorf("item %s: %w", itemID, ErrItemNotFound))
	}
	span.SetAttributes(attribute.String("user.id", state.UserID))

	changes, err := s.fetchWithRetry(ctx, state)
	if err != nil {
		log.Printf("Sync: item %s made no progress: %v", itemID, err)
		return fail(err)
	}

	summary = s.reconcile(ctx, state, changes)

	if err := s.store.SaveCursor(ctx, itemID, changes.nextCursor); err != nil {
		return fail(fmt.Errorf("failed to save cursor for item %s: %w", itemID, err))
	}

	span.SetAttributes(
		attribute.Int("sync.pages", changes.pages),
		attribute.Int("sync.added", summary.Added),
		attribute.Int("sync.modified", summary.Modified),
		attribute.Int("sync.removed", summary.Removed),
	)
	syncDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("status", "success")))

	log.Printf("Sync: item %s completed: pages=%d, added=%d, modified=%d, removed=%d",
		itemID, changes.pages, summary.Added, summary.Modified, summary.Removed)

	return summary, nil
}

// fetchWithRetry runs the page loop up to MaxAttempts times, always starting
// from the stored cursor.
func (s *TransactionSyncService) fetchWithRetry(ctx context.Context, state *item.SyncState) (*changeset, error) {
	origin := state.CursorOrEmpty()

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			syncAttemptsRetried.Add(ctx, 1)
			log.Printf("Sync: item %s restarting from stored cursor (attempt %d/%d) after: %v",
				state.ItemID, attempt, s.opts.MaxAttempts, lastErr)
			if err := sleepContext(ctx, s.opts.RetryDelay); err != nil {
				return nil, fmt.Errorf("sync of item %s cancelled: %w", state.ItemID, err)
			}
		}

		changes, err := s.fetchAll(ctx, state, origin)
		if err == nil {
			return changes, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sync of item %s cancelled: %w", state.ItemID, ctx.Err())
		}
		if !errors.Is(err, ofclient.ErrTransient) {
			return nil, fmt.Errorf("sync of item %s aborted: %w", state.ItemID, err)
		}
		lastErr = err
	}

	return nil, fmt.Errorf("item %s after %d attempts: %w: %w", state.ItemID, s.opts.MaxAttempts, ErrRetriesExhausted, lastErr)
}

// fetchAll pages from origin until the provider reports no more data.
func (s *TransactionSyncService) fetchAll(ctx context.Context, state *item.SyncState, origin string) (*changeset, error) {
	changes := &changeset{}
	cursor := origin

	for {
		if changes.pages >= s.opts.MaxPagesPerAttempt {
			return nil, fmt.Errorf("%w: provider still had more after %d pages", ErrTooManyPages, changes.pages)
		}

		pageCtx, cancel := context.WithTimeout(ctx, s.opts.PageTimeout)
		page, err := s.client.FetchSyncPage(pageCtx, state.AccessToken, cursor)
		cancel()
		if err != nil {
			return nil, err
		}
		if page == nil {
			return nil, &ofclient.StructuralError{Op: "transactions/sync", Err: errors.New("empty page")}
		}

		changes.pages++
		syncPagesFetched.Add(ctx, 1)

		changes.accounts = append(changes.accounts, page.Accounts...)
		changes.deltas = append(changes.deltas, pageDelta{
			added:    page.Added,
			modified: page.Modified,
			removed:  page.Removed,
		})
		cursor = page.NextCursor

		if !page.HasMore {
			break
		}
	}

	changes.nextCursor = cursor
	return changes, nil
}

// reconcile applies a complete changeset. Individual record failures are
// logged and skipped; the returned summary counts applied records only.
func (s *TransactionSyncService) reconcile(ctx context.Context, state *item.SyncState, changes *changeset) SyncSummary {
	summary := SyncSummary{ItemID: state.ItemID}

	added, modified, removed := changes.flatten()
	s.ensureAccounts(ctx, state, changes.accounts, added, modified)

	modified = lastModifiedByID(modified)

	// Ids only repeat across lists when the loop spanned several pages. The
	// pages are then replayed one at a time so that a later page wins, e.g. a
	// removal followed by a re-add of the same id.
	if !idsDisjoint(added, modified, removed) {
		for _, d := range changes.deltas {
			summary.Added += s.applyAdded(ctx, state, d.added)
			summary.Modified += s.applyModified(ctx, state, d.modified)
			summary.Removed += s.applyRemoved(ctx, state, d.removed)
		}
		return summary
	}

	addPass := func() { summary.Added = s.applyAdded(ctx, state, added) }
	modifyPass := func() { summary.Modified = s.applyModified(ctx, state, modified) }
	removePass := func() { summary.Removed = s.applyRemoved(ctx, state, removed) }

	var g errgroup.Group
	g.Go(func() error { addPass(); return nil })
	g.Go(func() error { modifyPass(); return nil })
	g.Go(func() error { removePass(); return nil })
	g.Wait()

	return summary
}

// ensureAccounts registers every account the changeset mentions so that
// transactions referencing them can be stored.
func (s *TransactionSyncService) ensureAccounts(ctx context.Context, state *item.SyncState, accounts []ofclient.Account, added, modified []ofclient.Transaction) {
	names := make(map[string]string)
	var order []string
	note := func(id, name string) {
		if id == "" {
			return
		}
		if _, seen := names[id]; !seen {
			order = append(order, id)
		}
		if name != "" {
			names[id] = name
		} else if _, seen := names[id]; !seen {
			names[id] = ""
		}
	}

	for _, a := range accounts {
		note(a.AccountID, a.Name)
	}
	for i := range added {
		note(added[i].AccountID, "")
	}
	for i := range modified {
		note(modified[i].AccountID, "")
	}

	for _, id := range order {
		err := s.store.EnsureAccount(ctx, account.EnsureParams{ID: id, ItemID: state.ItemID, Name: names[id]})
		if err != nil {
			log.Printf("Sync: item %s: failed to ensure account %s: %v", state.ItemID, id, err)
		}
	}
}

func (s *TransactionSyncService) applyAdded(ctx context.Context, state *item.SyncState, added []ofclient.Transaction) int {
	applied := 0
	for i := range added {
		apiTx := &added[i]
		params, err := toUpsertParams(apiTx, state.UserID)
		if err != nil {
			s.recordOutcome(ctx, "added", "skipped")
			log.Printf("Sync: item %s: skipping added transaction %s: %v", state.ItemID, apiTx.TransactionID, err)
			continue
		}

		if err := s.store.InsertTransaction(ctx, params); err != nil {
			s.recordOutcome(ctx, "added", "skipped")
			if errors.Is(err, transaction.ErrConstraintViolation) {
				log.Printf("Sync: item %s: added transaction %s violates a constraint, skipping: %v", state.ItemID, apiTx.TransactionID, err)
			} else {
				log.Printf("Sync: item %s: failed to insert transaction %s: %v", state.ItemID, apiTx.TransactionID, err)
			}
			continue
		}

		s.recordOutcome(ctx, "added", "applied")
		applied++
	}
	return applied
}

func (s *TransactionSyncService) applyModified(ctx context.Context, state *item.SyncState, modified []ofclient.Transaction) int {
	applied := 0
	for i := range modified {
		apiTx := &modified[i]
		params, err := toUpsertParams(apiTx, state.UserID)
		if err != nil {
			s.recordOutcome(ctx, "modified", "skipped")
			log.Printf("Sync: item %s: skipping modified transaction %s: %v", state.ItemID, apiTx.TransactionID, err)
			continue
		}

		if err := s.store.UpdateTransaction(ctx, params); err != nil {
			s.recordOutcome(ctx, "modified", "skipped")
			if errors.Is(err, transaction.ErrTransactionNotFound) {
				log.Printf("Sync: item %s: modified transaction %s not stored, ignoring", state.ItemID, apiTx.TransactionID)
			} else {
				log.Printf("Sync: item %s: failed to update transaction %s: %v", state.ItemID, apiTx.TransactionID, err)
			}
			continue
		}

		s.recordOutcome(ctx, "modified", "applied")
		applied++
	}
	return applied
}

func (s *TransactionSyncService) applyRemoved(ctx context.Context, state *item.SyncState, removed []ofclient.RemovedTransaction) int {
	applied := 0
	for _, r := range removed {
		tombstoneID, err := s.store.TombstoneTransaction(ctx, state.UserID, r.TransactionID)
		if err != nil {
			s.recordOutcome(ctx, "removed", "skipped")
			if errors.Is(err, transaction.ErrTransactionNotFound) {
				log.Printf("Sync: item %s: removed transaction %s not stored, ignoring", state.ItemID, r.TransactionID)
			} else {
				log.Printf("Sync: item %s: failed to remove transaction %s: %v", state.ItemID, r.TransactionID, err)
			}
			continue
		}

		s.recordOutcome(ctx, "removed", "applied")
		log.Printf("Sync: item %s: transaction %s tombstoned as %s", state.ItemID, r.TransactionID, tombstoneID)
		applied++
	}
	return applied
}

func (s *TransactionSyncService) recordOutcome(ctx context.Context, kind, outcome string) {
	syncRecords.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

// toUpsertParams maps a provider transaction onto the stored fields
func toUpsertParams(apiTx *ofclient.Transaction, userID string) (transaction.UpsertTransactionParams, error) {
	date, err := apiTx.GetDate()
	if err != nil {
		return transaction.UpsertTransactionParams{}, err
	}
	authorized, err := apiTx.GetAuthorizedDate()
	if err != nil {
		return transaction.UpsertTransactionParams{}, err
	}

	return transaction.UpsertTransactionParams{
		ID:             apiTx.TransactionID,
		UserID:         userID,
		AccountID:      apiTx.AccountID,
		Category:       apiTx.GetCategory(),
		Date:           date,
		AuthorizedDate: authorized,
		Name:           apiTx.Name,
		Amount:         apiTx.Amount,
		CurrencyCode:   apiTx.GetCurrencyCode(),
	}, nil
}

// lastModifiedByID keeps only the newest version of a transaction modified
// on several pages, preserving first-seen order.
func lastModifiedByID(modified []ofclient.Transaction) []ofclient.Transaction {
	index := make(map[string]int, len(modified))
	out := make([]ofclient.Transaction, 0, len(modified))
	for _, tx := range modified {
		if i, ok := index[tx.TransactionID]; ok {
			out[i] = tx
			continue
		}
		index[tx.TransactionID] = len(out)
		out = append(out, tx)
	}
	return out
}

func idsDisjoint(added, modified []ofclient.Transaction, removed []ofclient.RemovedTransaction) bool {
	seen := make(map[string]struct{}, len(added)+len(modified)+len(removed))
	for _, tx := range added {
		if _, dup := seen[tx.TransactionID]; dup {
			return false
		}
		seen[tx.TransactionID] = struct{}{}
	}
	for _, tx := range modified {
		if _, dup := seen[tx.TransactionID]; dup {
			return false
		}
		seen[tx.TransactionID] = struct{}{}
	}
	for _, r := range removed {
		if _, dup := seen[r.TransactionID]; dup {
			return false
		}
		seen[r.TransactionID] = struct{}{}
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package http

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"finmirror/internal/domain/openfinance"
	"finmirror/internal/domain/transaction"
	"finmirror/internal/shared/middleware"
)

const (
	defaultListCount = 50
	maxListCount     = 500
)

// UserSyncer runs a sync of all of a user's items.
type UserSyncer interface {
	SyncAllItemsForUser(ctx context.Context, userID string) ([]openfinance.SyncSummary, error)
}

type TransactionStore interface {
	ListByUserID(ctx context.Context, userID string, limit int) ([]*transaction.ListedTransaction, error)
	Delete(ctx context.Context, userID, id string) error
}

type TransactionHandler struct {
	syncer       UserSyncer
	transactions TransactionStore
}

func NewTransactionHandler(syncer UserSyncer, transactions TransactionStore) *TransactionHandler {
	return &TransactionHandler{syncer: syncer, transactions: transactions}
}

type syncResponse struct {
	CompleteResults []openfinance.SyncSummary `json:"completeResults"`
}

// HandleSync syncs every active item of the session user. Per-item failures
// are reported inside the results, so the status is 200 unless the items
// could not be listed at all.
func (h *TransactionHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	results, err := h.syncer.SyncAllItemsForUser(r.Context(), userID)
	if err != nil {
		log.Printf("User %s: sync failed: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to sync transactions")
		return
	}
	if results == nil {
		results = []openfinance.SyncSummary{}
	}

	writeJSON(w, http.StatusOK, syncResponse{CompleteResults: results})
}

// HandleList returns the newest live transactions of the session user.
// maxCount defaults to 50 and is capped at 500.
func (h *TransactionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	limit := defaultListCount
	if raw := r.URL.Query().Get("maxCount"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "maxCount must be a positive integer")
			return
		}
		limit = min(n, maxListCount)
	}

	txs, err := h.transactions.ListByUserID(r.Context(), userID, limit)
	if err != nil {
		log.Printf("User %s: error listing transactions: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}
	if txs == nil {
		txs = []*transaction.ListedTransaction{}
	}

	writeJSON(w, http.StatusOK, txs)
}

// HandleDelete permanently removes one of the session user's live
// transactions. The next sync does not bring it back unless the provider
// reports it as added again.
func (h *TransactionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	txnID := chi.URLParam(r, "txnId")
	if txnID == "" || transaction.IsTombstoneID(txnID) {
		writeError(w, http.StatusNotFound, "Transaction not found")
		return
	}

	if err := h.transactions.Delete(r.Context(), userID, txnID); err != nil {
		if errors.Is(err, transaction.ErrTransactionNotFound) {
			writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("User %s: error deleting transaction %s: %v", userID, txnID, err)
		writeError(w, http.StatusInternalServerError, "Error deleting transaction")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Transaction deleted successfully."})
}

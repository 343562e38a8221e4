package http

import (
	"context"
	"errors"
	"log"
	"net/http"

	"finmirror/internal/domain/item"
	"finmirror/internal/domain/openfinance"
	ofclient "finmirror/internal/infrastructure/openfinance"
	"finmirror/internal/shared/middleware"
)

// ItemManager lists and deactivates a user's linked items.
type ItemManager interface {
	ListBanks(ctx context.Context, userID string) ([]*item.Item, error)
	DeactivateItem(ctx context.Context, itemID, userID string) error
}

type BankHandler struct {
	items ItemManager
}

func NewBankHandler(items ItemManager) *BankHandler {
	return &BankHandler{items: items}
}

type bankResponse struct {
	ID       string  `json:"id"`
	BankName *string `json:"bankName"`
}

type deactivateRequest struct {
	ItemID string `json:"itemId" validate:"required,max=255"`
}

type deactivateResponse struct {
	Removed string `json:"removed"`
}

func (h *BankHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	items, err := h.items.ListBanks(r.Context(), userID)
	if err != nil {
		log.Printf("User %s: error listing banks: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to list banks")
		return
	}

	banks := make([]bankResponse, 0, len(items))
	for _, it := range items {
		banks = append(banks, bankResponse{ID: it.ID, BankName: it.BankName})
	}
	writeJSON(w, http.StatusOK, banks)
}

func (h *BankHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req deactivateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	err := h.items.DeactivateItem(r.Context(), req.ItemID, userID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, deactivateResponse{Removed: req.ItemID})
	case errors.Is(err, openfinance.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "Item not found")
	case errors.Is(err, openfinance.ErrNotOwner):
		writeError(w, http.StatusForbidden, "Item belongs to another user")
	case errors.Is(err, openfinance.ErrItemBusy):
		writeError(w, http.StatusConflict, "Item is being synced, try again shortly")
	case errors.Is(err, ofclient.ErrTransient):
		log.Printf("User %s: provider unavailable while deactivating item %s: %v", userID, req.ItemID, err)
		writeError(w, http.StatusBadGateway, "Provider unavailable")
	default:
		log.Printf("User %s: error deactivating item %s: %v", userID, req.ItemID, err)
		writeError(w, http.StatusInternalServerError, "Failed to deactivate item")
	}
}

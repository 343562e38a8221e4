package http

import (
	"log"
	"net/http"
)

const (
	webhookTypeTransactions = "TRANSACTIONS"
	webhookCodeSyncUpdates  = "SYNC_UPDATES_AVAILABLE"
)

// ItemSyncQueue schedules an asynchronous sync of one item.
type ItemSyncQueue interface {
	EnqueueItemSync(itemID string) error
}

type WebhookHandler struct {
	queue ItemSyncQueue
}

func NewWebhookHandler(queue ItemSyncQueue) *WebhookHandler {
	return &WebhookHandler{queue: queue}
}

type providerWebhook struct {
	WebhookType string `json:"webhook_type" validate:"required"`
	WebhookCode string `json:"webhook_code" validate:"required"`
	ItemID      string `json:"item_id"`
}

// HandleProvider queues a sync when the provider reports new transaction
// updates for an item. Every other notification is acknowledged and ignored.
func (h *WebhookHandler) HandleProvider(w http.ResponseWriter, r *http.Request) {
	var req providerWebhook
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if req.WebhookType != webhookTypeTransactions || req.WebhookCode != webhookCodeSyncUpdates {
		log.Printf("Webhook: ignoring %s/%s for item %s", req.WebhookType, req.WebhookCode, req.ItemID)
		writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": true})
		return
	}

	if req.ItemID == "" {
		writeError(w, http.StatusBadRequest, "item_id is required")
		return
	}

	if err := h.queue.EnqueueItemSync(req.ItemID); err != nil {
		log.Printf("Webhook: could not queue sync for item %s: %v", req.ItemID, err)
		writeError(w, http.StatusServiceUnavailable, "Sync queue unavailable")
		return
	}

	log.Printf("Webhook: queued sync for item %s", req.ItemID)
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}

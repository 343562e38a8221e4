package http

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordingQueue struct {
	items []string
	err   error
}

func (q *recordingQueue) EnqueueItemSync(itemID string) error {
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, itemID)
	return nil
}

func TestHandleProviderWebhook(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		queueErr       error
		expectedStatus int
		expectQueued   bool
	}{
		{
			name:           "Sync updates available",
			body:           `{"webhook_type":"TRANSACTIONS","webhook_code":"SYNC_UPDATES_AVAILABLE","item_id":"item-1"}`,
			expectedStatus: http.StatusAccepted,
			expectQueued:   true,
		},
		{
			name:           "Other code is acknowledged",
			body:           `{"webhook_type":"ITEM","webhook_code":"ERROR","item_id":"item-1"}`,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Missing item id",
			body:           `{"webhook_type":"TRANSACTIONS","webhook_code":"SYNC_UPDATES_AVAILABLE"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Missing type",
			body:           `{"webhook_code":"SYNC_UPDATES_AVAILABLE","item_id":"item-1"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Queue full",
			body:           `{"webhook_type":"TRANSACTIONS","webhook_code":"SYNC_UPDATES_AVAILABLE","item_id":"item-1"}`,
			queueErr:       errors.New("job queue full"),
			expectedStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &recordingQueue{err: tt.queueErr}
			handler := NewWebhookHandler(queue)

			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/provider", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()
			handler.HandleProvider(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if queued := len(queue.items) == 1 && queue.items[0] == "item-1"; queued != tt.expectQueued {
				t.Errorf("queued = %v, want %v", queued, tt.expectQueued)
			}
		})
	}
}

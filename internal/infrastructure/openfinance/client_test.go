package openfinance

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{BaseURL: server.URL, ClientID: "client", Secret: "secret", Timeout: 2 * time.Second})
}

func TestFetchSyncPage_Success(t *testing.T) {
	var gotReq syncRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != syncPath {
			t.Errorf("Expected path %s, got %s", syncPath, r.URL.Path)
		}
		if r.Header.Get("PLAID-CLIENT-ID") != "client" || r.Header.Get("PLAID-SECRET") != "secret" {
			t.Errorf("Missing credential headers")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"accounts": [{"account_id": "acc-1", "name": "Checking"}],
			"added": [{
				"transaction_id": "tx-1",
				"account_id": "acc-1",
				"amount": 12.34,
				"iso_currency_code": "USD",
				"date": "2024-03-01",
				"authorized_date": null,
				"name": "Coffee",
				"personal_finance_category": {"primary": "FOOD_AND_DRINK", "detailed": "FOOD_AND_DRINK_COFFEE"}
			}],
			"modified": [],
			"removed": [{"transaction_id": "tx-0"}],
			"next_cursor": "cursor-2",
			"has_more": true
		}`))
	})

	page, err := client.FetchSyncPage(context.Background(), "access-1", "cursor-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if gotReq.AccessToken != "access-1" || gotReq.Cursor != "cursor-1" {
		t.Errorf("Unexpected request body: %+v", gotReq)
	}
	if !gotReq.Options.IncludePersonalFinanceCategory {
		t.Error("Expected personal finance category option to be set")
	}
	if page.NextCursor != "cursor-2" || !page.HasMore {
		t.Errorf("Unexpected page metadata: cursor=%q hasMore=%v", page.NextCursor, page.HasMore)
	}
	if len(page.Added) != 1 || len(page.Removed) != 1 || len(page.Accounts) != 1 {
		t.Fatalf("Unexpected page contents: %+v", page)
	}

	tx := page.Added[0]
	if tx.Amount.String() != "12.34" {
		t.Errorf("Expected amount 12.34, got %s", tx.Amount.String())
	}
	if c := tx.GetCategory(); c == nil || *c != "FOOD_AND_DRINK" {
		t.Errorf("Unexpected category: %v", c)
	}
	date, err := tx.GetDate()
	if err != nil || date == nil || date.Format("2006-01-02") != "2024-03-01" {
		t.Errorf("Unexpected date: %v (%v)", date, err)
	}
	authorized, err := tx.GetAuthorizedDate()
	if err != nil || authorized != nil {
		t.Errorf("Expected nil authorized date, got %v (%v)", authorized, err)
	}
}

func TestFetchSyncPage_EmptyCursorOmitted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		json.NewDecoder(r.Body).Decode(&raw)
		if _, ok := raw["cursor"]; ok {
			t.Error("Expected cursor to be omitted for initial sync")
		}
		w.Write([]byte(`{"added":[],"modified":[],"removed":[],"next_cursor":"c1","has_more":false}`))
	})

	if _, err := client.FetchSyncPage(context.Background(), "access", ""); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestFetchSyncPage_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantTransient bool
	}{
		{
			name:          "Rate limited",
			status:        http.StatusTooManyRequests,
			body:          `{"error_type":"RATE_LIMIT_EXCEEDED","error_code":"TRANSACTIONS_SYNC_LIMIT","error_message":"slow down"}`,
			wantTransient: true,
		},
		{
			name:          "Server error",
			status:        http.StatusInternalServerError,
			body:          `{"error_type":"API_ERROR","error_code":"INTERNAL_SERVER_ERROR","error_message":"boom"}`,
			wantTransient: true,
		},
		{
			name:          "Bad gateway without body",
			status:        http.StatusBadGateway,
			body:          ``,
			wantTransient: true,
		},
		{
			name:          "Mutation during pagination",
			status:        http.StatusBadRequest,
			body:          `{"error_type":"TRANSACTIONS_ERROR","error_code":"TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION","error_message":"restart"}`,
			wantTransient: true,
		},
		{
			name:          "Invalid access token",
			status:        http.StatusBadRequest,
			body:          `{"error_type":"INVALID_INPUT","error_code":"INVALID_ACCESS_TOKEN","error_message":"bad token"}`,
			wantTransient: false,
		},
		{
			name:          "Malformed JSON on success",
			status:        http.StatusOK,
			body:          `{"added": [`,
			wantTransient: false,
		},
		{
			name:          "Missing next cursor",
			status:        http.StatusOK,
			body:          `{"added":[],"modified":[],"removed":[],"has_more":false}`,
			wantTransient: false,
		},
		{
			name:          "Record without id",
			status:        http.StatusOK,
			body:          `{"added":[{"transaction_id":"","account_id":"a","amount":1,"date":"2024-01-01","name":"x"}],"next_cursor":"c","has_more":false}`,
			wantTransient: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.FetchSyncPage(context.Background(), "access", "")
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if got := errors.Is(err, ErrTransient); got != tt.wantTransient {
				t.Errorf("errors.Is(err, ErrTransient) = %v, want %v (err: %v)", got, tt.wantTransient, err)
			}
			if got := errors.Is(err, ErrStructural); got == tt.wantTransient {
				t.Errorf("errors.Is(err, ErrStructural) = %v, want %v (err: %v)", got, !tt.wantTransient, err)
			}
		})
	}
}

func TestFetchSyncPage_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(Config{BaseURL: url, Timeout: time.Second})
	_, err := client.FetchSyncPage(context.Background(), "access", "")
	if !errors.Is(err, ErrTransient) {
		t.Errorf("Expected transient error, got %v", err)
	}
}

func TestFetchSyncPage_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.FetchSyncPage(ctx, "access", "")
	if !errors.Is(err, ErrTransient) {
		t.Errorf("Expected transient error, got %v", err)
	}
}

func TestRemoveItem(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{name: "Success", status: http.StatusOK, body: `{"request_id":"r1"}`},
		{name: "Rejected", status: http.StatusBadRequest, body: `{"error_code":"ITEM_NOT_FOUND","error_message":"gone"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotToken string
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != itemRemovePath {
					t.Errorf("Expected path %s, got %s", itemRemovePath, r.URL.Path)
				}
				var req removeRequest
				json.NewDecoder(r.Body).Decode(&req)
				gotToken = req.AccessToken
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			err := client.RemoveItem(context.Background(), "access-9")
			if (err != nil) != tt.wantErr {
				t.Errorf("RemoveItem() error = %v, wantErr %v", err, tt.wantErr)
			}
			if gotToken != "access-9" {
				t.Errorf("Expected access token access-9, got %q", gotToken)
			}
		})
	}
}

func TestTransaction_GetCurrencyCode(t *testing.T) {
	usd := "USD"
	btc := "BTC"
	empty := ""

	tests := []struct {
		name string
		tx   Transaction
		want *string
	}{
		{name: "ISO code", tx: Transaction{ISOCurrencyCode: &usd, UnofficialCurrencyCode: &btc}, want: &usd},
		{name: "Unofficial fallback", tx: Transaction{ISOCurrencyCode: &empty, UnofficialCurrencyCode: &btc}, want: &btc},
		{name: "Neither", tx: Transaction{}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.tx.GetCurrencyCode()
			if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
				t.Errorf("GetCurrencyCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

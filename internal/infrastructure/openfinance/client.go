package openfinance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultBaseURL  = "https://sandbox.plaid.com"
	defaultTimeout  = 60 * time.Second
	defaultPageSize = 100
	maxPageSize     = 500
	maxResponseSize = 32 << 20

	syncPath       = "/transactions/sync"
	itemRemovePath = "/item/remove"
	apiVersion     = "2020-09-14"

	// Returned when the item's data changed while we were paging; the whole
	// page loop has to restart from the cursor it started with.
	codeMutationDuringPagination = "TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION"
)

// Config holds the provider credentials and transport settings.
type Config struct {
	BaseURL  string
	ClientID string
	Secret   string
	Timeout  time.Duration
	PageSize int
}

// Client handles communication with the aggregation API
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
	pageSize   int
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new aggregation API client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:  baseURL,
		clientID: cfg.ClientID,
		secret:   cfg.Secret,
		pageSize: pageSize,
	}
}

// SyncPage is one page of the /transactions/sync changeset
type SyncPage struct {
	Accounts   []Account            `json:"accounts"`
	Added      []Transaction        `json:"added"`
	Modified   []Transaction        `json:"modified"`
	Removed    []RemovedTransaction `json:"removed"`
	NextCursor string               `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
	RequestID  string               `json:"request_id"`
}

// Account is the account metadata returned alongside a sync page
type Account struct {
	AccountID    string  `json:"account_id"`
	Name         string  `json:"name"`
	OfficialName *string `json:"official_name"`
}

// PersonalFinanceCategory is the provider's two-level category
type PersonalFinanceCategory struct {
	Primary  string `json:"primary"`
	Detailed string `json:"detailed"`
}

// Transaction represents an added or modified transaction from the API
type Transaction struct {
	TransactionID           string                   `json:"transaction_id"`
	AccountID               string                   `json:"account_id"`
	Amount                  decimal.Decimal          `json:"amount"`
	ISOCurrencyCode         *string                  `json:"iso_currency_code"`
	UnofficialCurrencyCode  *string                  `json:"unofficial_currency_code"`
	Category                []string                 `json:"category"`
	PersonalFinanceCategory *PersonalFinanceCategory `json:"personal_finance_category"`
	DateString              string                   `json:"date"`            // "2006-01-02"
	AuthorizedDateString    *string                  `json:"authorized_date"` // "2006-01-02" or null
	Name                    string                   `json:"name"`
	MerchantName            *string                  `json:"merchant_name"`
	Pending                 bool                     `json:"pending"`
	PendingTransactionID    *string                  `json:"pending_transaction_id"`
}

// RemovedTransaction identifies a transaction the provider no longer reports
type RemovedTransaction struct {
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id"`
}

// GetDate parses and returns the posting date
func (t *Transaction) GetDate() (*time.Time, error) {
	return parseDate("date", &t.DateString)
}

// GetAuthorizedDate parses and returns the authorization date if present
func (t *Transaction) GetAuthorizedDate() (*time.Time, error) {
	return parseDate("authorized_date", t.AuthorizedDateString)
}

// GetCategory prefers the personal finance category over the legacy list
func (t *Transaction) GetCategory() *string {
	if t.PersonalFinanceCategory != nil && t.PersonalFinanceCategory.Primary != "" {
		c := t.PersonalFinanceCategory.Primary
		return &c
	}
	if len(t.Category) > 0 {
		c := t.Category[0]
		return &c
	}
	return nil
}

// GetCurrencyCode returns the ISO code, falling back to the unofficial one
func (t *Transaction) GetCurrencyCode() *string {
	if t.ISOCurrencyCode != nil && *t.ISOCurrencyCode != "" {
		return t.ISOCurrencyCode
	}
	return t.UnofficialCurrencyCode
}

func parseDate(field string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s '%s': %w", field, *s, err)
	}
	return &parsed, nil
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	ErrorType      string `json:"error_type"`
	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
	DisplayMessage string `json:"display_message"`
	RequestID      string `json:"request_id"`
}

type syncRequest struct {
	AccessToken string      `json:"access_token"`
	Cursor      string      `json:"cursor,omitempty"`
	Count       int         `json:"count"`
	Options     syncOptions `json:"options"`
}

type syncOptions struct {
	IncludePersonalFinanceCategory bool `json:"include_personal_finance_category"`
}

type removeRequest struct {
	AccessToken string `json:"access_token"`
}

type removeResponse struct {
	RequestID string `json:"request_id"`
}

// FetchSyncPage fetches one page of transaction changes after cursor.
func (c *Client) FetchSyncPage(ctx context.Context, accessToken, cursor string) (*SyncPage, error) {
	const op = "transactions/sync"

	var page SyncPage
	err := c.post(ctx, op, syncPath, syncRequest{
		AccessToken: accessToken,
		Cursor:      cursor,
		Count:       c.pageSize,
		Options:     syncOptions{IncludePersonalFinanceCategory: true},
	}, &page)
	if err != nil {
		return nil, err
	}

	if err := validatePage(&page); err != nil {
		return nil, &StructuralError{Op: op, StatusCode: http.StatusOK, Err: err}
	}

	return &page, nil
}

// RemoveItem revokes the access token so the provider stops serving the item
func (c *Client) RemoveItem(ctx context.Context, accessToken string) error {
	var resp removeResponse
	return c.post(ctx, "item/remove", itemRemovePath, removeRequest{AccessToken: accessToken}, &resp)
}

func (c *Client) post(ctx context.Context, op, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &StructuralError{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &StructuralError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("PLAID-CLIENT-ID", c.clientID)
	req.Header.Set("PLAID-SECRET", c.secret)
	req.Header.Set("Plaid-Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Op: op, Err: fmt.Errorf("failed to execute request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &TransientError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return classifyFailure(op, resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &StructuralError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}

	return nil
}

// classifyFailure maps a non-200 response onto the transient/structural split.
func classifyFailure(op string, status int, body []byte) error {
	var errResp ErrorResponse
	detail := fmt.Errorf("API request failed with status %d: %s", status, truncate(body, 512))
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.ErrorCode != "" {
		detail = fmt.Errorf("API error (status %d): %s - %s", status, errResp.ErrorCode, errResp.ErrorMessage)
	}

	if status == http.StatusTooManyRequests || status >= 500 || errResp.ErrorCode == codeMutationDuringPagination {
		return &TransientError{Op: op, StatusCode: status, Code: errResp.ErrorCode, Err: detail}
	}
	return &StructuralError{Op: op, StatusCode: status, Code: errResp.ErrorCode, Err: detail}
}

func validatePage(page *SyncPage) error {
	if page.NextCursor == "" {
		return fmt.Errorf("response has no next_cursor")
	}
	for i := range page.Added {
		if page.Added[i].TransactionID == "" {
			return fmt.Errorf("added[%d] has no transaction_id", i)
		}
	}
	for i := range page.Modified {
		if page.Modified[i].TransactionID == "" {
			return fmt.Errorf("modified[%d] has no transaction_id", i)
		}
	}
	for i := range page.Removed {
		if page.Removed[i].TransactionID == "" {
			return fmt.Errorf("removed[%d] has no transaction_id", i)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

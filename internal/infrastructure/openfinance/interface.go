package openfinance

import (
	"context"
)

// ClientInterface defines the methods required from the aggregation API client
type ClientInterface interface {
	// FetchSyncPage returns one page of changes after cursor ("" = from the beginning)
	FetchSyncPage(ctx context.Context, accessToken, cursor string) (*SyncPage, error)
	// RemoveItem revokes the access token at the provider
	RemoveItem(ctx context.Context, accessToken string) error
}

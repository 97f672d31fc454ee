package catalog

import (
	"context"
	"time"
)

// Fetcher retrieves remote resources.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Parser extracts catalog records from fetched HTML. Parsing is total: malformed
// markup yields empty results, never an error.
type Parser interface {
	ParseListing(page FetchResponse) []ListingStub
	ParseDetail(page FetchResponse) ProductDetail
	// LoadMorePage returns the page number advertised by a load-more control.
	LoadMorePage(page FetchResponse) (string, bool)
}

// EventPublisher emits notifications to downstream systems.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

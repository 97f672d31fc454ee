// Package catalog defines the entities shared by the crawler, the snapshot
// cache and the publication pipeline, along with the collaborator contracts
// they depend on.
package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Labels attached to the detail attributes scraped from a product page.
const (
	LabelSKU    = "SKU"
	LabelStatus = "Status"
	LabelBrand  = "Brand"
)

// Sentinel status values stored in place of detail fields when enrichment
// could not run.
const (
	StatusDetailFetchFailed = "detail fetch failed"
	StatusNoURL             = "no URL"
)

// ListingStub is the partial record scraped from a listing page.
type ListingStub struct {
	Title    string `json:"title"`
	Price    string `json:"price"`
	PriceOld string `json:"priceOld"`
	Sale     string `json:"sale"`
	URL      string `json:"url"`
}

// LabeledValue pairs a display label with a scraped value.
type LabeledValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// UnmarshalJSON accepts the object form or a bare string, which older cache
// records use for sentinel statuses.
func (v *LabeledValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = LabeledValue{Value: s}
		return nil
	}
	type plain LabeledValue
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode labeled value: %w", err)
	}
	*v = LabeledValue(p)
	return nil
}

// ProductDetail holds the fields scraped from a product detail page.
type ProductDetail struct {
	SKU         LabeledValue `json:"SKU"`
	Status      LabeledValue `json:"status"`
	Brand       LabeledValue `json:"brand"`
	Sizes       []string     `json:"sizeList"`
	Colors      []string     `json:"colorList"`
	Images      []string     `json:"imageList"`
	Description string       `json:"desc"`
}

// Product is a listing stub merged with its detail fields. Sentinel products
// carry only the stub and a Status whose value is one of the Status* constants.
type Product struct {
	ListingStub
	ProductDetail
}

// Merge combines a listing stub with its detail. Listing fields always win.
func Merge(stub ListingStub, detail ProductDetail) Product {
	return Product{ListingStub: stub, ProductDetail: detail}
}

// WithStatus returns a product whose detail section is replaced by a sentinel status.
func WithStatus(stub ListingStub, status string) Product {
	return Product{
		ListingStub: stub,
		ProductDetail: ProductDetail{
			Status: LabeledValue{Name: LabelStatus, Value: status},
		},
	}
}

// Enriched reports whether the product carries scraped detail fields.
func (p Product) Enriched() bool {
	switch p.Status.Value {
	case StatusDetailFetchFailed, StatusNoURL:
		return false
	default:
		return true
	}
}

// Snapshot is a captured product list plus the time it was captured.
type Snapshot struct {
	CapturedAt time.Time
	Products   []Product
}

// CrawlState is the lifecycle state of the crawl orchestrator.
type CrawlState string

// Crawl states.
const (
	CrawlIdle      CrawlState = "idle"
	CrawlRunning   CrawlState = "running"
	CrawlCompleted CrawlState = "completed"
)

// FetchRequest describes a single HTTP GET.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse captures the result of a fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ProductDraft is the payload submitted to the catalog service to create a product.
type ProductDraft struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Stock       int    `json:"stock"`
}

// UploadError records one failed publication step.
type UploadError struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Message string `json:"error"`
}

// UploadStats accumulates upload outcomes across a publication run.
type UploadStats struct {
	Total   int           `json:"total"`
	Success int           `json:"success"`
	Errors  []UploadError `json:"errors"`
}

// Clone returns a deep copy of the stats.
func (s UploadStats) Clone() UploadStats {
	out := s
	out.Errors = append([]UploadError{}, s.Errors...)
	return out
}

// SnapshotEvent is published after a crawl persists a fresh snapshot.
type SnapshotEvent struct {
	RunID          string    `json:"run_id"`
	CapturedAt     time.Time `json:"captured_at"`
	Items          int       `json:"items"`
	SourceErrors   int       `json:"source_errors"`
	DetailFailures int       `json:"detail_failures"`
}

// TopicSnapshotSaved is the event topic used for SnapshotEvent.
const TopicSnapshotSaved = "catalog.snapshot.saved"

package crawler

import (
	"context"
	"time"
)

// Section is the listing an order was found in
type Section string

const (
	// SectionPurchase is the "Received orders" listing
	SectionPurchase Section = "Purchase"
	// SectionSale is the "Sent orders" listing
	SectionSale Section = "Sale"
)

// OrderRecord represents one scraped order
type OrderRecord struct {
	ID           string    `json:"order_id"`
	Date         time.Time `json:"-"`
	RawDate      string    `json:"date"`
	Counterparty string    `json:"user"`
	Status       string    `json:"status"`
	Total        string    `json:"total"`
	Section      Section   `json:"type"`
}

// HasDate reports whether the listing date could be parsed
func (r OrderRecord) HasDate() bool {
	return !r.Date.IsZero()
}

// RawRow is a listing row as found on the page, before any parsing
type RawRow struct {
	OrderID      string
	Date         string
	Counterparty string
	Status       string
	Total        string
}

// IDSet holds the order ids already present in the ledger
type IDSet map[string]struct{}

// Has reports whether id is known
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add marks id as known
func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}

// Listing is a paginated order listing of one section
type Listing struct {
	Section Section
	URL     string
}

// StopReason explains why a section crawl ended
type StopReason string

const (
	StopCutoff       StopReason = "cutoff"
	StopCaughtUp     StopReason = "caught_up"
	StopEmptyPage    StopReason = "empty_page"
	StopLastPage     StopReason = "last_page"
	StopUnauthorized StopReason = "unauthorized"
	StopFetchError   StopReason = "fetch_error"
	StopBlocked      StopReason = "blocked"
	StopCanceled     StopReason = "canceled"
)

// Normal reports whether the section completed cleanly
func (r StopReason) Normal() bool {
	switch r {
	case StopCutoff, StopCaughtUp, StopEmptyPage, StopLastPage:
		return true
	default:
		return false
	}
}

// Result is the outcome of crawling one section. Records gathered before an
// abnormal stop are kept.
type Result struct {
	Section       Section
	Records       []OrderRecord
	Pages         int
	Duplicates    int
	UnparsedDates int
	Stop          StopReason
	Err           error
}

// Crawler interface defines the contract of a section crawler
type Crawler interface {
	// Crawl walks the listing newest-first and returns the orders not yet in known.
	// known is updated with every accepted id.
	Crawl(ctx context.Context, listing Listing, known IDSet, cutoff time.Time) *Result
}

package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// MockCacheService implements a simple in-memory cache for testing
type MockCacheService struct {
	cache map[string][]byte
}

func NewMockCacheService() *MockCacheService {
	return &MockCacheService{
		cache: make(map[string][]byte),
	}
}

func (m *MockCacheService) Get(key string) ([]byte, error) {
	if val, ok := m.cache[key]; ok {
		return val, nil
	}
	return nil, &mockError{message: "cache miss"}
}

func (m *MockCacheService) Set(key string, value []byte, expiration time.Duration) error {
	m.cache[key] = value
	return nil
}

func (m *MockCacheService) Delete(key string) error {
	delete(m.cache, key)
	return nil
}

type mockError struct {
	message string
}

func (e *mockError) Error() string {
	return e.message
}

// mockPage describes one listing page served by MockFetcher
type mockPage struct {
	rows     []RawRow
	next     bool
	loggedIn bool
	err      error
}

// MockFetcher serves pre-built listing pages and records requested page numbers
type MockFetcher struct {
	pages     []mockPage
	requested []int
}

// Ensure MockFetcher implements PageFetcher
var _ PageFetcher = (*MockFetcher)(nil)

func (m *MockFetcher) Fetch(ctx context.Context, listing Listing, page int) (*Page, error) {
	m.requested = append(m.requested, page)
	if page > len(m.pages) {
		return nil, fmt.Errorf("page %d not prepared", page)
	}
	p := m.pages[page-1]
	if p.err != nil {
		return nil, p.err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(listingHTML(p.loggedIn, p.next, p.rows...)))
	if err != nil {
		return nil, err
	}
	return &Page{Number: page, Doc: doc, Authenticated: p.loggedIn}, nil
}

// listingHTML renders an order table in the marketplace layout
func listingHTML(loggedIn, next bool, rows ...RawRow) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	if loggedIn {
		b.WriteString(`<a href="/en/Magic/Logout">Logout</a>`)
	}
	b.WriteString(`<div class="table-header"><div class="row"><div class="col-orderId">#</div></div></div>`)
	b.WriteString(`<div class="table-body">`)
	for _, r := range rows {
		b.WriteString(`<div class="row">`)
		if r.OrderID != "" {
			fmt.Fprintf(&b, `<div class="col-orderId">%s</div>`, r.OrderID)
		}
		if r.Date != "" {
			fmt.Fprintf(&b, `<div class="col-date">%s</div>`, r.Date)
		}
		if r.Counterparty != "" {
			fmt.Fprintf(&b, `<div class="col-user"><a href="/u">%s</a></div>`, r.Counterparty)
		}
		if r.Status != "" {
			fmt.Fprintf(&b, `<div class="col-status">%s</div>`, r.Status)
		}
		if r.Total != "" {
			fmt.Fprintf(&b, `<div class="col-total">%s</div>`, r.Total)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString(`</div>`)
	if next {
		b.WriteString(`<a aria-label="Next Page" href="?site=2">&gt;</a>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func row(id, date string) RawRow {
	return RawRow{OrderID: id, Date: date, Counterparty: "user" + id, Status: "Paid", Total: "1,00 €"}
}

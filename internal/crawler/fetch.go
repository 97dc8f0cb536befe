package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"sjsage522/cardledger/helpers"
	"sjsage522/cardledger/pkg/errors"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// PageQueryParam is the query parameter selecting a listing page
const PageQueryParam = "site"

// PageSource issues requests under an authenticated session
type PageSource interface {
	Get(ctx context.Context, url string) (*resty.Response, error)
	IsAuthenticated(body []byte) bool
}

// Page is a fetched and parsed listing page
type Page struct {
	Number        int
	URL           string
	Doc           *goquery.Document
	Authenticated bool
}

// PageFetcher fetches one listing page
type PageFetcher interface {
	Fetch(ctx context.Context, listing Listing, page int) (*Page, error)
}

// Fetcher fetches listing pages through a session
type Fetcher struct {
	source PageSource
}

// NewFetcher creates a new page fetcher
func NewFetcher(source PageSource) *Fetcher {
	return &Fetcher{source: source}
}

// PageURL appends the page parameter to a listing URL
func PageURL(listingURL string, page int) (string, error) {
	u, err := url.Parse(listingURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(PageQueryParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch requests one page of a listing and parses it
func (f *Fetcher) Fetch(ctx context.Context, listing Listing, page int) (*Page, error) {
	scope := string(listing.Section)

	pageURL, err := PageURL(listing.URL, page)
	if err != nil {
		return nil, errors.NewParsing(scope, "invalid listing url", err)
	}

	resp, err := f.source.Get(ctx, pageURL)
	if err != nil {
		return nil, errors.NewNetwork(scope, fmt.Sprintf("failed to fetch page %d", page), err)
	}

	// Check for rate limiting
	if slices.Contains([]int{http.StatusTooManyRequests, 430}, resp.StatusCode()) {
		return nil, errors.NewRateLimit(scope, resp.StatusCode(), resp.Header().Get("Retry-After"))
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return nil, errors.NewUnauthorized(scope, fmt.Sprintf("page %d answered 401", page))
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, errors.NewHTTPStatus(scope, resp.StatusCode())
	}

	body := resp.Body()
	utf8Body, err := helpers.DecodeUTF8(body, resp.Header().Get("Content-Type"))
	if err != nil {
		return nil, errors.NewParsing(scope, "failed to decode page", err)
	}

	doc, err := goquery.NewDocumentFromReader(utf8Body)
	if err != nil {
		return nil, errors.NewParsing(scope, "failed to parse page", err)
	}

	return &Page{
		Number:        page,
		URL:           pageURL,
		Doc:           doc,
		Authenticated: f.source.IsAuthenticated(body),
	}, nil
}

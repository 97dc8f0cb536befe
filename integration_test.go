package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"sjsage522/cardledger/config"
	"sjsage522/cardledger/internal"
	"sjsage522/cardledger/internal/crawler"
	"sjsage522/cardledger/services/cache"
	"sjsage522/cardledger/services/history"
	"sjsage522/cardledger/services/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type marketOrder struct {
	id, date, user string
}

// fakeMarketplace serves a logged-in landing page and paginated order listings
type fakeMarketplace struct {
	mu        sync.Mutex
	pageSize  int
	listings  map[string][]marketOrder
	requests  []string
	rateLimit bool
}

func (m *fakeMarketplace) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/en/Magic", func(w http.ResponseWriter, r *http.Request) {
		if !m.authorized(r) {
			w.Write([]byte(`<html><body><form action="/en/Magic/PostGetAction/User_Login"></form></body></html>`))
			return
		}
		w.Write([]byte(`<html><body><a href="/en/Magic/Logout">Logout</a></body></html>`))
	})
	for path := range m.listings {
		mux.HandleFunc(path, m.serveListing)
	}
	return mux
}

func (m *fakeMarketplace) authorized(r *http.Request) bool {
	c, err := r.Cookie("PHPSESSID")
	return err == nil && c.Value == "good"
}

func (m *fakeMarketplace) serveListing(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests = append(m.requests, r.URL.RequestURI())
	orders := m.listings[r.URL.Path]
	rateLimit := m.rateLimit
	m.mu.Unlock()

	if rateLimit {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	if !m.authorized(r) {
		w.Write([]byte(`<html><body>Please log in</body></html>`))
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("site"))
	if page < 1 {
		page = 1
	}
	start := min((page-1)*m.pageSize, len(orders))
	end := min(start+m.pageSize, len(orders))

	var b strings.Builder
	b.WriteString(`<html><body><a href="/en/Magic/Logout">Logout</a><div class="table-body">`)
	for _, o := range orders[start:end] {
		fmt.Fprintf(&b, `<div class="row"><div class="col-orderId">%s</div><div class="col-date">%s</div>`+
			`<div class="col-user">%s</div><div class="col-status">Paid</div><div class="col-total">1,00 €</div></div>`,
			o.id, o.date, o.user)
	}
	b.WriteString(`</div>`)
	if end < len(orders) {
		fmt.Fprintf(&b, `<a aria-label="Next Page" href="?site=%d">Next</a>`, page+1)
	}
	b.WriteString(`</body></html>`)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(b.String()))
}

func (m *fakeMarketplace) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// MockCacheService implements a simple in-memory cache for testing
type MockCacheService struct {
	cache map[string][]byte
}

// Ensure MockCacheService implements cache.CacheService
var _ cache.CacheService = (*MockCacheService)(nil)

func (m *MockCacheService) Get(key string) ([]byte, error) {
	if val, ok := m.cache[key]; ok {
		return val, nil
	}
	return nil, errors.New("cache miss")
}

func (m *MockCacheService) Set(key string, value []byte, expiration time.Duration) error {
	m.cache[key] = value
	return nil
}

func (m *MockCacheService) Delete(key string) error {
	delete(m.cache, key)
	return nil
}

func newMarketplace() *fakeMarketplace {
	return &fakeMarketplace{
		pageSize: 2,
		listings: map[string][]marketOrder{
			"/en/Magic/Orders/Received": {
				{"1005", "01.03.25 18:40", "alice"},
				{"1004", "15.01.25", "bob"},
				{"1003", "20.12.24", "carol"},
			},
			"/en/Magic/Sales/Sent": {
				{"2002", "02.02.25", "dave"},
				{"2001", "not a date", "erin"},
			},
		},
	}
}

func testConfig(t *testing.T, serverURL string) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Cookie:           "PHPSESSID=good",
		UserAgent:        config.DefaultUserAgent,
		BaseURL:          serverURL,
		HomePath:         "/en/Magic",
		PurchasesPath:    "/en/Magic/Orders/Received",
		SalesPath:        "/en/Magic/Sales/Sent",
		SessionMarker:    "Logout",
		IncludePurchases: true,
		IncludeSales:     true,
		RequestTimeout:   5 * time.Second,
		BlockTime:        time.Minute,
		LedgerFile:       filepath.Join(dir, "cardmarket_export.csv"),
		HistoryDB:        filepath.Join(dir, "history.db"),
	}
}

func TestIntegration(t *testing.T) {
	market := newMarketplace()
	server := httptest.NewServer(market.handler())
	defer server.Close()

	cfg := testConfig(t, server.URL)
	store, err := history.Open(cfg.HistoryDB)
	require.NoError(t, err)
	defer store.Close()
	deps := internal.Dependencies{History: store}

	summary, err := newWorker(cfg, deps).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Failed())
	assert.Equal(t, 5, summary.New)
	assert.Equal(t, 1, summary.UnparsedDates)
	assert.Equal(t, crawler.StopLastPage, summary.Sections[0].Stop)
	assert.Equal(t, 2, summary.Sections[0].Pages)

	l := ledger.NewStore(cfg.LedgerFile).Load()
	require.Equal(t, 5, l.Len())
	assert.Equal(t, "1005", l.Records[0].ID)
	assert.Equal(t, crawler.SectionSale, l.Records[3].Section)

	data, err := os.ReadFile(cfg.LedgerFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "1005,01.03.25,alice,Paid,\"1,00 €\",Purchase")
	assert.Contains(t, string(data), "2001,not a date,erin,Paid,\"1,00 €\",Sale")

	// Second run only sees known orders on the first page of each listing
	before := market.requestCount()
	summary, err = newWorker(cfg, deps).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.New)
	assert.Equal(t, crawler.StopCaughtUp, summary.Sections[0].Stop)
	assert.Equal(t, crawler.StopCaughtUp, summary.Sections[1].Stop)
	assert.Equal(t, before+2, market.requestCount())

	after, err := os.ReadFile(cfg.LedgerFile)
	require.NoError(t, err)
	assert.Equal(t, data, after)

	runs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, history.OutcomeOK, runs[0].Outcome)
	assert.Equal(t, "cookie", runs[0].Strategy)
	assert.Equal(t, 5, runs[1].NewRecords)
}

func TestIntegrationYearCutoff(t *testing.T) {
	market := newMarketplace()
	server := httptest.NewServer(market.handler())
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.Year = 2025
	cfg.IncludeSales = false

	summary, err := newWorker(cfg, internal.Dependencies{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.New)
	assert.Equal(t, crawler.StopCutoff, summary.Sections[0].Stop)
	assert.Len(t, summary.Sections, 1)
}

func TestIntegrationRejectedSession(t *testing.T) {
	market := newMarketplace()
	server := httptest.NewServer(market.handler())
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.Cookie = "PHPSESSID=expired"
	cfg.DebugDumpFile = filepath.Join(t.TempDir(), "debug_fail.html")

	summary, err := newWorker(cfg, internal.Dependencies{}).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.Equal(t, 0, market.requestCount())

	_, statErr := os.Stat(cfg.LedgerFile)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(cfg.DebugDumpFile)
	assert.NoError(t, statErr)
}

func TestIntegrationRateLimitBlocksSection(t *testing.T) {
	market := newMarketplace()
	market.rateLimit = true
	server := httptest.NewServer(market.handler())
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.IncludeSales = false
	cacheSvc := &MockCacheService{cache: make(map[string][]byte)}
	deps := internal.Dependencies{Cache: cacheSvc}

	summary, err := newWorker(cfg, deps).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Failed())
	assert.Equal(t, crawler.StopFetchError, summary.Sections[0].Stop)
	assert.Contains(t, cacheSvc.cache, "cardledger:purchase_rate_limited")
	assert.Equal(t, 1, market.requestCount())

	// The next run skips the blocked section without a request
	summary, err = newWorker(cfg, deps).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.StopBlocked, summary.Sections[0].Stop)
	assert.Equal(t, 1, market.requestCount())
}

func TestSyncCommand(t *testing.T) {
	market := newMarketplace()
	server := httptest.NewServer(market.handler())
	defer server.Close()

	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte("CM_COOKIE=PHPSESSID=good\n"), 0644))

	// Registered with t.Setenv so the values loaded from the env file are
	// restored after the test
	t.Setenv("CM_COOKIE", "")
	os.Unsetenv("CM_COOKIE")
	t.Setenv("CM_BASE_URL", server.URL)
	t.Setenv("PAGE_DELAY_SECONDS", "0")
	t.Setenv("HISTORY_DB", "")
	t.Setenv("MEMCACHE_ADDR", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LOG_LEVEL", "error")

	ledgerPath := filepath.Join(dir, "sales.csv")
	var out strings.Builder
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"sync", "--include-sales", "--env-file", envPath, "--ledger", ledgerPath})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		envFile, ledgerFile = "", ""
		syncIncludeSales = false
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "2 new orders, ledger holds 2")
	assert.Contains(t, out.String(), "1 orders had an unreadable date")
	assert.Equal(t, 2, ledger.NewStore(ledgerPath).Load().Len())
}

func TestStatsCommand(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.csv")
	require.NoError(t, os.WriteFile(ledgerPath, []byte(`Order ID,Date,User,Status,Total,Type
1001,01.03.25,alice,Paid,"1,00 €",Purchase
2001,02.03.25,bob,Sent,"2,00 €",Sale
2002,03.03.25,carol,Sent,"3,00 €",Sale
`), 0644))

	historyPath := filepath.Join(dir, "history.db")
	t.Setenv("HISTORY_DB", historyPath)
	t.Setenv("LOG_LEVEL", "error")

	run := func(args ...string) string {
		var out strings.Builder
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(args)
		require.NoError(t, rootCmd.Execute())
		return out.String()
	}
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		ledgerFile = ""
		statsLimit = 5
	})

	out := run("stats", "--ledger", ledgerPath)
	assert.Contains(t, out, "3 orders")
	assert.Regexp(t, `Purchase\s+1`, out)
	assert.Regexp(t, `Sale\s+2`, out)
	assert.Contains(t, out, "No runs recorded yet")

	store, err := history.Open(historyPath)
	require.NoError(t, err)
	started := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(context.Background(), history.Run{
		ID:            "run-1",
		StartedAt:     started,
		FinishedAt:    started.Add(time.Minute),
		Strategy:      "cookie",
		NewRecords:    2,
		LedgerRecords: 3,
		Outcome:       history.OutcomePartial,
		Sections: []history.SectionRun{
			{Section: crawler.SectionSale, Pages: 1, NewRecords: 2, UnparsedDates: 1, StopReason: crawler.StopFetchError, Error: "status 502"},
		},
	}))
	require.NoError(t, store.Close())

	out = run("stats", "--ledger", ledgerPath, "--limit", "1")
	assert.Contains(t, out, "Recent runs:")
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "stop: fetch_error")
	assert.Contains(t, out, "unparsed dates: 1")
	assert.Contains(t, out, "error: status 502")
}

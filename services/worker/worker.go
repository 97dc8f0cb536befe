package worker

import (
	"context"
	"time"

	"sjsage522/cardledger/internal"
	"sjsage522/cardledger/internal/crawler"
	"sjsage522/cardledger/internal/session"
	"sjsage522/cardledger/logger"
	"sjsage522/cardledger/services/history"
	"sjsage522/cardledger/services/ledger"
	"sjsage522/cardledger/services/publisher"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionProvider establishes the authenticated session of a run
type SessionProvider interface {
	Establish(ctx context.Context) (crawler.PageSource, error)
}

// ProviderFunc adapts a function to SessionProvider
type ProviderFunc func(ctx context.Context) (crawler.PageSource, error)

// Establish calls f
func (f ProviderFunc) Establish(ctx context.Context) (crawler.PageSource, error) {
	return f(ctx)
}

// CrawlerFactory builds the crawler of a run once the session exists
type CrawlerFactory func(source crawler.PageSource) crawler.Crawler

// LedgerStore loads and saves the ledger
type LedgerStore interface {
	Load() *ledger.Ledger
	Save(records []crawler.OrderRecord) error
	Path() string
}

// Summary reports the outcome of one run
type Summary struct {
	RunID         string
	Strategy      string
	StartedAt     time.Time
	FinishedAt    time.Time
	Sections      []*crawler.Result
	New           int
	LedgerSize    int
	UnparsedDates int
	Published     int
}

// Failed reports whether any section stopped abnormally
func (s *Summary) Failed() bool {
	for _, res := range s.Sections {
		if !res.Stop.Normal() {
			return true
		}
	}
	return false
}

// Outcome is the history label of the run
func (s *Summary) Outcome() string {
	if s.Failed() {
		return history.OutcomePartial
	}
	return history.OutcomeOK
}

// Worker runs one incremental sync: session, crawl, persist
type Worker struct {
	sessions   SessionProvider
	newCrawler CrawlerFactory
	store      LedgerStore
	deps       internal.Dependencies
	listings   []crawler.Listing
	cutoff     time.Time
	log        *logger.Logger
}

// NewWorker creates a new worker. Listings are crawled in the given order.
func NewWorker(
	sessions SessionProvider,
	newCrawler CrawlerFactory,
	store LedgerStore,
	deps internal.Dependencies,
	listings []crawler.Listing,
	cutoff time.Time,
) *Worker {
	return &Worker{
		sessions:   sessions,
		newCrawler: newCrawler,
		store:      store,
		deps:       deps,
		listings:   listings,
		cutoff:     cutoff,
		log:        logger.ForComponent("worker"),
	}
}

// Run performs the sync. An authentication failure is returned before the
// ledger is touched. Section failures do not stop later sections and the
// records they gathered are still saved; check Summary.Failed.
func (w *Worker) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	log := w.log.WithField("run_id", summary.RunID)

	source, err := w.sessions.Establish(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Authentication failed, ledger left untouched")
		w.record(ctx, summary, history.OutcomeAuthFailed, err)
		return nil, err
	}
	if s, ok := source.(interface{ Strategy() session.Strategy }); ok {
		summary.Strategy = string(s.Strategy())
	}

	l := w.store.Load()
	c := w.newCrawler(source)

	var fresh []crawler.OrderRecord
	for _, listing := range w.listings {
		if ctx.Err() != nil {
			log.Warn().Str("section", string(listing.Section)).Msg("Interrupted, skipping section")
			break
		}

		res := c.Crawl(ctx, listing, l.Known, w.cutoff)
		summary.Sections = append(summary.Sections, res)
		summary.UnparsedDates += res.UnparsedDates
		fresh = append(fresh, res.Records...)
	}

	// Known already holds the fresh ids, Append checks its own index
	summary.New = l.Append(fresh...)
	summary.LedgerSize = l.Len()

	if summary.New == 0 {
		log.Info().Int("ledger_records", summary.LedgerSize).Msg("No new orders, ledger unchanged")
	} else {
		if err := w.store.Save(l.Records); err != nil {
			log.Error().Err(err).Str("path", w.store.Path()).Msg("Failed to save ledger")
			w.record(ctx, summary, history.OutcomeSaveFailed, err)
			return summary, err
		}
		w.publish(ctx, l.Records[len(l.Records)-summary.New:], summary)
	}

	w.record(ctx, summary, summary.Outcome(), nil)

	level := zerolog.InfoLevel
	if summary.Failed() {
		level = zerolog.WarnLevel
	}
	log.WithLevel(level).
		Int("new", summary.New).
		Int("ledger_records", summary.LedgerSize).
		Int("unparsed_dates", summary.UnparsedDates).
		Bool("failed", summary.Failed()).
		Msg("Run finished")

	return summary, nil
}

// publish hands the saved records to the publisher. The ledger stays the
// source of truth, so failures are only logged.
func (w *Worker) publish(ctx context.Context, records []crawler.OrderRecord, summary *Summary) {
	if w.deps.Publisher == nil {
		return
	}
	published, err := publisher.PublishRecords(ctx, w.deps.Publisher, records)
	summary.Published = published
	if err != nil {
		logger.LogError("publisher", err, "published %d of %d new orders", published, len(records))
	}
}

func (w *Worker) record(ctx context.Context, summary *Summary, outcome string, runErr error) {
	summary.FinishedAt = time.Now()
	if w.deps.History == nil {
		return
	}

	run := history.Run{
		ID:            summary.RunID,
		StartedAt:     summary.StartedAt,
		FinishedAt:    summary.FinishedAt,
		Strategy:      summary.Strategy,
		NewRecords:    summary.New,
		LedgerRecords: summary.LedgerSize,
		Outcome:       outcome,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	for _, res := range summary.Sections {
		run.Sections = append(run.Sections, history.SectionRunFromResult(res))
	}

	// An interrupted run is still recorded
	if err := w.deps.History.Record(context.WithoutCancel(ctx), run); err != nil {
		logger.LogError("history", err, "failed to record run %s", summary.RunID)
	}
}

package crawler

import (
	"context"
	"fmt"
	"time"

	"sjsage522/cardledger/logger"
	"sjsage522/cardledger/pkg/errors"
)

// SectionCrawler drives the pagination of one listing
type SectionCrawler struct {
	BaseCrawler
	fetcher   PageFetcher
	extractor *Extractor
	delay     time.Duration
}

// Ensure SectionCrawler implements Crawler
var _ Crawler = (*SectionCrawler)(nil)

// NewSectionCrawler creates a crawler waiting delay between page fetches
func NewSectionCrawler(base BaseCrawler, fetcher PageFetcher, extractor *Extractor, delay time.Duration) *SectionCrawler {
	return &SectionCrawler{
		BaseCrawler: base,
		fetcher:     fetcher,
		extractor:   extractor,
		delay:       delay,
	}
}

// Crawl walks pages 1, 2, ... until the listing is caught up with known ids,
// reaches a date older than cutoff, or runs out of pages.
func (c *SectionCrawler) Crawl(ctx context.Context, listing Listing, known IDSet, cutoff time.Time) *Result {
	log := logger.ForSection(string(listing.Section))
	res := &Result{Section: listing.Section}

	if c.isBlocked(listing.Section) {
		res.Stop = StopBlocked
		res.Err = errors.NewRateLimit(string(listing.Section), 0, "block in cache")
		log.Warn().Str("key", c.CacheKey(listing.Section)).Msg("Section still blocked by an earlier rate limit, skipping")
		return res
	}

	log.Info().Str("url", listing.URL).Msg("Crawling section")

	for pageNum := 1; ; pageNum++ {
		if pageNum > 1 {
			if err := sleep(ctx, c.delay); err != nil {
				return c.abort(res, StopCanceled, err)
			}
		}

		page, err := c.fetcher.Fetch(ctx, listing, pageNum)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return c.abort(res, StopCanceled, ctx.Err())
			case errors.IsType(err, errors.ErrorTypeRateLimit):
				c.block(listing.Section)
				return c.abort(res, StopFetchError, err)
			case errors.IsType(err, errors.ErrorTypeUnauthorized):
				return c.abort(res, StopUnauthorized, err)
			default:
				return c.abort(res, StopFetchError, err)
			}
		}
		res.Pages++

		if !page.Authenticated {
			return c.abort(res, StopUnauthorized,
				errors.NewUnauthorized(string(listing.Section), fmt.Sprintf("session marker missing on page %d", pageNum)))
		}

		rows, duplicates, accepted := 0, 0, 0
		for row := range c.extractor.Rows(page) {
			rows++
			if known.Has(row.OrderID) {
				duplicates++
				continue
			}

			record, err := NewRecord(row, listing.Section)
			if err != nil {
				res.UnparsedDates++
				log.Debug().Str("order_id", row.OrderID).Str("date", row.Date).Msg("Accepting order with unparsable date")
			} else if !cutoff.IsZero() && record.Date.Before(cutoff) {
				res.Duplicates += duplicates
				res.Stop = StopCutoff
				log.Info().
					Int("page", pageNum).
					Int("new", accepted).
					Str("order_id", row.OrderID).
					Time("cutoff", cutoff).
					Msg("Reached orders older than the cutoff")
				return c.finish(res)
			}

			known.Add(record.ID)
			res.Records = append(res.Records, record)
			accepted++
		}
		res.Duplicates += duplicates

		log.Info().
			Int("page", pageNum).
			Int("new", accepted).
			Int("duplicates", duplicates).
			Msg("Page processed")

		switch {
		case rows > 0 && duplicates == rows:
			res.Stop = StopCaughtUp
		case rows == 0:
			res.Stop = StopEmptyPage
		case !c.extractor.HasNextPage(page):
			res.Stop = StopLastPage
		default:
			continue
		}
		return c.finish(res)
	}
}

func (c *SectionCrawler) finish(res *Result) *Result {
	logger.ForSection(string(res.Section)).Info().
		Str("reason", string(res.Stop)).
		Int("pages", res.Pages).
		Int("new", len(res.Records)).
		Int("unparsed_dates", res.UnparsedDates).
		Msg("Section completed")
	return res
}

func (c *SectionCrawler) abort(res *Result, reason StopReason, err error) *Result {
	res.Stop = reason
	res.Err = err
	logger.ForSection(string(res.Section)).Error().
		Err(err).
		Str("reason", string(reason)).
		Int("pages", res.Pages).
		Int("new", len(res.Records)).
		Msg("Section stopped")
	return res
}

// sleep waits d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

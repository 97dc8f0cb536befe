package crawler

import (
	"sjsage522/cardledger/config"
	"sjsage522/cardledger/logger"
	"sjsage522/cardledger/services/cache"
)

// CreateListings returns the listings selected by the configuration, purchases first
func CreateListings(cfg *config.Config) []Listing {
	var listings []Listing
	if cfg.IncludePurchases {
		listings = append(listings, Listing{Section: SectionPurchase, URL: cfg.PurchasesURL()})
	}
	if cfg.IncludeSales {
		listings = append(listings, Listing{Section: SectionSale, URL: cfg.SalesURL()})
	}

	for _, l := range listings {
		logger.ForSection(string(l.Section)).Debug().Str("url", l.URL).Msg("Listing selected")
	}
	return listings
}

// CreateCrawler builds the section crawler of a run on top of an established session
func CreateCrawler(cfg *config.Config, cacheSvc cache.CacheService, source PageSource) Crawler {
	base := BaseCrawler{
		CacheSvc:  cacheSvc,
		BlockTime: cfg.BlockTime,
	}
	return NewSectionCrawler(base, NewFetcher(source), NewExtractor(DefaultSelectors()), cfg.PageDelay)
}

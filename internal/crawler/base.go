package crawler

import (
	"fmt"
	"strings"
	"time"

	"sjsage522/cardledger/logger"
	"sjsage522/cardledger/services/cache"
)

// BaseCrawler keeps a section from being crawled again while the marketplace
// is rate limiting it. The block survives across runs when the cache does.
type BaseCrawler struct {
	CacheSvc  cache.CacheService
	BlockTime time.Duration
}

// CacheKey returns the block key of a section
func (c *BaseCrawler) CacheKey(section Section) string {
	return fmt.Sprintf("cardledger:%s_rate_limited", strings.ToLower(string(section)))
}

// isBlocked reports whether a previous rate limit still blocks the section
func (c *BaseCrawler) isBlocked(section Section) bool {
	if c.CacheSvc == nil {
		return false
	}
	_, err := c.CacheSvc.Get(c.CacheKey(section))
	return err == nil
}

// block stores the rate limit marker for BlockTime
func (c *BaseCrawler) block(section Section) {
	if c.CacheSvc == nil || c.BlockTime <= 0 {
		return
	}
	value := []byte(fmt.Sprintf("%d", c.BlockTime/time.Second))
	if err := c.CacheSvc.Set(c.CacheKey(section), value, c.BlockTime); err != nil {
		logger.ForComponent("cache").Warn().Err(err).Str("section", string(section)).Msg("Failed to store rate limit block")
		return
	}
	logger.ForSection(string(section)).Warn().Dur("block_time", c.BlockTime).Msg("Section blocked after rate limit")
}

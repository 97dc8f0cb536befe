package internal

import (
	"sjsage522/cardledger/services/cache"
	"sjsage522/cardledger/services/history"
	"sjsage522/cardledger/services/publisher"
)

// Dependencies holds the optional services of a run. A nil field disables
// the matching feature.
type Dependencies struct {
	Cache     cache.CacheService
	Publisher publisher.Publisher
	History   history.Recorder
}

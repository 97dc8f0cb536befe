package publisher

import (
	"context"
	"encoding/json"

	"sjsage522/cardledger/internal/crawler"
	"sjsage522/cardledger/logger"
)

// PublishRecords publishes every record keyed by its order id and trims the
// streams afterwards. It returns how many records were published; the first
// failure stops publishing.
func PublishRecords(ctx context.Context, pub Publisher, records []crawler.OrderRecord) (int, error) {
	log := logger.ForComponent("publisher")

	published := 0
	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return published, err
		}
		if err := pub.Publish(ctx, record.ID, data); err != nil {
			return published, err
		}
		published++
	}

	if err := pub.TrimStreams(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to trim streams")
	}

	log.Info().Int("published", published).Msg("Published new orders")
	return published, nil
}

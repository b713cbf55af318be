package orchestrator

import (
	"context"
	"fmt"

	"feedtriage/rssfeeds"
	"feedtriage/shared/kafka"
	"feedtriage/types"
)

// StreamHandler returns a Kafka handler that ingests RawItem messages the way
// feed entries are ingested. Keywords are loaded once, when it is built.
// Malformed messages are marked and dropped; storage failures leave the
// message unmarked for redelivery.
func (r *Runner) StreamHandler(ctx context.Context) (*kafka.TypedMessageHandler[types.RawItem], error) {
	positive, negative, err := r.store.Keywords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load keywords: %w", err)
	}
	logger := r.log.WithPrefix("stream")

	return &kafka.TypedMessageHandler[types.RawItem]{
		Validate: func(msg *types.RawItem) bool {
			return msg.SourceID > 0 && msg.Title != "" && msg.Link != ""
		},
		Process: func(ctx context.Context, msg *types.RawItem) error {
			raw := *msg
			raw.Title = rssfeeds.CleanHTML(raw.Title)
			raw.Description = rssfeeds.CleanHTML(raw.Description)
			raw.Link = rssfeeds.CanonicalLink(raw.Link)

			res, err := r.Ingest(ctx, raw, positive, negative)
			if err != nil {
				return err
			}
			logger.Debug("message ingested", "link", raw.Link, "outcome", res.Outcome, "score", res.Score)
			return nil
		},
		AlwaysMark: true,
		Log:        logger,
	}, nil
}

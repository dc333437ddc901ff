package repositories

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"looklinks/internal/metrics"
	"looklinks/internal/models"
)

// TopVisitedStream is a cancellable live view of the most-visited
// websites. The orchestrator stores exactly one and always cancels it
// before replacing it.
type TopVisitedStream interface {
	Updates() <-chan []models.Website
	Cancel()
}

// TopVisitedSubscription is a live view of the most-visited websites.
// Updates() pushes a fresh top list after every remote change until
// Cancel() is called; Cancel closes the channel and the change stream.
type TopVisitedSubscription struct {
	updates chan []models.Website
	cancel  context.CancelFunc
	done    chan struct{}
}

func (s *TopVisitedSubscription) Updates() <-chan []models.Website {
	return s.updates
}

func (s *TopVisitedSubscription) Cancel() {
	s.cancel()
	<-s.done
}

// WatchTopVisited opens a change stream on the websites collection and
// re-queries the top `limit` entries by visited count on every event.
// The first list is pushed immediately after the stream is established.
func (r *websiteRepository) WatchTopVisited(ctx context.Context, limit int64) (TopVisitedStream, error) {
	queryType := "watchTopVisited"
	repository := "website"
	status := "success"
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		metrics.DBQueryDurationSeconds.WithLabelValues(queryType, repository, status).Observe(v)
	}))
	defer timer.ObserveDuration()

	streamCtx, cancel := context.WithCancel(context.Background())

	stream, err := r.collection().Watch(streamCtx, mongo.Pipeline{})
	if err != nil {
		cancel()
		status = "error"
		metrics.DBQueryErrorsTotal.WithLabelValues(queryType, repository).Inc()
		return nil, fmt.Errorf("failed to open top-visited change stream: %w", err)
	}

	sub := &TopVisitedSubscription{
		updates: make(chan []models.Website, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer close(sub.updates)
		defer stream.Close(context.Background())

		if !sub.push(streamCtx, r, limit) {
			return
		}
		for stream.Next(streamCtx) {
			if !sub.push(streamCtx, r, limit) {
				return
			}
		}
		if err := stream.Err(); err != nil && streamCtx.Err() == nil {
			log.Error().Err(err).Msg("Top-visited change stream terminated")
		}
	}()

	return sub, nil
}

func (s *TopVisitedSubscription) push(ctx context.Context, r *websiteRepository, limit int64) bool {
	top, err := r.topVisited(ctx, limit)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Failed to refresh top-visited list")
		}
		return ctx.Err() == nil
	}
	// Drop the stale pending list if the consumer has not drained it.
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- top:
	case <-ctx.Done():
		return false
	}
	return true
}

func (r *websiteRepository) topVisited(ctx context.Context, limit int64) ([]models.Website, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "visited_count", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve top visited websites: %w", err)
	}
	defer cursor.Close(ctx)

	var items []models.Website
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("error decoding top visited websites: %w", err)
	}
	return items, nil
}

package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"looklinks/internal/database"
	"looklinks/internal/metrics"
	"looklinks/internal/models"
)

const (
	databaseName   = "looklinks"
	collectionName = "websites"

	// cursorSep joins the ordering key and the id tiebreak inside the
	// opaque pagination cursor.
	cursorSep = "\x1f"
)

// Page is one forward-only slice of the title-ordered collection.
type Page struct {
	Items      []models.Website
	NextCursor string
	IsLast     bool
}

type WebsiteRepository interface {
	Insert(ctx context.Context, site *models.Website) (*models.Website, error)
	ListPage(ctx context.Context, category, afterCursor string, pageSize int64) (*Page, error)
	WatchTopVisited(ctx context.Context, limit int64) (TopVisitedStream, error)
	ListCreatedSince(ctx context.Context, threshold time.Time, limit int64) ([]models.Website, error)
	ListRecent(ctx context.Context, limit int64) ([]models.Website, error)
	IncrementVisited(ctx context.Context, id primitive.ObjectID, delta int64) error
	ScanAll(ctx context.Context) ([]models.Website, error)
	BackfillTitleIndex(ctx context.Context) (int64, error)
}

type websiteRepository struct {
	db database.Service
}

func NewWebsiteRepository(db database.Service) WebsiteRepository {
	return &websiteRepository{db: db}
}

func (r *websiteRepository) collection() *mongo.Collection {
	return r.db.Client().Database(databaseName).Collection(collectionName)
}

func (r *websiteRepository) Insert(ctx context.Context, site *models.Website) (*models.Website, error) {
	queryType := "insert"
	repository := "website"
	status := "success"
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		metrics.DBQueryDurationSeconds.WithLabelValues(queryType, repository, status).Observe(v)
	}))
	defer timer.ObserveDuration()

	site.TitleLower = strings.ToLower(site.Title)
	result, err := r.collection().InsertOne(ctx, site)
	if err != nil {
		status = "error"
		metrics.DBQueryErrorsTotal.WithLabelValues(queryType, repository).Inc()
		return nil, fmt.Errorf("failed to insert website: %w", err)
	}
	site.ID = result.InsertedID.(primitive.ObjectID)
	return site, nil
}

// ListPage returns the page of websites ordered by lowercased title that
// starts strictly after afterCursor. The cursor carries the last item's
// ordering key plus its id, so equal titles never repeat across pages.
func (r *websiteRepository) ListPage(ctx context.Context, category, afterCursor string, pageSize int64) (*Page, error) {
	queryType := "listPage"
	repository := "website"
	status := "success"
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		metrics.DBQueryDurationSeconds.WithLabelValues(queryType, repository, status).Observe(v)
	}))
	defer timer.ObserveDuration()

	filter := bson.M{}
	if category != "" {
		filter["category"] = category
	}
	if afterCursor != "" {
		titleLower, id, err := decodeCursor(afterCursor)
		if err != nil {
			status = "error"
			metrics.DBQueryErrorsTotal.WithLabelValues(queryType, repository).Inc()
			return nil, err
		}
		rangeFilter := bson.M{"$or": bson.A{
			bson.M{"title_lc": bson.M{"$gt": titleLower}},
			bson.M{"title_lc": titleLower, "_id": bson.M{"$gt": id}},
		}}
		if category != "" {
			filter = bson.M{"$and": bson.A{bson.M{"category": category}, rangeFilter}}
		} else {
			filter = rangeFilter
		}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "title_lc", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(pageSize)

	cursor, err := r.collection().Find(ctx, filter, opts)
	if err != nil {
		status = "error"
		metrics.DBQueryErrorsTotal.WithLabelValues(queryType, repository).Inc()
		return nil, fmt.Errorf("failed to retrieve websites page: %w", err)
	}
	defer cursor.Close(ctx)

	var items []models.Website
	if err := cursor.All(ctx, &items); err != nil {
		status = "error"
		metrics.DBQueryErrorsTotal.WithLabelValues(queryType, repository).Inc()
		return nil, fmt.Errorf("error decoding websites page: %w", err)
	}

	page := &Page{Items: items, IsLast: int64(len(items)) < pageSize}
	if len(items) > 0 {
		last := items[len(items)-1]
		page.NextCursor = encodeCursor(last.TitleLower, last.ID)
	}
	return page, nil
}

func (r *websiteRepository) ListCreatedSince(ctx context.Context, threshold time.Time, limit int64) ([]models.Website, error) {
	queryType := "listCreatedSince"
	repository := "website"
	status := "success"
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		metrics.DBQueryDurationSeconds.WithLabelValues(queryType, repository, status).Observe(v)
	}))
	defer timer.ObserveDuration()

	filter := bson.M{"created_at": bson.M{"$gte": primitive.NewDateTimeFromTime(threshold)}}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection().Find(ctx, filter, opts)
	if err != nil {
		status = "error"
		metrics.DBQueryErrorsTotal.WithLabelValues(queryType, repository).Inc()
		return nil, fmt.Errorf("failed to retrieve latest websites: %w", err)
	}
	defer cursor.Close(ctx)

	var items []models.Website
	if err := cursor.All(ctx, &items); err != nil {
		status = "error"
		metrics.DBQueryErrorsTotal.WithLabelValues(queryType, repository).Inc()
		return nil, fmt.Errorf("error decoding latest websites: %w", err)
	}
	return items, nil
}

func (r *websiteRepository) ListRecent(ctx context.Context, limit int64) ([]models.Website, error) {
	queryType := "listRecent"
	repository := "website"
	status := "success"
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		metrics.DBQueryDurationSeconds.WithLabelValues(queryType, repository, status).Observe(v)
	}))
	defer timer.ObserveDuration()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection().Find(ctx, bson.M{}, opts)
	if err != nil {
		status = "error"
		metrics.DBQueryErrorsTotal.WithLabelValues(queryType, repository).Inc()
		return nil, fmt.Errorf("failed to retrieve recent websites: %w", err)
	}
	defer cursor.Close(ctx)

	var items []models.Website
	if err := cursor.All(ctx, &items); err != nil {
		status = "error"
		metrics.DBQueryErrorsTotal.WithLabelValues(queryType, repository).Inc()
		return nil, fmt.Errorf("error decoding recent websites: %w", err)
	}
	return items, nil
}

func (r *websiteRepository) IncrementVisited(ctx context.Context, id primitive.ObjectID, delta int64) error {
	queryType := "incrementVisited"
	repository := "website"
	status := "success"
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		metrics.DBQueryDurationSeconds.WithLabelValues(queryType, repository, status).Observe(v)
	}))
	defer timer.ObserveDuration()

	update := bson.M{"$inc": bson.M{"visited_count": delta}}
	result, err := r.collection().UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		status = "error"
		metrics.DBQueryErrorsTotal.WithLabelValues(queryType, repository).Inc()
		return fmt.Errorf("failed to increment visited count: %w", err)
	}
	if result.MatchedCount == 0 {
		status = "error"
		metrics.DBQueryErrorsTotal.WithLabelValues(queryType, repository).Inc()
		return fmt.Errorf("website %s not found", id.Hex())
	}
	return nil
}

// ScanAll fetches the entire catalog in title order. Only the search
// engine calls this; with a large catalog it should move to paged scans.
func (r *websiteRepository) ScanAll(ctx context.Context) ([]models.Website, error) {
	queryType := "scanAll"
	repository := "website"
	status := "success"
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		metrics.DBQueryDurationSeconds.WithLabelValues(queryType, repository, status).Observe(v)
	}))
	defer timer.ObserveDuration()

	opts := options.Find().SetSort(bson.D{{Key: "title_lc", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.collection().Find(ctx, bson.M{}, opts)
	if err != nil {
		status = "error"
		metrics.DBQueryErrorsTotal.WithLabelValues(queryType, repository).Inc()
		return nil, fmt.Errorf("failed to scan websites: %w", err)
	}
	defer cursor.Close(ctx)

	var items []models.Website
	if err := cursor.All(ctx, &items); err != nil {
		status = "error"
		metrics.DBQueryErrorsTotal.WithLabelValues(queryType, repository).Inc()
		return nil, fmt.Errorf("error decoding website scan: %w", err)
	}
	return items, nil
}

// BackfillTitleIndex sets title_lc on documents where it is missing or
// stale. One-off maintenance, not part of steady-state operation.
func (r *websiteRepository) BackfillTitleIndex(ctx context.Context) (int64, error) {
	queryType := "backfillTitleIndex"
	repository := "website"
	status := "success"
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		metrics.DBQueryDurationSeconds.WithLabelValues(queryType, repository, status).Observe(v)
	}))
	defer timer.ObserveDuration()

	all, err := r.ScanAll(ctx)
	if err != nil {
		status = "error"
		metrics.DBQueryErrorsTotal.WithLabelValues(queryType, repository).Inc()
		return 0, err
	}

	var writes []mongo.WriteModel
	for _, site := range all {
		lower := strings.ToLower(site.Title)
		if site.TitleLower == lower {
			continue
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": site.ID}).
			SetUpdate(bson.M{"$set": bson.M{"title_lc": lower}}))
	}
	if len(writes) == 0 {
		return 0, nil
	}

	result, err := r.collection().BulkWrite(ctx, writes)
	if err != nil {
		status = "error"
		metrics.DBQueryErrorsTotal.WithLabelValues(queryType, repository).Inc()
		log.Error().Err(err).Msg("Failed to backfill title index")
		return 0, fmt.Errorf("failed to backfill title index: %w", err)
	}
	return result.ModifiedCount, nil
}

func encodeCursor(titleLower string, id primitive.ObjectID) string {
	return titleLower + cursorSep + id.Hex()
}

func decodeCursor(cursor string) (string, primitive.ObjectID, error) {
	titleLower, hex, found := strings.Cut(cursor, cursorSep)
	if !found {
		return "", primitive.NilObjectID, fmt.Errorf("malformed pagination cursor")
	}
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return "", primitive.NilObjectID, fmt.Errorf("malformed pagination cursor: %w", err)
	}
	return titleLower, id, nil
}

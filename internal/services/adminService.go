package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"looklinks/internal/metrics"
	"looklinks/internal/models"
	"looklinks/internal/repositories"
)

// AdminService covers catalog curation: adding entries and the one-off
// lowercase-title backfill that keeps the pagination order key valid.
type AdminService interface {
	AddWebsite(ctx context.Context, reqBody models.AddWebsiteRequestBody) (*models.Website, error)
	BackfillTitleIndex(ctx context.Context) (int64, error)
}

type adminServiceImpl struct {
	repo repositories.WebsiteRepository
}

func NewAdminService(repo repositories.WebsiteRepository) AdminService {
	return &adminServiceImpl{repo: repo}
}

func (s *adminServiceImpl) AddWebsite(ctx context.Context, reqBody models.AddWebsiteRequestBody) (*models.Website, error) {
	if reqBody.URL == "" || reqBody.Title == "" {
		log.Warn().Msg("URL and Title are required for adding a website")
		return nil, fmt.Errorf("URL and Title are required")
	}

	site := models.Website{
		Title:       reqBody.Title,
		TitleLower:  strings.ToLower(reqBody.Title),
		Category:    reqBody.Category,
		Description: reqBody.Description,
		ImageURL:    reqBody.ImageURL,
		URL:         reqBody.URL,
		Tags:        reqBody.Tags,
		CreatedAt:   primitive.NewDateTimeFromTime(time.Now()),
	}

	created, err := s.repo.Insert(ctx, &site)
	if err != nil {
		log.Error().Err(err).Str("title", reqBody.Title).Msg("Error inserting website")
		return nil, err
	}

	metrics.WebsiteCreatedTotal.Inc()
	log.Info().Str("website_id", created.ID.Hex()).Str("title", created.Title).Msg("Website added to catalog")
	return created, nil
}

func (s *adminServiceImpl) BackfillTitleIndex(ctx context.Context) (int64, error) {
	modified, err := s.repo.BackfillTitleIndex(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Title index backfill failed")
		return 0, err
	}
	log.Info().Int64("modified", modified).Msg("Title index backfill complete")
	return modified, nil
}

package services

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"looklinks/internal/metrics"
	"looklinks/internal/models"
)

// Search runs a full-scan substring search over the catalog and commits
// the ranked results. Queries shorter than two characters yield an empty
// result set without touching the remote store. Only the most recently
// issued search may commit: a slower, older scan that resolves after a
// newer query was issued is discarded.
func (s *catalogServiceImpl) Search(ctx context.Context, term string) {
	term = strings.TrimSpace(term)

	s.mu.Lock()
	s.searchGen++
	gen := s.searchGen
	s.mu.Unlock()

	if len([]rune(term)) < minSearchLen {
		s.mu.Lock()
		if gen == s.searchGen {
			s.searchResults = []models.Website{}
		}
		s.mu.Unlock()
		metrics.SearchesTotal.WithLabelValues("short").Inc()
		return
	}

	items, err := s.repo.ScanAll(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.searchGen {
		metrics.SearchesTotal.WithLabelValues("stale").Inc()
		return
	}
	if err != nil {
		s.searchResults = []models.Website{}
		s.recordError(ErrKindSearch, err)
		metrics.SearchesTotal.WithLabelValues("failed").Inc()
		return
	}
	s.searchResults = rankMatches(items, term)
	metrics.SearchesTotal.WithLabelValues("committed").Inc()
	log.Debug().Str("term", term).Int("matches", len(s.searchResults)).Msg("Search committed")
}

// ClearSearch ends the search lifecycle: results go back to "no search
// active" and any in-flight scan becomes uncommittable.
func (s *catalogServiceImpl) ClearSearch() {
	s.mu.Lock()
	s.searchGen++
	s.searchResults = nil
	s.mu.Unlock()
}

// matchesTerm reports whether the entry matches the lowercased term as a
// substring of its title, category, or any tag.
func matchesTerm(site models.Website, term string) bool {
	if strings.Contains(strings.ToLower(site.Title), term) {
		return true
	}
	if strings.Contains(strings.ToLower(site.Category), term) {
		return true
	}
	for _, tag := range site.Tags {
		if strings.Contains(strings.ToLower(tag), term) {
			return true
		}
	}
	return false
}

// rankMatches filters the scan and orders matches by visit count, most
// visited first. The sort is stable so equal counts keep scan order.
func rankMatches(sites []models.Website, term string) []models.Website {
	term = strings.ToLower(term)
	results := make([]models.Website, 0)
	for _, site := range sites {
		if matchesTerm(site, term) {
			results = append(results, site)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].VisitedCount > results[j].VisitedCount
	})
	return results
}

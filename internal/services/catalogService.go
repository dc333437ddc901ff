package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"looklinks/internal/metrics"
	"looklinks/internal/models"
	"looklinks/internal/prefs"
	"looklinks/internal/repositories"
)

const (
	pageSize      = 12
	trendingLimit = 10
	latestLimit   = 10
	favoritesKey  = "favorites"
	minSearchLen  = 2

	remoteWriteTimeout = 5 * time.Second
)

type ErrorKind string

const (
	ErrKindFetch        ErrorKind = "fetch"
	ErrKindSubscription ErrorKind = "subscription"
	ErrKindMutation     ErrorKind = "mutation"
	ErrKindSearch       ErrorKind = "search"
)

// StateError is the single observable error slot of the orchestrator.
// Last writer wins; the presentation layer keys a generic failure
// indicator off it and never sees a raised error directly.
type StateError struct {
	Kind ErrorKind
	Err  error
}

func (e *StateError) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *StateError) Unwrap() error { return e.Err }

// CatalogService owns the canonical in-memory website collection, the
// per-tab datasets, pagination state, the favorites set and the search
// result lifecycle. Consumers read snapshots and invoke operations; no
// consumer mutates the collections directly.
type CatalogService interface {
	LoadInitial(ctx context.Context)
	LoadMore(ctx context.Context)
	SetActiveTab(ctx context.Context, tab models.Tab)
	SetCategory(ctx context.Context, category string)
	LoadTrending(ctx context.Context)
	LoadLatest(ctx context.Context)
	UnloadTab(tab models.Tab)
	ToggleFavorite(id string)
	IsFavorite(id string) bool
	FavoriteWebsites() []models.Website
	UpdateVisitCount(ctx context.Context, id primitive.ObjectID)
	Search(ctx context.Context, term string)
	ClearSearch()
	Snapshot() models.CatalogSnapshot
	LastError() *StateError
	Close()
}

type catalogServiceImpl struct {
	repo  repositories.WebsiteRepository
	prefs prefs.Store

	mu sync.Mutex

	activeTab      models.Tab
	activeCategory string

	websites    []models.Website
	cursor      string
	exhausted   bool
	loading     bool
	loadingMore bool
	// loadGen is bumped on every category reset; page loads issued under
	// an older generation are discarded instead of corrupting the new
	// working set.
	loadGen uint64

	trending        []models.Website
	trendingLoaded  bool
	trendingLoading bool
	trendingSub     repositories.TopVisitedStream
	trendingGen     uint64

	latest        []models.Website
	latestLoaded  bool
	latestLoading bool

	// searchResults is nil while no search is active. Once a qualifying
	// query was issued it is always non-nil, empty on failure.
	searchResults []models.Website
	searchGen     uint64

	favorites map[string]struct{}
	lastErr   *StateError

	wg sync.WaitGroup
}

func NewCatalogService(repo repositories.WebsiteRepository, store prefs.Store) CatalogService {
	s := &catalogServiceImpl{
		repo:      repo,
		prefs:     store,
		activeTab: models.TabAll,
		favorites: map[string]struct{}{},
	}
	if raw, ok := store.Get(favoritesKey); ok && raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				s.favorites[id] = struct{}{}
			}
		}
	}
	log.Info().Int("favorites", len(s.favorites)).Msg("Catalog orchestrator initialized")
	return s
}

// LoadInitial fetches the first page for the active category and replaces
// the working set. On failure the prior state is left untouched.
func (s *catalogServiceImpl) LoadInitial(ctx context.Context) {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return
	}
	s.loading = true
	gen := s.loadGen
	category := s.activeCategory
	s.mu.Unlock()

	page, err := s.repo.ListPage(ctx, category, "", pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.loadGen {
		return
	}
	s.loading = false
	if err != nil {
		s.recordError(ErrKindFetch, err)
		return
	}
	s.websites = page.Items
	s.cursor = page.NextCursor
	s.exhausted = page.IsLast
	metrics.PagesLoadedTotal.WithLabelValues("initial").Inc()
	log.Debug().Str("category", category).Int("count", len(page.Items)).Bool("exhausted", page.IsLast).Msg("Initial page loaded")
}

// LoadMore appends the next page. It is a no-op when the collection is
// exhausted, a load-more is already in flight, or no cursor exists yet.
func (s *catalogServiceImpl) LoadMore(ctx context.Context) {
	s.mu.Lock()
	if s.exhausted || s.loadingMore || s.loading || s.cursor == "" {
		s.mu.Unlock()
		return
	}
	s.loadingMore = true
	gen := s.loadGen
	category := s.activeCategory
	cursor := s.cursor
	s.mu.Unlock()

	page, err := s.repo.ListPage(ctx, category, cursor, pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.loadGen {
		return
	}
	s.loadingMore = false
	if err != nil {
		s.recordError(ErrKindFetch, err)
		return
	}
	s.websites = append(s.websites, page.Items...)
	if page.NextCursor != "" {
		s.cursor = page.NextCursor
	}
	s.exhausted = page.IsLast
	metrics.PagesLoadedTotal.WithLabelValues("more").Inc()
	log.Debug().Str("category", category).Int("count", len(page.Items)).Bool("exhausted", page.IsLast).Msg("Next page loaded")
}

// SetCategory resets the pagination state and reloads from scratch. The
// reset is atomic from the consumer's point of view: the generation bump
// makes any in-flight page of the previous filter unappliable.
func (s *catalogServiceImpl) SetCategory(ctx context.Context, category string) {
	s.mu.Lock()
	if category == s.activeCategory {
		s.mu.Unlock()
		return
	}
	s.activeCategory = category
	s.resetPaginationLocked()
	s.mu.Unlock()

	log.Debug().Str("category", category).Msg("Category changed, reloading catalog")
	s.LoadInitial(ctx)
}

// SetActiveTab switches the view scope, unloading the previous tab's
// dataset and loading the new one exactly once per activation.
func (s *catalogServiceImpl) SetActiveTab(ctx context.Context, tab models.Tab) {
	s.mu.Lock()
	if tab == s.activeTab {
		s.mu.Unlock()
		return
	}
	prev := s.activeTab
	s.activeTab = tab
	needInitial := len(s.websites) == 0 && !s.loading
	s.mu.Unlock()

	switch prev {
	case models.TabTrending, models.TabLatest:
		s.UnloadTab(prev)
	}

	switch tab {
	case models.TabTrending:
		s.LoadTrending(ctx)
	case models.TabLatest:
		s.LoadLatest(ctx)
	case models.TabAll, models.TabFavorites:
		if needInitial {
			s.LoadInitial(ctx)
		}
	}
}

// LoadTrending establishes the live top-visited subscription. Loaded once
// per tab activation; repeated calls while loaded are no-ops, so repeated
// tab switching never accumulates streams.
func (s *catalogServiceImpl) LoadTrending(ctx context.Context) {
	s.mu.Lock()
	if s.trendingLoaded || s.trendingLoading {
		s.mu.Unlock()
		return
	}
	s.trendingLoading = true
	s.trendingGen++
	gen := s.trendingGen
	s.mu.Unlock()

	sub, err := s.repo.WatchTopVisited(ctx, trendingLimit)

	s.mu.Lock()
	if gen != s.trendingGen {
		s.mu.Unlock()
		if err == nil {
			sub.Cancel()
		}
		return
	}
	if err != nil {
		s.trendingLoading = false
		s.recordError(ErrKindSubscription, err)
		s.mu.Unlock()
		return
	}
	s.trendingSub = sub
	s.trendingLoaded = true
	s.mu.Unlock()

	metrics.TrendingSubscriptionsActive.Inc()

	s.wg.Add(1)
	go s.pumpTrending(sub, gen)
}

func (s *catalogServiceImpl) pumpTrending(sub repositories.TopVisitedStream, gen uint64) {
	defer s.wg.Done()
	for list := range sub.Updates() {
		s.mu.Lock()
		if gen != s.trendingGen {
			s.mu.Unlock()
			return
		}
		if len(list) > trendingLimit {
			list = list[:trendingLimit]
		}
		s.trending = list
		s.trendingLoading = false
		s.mu.Unlock()
	}
}

// LoadLatest fetches entries created today, newest first, falling back to
// the most recent entries overall so the tab never looks empty on a day
// without additions.
func (s *catalogServiceImpl) LoadLatest(ctx context.Context) {
	s.mu.Lock()
	if s.latestLoaded || s.latestLoading {
		s.mu.Unlock()
		return
	}
	s.latestLoading = true
	s.mu.Unlock()

	items, err := s.repo.ListCreatedSince(ctx, models.StartOfDay(time.Now()), latestLimit)
	if err == nil && len(items) == 0 {
		items, err = s.repo.ListRecent(ctx, latestLimit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestLoading = false
	if err != nil {
		s.recordError(ErrKindSubscription, err)
		return
	}
	s.latest = items
	s.latestLoaded = true
}

// UnloadTab tears down a tab's dataset: the trending stream is cancelled
// before the slice is cleared, so a cancelled stream can never repopulate
// the tab.
func (s *catalogServiceImpl) UnloadTab(tab models.Tab) {
	switch tab {
	case models.TabTrending:
		s.mu.Lock()
		s.trendingGen++
		sub := s.trendingSub
		s.trendingSub = nil
		s.trending = nil
		s.trendingLoaded = false
		s.trendingLoading = false
		s.mu.Unlock()
		if sub != nil {
			sub.Cancel()
			metrics.TrendingSubscriptionsActive.Dec()
		}
	case models.TabLatest:
		s.mu.Lock()
		s.latest = nil
		s.latestLoaded = false
		s.latestLoading = false
		s.mu.Unlock()
	}
}

// ToggleFavorite flips membership of id in the favorites set and persists
// the whole set. The toggle itself is synchronous and performs no remote
// I/O; only the local preference write can fail, and the toggle stands
// either way.
func (s *catalogServiceImpl) ToggleFavorite(id string) {
	s.mu.Lock()
	if _, ok := s.favorites[id]; ok {
		delete(s.favorites, id)
	} else {
		s.favorites[id] = struct{}{}
	}
	serialized := s.serializeFavoritesLocked()
	s.mu.Unlock()

	metrics.FavoritesToggledTotal.Inc()
	if err := s.prefs.Set(favoritesKey, serialized); err != nil {
		log.Error().Err(err).Msg("Failed to persist favorites")
		s.mu.Lock()
		s.recordError(ErrKindMutation, err)
		s.mu.Unlock()
	}
}

func (s *catalogServiceImpl) serializeFavoritesLocked() string {
	ids := make([]string, 0, len(s.favorites))
	for id := range s.favorites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

func (s *catalogServiceImpl) IsFavorite(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.favorites[id]
	return ok
}

// FavoriteWebsites filters the loaded working set by the favorites set.
// It performs no remote fetch: favorited entries not yet paged in do not
// appear until pagination reaches them.
func (s *catalogServiceImpl) FavoriteWebsites() []models.Website {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Website
	for _, site := range s.websites {
		if _, ok := s.favorites[site.ID.Hex()]; ok {
			out = append(out, site)
		}
	}
	return out
}

// UpdateVisitCount bumps the local copy of the counter immediately, then
// issues the remote atomic increment in the background. A failed remote
// increment is recorded but not rolled back locally; the next full reload
// rebuilds the working set from the store and reconciles the drift.
func (s *catalogServiceImpl) UpdateVisitCount(ctx context.Context, id primitive.ObjectID) {
	s.mu.Lock()
	bump := func(list []models.Website) {
		for i := range list {
			if list[i].ID == id {
				list[i].VisitedCount++
			}
		}
	}
	bump(s.websites)
	bump(s.trending)
	bump(s.latest)
	bump(s.searchResults)
	s.mu.Unlock()

	metrics.VisitsRecordedTotal.Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		writeCtx, cancel := context.WithTimeout(context.Background(), remoteWriteTimeout)
		defer cancel()
		if err := s.repo.IncrementVisited(writeCtx, id, 1); err != nil {
			log.Error().Err(err).Str("website_id", id.Hex()).Msg("Failed to persist visit count")
			s.mu.Lock()
			s.recordError(ErrKindMutation, err)
			s.mu.Unlock()
		}
	}()
}

func (s *catalogServiceImpl) Snapshot() models.CatalogSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := models.CatalogSnapshot{
		ActiveTab:       s.activeTab,
		ActiveCategory:  s.activeCategory,
		Websites:        append([]models.Website(nil), s.websites...),
		Trending:        append([]models.Website(nil), s.trending...),
		Latest:          append([]models.Website(nil), s.latest...),
		SearchActive:    s.searchResults != nil,
		Loading:         s.loading,
		LoadingMore:     s.loadingMore,
		TrendingLoading: s.trendingLoading,
		LatestLoading:   s.latestLoading,
		NoMoreData:      s.exhausted,
	}
	if s.searchResults != nil {
		snap.SearchResults = append([]models.Website{}, s.searchResults...)
	}
	snap.Favorites = make([]string, 0, len(s.favorites))
	for id := range s.favorites {
		snap.Favorites = append(snap.Favorites, id)
	}
	sort.Strings(snap.Favorites)
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Err.Error()
		snap.LastErrorKind = string(s.lastErr.Kind)
	}
	return snap
}

func (s *catalogServiceImpl) LastError() *StateError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *catalogServiceImpl) Close() {
	s.UnloadTab(models.TabTrending)
	s.wg.Wait()
	log.Info().Msg("Catalog orchestrator closed")
}

func (s *catalogServiceImpl) resetPaginationLocked() {
	s.loadGen++
	s.websites = nil
	s.cursor = ""
	s.exhausted = false
	s.loading = false
	s.loadingMore = false
}

func (s *catalogServiceImpl) recordError(kind ErrorKind, err error) {
	s.lastErr = &StateError{Kind: kind, Err: err}
	log.Error().Err(err).Str("kind", string(kind)).Msg("Catalog operation failed")
}

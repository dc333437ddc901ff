package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"looklinks/internal/models"
	"looklinks/internal/prefs"
	"looklinks/internal/repositories"
)

type fakeStream struct {
	updates chan []models.Website
	repo    *fakeRepo
	once    sync.Once
}

func (f *fakeStream) Updates() <-chan []models.Website { return f.updates }

func (f *fakeStream) Cancel() {
	f.once.Do(func() {
		close(f.updates)
		f.repo.mu.Lock()
		f.repo.cancelCalls++
		f.repo.mu.Unlock()
	})
}

// fakeRepo is an in-memory WebsiteRepository over a title-sorted slice.
type fakeRepo struct {
	mu    sync.Mutex
	sites []models.Website

	listPageCalls  int
	scanCalls      int
	incrementCalls int
	watchCalls     int
	cancelCalls    int

	pageErr      error
	scanErr      error
	incrementErr error

	// holdLoadMore blocks cursor-bearing page requests until released,
	// to interleave a filter reset with an in-flight load-more.
	holdLoadMore chan struct{}
	// holdScanOnce blocks the next ScanAll until released.
	holdScanOnce chan struct{}
	// holdIncrement blocks the remote increment until released.
	holdIncrement chan struct{}

	latestToday  []models.Website
	latestRecent []models.Website

	streams []*fakeStream
}

func (f *fakeRepo) Insert(ctx context.Context, site *models.Website) (*models.Website, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	site.ID = primitive.NewObjectID()
	f.sites = append(f.sites, *site)
	sort.Slice(f.sites, func(i, j int) bool { return f.sites[i].TitleLower < f.sites[j].TitleLower })
	return site, nil
}

func (f *fakeRepo) ListPage(ctx context.Context, category, afterCursor string, pageSize int64) (*repositories.Page, error) {
	f.mu.Lock()
	f.listPageCalls++
	err := f.pageErr
	hold := f.holdLoadMore
	var matching []models.Website
	for _, s := range f.sites {
		if category == "" || s.Category == category {
			matching = append(matching, s)
		}
	}
	f.mu.Unlock()

	if afterCursor != "" && hold != nil {
		<-hold
	}
	if err != nil {
		return nil, err
	}

	start := 0
	if afterCursor != "" {
		for i, s := range matching {
			if s.ID.Hex() == afterCursor {
				start = i + 1
				break
			}
		}
	}
	end := start + int(pageSize)
	if end > len(matching) {
		end = len(matching)
	}
	items := append([]models.Website(nil), matching[start:end]...)
	page := &repositories.Page{Items: items, IsLast: int64(len(items)) < pageSize}
	if len(items) > 0 {
		page.NextCursor = items[len(items)-1].ID.Hex()
	}
	return page, nil
}

func (f *fakeRepo) WatchTopVisited(ctx context.Context, limit int64) (repositories.TopVisitedStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchCalls++
	stream := &fakeStream{updates: make(chan []models.Website, 1), repo: f}
	f.streams = append(f.streams, stream)
	return stream, nil
}

func (f *fakeRepo) ListCreatedSince(ctx context.Context, threshold time.Time, limit int64) ([]models.Website, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Website(nil), f.latestToday...), nil
}

func (f *fakeRepo) ListRecent(ctx context.Context, limit int64) ([]models.Website, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Website(nil), f.latestRecent...), nil
}

func (f *fakeRepo) IncrementVisited(ctx context.Context, id primitive.ObjectID, delta int64) error {
	f.mu.Lock()
	f.incrementCalls++
	err := f.incrementErr
	hold := f.holdIncrement
	f.mu.Unlock()
	if hold != nil {
		<-hold
	}
	return err
}

func (f *fakeRepo) ScanAll(ctx context.Context) ([]models.Website, error) {
	f.mu.Lock()
	f.scanCalls++
	err := f.scanErr
	hold := f.holdScanOnce
	f.holdScanOnce = nil
	sites := append([]models.Website(nil), f.sites...)
	f.mu.Unlock()

	if hold != nil {
		<-hold
	}
	return sites, err
}

func (f *fakeRepo) BackfillTitleIndex(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeRepo) counts() (listPage, scan, increment, watch, cancel int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listPageCalls, f.scanCalls, f.incrementCalls, f.watchCalls, f.cancelCalls
}

func site(title, category string, visited int64, tags ...string) models.Website {
	return models.Website{
		ID:           primitive.NewObjectID(),
		Title:        title,
		TitleLower:   strings.ToLower(title),
		Category:     category,
		VisitedCount: visited,
		Tags:         tags,
		CreatedAt:    primitive.NewDateTimeFromTime(time.Now()),
	}
}

func alphabetRepo(n int) *fakeRepo {
	repo := &fakeRepo{}
	for i := 0; i < n; i++ {
		title := fmt.Sprintf("%c", 'A'+i)
		repo.sites = append(repo.sites, site(title, "Coding", int64(i)))
	}
	return repo
}

func memStore(t *testing.T) prefs.Store {
	t.Helper()
	return prefs.NewFileStore(filepath.Join(t.TempDir(), "prefs.toml"))
}

func TestPaginationScenario(t *testing.T) {
	repo := alphabetRepo(20)
	svc := NewCatalogService(repo, memStore(t))
	defer svc.Close()

	svc.LoadInitial(context.Background())
	snap := svc.Snapshot()
	assert.Len(t, snap.Websites, 12)
	assert.Equal(t, "A", snap.Websites[0].Title)
	assert.Equal(t, "L", snap.Websites[11].Title)
	assert.False(t, snap.NoMoreData)

	svc.LoadMore(context.Background())
	snap = svc.Snapshot()
	assert.Len(t, snap.Websites, 20)
	assert.Equal(t, "M", snap.Websites[12].Title)
	assert.Equal(t, "T", snap.Websites[19].Title)
	assert.True(t, snap.NoMoreData)

	// No duplicates and no gaps across the concatenated pages.
	seen := map[string]bool{}
	for _, s := range snap.Websites {
		assert.False(t, seen[s.ID.Hex()], "duplicate entry %s", s.Title)
		seen[s.ID.Hex()] = true
	}

	// Exhausted: a further LoadMore must not issue a remote call.
	calls, _, _, _, _ := repo.counts()
	svc.LoadMore(context.Background())
	callsAfter, _, _, _, _ := repo.counts()
	assert.Equal(t, calls, callsAfter)
	assert.Len(t, svc.Snapshot().Websites, 20)
}

func TestLoadMoreWithoutCursorIsNoop(t *testing.T) {
	repo := alphabetRepo(5)
	svc := NewCatalogService(repo, memStore(t))
	defer svc.Close()

	svc.LoadMore(context.Background())
	calls, _, _, _, _ := repo.counts()
	assert.Equal(t, 0, calls)
	assert.Empty(t, svc.Snapshot().Websites)
}

func TestLoadInitialFailureKeepsPriorState(t *testing.T) {
	repo := alphabetRepo(5)
	svc := NewCatalogService(repo, memStore(t))
	defer svc.Close()

	svc.LoadInitial(context.Background())
	assert.Len(t, svc.Snapshot().Websites, 5)

	repo.mu.Lock()
	repo.pageErr = fmt.Errorf("network down")
	repo.mu.Unlock()

	svc.SetCategory(context.Background(), "Coding")
	snap := svc.Snapshot()
	assert.False(t, snap.Loading)
	assert.Equal(t, string(ErrKindFetch), snap.LastErrorKind)
	assert.NotNil(t, svc.LastError())
}

func TestCategoryResetDiscardsStaleLoadMore(t *testing.T) {
	repo := alphabetRepo(20)
	for i := range repo.sites {
		if i%2 == 0 {
			repo.sites[i].Category = "News"
		}
	}
	svc := NewCatalogService(repo, memStore(t))
	defer svc.Close()

	svc.LoadInitial(context.Background())
	assert.Len(t, svc.Snapshot().Websites, 12)

	hold := make(chan struct{})
	repo.mu.Lock()
	repo.holdLoadMore = hold
	repo.mu.Unlock()

	done := make(chan struct{})
	go func() {
		svc.LoadMore(context.Background())
		close(done)
	}()

	// Let the load-more reach the repository before switching filters.
	assert.Eventually(t, func() bool {
		calls, _, _, _, _ := repo.counts()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)

	repo.mu.Lock()
	repo.holdLoadMore = nil
	repo.mu.Unlock()
	svc.SetCategory(context.Background(), "News")
	newCount := len(svc.Snapshot().Websites)
	assert.Equal(t, 10, newCount)

	close(hold)
	<-done

	// The stale page from the previous filter must not have been applied.
	snap := svc.Snapshot()
	assert.Len(t, snap.Websites, newCount)
	for _, s := range snap.Websites {
		assert.Equal(t, "News", s.Category)
	}
	assert.False(t, snap.LoadingMore)
}

func TestSearchThreshold(t *testing.T) {
	repo := &fakeRepo{sites: []models.Website{site("AI Tools", "AI & Robots", 3)}}
	svc := NewCatalogService(repo, memStore(t))
	defer svc.Close()

	svc.Search(context.Background(), "a")
	snap := svc.Snapshot()
	assert.True(t, snap.SearchActive)
	assert.Empty(t, snap.SearchResults)
	_, scans, _, _, _ := repo.counts()
	assert.Equal(t, 0, scans, "short query must not scan the store")

	svc.Search(context.Background(), "ai")
	snap = svc.Snapshot()
	assert.Len(t, snap.SearchResults, 1)
	assert.Equal(t, "AI Tools", snap.SearchResults[0].Title)
	_, scans, _, _, _ = repo.counts()
	assert.Equal(t, 1, scans)
}

func TestSearchRanking(t *testing.T) {
	repo := &fakeRepo{sites: []models.Website{
		site("Alpha Toolkit", "Coding", 5),
		site("Best Tools", "Coding", 50),
	}}
	svc := NewCatalogService(repo, memStore(t))
	defer svc.Close()

	svc.Search(context.Background(), "tool")
	results := svc.Snapshot().SearchResults
	assert.Len(t, results, 2)
	assert.Equal(t, "Best Tools", results[0].Title)
	assert.Equal(t, "Alpha Toolkit", results[1].Title)
}

func TestSearchMatchesTagsAndCategory(t *testing.T) {
	repo := &fakeRepo{sites: []models.Website{
		site("Figma", "Design & Art", 9, "ui", "prototyping"),
		site("Hacker News", "News", 4),
	}}
	svc := NewCatalogService(repo, memStore(t))
	defer svc.Close()

	svc.Search(context.Background(), "proto")
	results := svc.Snapshot().SearchResults
	assert.Len(t, results, 1)
	assert.Equal(t, "Figma", results[0].Title)

	svc.Search(context.Background(), "news")
	results = svc.Snapshot().SearchResults
	assert.Len(t, results, 1)
	assert.Equal(t, "Hacker News", results[0].Title)
}

func TestStaleSearchDoesNotOverwriteNewerResults(t *testing.T) {
	repo := &fakeRepo{sites: []models.Website{
		site("AI Tools", "AI & Robots", 3),
		site("Hacker News", "News", 4),
	}}
	svc := NewCatalogService(repo, memStore(t))
	defer svc.Close()

	hold := make(chan struct{})
	repo.mu.Lock()
	repo.holdScanOnce = hold
	repo.mu.Unlock()

	slowDone := make(chan struct{})
	go func() {
		svc.Search(context.Background(), "tools")
		close(slowDone)
	}()
	assert.Eventually(t, func() bool {
		_, scans, _, _, _ := repo.counts()
		return scans == 1
	}, time.Second, 5*time.Millisecond)

	// A newer query issued while the first scan is still in flight.
	svc.Search(context.Background(), "news")
	results := svc.Snapshot().SearchResults
	assert.Len(t, results, 1)
	assert.Equal(t, "Hacker News", results[0].Title)

	close(hold)
	<-slowDone

	// Issue-order wins: the slow, older scan must not have committed.
	results = svc.Snapshot().SearchResults
	assert.Len(t, results, 1)
	assert.Equal(t, "Hacker News", results[0].Title)
}

func TestClearSearchDiscardsInflightScan(t *testing.T) {
	repo := &fakeRepo{sites: []models.Website{site("AI Tools", "AI & Robots", 3)}}
	svc := NewCatalogService(repo, memStore(t))
	defer svc.Close()

	hold := make(chan struct{})
	repo.mu.Lock()
	repo.holdScanOnce = hold
	repo.mu.Unlock()

	done := make(chan struct{})
	go func() {
		svc.Search(context.Background(), "tools")
		close(done)
	}()
	assert.Eventually(t, func() bool {
		_, scans, _, _, _ := repo.counts()
		return scans == 1
	}, time.Second, 5*time.Millisecond)

	svc.ClearSearch()
	close(hold)
	<-done

	snap := svc.Snapshot()
	assert.False(t, snap.SearchActive)
	assert.Nil(t, snap.SearchResults)
}

func TestSearchFailureYieldsEmptyResults(t *testing.T) {
	repo := &fakeRepo{scanErr: fmt.Errorf("scan failed")}
	svc := NewCatalogService(repo, memStore(t))
	defer svc.Close()

	svc.Search(context.Background(), "tools")
	snap := svc.Snapshot()
	assert.True(t, snap.SearchActive)
	assert.Empty(t, snap.SearchResults)
	assert.Equal(t, string(ErrKindSearch), snap.LastErrorKind)
}

func TestToggleFavoriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")
	repo := alphabetRepo(3)
	id := repo.sites[0].ID.Hex()

	svc := NewCatalogService(repo, prefs.NewFileStore(path))
	svc.ToggleFavorite(id)
	assert.True(t, svc.IsFavorite(id))
	svc.Close()

	// The persisted serialization deserializes to the in-memory set.
	reloaded := NewCatalogService(repo, prefs.NewFileStore(path))
	assert.True(t, reloaded.IsFavorite(id))

	reloaded.ToggleFavorite(id)
	assert.False(t, reloaded.IsFavorite(id))
	reloaded.Close()

	again := NewCatalogService(repo, prefs.NewFileStore(path))
	defer again.Close()
	assert.False(t, again.IsFavorite(id))
	assert.Empty(t, again.Snapshot().Favorites)
}

func TestFavoritesTabIsPureFilter(t *testing.T) {
	repo := alphabetRepo(20)
	favLoaded := repo.sites[0].ID.Hex()
	favUnloaded := repo.sites[19].ID.Hex() // "T", beyond the first page

	svc := NewCatalogService(repo, memStore(t))
	defer svc.Close()

	svc.LoadInitial(context.Background())
	svc.ToggleFavorite(favLoaded)
	svc.ToggleFavorite(favUnloaded)

	favs := svc.FavoriteWebsites()
	assert.Len(t, favs, 1, "unpaged favorites are not backfilled")
	assert.Equal(t, "A", favs[0].Title)

	svc.LoadMore(context.Background())
	favs = svc.FavoriteWebsites()
	assert.Len(t, favs, 2)
}

func TestOptimisticVisitIncrement(t *testing.T) {
	repo := alphabetRepo(3)
	id := repo.sites[1].ID
	hold := make(chan struct{})
	repo.mu.Lock()
	repo.holdIncrement = hold
	repo.mu.Unlock()

	svc := NewCatalogService(repo, memStore(t))
	svc.LoadInitial(context.Background())
	before := svc.Snapshot().Websites[1].VisitedCount

	svc.UpdateVisitCount(context.Background(), id)

	// The local copy reflects the bump before the remote call resolves.
	after := svc.Snapshot().Websites[1].VisitedCount
	assert.Equal(t, before+1, after)

	close(hold)
	svc.Close()
	_, _, increments, _, _ := repo.counts()
	assert.Equal(t, 1, increments)
}

func TestFailedIncrementIsRecordedNotRolledBack(t *testing.T) {
	repo := alphabetRepo(3)
	repo.incrementErr = fmt.Errorf("write failed")
	id := repo.sites[0].ID

	svc := NewCatalogService(repo, memStore(t))
	svc.LoadInitial(context.Background())
	before := svc.Snapshot().Websites[0].VisitedCount

	svc.UpdateVisitCount(context.Background(), id)
	svc.Close()

	snap := svc.Snapshot()
	assert.Equal(t, before+1, snap.Websites[0].VisitedCount)
	assert.Equal(t, string(ErrKindMutation), snap.LastErrorKind)
}

func TestTrendingTabIsolation(t *testing.T) {
	repo := alphabetRepo(5)
	svc := NewCatalogService(repo, memStore(t))

	ctx := context.Background()
	svc.SetActiveTab(ctx, models.TabTrending)
	_, _, _, watches, cancels := repo.counts()
	assert.Equal(t, 1, watches)
	assert.Equal(t, 0, cancels)

	repo.mu.Lock()
	stream := repo.streams[0]
	repo.mu.Unlock()
	stream.updates <- []models.Website{repo.sites[4], repo.sites[3]}

	assert.Eventually(t, func() bool {
		return len(svc.Snapshot().Trending) == 2
	}, time.Second, 5*time.Millisecond)

	svc.SetActiveTab(ctx, models.TabAll)
	_, _, _, watches, cancels = repo.counts()
	assert.Equal(t, 1, watches)
	assert.Equal(t, 1, cancels)
	assert.Empty(t, svc.Snapshot().Trending)

	svc.SetActiveTab(ctx, models.TabTrending)
	_, _, _, watches, cancels = repo.counts()
	assert.Equal(t, 2, watches)
	assert.Equal(t, 1, cancels, "exactly one live subscription at steady state")

	svc.Close()
	_, _, _, watches, cancels = repo.counts()
	assert.Equal(t, watches, cancels, "no leaked subscriptions after close")
}

func TestCancelledStreamCannotRepopulateTrending(t *testing.T) {
	repo := alphabetRepo(5)
	svc := NewCatalogService(repo, memStore(t))
	defer svc.Close()

	ctx := context.Background()
	svc.LoadTrending(ctx)
	repo.mu.Lock()
	stream := repo.streams[0]
	repo.mu.Unlock()

	svc.UnloadTab(models.TabTrending)

	// The stream channel is closed by Cancel; the pump exits and the
	// cleared dataset stays cleared.
	assert.Empty(t, svc.Snapshot().Trending)
	select {
	case _, open := <-stream.updates:
		assert.False(t, open)
	default:
		t.Fatal("cancelled stream left open")
	}
}

func TestLatestFallsBackToRecent(t *testing.T) {
	recent := []models.Website{site("Newest", "News", 1), site("Older", "News", 2)}
	repo := &fakeRepo{latestRecent: recent}
	svc := NewCatalogService(repo, memStore(t))
	defer svc.Close()

	svc.LoadLatest(context.Background())
	snap := svc.Snapshot()
	assert.Len(t, snap.Latest, 2)
	assert.Equal(t, "Newest", snap.Latest[0].Title)
	assert.False(t, snap.LatestLoading)
}

func TestLatestPrefersTodaysEntries(t *testing.T) {
	today := []models.Website{site("Fresh", "News", 1)}
	repo := &fakeRepo{latestToday: today, latestRecent: []models.Website{site("Stale", "News", 9)}}
	svc := NewCatalogService(repo, memStore(t))
	defer svc.Close()

	svc.LoadLatest(context.Background())
	snap := svc.Snapshot()
	assert.Len(t, snap.Latest, 1)
	assert.Equal(t, "Fresh", snap.Latest[0].Title)

	svc.UnloadTab(models.TabLatest)
	assert.Empty(t, svc.Snapshot().Latest)
}

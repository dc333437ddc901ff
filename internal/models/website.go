package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Website is one catalog entry. VisitedCount only moves through the
// repository's atomic increment, never through a client-side overwrite.
type Website struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Title        string             `json:"title" bson:"title"`
	TitleLower   string             `json:"-" bson:"title_lc"`
	Category     string             `json:"category" bson:"category"`
	Description  string             `json:"description" bson:"description"`
	ImageURL     string             `json:"imageUrl" bson:"image_url"`
	URL          string             `json:"url" bson:"url"`
	Tags         []string           `json:"tags,omitempty" bson:"tags,omitempty"`
	VisitedCount int64              `json:"visitedCount" bson:"visited_count"`
	CreatedAt    primitive.DateTime `json:"createdAt" bson:"created_at"`
}

type AddWebsiteRequestBody struct {
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	ImageURL    string   `json:"imageUrl"`
	URL         string   `json:"url"`
	Tags        []string `json:"tags,omitempty"`
}

// Tab names a view scope with its own dataset and loading lifecycle.
type Tab string

const (
	TabAll       Tab = "all"
	TabFavorites Tab = "favorites"
	TabTrending  Tab = "trending"
	TabLatest    Tab = "latest"
)

func ParseTab(s string) (Tab, bool) {
	switch Tab(s) {
	case TabAll, TabFavorites, TabTrending, TabLatest:
		return Tab(s), true
	}
	return "", false
}

// CatalogSnapshot is the read-only view handed to the presentation layer.
// Consumers never mutate the orchestrator's collections directly.
type CatalogSnapshot struct {
	ActiveTab       Tab       `json:"activeTab"`
	ActiveCategory  string    `json:"activeCategory,omitempty"`
	Websites        []Website `json:"websites"`
	Trending        []Website `json:"trending,omitempty"`
	Latest          []Website `json:"latest,omitempty"`
	SearchResults   []Website `json:"searchResults,omitempty"`
	SearchActive    bool      `json:"searchActive"`
	Favorites       []string  `json:"favorites"`
	Loading         bool      `json:"loading"`
	LoadingMore     bool      `json:"loadingMore"`
	TrendingLoading bool      `json:"trendingLoading"`
	LatestLoading   bool      `json:"latestLoading"`
	NoMoreData      bool      `json:"noMoreData"`
	LastError       string    `json:"lastError,omitempty"`
	LastErrorKind   string    `json:"lastErrorKind,omitempty"`
}

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

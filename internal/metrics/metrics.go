package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Catalog Feature Usage Metrics
	VisitsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "app_visits_recorded_total",
		Help: "Total number of website visit increments recorded.",
	})
	FavoritesToggledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "app_favorites_toggled_total",
		Help: "Total number of favorite toggles.",
	})
	SearchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "app_searches_total",
		Help: "Total number of catalog searches.",
	}, []string{"status"}) // status: "committed", "stale", "short", "failed"
	PagesLoadedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "app_pages_loaded_total",
		Help: "Total number of catalog pages loaded.",
	}, []string{"kind"}) // kind: "initial" or "more"
	WebsiteCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "app_website_created_total",
		Help: "Total number of websites added to the catalog.",
	})
	TrendingSubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "app_trending_subscriptions_active",
		Help: "Number of live trending subscriptions currently open.",
	})
)

// Database Metrics
var DBQueryDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "db_query_duration_seconds",
	Help:    "Duration of database queries in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"query_type", "repository", "status"})

var DBQueryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "db_query_errors_total",
	Help: "Total number of failed database queries.",
}, []string{"query_type", "repository"})

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"looklinks/internal/models"
	"looklinks/internal/services"
	"looklinks/internal/utils"
)

const (
	searchDebounceDelay = 300 * time.Millisecond
	searchScanTimeout   = 10 * time.Second
)

type CatalogHandler struct {
	catalog        services.CatalogService
	admin          services.AdminService
	searchDebounce *services.Debouncer
}

func NewCatalogHandler(catalog services.CatalogService, admin services.AdminService) *CatalogHandler {
	return &CatalogHandler{
		catalog:        catalog,
		admin:          admin,
		searchDebounce: services.NewDebouncer(searchDebounceDelay),
	}
}

// GetCatalog returns the full orchestrator snapshot. A `category` query
// parameter switches the active filter (resetting pagination); the first
// request triggers the initial page load.
func (h *CatalogHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	if category, ok := r.URL.Query()["category"]; ok {
		h.catalog.SetCategory(r.Context(), firstOrEmpty(category))
	}

	snap := h.catalog.Snapshot()
	if len(snap.Websites) == 0 && !snap.Loading && !snap.NoMoreData {
		h.catalog.LoadInitial(r.Context())
		snap = h.catalog.Snapshot()
	}

	utils.WriteJSON(w, http.StatusOK, snap)
}

func (h *CatalogHandler) LoadMore(w http.ResponseWriter, r *http.Request) {
	h.catalog.LoadMore(r.Context())
	utils.WriteJSON(w, http.StatusOK, h.catalog.Snapshot())
}

func (h *CatalogHandler) AddWebsite(w http.ResponseWriter, r *http.Request) {
	var reqBody models.AddWebsiteRequestBody
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		log.Error().Err(err).Msg("Error decoding request body for AddWebsite")
		utils.SendJSONError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	site, err := h.admin.AddWebsite(r.Context(), reqBody)
	if err != nil {
		statusCode := http.StatusInternalServerError
		if err.Error() == "URL and Title are required" {
			statusCode = http.StatusBadRequest
		}
		utils.SendJSONError(w, err.Error(), statusCode)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, site)
}

// RecordVisit applies the optimistic increment and schedules the remote
// write; it never waits for the store.
func (h *CatalogHandler) RecordVisit(w http.ResponseWriter, r *http.Request) {
	id, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		utils.SendJSONError(w, "Invalid website ID", http.StatusBadRequest)
		return
	}

	h.catalog.UpdateVisitCount(r.Context(), id)
	w.WriteHeader(http.StatusAccepted)
}

func (h *CatalogHandler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		utils.SendJSONError(w, "Invalid website ID", http.StatusBadRequest)
		return
	}

	h.catalog.ToggleFavorite(id)
	utils.WriteJSON(w, http.StatusOK, map[string]bool{"favorite": h.catalog.IsFavorite(id)})
}

func (h *CatalogHandler) GetFavorites(w http.ResponseWriter, r *http.Request) {
	sites := h.catalog.FavoriteWebsites()
	if sites == nil {
		sites = []models.Website{}
	}
	utils.WriteJSON(w, http.StatusOK, sites)
}

// Search runs the query synchronously and returns the committed results.
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	h.catalog.Search(r.Context(), term)

	snap := h.catalog.Snapshot()
	results := snap.SearchResults
	if results == nil {
		results = []models.Website{}
	}
	utils.WriteJSON(w, http.StatusOK, results)
}

// SearchTypeahead debounces keystroke bursts: each call resets the timer
// and only the last term of a quiet period triggers a catalog scan.
// Clients poll the snapshot for the committed results.
func (h *CatalogHandler) SearchTypeahead(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	h.searchDebounce.Trigger(func() {
		ctx, cancel := context.WithTimeout(context.Background(), searchScanTimeout)
		defer cancel()
		h.catalog.Search(ctx, term)
	})
	w.WriteHeader(http.StatusAccepted)
}

func (h *CatalogHandler) ClearSearch(w http.ResponseWriter, r *http.Request) {
	h.searchDebounce.Stop()
	h.catalog.ClearSearch()
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandler) ActivateTab(w http.ResponseWriter, r *http.Request) {
	tab, ok := models.ParseTab(mux.Vars(r)["tab"])
	if !ok {
		utils.SendJSONError(w, "Unknown tab", http.StatusBadRequest)
		return
	}

	h.catalog.SetActiveTab(r.Context(), tab)
	utils.WriteJSON(w, http.StatusOK, h.catalog.Snapshot())
}

func (h *CatalogHandler) UnloadTab(w http.ResponseWriter, r *http.Request) {
	tab, ok := models.ParseTab(mux.Vars(r)["tab"])
	if !ok {
		utils.SendJSONError(w, "Unknown tab", http.StatusBadRequest)
		return
	}

	h.catalog.UnloadTab(tab)
	w.WriteHeader(http.StatusNoContent)
}

// GetCategories derives the distinct category names from the loaded
// working set, the way the sidebar builds its list.
func (h *CatalogHandler) GetCategories(w http.ResponseWriter, r *http.Request) {
	snap := h.catalog.Snapshot()
	seen := map[string]struct{}{}
	categories := []string{}
	for _, site := range snap.Websites {
		if site.Category == "" {
			continue
		}
		if _, ok := seen[site.Category]; !ok {
			seen[site.Category] = struct{}{}
			categories = append(categories, site.Category)
		}
	}
	sort.Strings(categories)
	utils.WriteJSON(w, http.StatusOK, categories)
}

func (h *CatalogHandler) BackfillTitles(w http.ResponseWriter, r *http.Request) {
	modified, err := h.admin.BackfillTitleIndex(r.Context())
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]int64{"modified": modified})
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

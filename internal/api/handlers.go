package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/scott-c-hughes/polymarket-terminal/internal/aggregator"
	"github.com/scott-c-hughes/polymarket-terminal/internal/alerts"
	"github.com/scott-c-hughes/polymarket-terminal/internal/markets"
	"github.com/scott-c-hughes/polymarket-terminal/internal/models"
	"github.com/scott-c-hughes/polymarket-terminal/internal/polymarket"
	"github.com/scott-c-hughes/polymarket-terminal/internal/regions"
	"github.com/scott-c-hughes/polymarket-terminal/internal/relevance"
	syncer "github.com/scott-c-hughes/polymarket-terminal/internal/sync"
	"github.com/scott-c-hughes/polymarket-terminal/internal/topics"
)

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 1 << 20

// Handlers holds the API handlers.
type Handlers struct {
	agg        *aggregator.Service
	normalizer *markets.Normalizer
	engine     *relevance.Engine
	classifier *topics.Classifier
	regions    *regions.Matcher
	alerts     *alerts.Service
	matcher    relevance.Matcher
	syncer     *syncer.Syncer
}

// NewHandlers creates new API handlers.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		agg:        deps.Aggregator,
		normalizer: deps.Normalizer,
		engine:     deps.Relevance,
		classifier: deps.Classifier,
		regions:    deps.Regions,
		alerts:     deps.Alerts,
		matcher:    deps.Matcher,
		syncer:     deps.Syncer,
	}
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func getLimit(r *http.Request, defaultLimit, maxLimit int) int {
	limit := defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			limit = parsed
		}
	}
	return limit
}

// ============================================================================
// HEALTH
// ============================================================================

// HealthCheck returns the health status.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// ============================================================================
// MARKET HANDLERS
// ============================================================================

// GetMarkets returns the filtered, annotated events.
func (h *Handlers) GetMarkets(w http.ResponseWriter, r *http.Request) {
	events, err := h.agg.Markets(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "Failed to fetch markets")
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// GetProcessedMarkets returns the events normalized for display.
func (h *Handlers) GetProcessedMarkets(w http.ResponseWriter, r *http.Request) {
	events, err := h.agg.Markets(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "Failed to fetch markets")
		return
	}

	limit := getLimit(r, len(events), aggregator.DefaultMarketLimit)
	if limit < len(events) {
		events = events[:limit]
	}
	respondJSON(w, http.StatusOK, h.normalizer.NormalizeAll(events))
}

// GetChart returns a token's price history.
func (h *Handlers) GetChart(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "tokenId")
	if tokenID == "" {
		respondError(w, http.StatusBadRequest, "Token ID is required")
		return
	}

	interval := r.URL.Query().Get("interval")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"history": h.agg.Chart(r.Context(), tokenID, interval),
	})
}

// GetOrderBook returns a token's order book.
func (h *Handlers) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "tokenId")
	if tokenID == "" {
		respondError(w, http.StatusBadRequest, "Token ID is required")
		return
	}
	respondJSON(w, http.StatusOK, h.agg.OrderBook(r.Context(), tokenID))
}

// ============================================================================
// FEED HANDLERS
// ============================================================================

// GetNews returns the merged headlines.
func (h *Handlers) GetNews(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.agg.News(r.Context()))
}

// GetPrices returns the cross-asset ticker.
func (h *Handlers) GetPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.agg.Prices(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "Failed to fetch prices")
		return
	}
	respondJSON(w, http.StatusOK, prices)
}

// GetTelegram returns the Telegram channel feed.
func (h *Handlers) GetTelegram(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.agg.Telegram(r.Context()))
}

// GetX returns the X OSINT feed.
func (h *Handlers) GetX(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.agg.X(r.Context()))
}

// ============================================================================
// RELEVANCE HANDLERS
// ============================================================================

type matchMarketsRequest struct {
	Tweet   string `json:"tweet"`
	Markets []struct {
		Index *int   `json:"index"`
		Title string `json:"title"`
	} `json:"markets"`
}

// MatchMarkets asks the model which of the supplied market titles relate to
// the text. Any failure yields an empty list.
func (h *Handlers) MatchMarkets(w http.ResponseWriter, r *http.Request) {
	var req matchMarketsRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	indices := []int{}
	if h.matcher == nil || strings.TrimSpace(req.Tweet) == "" || len(req.Markets) == 0 {
		respondJSON(w, http.StatusOK, map[string]interface{}{"indices": indices})
		return
	}

	titles := make([]string, len(req.Markets))
	for i, m := range req.Markets {
		titles[i] = m.Title
	}

	picked, err := h.matcher.MatchMarkets(r.Context(), req.Tweet, titles)
	if err != nil {
		log.Warn().Err(err).Msg("Market matching failed")
		respondJSON(w, http.StatusOK, map[string]interface{}{"indices": indices})
		return
	}

	for _, p := range picked {
		if p < 0 || p >= len(req.Markets) {
			continue
		}
		if idx := req.Markets[p].Index; idx != nil {
			indices = append(indices, *idx)
		} else {
			indices = append(indices, p)
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"indices": indices})
}

type relatedRequest struct {
	Text  string `json:"text"`
	Limit int    `json:"limit"`
	Tag   string `json:"tag"`
}

// GetRelated returns the markets most relevant to a piece of text.
func (h *Handlers) GetRelated(w http.ResponseWriter, r *http.Request) {
	var req relatedRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "Text is required")
		return
	}

	events, err := h.agg.Markets(r.Context())
	if err != nil {
		events = nil
	}

	result := h.engine.Find(r.Context(), req.Text, events, relevance.Options{
		Limit:     req.Limit,
		FilterTag: req.Tag,
	})
	respondJSON(w, http.StatusOK, result)
}

type classifyRequest struct {
	Text string `json:"text"`
}

// Classify returns the topics and map regions mentioned in a piece of text.
func (h *Handlers) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	matches := h.classifier.Classify(req.Text)
	if matches == nil {
		matches = []topics.Match{}
	}

	regionIDs := []string{}
	seen := make(map[string]bool)
	for _, id := range append(h.regions.Match(req.Text), h.classifier.Regions(matches)...) {
		if !seen[id] {
			seen[id] = true
			regionIDs = append(regionIDs, id)
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"topics":  matches,
		"regions": regionIDs,
	})
}

// ============================================================================
// MAP HANDLERS
// ============================================================================

// GetLocations returns the gazetteer.
func (h *Handlers) GetLocations(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.regions.Gazetteer().All())
}

// GetRegions returns the active locations from the last refresh, building
// them on demand before the first one.
func (h *Handlers) GetRegions(w http.ResponseWriter, r *http.Request) {
	if h.syncer != nil {
		if snap := h.syncer.Snapshot(); !snap.UpdatedAt.IsZero() {
			respondJSON(w, http.StatusOK, snap.Regions)
			return
		}
	}

	events, err := h.agg.Markets(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "Failed to fetch markets")
		return
	}
	respondJSON(w, http.StatusOK, h.regions.Build(events))
}

// GetRegionMarkets returns the markets placed in one region.
func (h *Handlers) GetRegionMarkets(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(chi.URLParam(r, "id"))
	if _, ok := h.regions.Gazetteer().Lookup(id); !ok {
		respondError(w, http.StatusNotFound, "Region not found")
		return
	}

	events, err := h.agg.Markets(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "Failed to fetch markets")
		return
	}

	matched := h.regions.MarketsFor(id, events)
	if matched == nil {
		matched = []polymarket.Event{}
	}
	respondJSON(w, http.StatusOK, h.normalizer.NormalizeAll(matched))
}

// ============================================================================
// ALERT HANDLERS
// ============================================================================

type createAlertRequest struct {
	Region    string  `json:"region"`
	Threshold float64 `json:"threshold"`
}

// GetAlerts lists every alert.
func (h *Handlers) GetAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := h.alerts.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch alerts")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// CreateAlert stores a new alert.
func (h *Handlers) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	threshold, err := alerts.ParseThreshold(req.Threshold)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	alert, err := h.alerts.Create(r.Context(), req.Region, threshold)
	switch {
	case errors.Is(err, alerts.ErrRegionNotFound), errors.Is(err, alerts.ErrInvalidThreshold):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "Failed to create alert")
		return
	}

	respondJSON(w, http.StatusCreated, alert)
}

// DeleteAlert removes an alert.
func (h *Handlers) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.alerts.Delete(r.Context(), id)
	switch {
	case errors.Is(err, alerts.ErrNotFound):
		respondError(w, http.StatusNotFound, "Alert not found")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "Failed to delete alert")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// GetAlertTriggers returns recent alert triggers.
func (h *Handlers) GetAlertTriggers(w http.ResponseWriter, r *http.Request) {
	triggers, err := h.alerts.Triggers(r.Context(), getLimit(r, 50, 500))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch alert triggers")
		return
	}
	if triggers == nil {
		triggers = []models.AlertTrigger{}
	}
	respondJSON(w, http.StatusOK, triggers)
}

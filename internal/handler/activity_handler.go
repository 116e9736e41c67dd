package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"estate-auth/internal/client"
	"estate-auth/internal/config"
	"estate-auth/internal/util"
)

// ActivityHandler exposes the security event search backed by
// Elasticsearch. Only high and critical events are indexed there.
type ActivityHandler struct {
	es         *client.ESClient
	eventIndex string
	logger     *zap.Logger
}

func NewActivityHandler(es *client.ESClient, cfg *config.Config, logger *zap.Logger) *ActivityHandler {
	return &ActivityHandler{
		es:         es,
		eventIndex: cfg.Elasticsearch.EventIndex,
		logger:     logger,
	}
}

// Search handles GET /activity/search. Supported query params: eventType,
// userId, ip, from, to (RFC3339), limit.
func (h *ActivityHandler) Search(w http.ResponseWriter, r *http.Request) {
	if h.es == nil {
		respondWithError(w, http.StatusServiceUnavailable, "activity search is not available")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	must := []map[string]interface{}{}
	termParams := map[string]string{
		"eventType": "event_type",
		"userId":    "user_id",
		"ip":        "ip_address",
	}
	for param, field := range termParams {
		v := r.URL.Query().Get(param)
		if v == "" {
			continue
		}
		if util.ContainsSuspicious(v) {
			respondWithError(w, http.StatusBadRequest, "invalid query parameter: "+param)
			return
		}
		must = append(must, map[string]interface{}{"term": map[string]interface{}{field: util.SanitizeInput(v)}})
	}

	timeRange := map[string]interface{}{}
	if v := r.URL.Query().Get("from"); v != "" {
		timeRange["gte"] = v
	}
	if v := r.URL.Query().Get("to"); v != "" {
		timeRange["lte"] = v
	}
	if len(timeRange) > 0 {
		must = append(must, map[string]interface{}{"range": map[string]interface{}{"event_time": timeRange}})
	}

	query := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"event_time": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": must},
		},
	}

	result, err := h.es.Search(r.Context(), h.eventIndex, query)
	if err != nil {
		h.logger.Error("activity search failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "search failed")
		return
	}

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    result,
	})
}

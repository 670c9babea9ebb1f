package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"supportdraft/internal/domain"
	"supportdraft/internal/logging"
	"supportdraft/internal/search"
	"supportdraft/internal/services"
)

// SearchHandler exposes hybrid retrieval for tuning thresholds against real queries
type SearchHandler struct {
	embedder services.Embedder
	searcher services.Searcher
	cfg      search.Config
}

type SearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

type SearchResponse struct {
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
}

func NewSearchHandler(embedder services.Embedder, searcher services.Searcher, cfg search.Config) *SearchHandler {
	return &SearchHandler{embedder: embedder, searcher: searcher, cfg: cfg}
}

func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	logger := logging.LoggerFromContext(r.Context())

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("Error decoding search request", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		http.Error(w, "Query cannot be empty", http.StatusBadRequest)
		return
	}

	cfg := h.cfg
	if req.K > 0 {
		cfg.K = req.K
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	embedding, err := h.embedder.GenerateEmbedding(ctx, req.Query)
	if err != nil {
		logger.Error("Error generating query embedding", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	results, err := h.searcher.Search(ctx, req.Query, embedding, cfg)
	if err != nil {
		logger.Error("Error searching chunks", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	if results == nil {
		results = []search.Result{}
	}
	WriteJSON(w, http.StatusOK, SearchResponse{Query: req.Query, Results: results})
}

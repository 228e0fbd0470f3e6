package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/codeclash/codeclash-server/internal/api/middleware"
	"github.com/codeclash/codeclash-server/internal/battle"
	"github.com/codeclash/codeclash-server/internal/domain"
	"github.com/codeclash/codeclash-server/internal/repository"
	"github.com/codeclash/codeclash-server/internal/service"
)

type BattleHandler struct {
	engine     *battle.Engine
	battleRepo repository.BattleRepository
	stats      *service.StatsService
}

func NewBattleHandler(engine *battle.Engine, battleRepo repository.BattleRepository, stats *service.StatsService) *BattleHandler {
	return &BattleHandler{engine: engine, battleRepo: battleRepo, stats: stats}
}

// List returns joinable and running battles, newest first.
func (h *BattleHandler) List(w http.ResponseWriter, r *http.Request) {
	battles, err := h.battleRepo.ListOpen(r.Context())
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"battles": battles})
}

func (h *BattleHandler) Get(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")

	b, err := h.battleRepo.GetByRoomID(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, domain.ErrBattleNotFound) {
			http.Error(w, "Battle not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, b)
}

// History returns the caller's finished battles. The filter query narrows to
// battles they created or battles they joined; limit caps the result count.
func (h *BattleHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	filter := repository.HistoryFilter(r.URL.Query().Get("filter"))
	switch filter {
	case repository.HistoryCreated, repository.HistoryJoined:
	default:
		filter = repository.HistoryAll
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	battles, err := h.stats.History(r.Context(), userID, filter, limit)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"battles": battles})
}

// Delete removes a battle through the engine so subscribers get notified and
// timers are torn down. Host only.
func (h *BattleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	roomID := chi.URLParam(r, "roomId")
	if err := h.engine.DeleteBattle(r.Context(), roomID, userID); err != nil {
		switch {
		case errors.Is(err, domain.ErrBattleNotFound):
			http.Error(w, "Battle not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrNotHost):
			http.Error(w, "Only the host can delete a battle", http.StatusForbidden)
		default:
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, map[string]bool{"success": true})
}

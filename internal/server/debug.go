package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"drawn-of-war/internal/domain"
	"drawn-of-war/internal/engine"
	"drawn-of-war/pkg/api"
	"drawn-of-war/pkg/logger"
)

// DebugHandler предоставляет доступ к внутреннему состоянию сервиса
type DebugHandler struct {
	Service *engine.MatchService
}

func NewDebugHandler(s *engine.MatchService) *DebugHandler {
	return &DebugHandler{Service: s}
}

// RegisterRoutes регистрирует debug-эндпоинты
func (h *DebugHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/debug/matches", h.handleListMatches).Methods(http.MethodGet)
	r.HandleFunc("/debug/matches/{matchId}", h.handleDumpMatch).Methods(http.MethodGet)
}

// /debug/matches - все матчи в памяти со статусом
func (h *DebugHandler) handleListMatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Matches())
}

// /debug/matches/{id} - сохраняемая запись матча плюс подписчики
func (h *DebugHandler) handleDumpMatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["matchId"]
	m, ok := h.Service.Match(id)
	if !ok {
		http.Error(w, "Match not found or not active", http.StatusNotFound)
		return
	}

	type dump struct {
		Record      domain.MatchRecord `json:"record"`
		Subscribers map[string]bool    `json:"subscribers"`
		Viewers     int                `json:"combatViewers"`
	}
	d := dump{
		Record:      m.Record(),
		Subscribers: make(map[string]bool, len(domain.Players)),
		Viewers:     h.Service.Combat.MemberCount(api.CombatRoom(id)),
	}
	for _, p := range domain.Players {
		d.Subscribers[string(p)] = h.Service.Hub.HasSubscriber(id, p)
	}
	writeJSON(w, http.StatusOK, d)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	// Пустой список отдаем как [], а не null
	if data == nil {
		_, _ = w.Write([]byte("[]"))
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.WithError(err).Debug("failed to write JSON response")
	}
}

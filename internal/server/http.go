package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Profiling
	"time"

	"github.com/gorilla/mux"

	"drawn-of-war/internal/domain"
	"drawn-of-war/internal/engine"
	"drawn-of-war/internal/version"
	"drawn-of-war/pkg/api"
	"drawn-of-war/pkg/logger"
)

const (
	maxBodySize     = 4 << 20
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	Service *engine.MatchService
	Port    string
}

func New(svc *engine.MatchService, port string) *Server {
	return &Server{
		Service: svc,
		Port:    port,
	}
}

// Router собирает все маршруты сервера.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	// WebSocket: расстановка и бой — разные пространства имён.
	r.HandleFunc("/ws/deployment", s.handleDeploymentWS)
	r.HandleFunc("/ws/combat", s.handleCombatWS)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	// REST: чтение матча и релей симулятора боя.
	r.HandleFunc("/api/matches/{matchId}", s.handleGetMatch).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/matches/{matchId}/combat/state", s.handleCombatState).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/matches/{matchId}/combat/events", s.handleCombatEvents).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/matches/{matchId}/combat/complete", s.handleCombatComplete).Methods(http.MethodPost, http.MethodOptions)

	NewDebugHandler(s.Service).RegisterRoutes(r)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

// Run запускает HTTP сервер и гасит его при отмене ctx.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Log.Infof("🛡️  Drawn of War sync server running on :%s", s.Port)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Log.Info("HTTP server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Разрешаем запросы с фронтенда и симулятора
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleDeploymentWS обрабатывает подключение игрока к расстановке
func (s *Server) handleDeploymentWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.WithError(err).Error("Upgrade error")
		return
	}
	go NewClient(s.Service, conn).readPump()
}

// handleCombatWS обрабатывает подключение зрителя боя
func (s *Server) handleCombatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.WithError(err).Error("Upgrade error")
		return
	}
	go NewCombatClient(s.Service, conn).readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Info())
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	m, ok := s.Service.Match(mux.Vars(r)["matchId"])
	if !ok {
		writeError(w, engine.ErrMatchNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m.Info())
}

// handleCombatState принимает снимок симулятора. matchId берется из пути.
func (s *Server) handleCombatState(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["matchId"]

	var snap domain.CombatSnapshot
	if !decodeBody(w, r, &snap) {
		return
	}
	if !sameMatch(w, matchID, &snap.MatchID) {
		return
	}
	if err := s.Service.PushCombatState(snap); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCombatEvents(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["matchId"]

	var p api.CombatEventsPayload
	if !decodeBody(w, r, &p) {
		return
	}
	if !sameMatch(w, matchID, &p.MatchID) {
		return
	}
	if err := s.Service.PushCombatEvents(matchID, p.Events); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCombatComplete(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["matchId"]

	var res domain.CombatResult
	if !decodeBody(w, r, &res) {
		return
	}
	if !sameMatch(w, matchID, &res.MatchID) {
		return
	}
	if res.Winner != "" && !res.Winner.Valid() {
		writeJSON(w, http.StatusBadRequest, api.ErrorPayload{Code: api.CodeBadRequest, Message: fmt.Sprintf("unknown winner %q", res.Winner)})
		return
	}
	if err := s.Service.CompleteCombat(r.Context(), res); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorPayload{Code: api.CodeBadRequest, Message: err.Error()})
		return false
	}
	return true
}

// sameMatch заполняет пустой matchId тела из пути и отклоняет расхождение.
func sameMatch(w http.ResponseWriter, pathID string, bodyID *string) bool {
	if *bodyID == "" {
		*bodyID = pathID
		return true
	}
	if *bodyID != pathID {
		writeJSON(w, http.StatusBadRequest, api.ErrorPayload{
			Code:    api.CodeBadRequest,
			Message: fmt.Sprintf("matchId %q does not match path %q", *bodyID, pathID),
		})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrMatchNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrCombatNotStarted):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrMatchClosed), errors.Is(err, engine.ErrServiceClosed):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, asErrorPayload(err))
}

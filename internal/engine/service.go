package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sasha-s/go-deadlock"

	"drawn-of-war/internal/domain"
	"drawn-of-war/internal/engine/handlers"
	"drawn-of-war/internal/engine/handlers/actions"
	"drawn-of-war/internal/network"
	"drawn-of-war/pkg/api"
	"drawn-of-war/pkg/eventbus"
	"drawn-of-war/pkg/logger"
)

var (
	ErrMatchNotFound    = errors.New("match not found")
	ErrMatchClosed      = errors.New("match loop stopped")
	ErrServiceClosed    = errors.New("match service is shut down")
	ErrCombatNotStarted = errors.New("combat has not started")
)

// MatchService владеет матчами. Матч создается при первом join и живет до остановки сервиса.
type MatchService struct {
	cfg      Config
	store    Store
	launcher CombatLauncher

	Hub    *network.Broadcaster
	Combat *network.CombatHub

	mu      deadlock.RWMutex
	matches map[string]*Match
	closed  bool
	created *eventbus.Bus[string]

	handlers map[string]handlers.HandlerFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService создает сервис. store и launcher могут быть nil.
func NewService(cfg Config, store Store, launcher CombatLauncher) *MatchService {
	if launcher == nil {
		launcher = LogLauncher
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = NewConfig().CommandBuffer
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = NewConfig().StoreTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &MatchService{
		cfg:      cfg,
		store:    store,
		launcher: launcher,
		Hub:      network.NewBroadcaster(),
		Combat:   network.NewCombatHub(),
		matches:  make(map[string]*Match),
		created:  eventbus.New[string](),
		handlers: make(map[string]handlers.HandlerFunc),
		ctx:      ctx,
		cancel:   cancel,
	}

	s.registerHandlers()
	return s
}

func (s *MatchService) registerHandlers() {
	s.handlers[api.EventPlace] = handlers.WithPayload(actions.HandlePlace)
	s.handlers[api.EventRemove] = handlers.WithPayload(actions.HandleRemove)
	s.handlers[api.EventUpdatePlacements] = handlers.WithPayload(actions.HandleUpdatePlacements)
	s.handlers[api.EventReady] = handlers.WithPayload(actions.HandleReady)
	s.handlers[api.EventUnready] = handlers.WithPayload(actions.HandleUnready)
}

func (s *MatchService) Config() Config {
	return s.cfg
}

// OnMatchCreated вызывается для каждого нового (или восстановленного) матча.
func (s *MatchService) OnMatchCreated(fn func(matchID string)) eventbus.Unsubscribe {
	return s.created.Subscribe(fn)
}

func (s *MatchService) getOrCreate(ctx context.Context, matchID string) (*Match, error) {
	if m, ok := s.Match(matchID); ok {
		return m, nil
	}

	// Хранилище читаем без блокировки сервиса.
	var (
		rec   domain.MatchRecord
		found bool
	)
	if s.store != nil {
		lctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		var err error
		rec, found, err = s.store.LoadMatch(lctx, matchID)
		cancel()
		if err != nil {
			logger.Component("engine").WithError(err).WithField("match_id", matchID).
				Warn("Failed to load match, starting fresh")
			found = false
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServiceClosed
	}
	if m, ok := s.matches[matchID]; ok {
		s.mu.Unlock()
		return m, nil
	}
	m := newMatch(matchID, s)
	if found {
		m.restore(rec)
	}
	s.matches[matchID] = m
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		m.Run(s.ctx)
	}()
	s.mu.Unlock()

	s.created.Publish(matchID)
	return m, nil
}

// Match ищет матч в памяти.
func (s *MatchService) Match(matchID string) (*Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[matchID]
	return m, ok
}

// Matches — сводка по всем матчам, отсортированная по id.
func (s *MatchService) Matches() []domain.MatchInfo {
	s.mu.RLock()
	list := make([]*Match, 0, len(s.matches))
	for _, m := range s.matches {
		list = append(list, m)
	}
	s.mu.RUnlock()

	out := make([]domain.MatchInfo, 0, len(list))
	for _, m := range list {
		out = append(out, m.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}

// Join подключает сторону к матчу (создавая его при необходимости) и возвращает ее канал.
// Первым сообщением в канале лежит state.
func (s *MatchService) Join(ctx context.Context, matchID string, player domain.PlayerID) (<-chan []byte, error) {
	m, err := s.getOrCreate(ctx, matchID)
	if err != nil {
		return nil, err
	}

	reply := make(chan (<-chan []byte), 1)
	if err := m.enqueue(ctx, MatchCommand{kind: cmdJoin, Player: player, reply: reply}); err != nil {
		return nil, err
	}

	select {
	case sub := <-reply:
		return sub, nil
	case <-m.done:
		return nil, ErrMatchClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Leave отключает сторону, если sub все еще ее текущая подписка.
func (s *MatchService) Leave(matchID string, player domain.PlayerID, sub <-chan []byte) {
	m, ok := s.Match(matchID)
	if !ok {
		return
	}
	if err := m.enqueue(s.ctx, MatchCommand{kind: cmdLeave, Player: player, sub: sub}); err != nil {
		logger.Match("engine", matchID, string(player)).WithError(err).Debug("leave after match stopped")
	}
}

// Submit принимает событие от внешнего мира (WebSocket).
// Соединение уже прошло рукопожатие, поэтому player доверенный.
func (s *MatchService) Submit(ctx context.Context, matchID string, player domain.PlayerID, msg api.Message) error {
	m, ok := s.Match(matchID)
	if !ok {
		return ErrMatchNotFound
	}
	return m.enqueue(ctx, MatchCommand{kind: cmdEvent, Player: player, Msg: msg})
}

// --- Релей боя ---

// JoinCombat добавляет соединение в комнату боя матча.
func (s *MatchService) JoinCombat(matchID, connID string) (<-chan []byte, error) {
	if _, ok := s.Match(matchID); !ok {
		return nil, ErrMatchNotFound
	}
	return s.Combat.Join(api.CombatRoom(matchID), connID), nil
}

// LeaveCombat убирает соединение из комнаты.
func (s *MatchService) LeaveCombat(matchID, connID string) {
	s.Combat.Leave(api.CombatRoom(matchID), connID)
}

// ResendCombatState повторяет последний снимок одному зрителю.
func (s *MatchService) ResendCombatState(matchID, connID string) bool {
	return s.Combat.SendLast(api.CombatRoom(matchID), connID)
}

// PushCombatState рассылает снимок симулятора всем зрителям боя.
func (s *MatchService) PushCombatState(snap domain.CombatSnapshot) error {
	if _, err := s.combatMatch(snap.MatchID); err != nil {
		return err
	}
	data, err := api.Encode(api.CombatState, snap)
	if err != nil {
		return err
	}
	s.Combat.PublishState(api.CombatRoom(snap.MatchID), data)
	return nil
}

// PushCombatEvents рассылает явные события симулятора.
func (s *MatchService) PushCombatEvents(matchID string, events []domain.CombatEvent) error {
	if _, err := s.combatMatch(matchID); err != nil {
		return err
	}
	data, err := api.Encode(api.CombatEvents, api.CombatEventsPayload{MatchID: matchID, Events: events})
	if err != nil {
		return err
	}
	s.Combat.Publish(api.CombatRoom(matchID), data)
	return nil
}

// CompleteCombat фиксирует итог: completed в комнату боя и combat-completed в расстановку.
func (s *MatchService) CompleteCombat(ctx context.Context, result domain.CombatResult) error {
	m, err := s.combatMatch(result.MatchID)
	if err != nil {
		return err
	}
	data, err := api.Encode(api.CombatCompleted, api.CombatCompletedResult{Result: result})
	if err != nil {
		return err
	}
	s.Combat.PublishCompleted(api.CombatRoom(result.MatchID), data)
	return m.enqueue(ctx, MatchCommand{kind: cmdComplete, result: result})
}

// combatMatch — матч, в котором бой уже начался.
func (s *MatchService) combatMatch(matchID string) (*Match, error) {
	if matchID == "" {
		return nil, fmt.Errorf("%w: empty match id", ErrMatchNotFound)
	}
	m, ok := s.Match(matchID)
	if !ok {
		return nil, ErrMatchNotFound
	}
	switch m.Phase() {
	case domain.PhaseCombat, domain.PhaseCompleted:
		return m, nil
	}
	return nil, ErrCombatNotStarted
}

// Shutdown останавливает циклы всех матчей и отключает подписчиков.
func (s *MatchService) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ids := make([]string, 0, len(s.matches))
	for id := range s.matches {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	for _, id := range ids {
		s.Hub.CloseMatch(id)
		s.Combat.CloseRoom(api.CombatRoom(id))
	}
	logger.Component("engine").Infof("Match service stopped (%d matches)", len(ids))
}

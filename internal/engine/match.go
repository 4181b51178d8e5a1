package engine

import (
	"context"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	"drawn-of-war/internal/deployment"
	"drawn-of-war/internal/domain"
	"drawn-of-war/internal/engine/handlers"
	"drawn-of-war/internal/network"
	"drawn-of-war/pkg/api"
	"drawn-of-war/pkg/logger"
)

type commandKind uint8

const (
	cmdJoin commandKind = iota
	cmdLeave
	cmdEvent
	cmdComplete
)

// MatchCommand обертка, чтобы передать команду и того, кто её вызвал
type MatchCommand struct {
	kind   commandKind
	Player domain.PlayerID
	Msg    api.Message

	sub    <-chan []byte
	reply  chan (<-chan []byte)
	result domain.CombatResult
}

// Match представляет собой один матч: авторитетную машину расстановки и ее цикл команд.
// Все мутации идут через CommandChan, поэтому порядок внутри матча — порядок получения.
type Match struct {
	ID        string
	CreatedAt time.Time

	service *MatchService
	machine *deployment.Machine
	log     *logrus.Entry

	// Меняются только циклом; mu нужен читателям снаружи (REST, debug).
	mu        deadlock.RWMutex
	phase     domain.MatchPhase
	connected map[domain.PlayerID]bool
	countdown int
	result    *domain.CombatResult

	CommandChan chan MatchCommand
	done        chan struct{}

	ticker *time.Ticker
}

func newMatch(id string, service *MatchService) *Match {
	return &Match{
		ID:          id,
		CreatedAt:   time.Now(),
		service:     service,
		machine:     deployment.NewMachine(service.cfg.Deployment, ""),
		log:         logger.Component("match").WithField("match_id", id),
		phase:       domain.PhaseDeployment,
		connected:   make(map[domain.PlayerID]bool, 2),
		CommandChan: make(chan MatchCommand, service.cfg.CommandBuffer),
		done:        make(chan struct{}),
	}
}

// restore применяет сохраненную запись. Вызывается до запуска цикла.
func (m *Match) restore(rec domain.MatchRecord) {
	status := domain.DeploymentStatus{Phase: rec.Phase}
	for _, st := range rec.Players {
		if !st.PlayerID.Valid() {
			continue
		}
		m.machine.SyncPlacementsFromServer(st.PlayerID, st.Placements)
		ps := domain.PlayerStatus{IsReady: st.IsReady, IsLocked: st.IsLocked, ReadyAt: st.ReadyAt}
		if st.PlayerID == domain.Player2 {
			status.Player2 = ps
		} else {
			status.Player1 = ps
		}
	}
	m.machine.ApplyStatus(status)

	if rec.Phase != "" {
		m.phase = rec.Phase
	}
	m.result = rec.Result
	m.log.WithField("phase", m.phase).Info("Match restored from store")
}

// Run запускает цикл ЭТОГО матча.
func (m *Match) Run(ctx context.Context) {
	defer close(m.done)
	m.log.Info("Match loop started")

	// Сервер перезапустился во время отсчета: начинаем его заново.
	if m.Phase() == domain.PhaseLocked {
		m.startCountdown(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			m.stopTicker()
			m.log.Info("Match loop stopped")
			return

		case cmd := <-m.CommandChan:
			m.execute(ctx, cmd)

		case <-m.tick():
			m.countdownStep(ctx)
		}
	}
}

// Done закрывается, когда цикл матча завершился.
func (m *Match) Done() <-chan struct{} {
	return m.done
}

func (m *Match) enqueue(ctx context.Context, cmd MatchCommand) error {
	select {
	case <-m.done:
		return ErrMatchClosed
	default:
	}
	select {
	case m.CommandChan <- cmd:
		return nil
	case <-m.done:
		return ErrMatchClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Match) execute(ctx context.Context, cmd MatchCommand) {
	switch cmd.kind {
	case cmdJoin:
		m.handleJoin(cmd)
	case cmdLeave:
		m.handleLeave(cmd)
	case cmdEvent:
		m.handleEvent(ctx, cmd)
	case cmdComplete:
		m.handleComplete(ctx, cmd.result)
	}
}

// handleJoin регистрирует подписку и отвечает ровно одним state.
// Повторный вход той же стороны закрывает ее прежний канал.
func (m *Match) handleJoin(cmd MatchCommand) {
	sub := m.service.Hub.Register(m.ID, cmd.Player)
	m.setConnected(cmd.Player, true)

	m.sendState(cmd.Player)
	switch m.Phase() {
	case domain.PhaseCombat:
		m.send(cmd.Player, api.EventCombatStarted, api.CombatStartedPayload{MatchID: m.ID})
	case domain.PhaseCompleted:
		if res, ok := m.Result(); ok {
			m.send(cmd.Player, api.EventCombatCompleted, completedPayload(res))
		}
	}

	opponent := cmd.Player.Opponent()
	m.send(opponent, api.EventOpponentConnected, api.PlayerPayload{PlayerID: cmd.Player})
	if m.Connected(opponent) {
		m.send(cmd.Player, api.EventOpponentConnected, api.PlayerPayload{PlayerID: opponent})
	}

	cmd.reply <- sub
	m.log.WithField("player_id", cmd.Player).Info("Player joined")
}

func (m *Match) handleLeave(cmd MatchCommand) {
	// Старое соединение после reconnect уходит молча.
	if !m.service.Hub.Unregister(m.ID, cmd.Player, cmd.sub) {
		return
	}
	m.setConnected(cmd.Player, false)
	m.send(cmd.Player.Opponent(), api.EventOpponentDisconnected, api.PlayerPayload{PlayerID: cmd.Player})
	m.log.WithField("player_id", cmd.Player).Info("Player disconnected")
}

func (m *Match) handleEvent(ctx context.Context, cmd MatchCommand) {
	// join на уже открытом соединении — запрос полного состояния.
	if cmd.Msg.Type == api.EventJoin {
		m.sendState(cmd.Player)
		return
	}

	handler, ok := m.service.handlers[cmd.Msg.Type]
	if !ok {
		m.reject(cmd, handlers.Reject(api.CodeBadRequest, "unknown event %q", cmd.Msg.Type))
		return
	}

	hctx := handlers.Context{
		MatchID: m.ID,
		Player:  cmd.Player,
		Phase:   m.Phase(),
		Machine: m.machine,
	}

	result, err := handler(hctx, cmd.Msg.Payload)
	if err != nil {
		m.reject(cmd, err)
		return
	}

	if result.Event != "" {
		m.send(cmd.Player.Opponent(), result.Event, result.Payload)
	}
	if result.StatusChanged {
		m.broadcastStatus()
	}
	if result.Persist {
		m.persist(ctx)
	}

	if m.Phase() == domain.PhaseDeployment && m.machine.BothReady() {
		m.lockIn(ctx)
	}
}

// reject отправляет отказ и следом полное состояние: клиент применял изменение оптимистично.
func (m *Match) reject(cmd MatchCommand, err error) {
	payload := handlers.AsErrorPayload(err)
	m.log.WithFields(logrus.Fields{
		"player_id": cmd.Player,
		"event":     cmd.Msg.Type,
		"code":      payload.Code,
	}).Warn("Command rejected: ", payload.Message)

	m.send(cmd.Player, api.EventError, payload)
	m.sendState(cmd.Player)
}

// lockIn фиксирует обе стороны. Размещения сохраняются как есть.
func (m *Match) lockIn(ctx context.Context) {
	for _, p := range domain.Players {
		m.machine.MarkLocked(p)
	}
	m.setPhase(domain.PhaseLocked)
	m.log.Info("Both players ready, deployment locked")
	m.persist(ctx)
	m.startCountdown(ctx)
}

func (m *Match) startCountdown(ctx context.Context) {
	cfg := m.service.cfg
	m.setCountdown(cfg.Countdown)
	m.broadcastStatus()

	if cfg.Countdown <= 0 || cfg.CountdownStep <= 0 {
		m.beginCombat(ctx)
		return
	}
	m.ticker = time.NewTicker(cfg.CountdownStep)
}

func (m *Match) countdownStep(ctx context.Context) {
	left := m.setCountdown(m.Countdown() - 1)
	if left > 0 {
		m.broadcastStatus()
		return
	}
	m.stopTicker()
	m.beginCombat(ctx)
}

func (m *Match) tick() <-chan time.Time {
	if m.ticker == nil {
		return nil
	}
	return m.ticker.C
}

func (m *Match) stopTicker() {
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
}

func (m *Match) beginCombat(ctx context.Context) {
	m.setCountdown(0)
	m.setPhase(domain.PhaseCombat)
	m.persist(ctx)
	m.broadcastStatus()
	m.broadcast(api.EventCombatStarted, api.CombatStartedPayload{MatchID: m.ID})

	armies := make(map[domain.PlayerID][]domain.Placement, len(domain.Players))
	for _, p := range domain.Players {
		armies[p] = m.machine.Placements(p)
	}

	// Симулятор может отвечать долго; цикл матча не ждет.
	launcher := m.service.launcher
	m.service.wg.Add(1)
	go func() {
		defer m.service.wg.Done()
		if err := launcher.LaunchCombat(ctx, m.ID, armies); err != nil {
			m.log.WithError(err).Error("Failed to launch combat")
		}
	}()
}

func (m *Match) handleComplete(ctx context.Context, result domain.CombatResult) {
	if m.Phase() == domain.PhaseCompleted {
		return
	}
	m.stopTicker()

	m.mu.Lock()
	m.result = &result
	m.phase = domain.PhaseCompleted
	m.mu.Unlock()

	m.broadcast(api.EventCombatCompleted, completedPayload(result))
	m.broadcastStatus()
	m.persist(ctx)
	m.log.WithFields(logrus.Fields{"winner": result.Winner, "reason": result.Reason}).Info("Combat completed")
}

func completedPayload(r domain.CombatResult) api.CombatCompletedPayload {
	return api.CombatCompletedPayload{MatchID: r.MatchID, Winner: r.Winner, Reason: r.Reason, Duration: r.Duration}
}

// --- Рассылка ---

func (m *Match) send(player domain.PlayerID, eventType string, payload any) {
	data, err := api.Encode(eventType, payload)
	if err != nil {
		m.log.WithError(err).WithField("event", eventType).Error("Failed to encode event")
		return
	}
	if m.service.Hub.SendTo(m.ID, player, data) == network.Evicted {
		m.evicted(player)
	}
}

func (m *Match) broadcast(eventType string, payload any) {
	data, err := api.Encode(eventType, payload)
	if err != nil {
		m.log.WithError(err).WithField("event", eventType).Error("Failed to encode event")
		return
	}
	for _, p := range m.service.Hub.Broadcast(m.ID, data) {
		m.evicted(p)
	}
}

// evicted — хаб снял отставшего подписчика. Сторона считается отключенной до
// повторного join, который вернет ей полный state.
func (m *Match) evicted(player domain.PlayerID) {
	if !m.Connected(player) {
		return
	}
	m.setConnected(player, false)
	m.log.WithField("player_id", player).Warn("Player fell behind, connection dropped for resync")
	m.send(player.Opponent(), api.EventOpponentDisconnected, api.PlayerPayload{PlayerID: player})
}

func (m *Match) sendState(player domain.PlayerID) {
	info := m.Info()
	m.send(player, api.EventState, api.StatePayload{
		MatchID:           m.ID,
		Player1Placements: info.Player1Placements,
		Player2Placements: info.Player2Placements,
		Status:            info.Status,
	})
}

func (m *Match) broadcastStatus() {
	m.broadcast(api.EventStatusChanged, api.StatusChangedPayload{Status: m.Status()})
}

func (m *Match) persist(ctx context.Context) {
	store := m.service.store
	if store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, m.service.cfg.StoreTimeout)
	defer cancel()
	if err := store.SaveMatch(sctx, m.Record()); err != nil {
		m.log.WithError(err).Error("Failed to persist match")
	}
}

// --- Чтение снаружи цикла ---

func (m *Match) Phase() domain.MatchPhase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

func (m *Match) setPhase(p domain.MatchPhase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = p
}

func (m *Match) Countdown() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countdown
}

func (m *Match) setCountdown(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countdown = n
	return n
}

func (m *Match) Connected(p domain.PlayerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected[p]
}

func (m *Match) setConnected(p domain.PlayerID, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected[p] = v
}

func (m *Match) Result() (domain.CombatResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.result == nil {
		return domain.CombatResult{}, false
	}
	return *m.result, true
}

// Status — публичный статус матча с флагами подключения и отсчетом.
func (m *Match) Status() domain.DeploymentStatus {
	m.mu.RLock()
	phase := m.phase
	countdown := m.countdown
	c1, c2 := m.connected[domain.Player1], m.connected[domain.Player2]
	m.mu.RUnlock()

	status := m.machine.Status(phase)
	status.Player1.Connected = c1
	status.Player2.Connected = c2
	if phase == domain.PhaseLocked {
		status.Countdown = countdown
	}
	return status
}

// Info — снимок матча для REST и отладки.
func (m *Match) Info() domain.MatchInfo {
	info := domain.MatchInfo{
		MatchID:           m.ID,
		Status:            m.Status(),
		Player1Placements: m.machine.Placements(domain.Player1),
		Player2Placements: m.machine.Placements(domain.Player2),
		CreatedAt:         m.CreatedAt,
	}
	if res, ok := m.Result(); ok {
		info.Result = &res
	}
	return info
}

// Record — сохраняемая часть матча.
func (m *Match) Record() domain.MatchRecord {
	snap := m.machine.Snapshot()
	rec := domain.MatchRecord{
		MatchID:   m.ID,
		Phase:     m.Phase(),
		Players:   make([]domain.PlayerDeploymentState, 0, len(domain.Players)),
		UpdatedAt: time.Now(),
	}
	for _, p := range domain.Players {
		rec.Players = append(rec.Players, snap[p])
	}
	if res, ok := m.Result(); ok {
		rec.Result = &res
	}
	return rec
}

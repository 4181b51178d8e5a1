// Package deployment — машина состояний расстановки существ перед боем.
//
// Машина хранит две независимые PlayerDeploymentState и один DragState.
// Каждый игрок мутирует только своё состояние, но проверка занятости читает оба.
// Все операции сериализуются мьютексом: сетевые события приходят из горутины чтения сокета,
// локальный ввод — из цикла UI, и ни одна мутация не должна опираться на устаревшее чтение.
package deployment

import (
	"sync"
	"time"

	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/eventbus"
	"drawn-of-war/pkg/hex"
)

// Config — параметры машины.
type Config struct {
	Layout       hex.Layout
	Zones        Zones
	MaxCreatures int
}

// NewConfig создаёт конфиг по умолчанию: сетка 12x8, зоны по 3 столбца.
func NewConfig() Config {
	layout := hex.DefaultLayout()
	return Config{
		Layout:       layout,
		Zones:        NewZones(layout.Width, DefaultZoneDepth),
		MaxCreatures: domain.MaxCreatures,
	}
}

// ChangeKind — вид изменения состояния для наблюдателей.
type ChangeKind string

const (
	ChangePlaced  ChangeKind = "placed"
	ChangeRemoved ChangeKind = "removed"
	ChangeSynced  ChangeKind = "synced"
	ChangeReady   ChangeKind = "ready"
	ChangeUnready ChangeKind = "unready"
	ChangeLocked  ChangeKind = "locked"
	ChangeRoster  ChangeKind = "roster"
	ChangeDrag    ChangeKind = "drag"
	ChangeStatus  ChangeKind = "status"
)

// Change описывает одно применённое изменение.
type Change struct {
	Kind       ChangeKind
	Player     domain.PlayerID
	Placement  *domain.Placement
	CreatureID string
}

// Machine — редьюсер расстановки.
type Machine struct {
	mu      sync.Mutex
	cfg     Config
	active  domain.PlayerID
	players map[domain.PlayerID]*domain.PlayerDeploymentState

	drag       domain.DragState
	dragOrigin *domain.Placement
	dragPlayer domain.PlayerID

	changes *eventbus.Bus[Change]
	now     func() time.Time
}

// NewMachine создаёт машину. active — сторона этой сессии: именно она, а не
// поле Creature.OwnerPlayer, определяет, чьё состояние меняют методы без явного игрока.
// На сервере active не используется.
func NewMachine(cfg Config, active domain.PlayerID) *Machine {
	if cfg.Layout.Width == 0 {
		cfg.Layout = hex.DefaultLayout()
	}
	if cfg.Zones.Player2.MaxCol == 0 {
		cfg.Zones = NewZones(cfg.Layout.Width, DefaultZoneDepth)
	}

	m := &Machine{
		cfg:     cfg,
		active:  active,
		players: make(map[domain.PlayerID]*domain.PlayerDeploymentState, 2),
		drag:    domain.IdleDrag(),
		changes: eventbus.New[Change](),
		now:     time.Now,
	}
	for _, id := range domain.Players {
		st := domain.NewPlayerDeploymentState(id)
		st.MaxCreatures = m.maxCreatures()
		m.players[id] = st
	}
	return m
}

func (m *Machine) Config() Config {
	return m.cfg
}

// ActivePlayer — сторона этой сессии.
func (m *Machine) ActivePlayer() domain.PlayerID {
	return m.active
}

// OnChange подписывает наблюдателя (рендерер, сетевой слой).
// Уведомления приходят после снятия блокировки, так что обработчик может читать машину.
func (m *Machine) OnChange(fn func(Change)) eventbus.Unsubscribe {
	return m.changes.Subscribe(fn)
}

func (m *Machine) emit(changes ...Change) {
	for _, c := range changes {
		m.changes.Publish(c)
	}
}

// State возвращает копию состояния игрока.
func (m *Machine) State(player domain.PlayerID) domain.PlayerDeploymentState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, found := m.players[player]
	if !found {
		return *domain.NewPlayerDeploymentState(player)
	}
	return st.Clone()
}

// Placements возвращает копию списка размещений игрока.
func (m *Machine) Placements(player domain.PlayerID) []domain.Placement {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, found := m.players[player]; found {
		return domain.ClonePlacements(st.Placements)
	}
	return []domain.Placement{}
}

// SetRoster заменяет ростер игрока.
func (m *Machine) SetRoster(player domain.PlayerID, roster []domain.Creature) {
	m.mu.Lock()
	st, found := m.players[player]
	if !found {
		m.mu.Unlock()
		return
	}
	st.Roster = append([]domain.Creature{}, roster...)
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeRoster, Player: player})
}

// ValidatePlacement проверяет размещение без мутации.
func (m *Machine) ValidatePlacement(h hex.Coord, c domain.Creature, player domain.PlayerID) ValidationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateLocked(h, c, player)
}

// PlaceCreature размещает существо от имени активного игрока сессии.
func (m *Machine) PlaceCreature(c domain.Creature, h hex.Coord) bool {
	placed, _ := m.PlaceFor(m.active, c, h)
	return placed
}

// PlaceFor повторно валидирует и размещает существо за указанного игрока.
// При неудаче состояние не меняется, возвращается причина.
func (m *Machine) PlaceFor(player domain.PlayerID, c domain.Creature, h hex.Coord) (bool, ValidationResult) {
	m.mu.Lock()
	res, placement := m.placeLocked(player, c, h)
	m.mu.Unlock()

	if !res.Valid {
		return false, res
	}
	m.emit(Change{Kind: ChangePlaced, Player: player, Placement: &placement, CreatureID: c.ID})
	return true, res
}

// placeLocked — общая часть размещения и сброса перетаскивания. Вызывается под m.mu.
func (m *Machine) placeLocked(player domain.PlayerID, c domain.Creature, h hex.Coord) (ValidationResult, domain.Placement) {
	res := m.validateLocked(h, c, player)
	if !res.Valid {
		return res, domain.Placement{}
	}

	st := m.players[player]
	facing := m.initialFacing(player)

	if idx := st.PlacementIndex(c.ID); idx >= 0 {
		prev := st.Placements[idx]
		facing = prev.Creature.Facing
		if dir, moved := m.cfg.Layout.DirectionBetween(prev.Hex, h); moved {
			facing = dir
		}
		st.Placements = append(st.Placements[:idx], st.Placements[idx+1:]...)
	}

	c.Facing = facing
	placement := domain.Placement{Creature: c, Hex: h}
	st.Placements = append(st.Placements, placement)
	return res, placement
}

// initialFacing — при первой расстановке существо смотрит к центру поля.
func (m *Machine) initialFacing(player domain.PlayerID) hex.Direction {
	zone := m.cfg.Zones.For(player)
	if zone.Center() < float64(m.cfg.Layout.Width)/2 {
		return hex.DirE
	}
	return hex.DirW
}

// RemoveCreature ищет существо в размещениях обоих игроков и снимает его.
// Отсутствующий id — не ошибка, просто false. Зафиксированные списки не трогаются.
func (m *Machine) RemoveCreature(creatureID string) bool {
	m.mu.Lock()
	var removedFrom domain.PlayerID
	for _, id := range domain.Players {
		if m.removeLocked(id, creatureID, false) {
			removedFrom = id
			break
		}
	}
	m.mu.Unlock()

	if removedFrom == "" {
		return false
	}
	m.emit(Change{Kind: ChangeRemoved, Player: removedFrom, CreatureID: creatureID})
	return true
}

// RemoveFor снимает существо только из списка указанного игрока.
func (m *Machine) RemoveFor(player domain.PlayerID, creatureID string) bool {
	m.mu.Lock()
	removed := m.removeLocked(player, creatureID, false)
	m.mu.Unlock()

	if removed {
		m.emit(Change{Kind: ChangeRemoved, Player: player, CreatureID: creatureID})
	}
	return removed
}

func (m *Machine) removeLocked(player domain.PlayerID, creatureID string, force bool) bool {
	st, found := m.players[player]
	if !found || (st.IsLocked && !force) {
		return false
	}
	idx := st.PlacementIndex(creatureID)
	if idx < 0 {
		return false
	}
	st.Placements = append(st.Placements[:idx], st.Placements[idx+1:]...)
	return true
}

// MarkReady требует хотя бы одно размещение и отсутствие блокировки.
// Отказ возвращается вызывающему, который обязан показать его пользователю.
func (m *Machine) MarkReady(player domain.PlayerID) bool {
	m.mu.Lock()
	st, found := m.players[player]
	if !found || st.IsLocked || len(st.Placements) == 0 {
		m.mu.Unlock()
		return false
	}
	now := m.now()
	st.IsReady = true
	st.ReadyAt = &now
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeReady, Player: player})
	return true
}

// MarkUnready снимает готовность, пока игрок не зафиксирован.
func (m *Machine) MarkUnready(player domain.PlayerID) bool {
	m.mu.Lock()
	st, found := m.players[player]
	if !found || st.IsLocked {
		m.mu.Unlock()
		return false
	}
	st.IsReady = false
	st.ReadyAt = nil
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeUnready, Player: player})
	return true
}

// MarkLocked идемпотентно фиксирует расстановку. Фиксация ЗАМОРАЖИВАЕТ состояние,
// а не очищает его: размещения сохраняются как есть.
func (m *Machine) MarkLocked(player domain.PlayerID) {
	m.mu.Lock()
	st, found := m.players[player]
	if !found || st.IsLocked {
		m.mu.Unlock()
		return
	}
	st.IsLocked = true
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeLocked, Player: player})
}

// IsLocked — быстрая проверка без копирования состояния.
func (m *Machine) IsLocked(player domain.PlayerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, found := m.players[player]
	return found && st.IsLocked
}

// SyncPlacementsFromServer авторитетно перезаписывает список игрока (reconnect/resume).
// Локальная валидация не выполняется: серверу доверяем.
func (m *Machine) SyncPlacementsFromServer(player domain.PlayerID, placements []domain.Placement) {
	m.mu.Lock()
	st, found := m.players[player]
	if !found {
		m.mu.Unlock()
		return
	}
	st.Placements = domain.ClonePlacements(placements)
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeSynced, Player: player})
}

// ApplyRemotePlacement применяет размещение, пришедшее от сервера (opponent-placed).
func (m *Machine) ApplyRemotePlacement(player domain.PlayerID, placement domain.Placement) {
	m.mu.Lock()
	st, found := m.players[player]
	if !found {
		m.mu.Unlock()
		return
	}
	if idx := st.PlacementIndex(placement.Creature.ID); idx >= 0 {
		st.Placements[idx] = placement
	} else {
		st.Placements = append(st.Placements, placement)
	}
	m.mu.Unlock()

	m.emit(Change{Kind: ChangePlaced, Player: player, Placement: &placement, CreatureID: placement.Creature.ID})
}

// ApplyRemoteRemoval применяет opponent-removed. Отсутствующий id — no-op:
// даже при корректном транспорте редьюсер защищается от перестановки событий.
func (m *Machine) ApplyRemoteRemoval(player domain.PlayerID, creatureID string) bool {
	m.mu.Lock()
	removed := m.removeLocked(player, creatureID, true)
	m.mu.Unlock()

	if removed {
		m.emit(Change{Kind: ChangeRemoved, Player: player, CreatureID: creatureID})
	}
	return removed
}

// ApplyStatus применяет флаги готовности/фиксации из status-changed.
// Фиксация монотонна: false от сервера не снимает локальный lock.
func (m *Machine) ApplyStatus(status domain.DeploymentStatus) {
	m.mu.Lock()
	for _, id := range domain.Players {
		st := m.players[id]
		ps := status.For(id)
		st.IsLocked = st.IsLocked || ps.IsLocked
		st.IsReady = ps.IsReady
		st.ReadyAt = ps.ReadyAt
	}
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeStatus})
}

// Snapshot — глубокая копия состояний обеих сторон.
func (m *Machine) Snapshot() map[domain.PlayerID]domain.PlayerDeploymentState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[domain.PlayerID]domain.PlayerDeploymentState, len(m.players))
	for id, st := range m.players {
		out[id] = st.Clone()
	}
	return out
}

// Occupant возвращает размещение на гексе у любой из сторон.
func (m *Machine) Occupant(h hex.Coord) (domain.Placement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.occupantLocked(h)
}

// Status собирает публичный статус матча. Connected заполняет вызывающий.
func (m *Machine) Status(phase domain.MatchPhase) domain.DeploymentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := domain.DeploymentStatus{Phase: phase}
	for _, id := range domain.Players {
		st := m.players[id]
		ps := domain.PlayerStatus{
			IsReady:  st.IsReady,
			IsLocked: st.IsLocked,
			Placed:   len(st.Placements),
		}
		if st.ReadyAt != nil {
			t := *st.ReadyAt
			ps.ReadyAt = &t
		}
		if id == domain.Player2 {
			status.Player2 = ps
		} else {
			status.Player1 = ps
		}
	}
	return status
}

// BothReady — обе стороны отметили готовность.
func (m *Machine) BothReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range domain.Players {
		if !m.players[id].IsReady {
			return false
		}
	}
	return true
}

// Package session — контроллеры экранов. Сессия явно владеет каналом, машиной
// расстановки и рендерером и разбирает их в Close.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"drawn-of-war/internal/deployment"
	"drawn-of-war/internal/domain"
	"drawn-of-war/internal/render"
	"drawn-of-war/internal/render/ebitenview"
	"drawn-of-war/internal/syncclient"
	"drawn-of-war/pkg/api"
	"drawn-of-war/pkg/eventbus"
	"drawn-of-war/pkg/hex"
	"drawn-of-war/pkg/logger"
)

// Прозрачность визуалов: свои — полностью, чужие — приглушённо.
const (
	OwnOpacity      = 1.0
	OpponentOpacity = 0.5
)

var ErrNotReadyable = errors.New("session: cannot mark ready without placements")

// DeploymentChannel — то, что экран расстановки использует от syncclient.Client.
type DeploymentChannel interface {
	Join(ctx context.Context) error
	Place(domain.Placement) error
	Remove(creatureID string) error
	UpdatePlacements([]domain.Placement) error
	Ready() error
	Unready() error
	Status() syncclient.Status
	Close() error

	OnState(func(api.StatePayload)) eventbus.Unsubscribe
	OnOpponentPlaced(func(api.OpponentPlacedPayload)) eventbus.Unsubscribe
	OnOpponentRemoved(func(api.OpponentRemovedPayload)) eventbus.Unsubscribe
	OnOpponentUpdated(func(api.OpponentUpdatedPayload)) eventbus.Unsubscribe
	OnStatusChanged(func(domain.DeploymentStatus)) eventbus.Unsubscribe
	OnOpponentConnected(func(domain.PlayerID)) eventbus.Unsubscribe
	OnOpponentDisconnected(func(domain.PlayerID)) eventbus.Unsubscribe
	OnCombatStarted(func(api.CombatStartedPayload)) eventbus.Unsubscribe
	OnError(func(api.ErrorPayload)) eventbus.Unsubscribe
	OnStatus(func(syncclient.Status)) eventbus.Unsubscribe
}

var _ DeploymentChannel = (*syncclient.Client)(nil)

// DeploymentConfig — параметры экрана расстановки.
type DeploymentConfig struct {
	MatchID string
	Player  domain.PlayerID
	Machine deployment.Config
	Roster  []domain.Creature
}

// Deployment — контроллер экрана расстановки.
type Deployment struct {
	cfg      DeploymentConfig
	machine  *deployment.Machine
	channel  DeploymentChannel
	renderer *render.GridRenderer
	log      *logrus.Entry

	mu                sync.Mutex
	subs              []eventbus.Unsubscribe
	rendered          map[string]domain.PlayerID
	err               error
	status            domain.DeploymentStatus
	selected          int
	opponentConnected bool
	combatStarted     bool
	closed            bool

	combatBus *eventbus.Bus[string]
}

// NewDeployment собирает экран. Рендерер должен быть создан со StaticStrategy.
func NewDeployment(cfg DeploymentConfig, ch DeploymentChannel, r *render.GridRenderer) *Deployment {
	if cfg.Machine.Layout.Width == 0 {
		cfg.Machine = deployment.NewConfig()
	}
	m := deployment.NewMachine(cfg.Machine, cfg.Player)
	m.SetRoster(cfg.Player, cfg.Roster)

	return &Deployment{
		cfg:       cfg,
		machine:   m,
		channel:   ch,
		renderer:  r,
		log:       logger.Match("deployment-session", cfg.MatchID, string(cfg.Player)),
		rendered:  make(map[string]domain.PlayerID),
		status:    domain.DeploymentStatus{Phase: domain.PhaseDeployment},
		combatBus: eventbus.New[string](),
	}
}

// Machine — машина расстановки сессии.
func (d *Deployment) Machine() *deployment.Machine { return d.machine }

// Renderer реализует ebitenview.Controller.
func (d *Deployment) Renderer() *render.GridRenderer { return d.renderer }

// Start подписывается на машину и канал, затем выполняет join.
// Ошибка join сохраняется как видимое состояние и возвращается.
func (d *Deployment) Start(ctx context.Context) error {
	d.mu.Lock()
	d.subs = append(d.subs,
		d.machine.OnChange(d.onChange),
		d.channel.OnState(d.onState),
		d.channel.OnOpponentPlaced(d.onOpponentPlaced),
		d.channel.OnOpponentRemoved(d.onOpponentRemoved),
		d.channel.OnOpponentUpdated(d.onOpponentUpdated),
		d.channel.OnStatusChanged(d.onStatusChanged),
		d.channel.OnOpponentConnected(func(domain.PlayerID) { d.setOpponentConnected(true) }),
		d.channel.OnOpponentDisconnected(func(domain.PlayerID) { d.setOpponentConnected(false) }),
		d.channel.OnCombatStarted(d.onCombatStarted),
		d.channel.OnError(func(e api.ErrorPayload) { d.setError(e) }),
		d.channel.OnStatus(d.onLinkStatus),
	)
	d.mu.Unlock()

	if err := d.channel.Join(ctx); err != nil {
		d.setError(fmt.Errorf("join match: %w", err))
		return err
	}
	return nil
}

// --- Входящие события ---

func (d *Deployment) onState(s api.StatePayload) {
	for _, p := range domain.Players {
		d.machine.SyncPlacementsFromServer(p, s.PlacementsFor(p))
	}
	d.machine.ApplyStatus(s.Status)
	d.setStatus(s.Status)
}

func (d *Deployment) onOpponentPlaced(p api.OpponentPlacedPayload) {
	if p.PlayerID == d.cfg.Player {
		return
	}
	d.machine.ApplyRemotePlacement(p.PlayerID, p.Placement)
}

func (d *Deployment) onOpponentRemoved(p api.OpponentRemovedPayload) {
	if p.PlayerID == d.cfg.Player {
		return
	}
	d.machine.ApplyRemoteRemoval(p.PlayerID, p.CreatureID)
}

func (d *Deployment) onOpponentUpdated(p api.OpponentUpdatedPayload) {
	if p.PlayerID == d.cfg.Player {
		return
	}
	d.machine.SyncPlacementsFromServer(p.PlayerID, p.Placements)
}

func (d *Deployment) onStatusChanged(s domain.DeploymentStatus) {
	d.machine.ApplyStatus(s)
	d.setStatus(s)
}

func (d *Deployment) onCombatStarted(p api.CombatStartedPayload) {
	d.mu.Lock()
	d.combatStarted = true
	d.mu.Unlock()
	for _, pl := range domain.Players {
		d.machine.MarkLocked(pl)
	}
	d.log.Info("combat started")
	d.combatBus.Publish(p.MatchID)
}

func (d *Deployment) onLinkStatus(s syncclient.Status) {
	if s == syncclient.StatusFailed {
		d.setError(syncclient.ErrReconnectExhausted)
	}
}

// onChange переносит изменения машины в рендерер. Вызывается вне блокировки машины.
func (d *Deployment) onChange(c deployment.Change) {
	switch c.Kind {
	case deployment.ChangePlaced:
		if c.Placement != nil {
			d.renderPlacement(c.Player, *c.Placement)
		}
	case deployment.ChangeRemoved:
		d.removeVisual(c.Player, c.CreatureID)
	case deployment.ChangeSynced:
		d.resync(c.Player)
	case deployment.ChangeDrag:
		d.refreshDragHighlight()
	}
}

func unitID(player domain.PlayerID, creatureID string) string {
	return string(player) + ":" + creatureID
}

func (d *Deployment) opacity(player domain.PlayerID) float64 {
	if player == d.cfg.Player {
		return OwnOpacity
	}
	return OpponentOpacity
}

func (d *Deployment) renderPlacement(player domain.PlayerID, p domain.Placement) {
	id := unitID(player, p.Creature.ID)
	d.mu.Lock()
	d.rendered[id] = player
	d.mu.Unlock()

	d.renderer.RenderUnit(render.UnitParams{
		UnitID:  id,
		Hex:     p.Hex,
		Player:  player,
		Name:    p.Creature.Name,
		Sprite:  p.Creature.Sprite,
		Opacity: d.opacity(player),
		Facing:  p.Creature.Facing,
	})
}

func (d *Deployment) removeVisual(player domain.PlayerID, creatureID string) {
	id := unitID(player, creatureID)
	d.mu.Lock()
	delete(d.rendered, id)
	d.mu.Unlock()
	d.renderer.RemoveUnit(id)
}

// resync приводит визуалы стороны к её текущим размещениям.
func (d *Deployment) resync(player domain.PlayerID) {
	placements := d.machine.Placements(player)
	keep := make(map[string]struct{}, len(placements))
	for _, p := range placements {
		keep[unitID(player, p.Creature.ID)] = struct{}{}
	}

	d.mu.Lock()
	var stale []string
	for id, owner := range d.rendered {
		if _, ok := keep[id]; owner == player && !ok {
			stale = append(stale, id)
			delete(d.rendered, id)
		}
	}
	d.mu.Unlock()

	for _, id := range stale {
		d.renderer.RemoveUnit(id)
	}
	for _, p := range placements {
		d.renderPlacement(player, p)
	}
}

func (d *Deployment) refreshDragHighlight() {
	drag := d.machine.Drag()
	switch {
	case drag.Phase != domain.DragDragging:
		d.renderer.UpdateHighlight(nil, render.HighlightNone)
	case drag.TargetHex == nil:
		d.renderer.UpdateHighlight(drag.SourceHex, render.HighlightSelected)
	case drag.IsValid:
		d.renderer.UpdateHighlight(drag.TargetHex, render.HighlightValid)
	default:
		d.renderer.UpdateHighlight(drag.TargetHex, render.HighlightInvalid)
	}
}

// --- Локальные действия ---

// Place размещает (или перемещает) существо и отправляет результат серверу.
// Отказ валидации не отправляется; ошибка отправки становится видимым состоянием.
func (d *Deployment) Place(c domain.Creature, h hex.Coord) (deployment.ValidationResult, error) {
	ok, res := d.machine.PlaceFor(d.cfg.Player, c, h)
	if !ok {
		return res, nil
	}
	return res, d.sendPlacement(c.ID)
}

func (d *Deployment) sendPlacement(creatureID string) error {
	st := d.machine.State(d.cfg.Player)
	idx := st.PlacementIndex(creatureID)
	if idx < 0 {
		return nil
	}
	if err := d.channel.Place(st.Placements[idx]); err != nil {
		d.setError(fmt.Errorf("send placement: %w", err))
		return err
	}
	return nil
}

// Remove снимает своё существо.
func (d *Deployment) Remove(creatureID string) (bool, error) {
	if !d.machine.RemoveFor(d.cfg.Player, creatureID) {
		return false, nil
	}
	if err := d.channel.Remove(creatureID); err != nil {
		d.setError(fmt.Errorf("send removal: %w", err))
		return true, err
	}
	return true, nil
}

// MarkReady отмечает готовность. Без размещений возвращает ErrNotReadyable.
func (d *Deployment) MarkReady() error {
	if !d.machine.MarkReady(d.cfg.Player) {
		return ErrNotReadyable
	}
	if err := d.channel.Ready(); err != nil {
		d.setError(fmt.Errorf("send ready: %w", err))
		return err
	}
	return nil
}

// MarkUnready снимает готовность.
func (d *Deployment) MarkUnready() error {
	if !d.machine.MarkUnready(d.cfg.Player) {
		return nil
	}
	if err := d.channel.Unready(); err != nil {
		d.setError(fmt.Errorf("send unready: %w", err))
		return err
	}
	return nil
}

// --- Ввод (ebitenview.Controller) ---

// PointerDown начинает жест: со своего размещения или из выбранного ростера.
func (d *Deployment) PointerDown(x, y float64) {
	h, ok := d.renderer.HexAt(x, y)
	if !ok {
		return
	}
	if p, found := d.machine.Occupant(h); found {
		if d.ownsPlacement(p) {
			d.machine.StartDrag(p.Creature, &h)
		}
		return
	}
	if c, ok := d.Selected(); ok {
		d.machine.StartDrag(c, nil)
		d.machine.UpdateDrag(&h)
	}
}

func (d *Deployment) ownsPlacement(p domain.Placement) bool {
	return d.machine.State(d.cfg.Player).PlacementIndex(p.Creature.ID) >= 0
}

func (d *Deployment) PointerMove(x, y float64) {
	h, ok := d.renderer.HexAt(x, y)
	if d.machine.Drag().Phase == domain.DragDragging {
		if ok {
			d.machine.UpdateDrag(&h)
		} else {
			d.machine.UpdateDrag(nil)
		}
		return
	}
	if ok {
		d.renderer.UpdateHighlight(&h, render.HighlightHover)
	} else {
		d.renderer.UpdateHighlight(nil, render.HighlightNone)
	}
}

func (d *Deployment) PointerUp(x, y float64) {
	drag := d.machine.Drag()
	if drag.Phase != domain.DragDragging {
		return
	}
	h, ok := d.renderer.HexAt(x, y)
	if !ok {
		d.machine.CancelDrag()
		return
	}
	if d.machine.EndDrag(&h) {
		_ = d.sendPlacement(drag.Creature.ID)
	}
}

func (d *Deployment) Key(k ebitenview.Key) {
	switch k {
	case ebitenview.KeyReady:
		if err := d.MarkReady(); errors.Is(err, ErrNotReadyable) {
			d.setError(err)
		}
	case ebitenview.KeyUnready:
		_ = d.MarkUnready()
	case ebitenview.KeyCancel:
		d.machine.CancelDrag()
		d.ClearError()
	case ebitenview.KeyRemove:
		if c, ok := d.Selected(); ok {
			_, _ = d.Remove(c.ID)
		}
	case ebitenview.KeyNext:
		d.SelectNext()
	}
}

// Selected — выбранное в ростере существо.
func (d *Deployment) Selected() (domain.Creature, bool) {
	roster := d.machine.State(d.cfg.Player).Roster
	d.mu.Lock()
	idx := d.selected
	d.mu.Unlock()
	if idx < 0 || idx >= len(roster) {
		return domain.Creature{}, false
	}
	return roster[idx], true
}

// SelectNext переключает выбор по кругу.
func (d *Deployment) SelectNext() {
	n := len(d.machine.State(d.cfg.Player).Roster)
	if n == 0 {
		return
	}
	d.mu.Lock()
	d.selected = (d.selected + 1) % n
	d.mu.Unlock()
}

func (d *Deployment) Tick(dt time.Duration) error {
	d.renderer.Update(dt)
	return nil
}

// HUD — строки статуса для окна.
func (d *Deployment) HUD() []string {
	st := d.machine.State(d.cfg.Player)
	lines := []string{
		fmt.Sprintf("match %s as %s [%s]", d.cfg.MatchID, d.cfg.Player, d.channel.Status()),
		fmt.Sprintf("placed %d/%d ready=%v locked=%v", len(st.Placements), st.MaxCreatures, st.IsReady, st.IsLocked),
	}
	if c, ok := d.Selected(); ok {
		lines = append(lines, "selected: "+c.Name+"  [Tab] next  [R] ready  [U] unready")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opponentConnected {
		lines = append(lines, "waiting for opponent")
	}
	if d.status.Countdown > 0 {
		lines = append(lines, fmt.Sprintf("combat in %ds", d.status.Countdown))
	}
	if d.err != nil {
		lines = append(lines, "error: "+d.err.Error())
	}
	return lines
}

// --- Наблюдаемое состояние ---

func (d *Deployment) setError(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	d.log.WithError(err).Warn("deployment error")
}

// Err — последняя ошибка протокола или транспорта.
func (d *Deployment) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// ClearError сбрасывает видимую ошибку (пользователь её увидел).
func (d *Deployment) ClearError() {
	d.mu.Lock()
	d.err = nil
	d.mu.Unlock()
}

func (d *Deployment) setStatus(s domain.DeploymentStatus) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

// MatchStatus — последний статус от сервера.
func (d *Deployment) MatchStatus() domain.DeploymentStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Deployment) setOpponentConnected(v bool) {
	d.mu.Lock()
	d.opponentConnected = v
	d.mu.Unlock()
}

// OpponentConnected сообщает, подключён ли соперник.
func (d *Deployment) OpponentConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opponentConnected
}

// CombatStarted сообщает, пришёл ли combat-started.
func (d *Deployment) CombatStarted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.combatStarted
}

// OnCombatStarted подписывает приложение на переход к бою.
func (d *Deployment) OnCombatStarted(fn func(matchID string)) eventbus.Unsubscribe {
	return d.combatBus.Subscribe(fn)
}

// Close снимает все подписки, закрывает канал и уничтожает рендерер. Повторный вызов безопасен.
func (d *Deployment) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	d.combatBus.Clear()
	d.renderer.Destroy()
	return d.channel.Close()
}

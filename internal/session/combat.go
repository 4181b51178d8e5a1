package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"drawn-of-war/internal/combat"
	"drawn-of-war/internal/domain"
	"drawn-of-war/internal/render"
	"drawn-of-war/internal/render/ebitenview"
	"drawn-of-war/internal/syncclient"
	"drawn-of-war/pkg/api"
	"drawn-of-war/pkg/eventbus"
	"drawn-of-war/pkg/logger"
)

// maxLogLines — длина журнала событий боя.
const maxLogLines = 64

// CombatChannel — то, что экран боя использует от syncclient.CombatClient.
type CombatChannel interface {
	Join(ctx context.Context) error
	RequestState() error
	Leave() error
	Status() syncclient.Status

	OnSnapshot(func(domain.CombatSnapshot)) eventbus.Unsubscribe
	OnEvents(func([]domain.CombatEvent)) eventbus.Unsubscribe
	OnCompleted(func(domain.CombatResult)) eventbus.Unsubscribe
	OnError(func(api.ErrorPayload)) eventbus.Unsubscribe
}

var _ CombatChannel = (*syncclient.CombatClient)(nil)

// CombatConfig — параметры экрана боя.
type CombatConfig struct {
	MatchID string
	Player  domain.PlayerID
	// Sprites — спрайты существ по creatureId (снимок может не нести спрайт).
	Sprites map[string]domain.SpriteRef
}

type unitTrack struct {
	anim  render.AnimationState
	dying bool
}

// Combat — контроллер экрана боя: снимки -> детектор -> анимации.
type Combat struct {
	cfg      CombatConfig
	channel  CombatChannel
	renderer *render.GridRenderer
	anim     *render.AnimationManager
	detector *combat.Detector
	log      *logrus.Entry

	mu     sync.Mutex
	subs   []eventbus.Unsubscribe
	units  map[string]*unitTrack
	lines  []string
	result *domain.CombatResult
	err    error
	tick   int64
	closed bool

	eventBus *eventbus.Bus[domain.CombatEvent]
}

// NewCombat собирает экран. Рендерер должен использовать strategy.
func NewCombat(cfg CombatConfig, ch CombatChannel, r *render.GridRenderer, strategy *render.AnimatedStrategy) *Combat {
	return &Combat{
		cfg:      cfg,
		channel:  ch,
		renderer: r,
		anim:     strategy.Anim,
		detector: combat.NewDetector(),
		log:      logger.Match("combat-session", cfg.MatchID, string(cfg.Player)),
		units:    make(map[string]*unitTrack),
		eventBus: eventbus.New[domain.CombatEvent](),
	}
}

func (c *Combat) Renderer() *render.GridRenderer { return c.renderer }

// Start подписывается, входит в комнату и запрашивает текущее состояние.
func (c *Combat) Start(ctx context.Context) error {
	c.mu.Lock()
	c.subs = append(c.subs,
		c.channel.OnSnapshot(c.ApplySnapshot),
		c.channel.OnEvents(c.onExplicitEvents),
		c.channel.OnCompleted(c.onCompleted),
		c.channel.OnError(func(e api.ErrorPayload) { c.setError(e) }),
		c.anim.OnAnimationComplete(c.onAnimationComplete),
	)
	c.mu.Unlock()

	if err := c.channel.Join(ctx); err != nil {
		c.setError(fmt.Errorf("join combat: %w", err))
		return err
	}
	return c.channel.RequestState()
}

// OnEvent подписывает на события боя (явные и выведенные) в порядке применения.
func (c *Combat) OnEvent(fn func(domain.CombatEvent)) eventbus.Unsubscribe {
	return c.eventBus.Subscribe(fn)
}

// ApplySnapshot применяет снимок целиком. Устаревшие снимки отбрасываются.
func (c *Combat) ApplySnapshot(snap domain.CombatSnapshot) {
	detected, err := c.detector.DetectChanges(snap)
	switch {
	case errors.Is(err, combat.ErrStaleSnapshot):
		c.log.WithField("tick", snap.Tick).Debug("stale snapshot dropped")
		return
	case err != nil:
		c.log.WithError(err).Warn("invalid snapshot dropped")
		return
	}

	c.mu.Lock()
	c.tick = snap.Tick
	c.mu.Unlock()

	seen := make(map[string]struct{}, len(snap.Units))
	for i := range snap.Units {
		u := &snap.Units[i]
		seen[u.UnitID] = struct{}{}
		c.renderUnit(u)
	}
	c.removeMissing(seen)

	for _, ev := range detected.All() {
		c.record(ev)
	}
}

func (c *Combat) renderUnit(u *domain.CombatUnit) {
	want := render.AnimIdle
	switch {
	case u.Status == domain.UnitDead:
		want = render.AnimDeath
	case u.IsAttacking:
		want = render.AnimAttack
	case u.IsMoving:
		want = render.AnimWalk
	}

	c.mu.Lock()
	track, ok := c.units[u.UnitID]
	if !ok {
		if want == render.AnimDeath {
			// Юнит впервые виден уже мёртвым: рисовать нечего.
			c.mu.Unlock()
			return
		}
		track = &unitTrack{}
		c.units[u.UnitID] = track
	}
	if track.dying {
		c.mu.Unlock()
		return
	}
	// Незацикленные клипы запускаются только на переходе, иначе каждый тик перезапускал бы их.
	anim := render.AnimationState("")
	if track.anim != want {
		anim = want
		track.anim = want
	}
	track.dying = want == render.AnimDeath
	c.mu.Unlock()

	sprite := c.cfg.Sprites[u.CreatureID]
	if u.Sprite != nil && !u.Sprite.IsZero() {
		sprite = *u.Sprite
	}
	name := u.Name
	if name == "" {
		name = u.CreatureID
	}
	c.renderer.RenderUnit(render.UnitParams{
		UnitID:    u.UnitID,
		Hex:       u.Position,
		Player:    u.OwnerID,
		Name:      name,
		Sprite:    sprite,
		Opacity:   OwnOpacity,
		Facing:    u.Facing,
		Animation: anim,
		Health:    u.Health,
		MaxHealth: u.MaxHealth,
	})

	// У заглушки нет анимации: смерть завершается сразу.
	if anim == render.AnimDeath {
		if _, animated := c.anim.Entry(u.UnitID); !animated {
			c.dropUnit(u.UnitID)
		}
	}
}

func (c *Combat) removeMissing(seen map[string]struct{}) {
	c.mu.Lock()
	var gone []string
	for id := range c.units {
		if _, ok := seen[id]; !ok {
			gone = append(gone, id)
		}
	}
	c.mu.Unlock()

	for _, id := range gone {
		c.dropUnit(id)
	}
}

func (c *Combat) dropUnit(id string) {
	c.mu.Lock()
	delete(c.units, id)
	c.mu.Unlock()
	c.renderer.RemoveUnit(id)
}

func (c *Combat) onAnimationComplete(done render.AnimationComplete) {
	switch done.State {
	case render.AnimDeath:
		c.dropUnit(done.UnitID)
	case render.AnimAttack:
		c.mu.Lock()
		track, ok := c.units[done.UnitID]
		if ok && !track.dying {
			track.anim = render.AnimIdle
		}
		c.mu.Unlock()
		if ok {
			c.anim.Play(done.UnitID, render.AnimIdle)
		}
	}
}

func (c *Combat) onExplicitEvents(events []domain.CombatEvent) {
	for _, ev := range events {
		c.record(ev)
	}
}

func (c *Combat) record(ev domain.CombatEvent) {
	line := formatEvent(ev)
	c.mu.Lock()
	c.lines = append(c.lines, line)
	if over := len(c.lines) - maxLogLines; over > 0 {
		c.lines = append(c.lines[:0], c.lines[over:]...)
	}
	c.mu.Unlock()
	c.eventBus.Publish(ev)
}

func formatEvent(ev domain.CombatEvent) string {
	switch ev.Type {
	case domain.EventDamage:
		return fmt.Sprintf("[%d] %s takes %d damage (%d -> %d)", ev.Tick, ev.UnitID, ev.Amount, ev.OldHealth, ev.NewHealth)
	case domain.EventHeal:
		return fmt.Sprintf("[%d] %s heals %d (%d -> %d)", ev.Tick, ev.UnitID, ev.Amount, ev.OldHealth, ev.NewHealth)
	case domain.EventDeath:
		return fmt.Sprintf("[%d] %s dies", ev.Tick, ev.UnitID)
	case domain.EventBuffApplied, domain.EventDebuffApplied:
		return fmt.Sprintf("[%d] %s gains %s", ev.Tick, ev.UnitID, ev.Effect)
	case domain.EventBuffRemoved, domain.EventDebuffRemoved:
		return fmt.Sprintf("[%d] %s loses %s", ev.Tick, ev.UnitID, ev.Effect)
	case domain.EventAttack:
		return fmt.Sprintf("[%d] %s attacks %s", ev.Tick, ev.UnitID, ev.TargetID)
	}
	return fmt.Sprintf("[%d] %s %s", ev.Tick, ev.UnitID, ev.Type)
}

func (c *Combat) onCompleted(r domain.CombatResult) {
	c.mu.Lock()
	c.result = &r
	c.mu.Unlock()
	c.log.WithFields(logrus.Fields{"winner": r.Winner, "reason": r.Reason}).Info("combat completed")
}

// Log — копия журнала событий.
func (c *Combat) Log() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// Result — итог боя, если он уже пришёл.
func (c *Combat) Result() (domain.CombatResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return domain.CombatResult{}, false
	}
	return *c.result, true
}

func (c *Combat) setError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.log.WithError(err).Warn("combat error")
}

func (c *Combat) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// UnitCount — число отслеживаемых юнитов.
func (c *Combat) UnitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.units)
}

// --- ebitenview.Controller ---

func (c *Combat) Tick(dt time.Duration) error {
	c.renderer.Update(dt)
	return nil
}

func (c *Combat) PointerMove(x, y float64) {
	if h, ok := c.renderer.HexAt(x, y); ok {
		c.renderer.UpdateHighlight(&h, render.HighlightHover)
		return
	}
	c.renderer.UpdateHighlight(nil, render.HighlightNone)
}

func (c *Combat) PointerDown(x, y float64) {
	if h, ok := c.renderer.HexAt(x, y); ok {
		c.renderer.UpdateHighlight(&h, render.HighlightSelected)
	}
}

func (c *Combat) PointerUp(float64, float64) {}

func (c *Combat) Key(k ebitenview.Key) {
	if k == ebitenview.KeyCancel {
		c.renderer.UpdateHighlight(nil, render.HighlightNone)
	}
}

func (c *Combat) HUD() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines := []string{fmt.Sprintf("combat %s tick %d units %d [%s]", c.cfg.MatchID, c.tick, len(c.units), c.channel.Status())}
	if c.result != nil {
		winner := string(c.result.Winner)
		if winner == "" {
			winner = "draw"
		}
		lines = append(lines, fmt.Sprintf("result: %s (%s)", winner, c.result.Reason))
	}
	if c.err != nil {
		lines = append(lines, "error: "+c.err.Error())
	}
	tail := c.lines
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}
	return append(lines, tail...)
}

// Close покидает комнату, снимает подписки и уничтожает рендерер.
func (c *Combat) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	c.eventBus.Clear()
	c.renderer.Destroy()
	c.anim.Destroy()
	return c.channel.Leave()
}

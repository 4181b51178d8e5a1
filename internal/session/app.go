package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"drawn-of-war/internal/domain"
	"drawn-of-war/internal/render"
	"drawn-of-war/internal/render/ebitenview"
	"drawn-of-war/pkg/logger"
)

// Screens собирает экраны. Реализация в cmd/client связывает syncclient, assets и рендереры.
type Screens interface {
	Deployment(ctx context.Context) (*Deployment, error)
	// Combat получает спрайты существ, известные по итогам расстановки.
	Combat(ctx context.Context, sprites map[string]domain.SpriteRef) (*Combat, error)
}

type screen interface {
	ebitenview.Controller
	Close() error
}

// App переключает экран расстановки на экран боя по combat-started и реализует ebitenview.Controller.
type App struct {
	screens Screens
	host    render.Host
	log     *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	current    screen
	deployment *Deployment
	combat     *Combat
	err        error
	switching  bool
	closed     bool
}

func NewApp(screens Screens, host render.Host) *App {
	return &App{screens: screens, host: host, log: logger.Component("app")}
}

// Start открывает экран расстановки.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	d, err := a.screens.Deployment(a.ctx)
	if err != nil {
		return fmt.Errorf("build deployment screen: %w", err)
	}
	if err := d.Renderer().Init(a.ctx, a.host); err != nil {
		_ = d.Close()
		return fmt.Errorf("init deployment renderer: %w", err)
	}

	a.mu.Lock()
	a.deployment = d
	a.current = d
	a.mu.Unlock()

	d.OnCombatStarted(func(string) { a.beginCombat() })
	// Ошибка join остаётся видимой на экране, поэтому Start не падает.
	if err := d.Start(a.ctx); err != nil {
		a.log.WithError(err).Warn("deployment join failed")
	}
	return nil
}

// beginCombat вызывается из горутины чтения канала; подключение к бою идёт отдельно,
// чтобы не блокировать ни канал, ни цикл отрисовки.
func (a *App) beginCombat() {
	a.mu.Lock()
	if a.switching || a.combat != nil || a.closed {
		a.mu.Unlock()
		return
	}
	a.switching = true
	d := a.deployment
	a.mu.Unlock()

	sprites := make(map[string]domain.SpriteRef)
	for _, p := range domain.Players {
		for _, pl := range d.Machine().Placements(p) {
			if !pl.Creature.Sprite.IsZero() {
				sprites[pl.Creature.ID] = pl.Creature.Sprite
			}
		}
	}

	go a.switchToCombat(sprites)
}

func (a *App) switchToCombat(sprites map[string]domain.SpriteRef) {
	err := a.openCombat(sprites)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.switching = false
	if err != nil {
		a.err = err
		a.log.WithError(err).Error("failed to open combat screen")
	}
}

func (a *App) openCombat(sprites map[string]domain.SpriteRef) error {
	c, err := a.screens.Combat(a.ctx, sprites)
	if err != nil {
		return fmt.Errorf("build combat screen: %w", err)
	}

	// Сцена расстановки должна открепиться до того, как прикрепится сцена боя.
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return c.Close()
	}
	d := a.deployment
	a.deployment = nil
	a.current = c
	a.combat = c
	a.mu.Unlock()

	if d != nil {
		if err := d.Close(); err != nil {
			a.log.WithError(err).Debug("closing deployment channel")
		}
	}
	if err := c.Renderer().Init(a.ctx, a.host); err != nil {
		return fmt.Errorf("init combat renderer: %w", err)
	}
	if err := c.Start(a.ctx); err != nil {
		a.log.WithError(err).Warn("combat join failed")
	}
	a.log.Info("switched to combat screen")
	return nil
}

func (a *App) screen() screen {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Deployment — текущий экран расстановки (nil после перехода к бою).
func (a *App) Deployment() *Deployment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deployment
}

// Combat — экран боя, если переход уже состоялся.
func (a *App) Combat() *Combat {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.combat
}

func (a *App) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// --- ebitenview.Controller ---

func (a *App) Renderer() *render.GridRenderer {
	if s := a.screen(); s != nil {
		return s.Renderer()
	}
	return nil
}

func (a *App) Tick(dt time.Duration) error {
	if s := a.screen(); s != nil {
		return s.Tick(dt)
	}
	return nil
}

func (a *App) PointerMove(x, y float64) {
	if s := a.screen(); s != nil {
		s.PointerMove(x, y)
	}
}

func (a *App) PointerDown(x, y float64) {
	if s := a.screen(); s != nil {
		s.PointerDown(x, y)
	}
}

func (a *App) PointerUp(x, y float64) {
	if s := a.screen(); s != nil {
		s.PointerUp(x, y)
	}
}

func (a *App) Key(k ebitenview.Key) {
	if s := a.screen(); s != nil {
		s.Key(k)
	}
}

func (a *App) HUD() []string {
	s := a.screen()
	var lines []string
	if s != nil {
		lines = s.HUD()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.switching {
		lines = append(lines, "entering combat...")
	}
	if a.err != nil {
		lines = append(lines, "error: "+a.err.Error())
	}
	return lines
}

// Close закрывает текущий экран. Повторный вызов безопасен.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	s := a.current
	a.current = nil
	a.deployment = nil
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	if s != nil {
		return s.Close()
	}
	return nil
}

package render

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"drawn-of-war/internal/deployment"
	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/hex"
	"drawn-of-war/pkg/logger"
)

// ErrDestroyed — операция над уничтоженным рендерером.
var ErrDestroyed = errors.New("render: renderer destroyed")

// Host — поверхность, к которой прикрепляется сцена (окно ebiten, тестовый стенд).
type Host interface {
	Attach(stage *Container) error
	Detach(stage *Container)
}

// Config — параметры рендерера. Layout неизменяем на всё время жизни экземпляра.
type Config struct {
	Layout          hex.Layout
	Zones           deployment.Zones
	ShowZones       bool
	ShowCoordinates bool
	CanvasWidth     float64
	CanvasHeight    float64
	Strategy        VisualStrategy
	Textures        TextureSource
	// Preload — спрайты, которые Init загрузит заранее (ростер игрока).
	Preload []domain.SpriteRef
}

// pendingLoad — асинхронная загрузка для юнита. params всегда последние запрошенные.
type pendingLoad struct {
	token  uint64
	params UnitParams
}

// GridRenderer рисует сетку один раз и инкрементально ведёт реестр визуалов по id юнита.
type GridRenderer struct {
	mu  sync.Mutex
	cfg Config
	log *logrus.Entry

	stage          *Container
	gridLayer      *Graphics
	highlightLayer *Graphics
	unitLayer      *Container

	highlightHex   *hex.Coord
	highlightState HighlightState

	units     map[string]*unitVisual
	pending   map[string]*pendingLoad
	nextToken uint64

	host        Host
	initialized bool
	destroyed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewGridRenderer создаёт рендерер. Сетка строится в Init.
func NewGridRenderer(cfg Config) *GridRenderer {
	if cfg.Layout.Width == 0 {
		cfg.Layout = hex.DefaultLayout()
	}
	if cfg.Zones.Player2.MaxCol == 0 {
		cfg.Zones = deployment.NewZones(cfg.Layout.Width, deployment.DefaultZoneDepth)
	}
	if cfg.Strategy == nil {
		cfg.Strategy = StaticStrategy{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &GridRenderer{
		cfg:            cfg,
		log:            logger.Component("renderer"),
		stage:          NewContainer("stage"),
		gridLayer:      NewGraphics("grid"),
		highlightLayer: NewGraphics("highlight"),
		unitLayer:      NewContainer("units"),
		highlightState: HighlightNone,
		units:          make(map[string]*unitVisual),
		pending:        make(map[string]*pendingLoad),
		ctx:            ctx,
		cancel:         cancel,
	}
	r.stage.AddChild(r.gridLayer)
	r.stage.AddChild(r.highlightLayer)
	r.stage.AddChild(r.unitLayer)
	r.resizeLocked(cfg.CanvasWidth, cfg.CanvasHeight)
	return r
}

// Layout возвращает конфигурацию сетки.
func (r *GridRenderer) Layout() hex.Layout {
	return r.cfg.Layout
}

// Init загружает ресурсы, рисует статическую сетку и прикрепляет сцену к host.
// Destroy может прийти в любой момент: флаг проверяется до и после асинхронного шага,
// и уничтоженный рендерер никогда не прикрепляется.
func (r *GridRenderer) Init(ctx context.Context, host Host) error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		r.log.Debug("init skipped: renderer already destroyed")
		return nil
	}
	if r.initialized {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.preload(ctx); err != nil {
		return fmt.Errorf("preload sprites: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		r.log.Debug("renderer destroyed during init, not attaching")
		return nil
	}

	r.drawGridLocked()
	if host != nil {
		if err := host.Attach(r.stage); err != nil {
			return fmt.Errorf("attach stage: %w", err)
		}
		r.host = host
	}
	r.initialized = true
	return nil
}

// preload параллельно загружает спрайты ростера. Ошибки отдельных ассетов не фатальны.
func (r *GridRenderer) preload(ctx context.Context) error {
	if r.cfg.Textures == nil || len(r.cfg.Preload) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, ref := range r.cfg.Preload {
		if ref.IsZero() {
			continue
		}
		g.Go(func() error {
			if _, err := r.cfg.Textures.Load(gctx, ref); err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				r.log.WithError(err).WithField("sprite", ref.Key()).Warn("preload failed")
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *GridRenderer) drawGridLocked() {
	l := r.cfg.Layout
	g := r.gridLayer
	g.Clear()

	border := color.RGBA{R: 0x47, G: 0x55, B: 0x69, A: 0xff}
	neutral := color.RGBA{R: 0x1e, G: 0x29, B: 0x3b, A: 0xff}
	for _, c := range l.Coords() {
		fill := neutral
		if r.cfg.ShowZones {
			if owner, ok := r.cfg.Zones.Owner(c); ok {
				tc := deployment.TeamColor(owner)
				fill = color.RGBA{R: tc.R / 3, G: tc.G / 3, B: tc.B / 3, A: 0xff}
			}
		}
		corners := l.Corners(c)
		g.Polygon(corners[:], fill, border, 1)
		if r.cfg.ShowCoordinates {
			p := l.ToPixel(c)
			g.Text(hex.Point{X: p.X - 10, Y: p.Y - 6}, c.Hash(), color.RGBA{R: 0x94, G: 0xa3, B: 0xb8, A: 0xff})
		}
	}
}

// Resize пересчитывает центрирующее смещение для нового размера холста.
func (r *GridRenderer) Resize(width, height float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resizeLocked(width, height)
}

func (r *GridRenderer) resizeLocked(width, height float64) {
	r.cfg.CanvasWidth, r.cfg.CanvasHeight = width, height
	if width <= 0 || height <= 0 {
		b := r.cfg.Layout.Bounds()
		width, height = b.Width(), b.Height()
	}
	r.stage.SetPosition(r.cfg.Layout.CenterOffset(width, height))
}

// Offset — текущее смещение сетки на холсте.
func (r *GridRenderer) Offset() hex.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return hex.Point{X: r.stage.X, Y: r.stage.Y}
}

// HexAt переводит точку холста в гекс; false вне сетки.
func (r *GridRenderer) HexAt(x, y float64) (hex.Coord, bool) {
	r.mu.Lock()
	p := hex.Point{X: x - r.stage.X, Y: y - r.stage.Y}
	r.mu.Unlock()

	c := r.cfg.Layout.FromPixel(p)
	return c, r.cfg.Layout.IsValid(c)
}

// RenderUnit создаёт или обновляет визуал юнита.
// Существующий визуал меняется на месте и никогда не пересоздаётся при перемещении.
func (r *GridRenderer) RenderUnit(p UnitParams) {
	if p.Opacity <= 0 {
		p.Opacity = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}

	if v, ok := r.units[p.UnitID]; ok {
		r.updateLocked(v, p)
		return
	}

	if pl, ok := r.pending[p.UnitID]; ok {
		// Загрузка уже идёт: запоминаем последние параметры, вторую не начинаем.
		if pl.params.Sprite.Key() == p.Sprite.Key() {
			pl.params = p
			return
		}
		// Спрайт сменился до появления визуала: результат старой загрузки отбросится по токену.
		delete(r.pending, p.UnitID)
	}

	if p.Sprite.IsZero() || r.cfg.Textures == nil {
		r.createLocked(p, nil)
		return
	}

	if frames, ok := r.cfg.Textures.Cached(p.Sprite); ok {
		r.createLocked(p, frames)
		return
	}

	r.nextToken++
	pl := &pendingLoad{token: r.nextToken, params: p}
	r.pending[p.UnitID] = pl
	go r.load(p.UnitID, pl.token, p.Sprite)
}

func (r *GridRenderer) load(unitID string, token uint64, ref domain.SpriteRef) {
	frames, err := r.cfg.Textures.Load(r.ctx, ref)

	r.mu.Lock()
	defer r.mu.Unlock()

	pl, ok := r.pending[unitID]
	if r.destroyed || !ok || pl.token != token {
		// Юнит удалён или рендерер уничтожен, пока шла загрузка.
		r.log.WithField("unit_id", unitID).Debug("discarding stale sprite load")
		return
	}
	delete(r.pending, unitID)

	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"unit_id": unitID, "sprite": ref.Key()}).Warn("sprite load failed, using placeholder")
		frames = nil
	}

	// Смена спрайта у существующего юнита: меняем тело, текущее остается при ошибке.
	if v, ok := r.units[unitID]; ok {
		if frames != nil && hasStill(frames, v.params.Facing) {
			r.cfg.Strategy.Forget(v.id)
			r.cfg.Strategy.Build(v, frames, v.params)
		}
		return
	}
	r.createLocked(pl.params, frames)
}

func (r *GridRenderer) createLocked(p UnitParams, frames *SpriteFrames) {
	v := newUnitVisual(p, r.cfg.Layout.HexSize)
	if frames != nil && hasStill(frames, p.Facing) {
		r.cfg.Strategy.Build(v, frames, p)
	} else {
		v.setBody(placeholder(p.Name, p.Player, r.cfg.Layout.HexSize))
	}
	v.setHealth(p.Health, p.MaxHealth)
	v.group.SetPosition(r.cfg.Layout.ToPixel(p.Hex))
	v.group.Alpha = p.Opacity

	r.unitLayer.AddChild(v.group)
	r.units[p.UnitID] = v
}

func hasStill(frames *SpriteFrames, facing hex.Direction) bool {
	view, _ := frames.ViewFor(facing)
	return view.Still() != nil
}

func (r *GridRenderer) updateLocked(v *unitVisual, p UnitParams) {
	v.group.SetPosition(r.cfg.Layout.ToPixel(p.Hex))
	v.group.Alpha = p.Opacity
	if v.params.Player != p.Player {
		v.drawGlow(p.Player)
	}
	v.setHealth(p.Health, p.MaxHealth)
	r.cfg.Strategy.Update(v, p)

	v.params = p

	if key := p.Sprite.Key(); key != v.spriteKey && !p.Sprite.IsZero() && r.cfg.Textures != nil {
		v.spriteKey = key
		// Загрузка прежнего спрайта больше не нужна.
		delete(r.pending, v.id)
		if frames, ok := r.cfg.Textures.Cached(p.Sprite); ok {
			if hasStill(frames, p.Facing) {
				r.cfg.Strategy.Forget(v.id)
				r.cfg.Strategy.Build(v, frames, p)
			}
			return
		}
		r.nextToken++
		r.pending[v.id] = &pendingLoad{token: r.nextToken, params: p}
		go r.load(v.id, r.nextToken, p.Sprite)
	}
}

// RemoveUnit уничтожает группу юнита и отменяет его загрузку. Неизвестный id — no-op.
func (r *GridRenderer) RemoveUnit(unitID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(unitID)
}

func (r *GridRenderer) removeLocked(unitID string) {
	delete(r.pending, unitID)
	v, ok := r.units[unitID]
	if !ok {
		return
	}
	r.cfg.Strategy.Forget(unitID)
	v.destroy()
	delete(r.units, unitID)
}

// ClearAll удаляет все визуалы и отменяет все загрузки.
func (r *GridRenderer) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.units {
		r.removeLocked(id)
	}
	clear(r.pending)
}

// UpdateHighlight заменяет единственную подсветку.
func (r *GridRenderer) UpdateHighlight(h *hex.Coord, state HighlightState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.highlightLayer.Clear()
	r.highlightHex = nil
	r.highlightState = HighlightNone
	if h == nil || state == HighlightNone || !r.cfg.Layout.IsValid(*h) {
		return
	}
	colors, ok := highlightColors[state]
	if !ok {
		return
	}

	at := *h
	corners := r.cfg.Layout.Corners(at)
	r.highlightLayer.Polygon(corners[:], colors.fill, colors.stroke, 2)
	r.highlightHex = &at
	r.highlightState = state
}

// Highlight возвращает текущую подсветку.
func (r *GridRenderer) Highlight() (*hex.Coord, HighlightState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.highlightHex == nil {
		return nil, HighlightNone
	}
	h := *r.highlightHex
	return &h, r.highlightState
}

// Update продвигает анимации. Уведомления о завершении рассылаются после снятия блокировки.
func (r *GridRenderer) Update(dt time.Duration) {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.cfg.Strategy.Advance(dt)
	r.mu.Unlock()

	r.cfg.Strategy.Flush()
}

// View выполняет fn над сценой под блокировкой рендерера (для бэкенда отрисовки).
func (r *GridRenderer) View(fn func(stage *Container)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}
	fn(r.stage)
}

// Destroy безопасен на любом этапе жизненного цикла, в том числе во время Init.
func (r *GridRenderer) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}
	r.destroyed = true
	r.cancel()

	for id := range r.units {
		r.removeLocked(id)
	}
	clear(r.pending)
	if r.host != nil {
		r.host.Detach(r.stage)
		r.host = nil
	}
	r.stage.Destroy()
}

// Destroyed сообщает, уничтожен ли рендерер.
func (r *GridRenderer) Destroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// Initialized сообщает, завершён ли Init.
func (r *GridRenderer) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

// UnitCount — число зарегистрированных визуалов.
func (r *GridRenderer) UnitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.units)
}

// PendingCount — число незавершённых загрузок.
func (r *GridRenderer) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// UnitInfo — наблюдаемое состояние визуала.
type UnitInfo struct {
	Position    hex.Point
	Hex         hex.Coord
	Opacity     float64
	Mirrored    bool
	Placeholder bool
	Texture     *Texture
}

// Unit возвращает состояние визуала юнита.
func (r *GridRenderer) Unit(unitID string) (UnitInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.units[unitID]
	if !ok {
		return UnitInfo{}, false
	}
	info := UnitInfo{
		Position:    hex.Point{X: v.group.X, Y: v.group.Y},
		Hex:         v.params.Hex,
		Opacity:     v.group.Alpha,
		Placeholder: v.sprite == nil,
	}
	if v.sprite != nil {
		info.Mirrored = v.sprite.ScaleX < 0
		info.Texture = v.sprite.Texture
	}
	return info, true
}

// UnitLayerSize — число групп в слое юнитов (для проверки отсутствия дубликатов).
func (r *GridRenderer) UnitLayerSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.unitLayer.Children())
}

package ebitenview

import (
	"image/color"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"

	"drawn-of-war/internal/render"
)

// Key — клавиши, которые понимают экраны.
type Key string

const (
	KeyReady   Key = "ready"
	KeyUnready Key = "unready"
	KeyCancel  Key = "cancel"
	KeyRemove  Key = "remove"
	KeyNext    Key = "next"
)

var keyBindings = map[ebiten.Key]Key{
	ebiten.KeyR:         KeyReady,
	ebiten.KeyU:         KeyUnready,
	ebiten.KeyEscape:    KeyCancel,
	ebiten.KeyDelete:    KeyRemove,
	ebiten.KeyBackspace: KeyRemove,
	ebiten.KeyTab:       KeyNext,
}

// Controller — экран (расстановка или бой), которым управляет Game.
// Координаты указателя — в пикселях холста.
type Controller interface {
	Renderer() *render.GridRenderer
	Tick(dt time.Duration) error
	PointerMove(x, y float64)
	PointerDown(x, y float64)
	PointerUp(x, y float64)
	Key(k Key)
	HUD() []string
}

// Game адаптирует Controller к циклу ebiten.
type Game struct {
	ctrl   Controller
	view   *View
	width  int
	height int
	last   time.Time
	lastX  int
	lastY  int
	now    func() time.Time
}

func NewGame(ctrl Controller, view *View, width, height int) *Game {
	return &Game{ctrl: ctrl, view: view, width: width, height: height, lastX: -1, lastY: -1, now: time.Now}
}

func (g *Game) Update() error {
	now := g.now()
	dt := time.Second / time.Duration(ebiten.TPS())
	if !g.last.IsZero() {
		dt = now.Sub(g.last)
	}
	g.last = now

	x, y := ebiten.CursorPosition()
	if x != g.lastX || y != g.lastY {
		g.lastX, g.lastY = x, y
		g.ctrl.PointerMove(float64(x), float64(y))
	}
	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		g.ctrl.PointerDown(float64(x), float64(y))
	}
	if inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonLeft) {
		g.ctrl.PointerUp(float64(x), float64(y))
	}
	for ek, k := range keyBindings {
		if inpututil.IsKeyJustPressed(ek) {
			g.ctrl.Key(k)
		}
	}
	return g.ctrl.Tick(dt)
}

func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{R: 0x0f, G: 0x17, B: 0x2a, A: 0xff})
	g.view.Draw(screen, g.ctrl.Renderer())

	for i, line := range g.ctrl.HUD() {
		op := &text.DrawOptions{}
		op.GeoM.Translate(8, float64(8+i*16))
		op.ColorScale.ScaleWithColor(color.RGBA{R: 0xe2, G: 0xe8, B: 0xf0, A: 0xff})
		text.Draw(screen, line, glyphFace, op)
	}
}

// Layout пересчитывает центрирование сетки при изменении окна.
func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	if outsideWidth != g.width || outsideHeight != g.height {
		g.width, g.height = outsideWidth, outsideHeight
		g.ctrl.Renderer().Resize(float64(outsideWidth), float64(outsideHeight))
	}
	return g.width, g.height
}

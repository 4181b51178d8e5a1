// Package ebitenview рисует граф сцены render на ebiten.Image.
package ebitenview

import (
	"errors"
	"image/color"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"golang.org/x/image/font/basicfont"

	"drawn-of-war/internal/render"
)

var ErrAlreadyAttached = errors.New("ebitenview: another stage is attached")

var glyphFace = text.NewGoXFace(basicfont.Face7x13)

// View — Host для GridRenderer. Держит ebiten-изображения текстур;
// текстуры общие для юнитов, поэтому кеш живёт дольше отдельных визуалов.
// Один View обслуживает рендереры экранов по очереди: следующий прикрепляется после Destroy предыдущего.
type View struct {
	mu     sync.Mutex
	stage  *render.Container
	images map[*render.Texture]*ebiten.Image
}

func NewView() *View {
	return &View{images: make(map[*render.Texture]*ebiten.Image)}
}

// Attach вызывается рендерером в конце Init.
func (v *View) Attach(stage *render.Container) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stage != nil && v.stage != stage {
		return ErrAlreadyAttached
	}
	v.stage = stage
	return nil
}

// Detach вызывается из Destroy рендерера. GPU-изображения освобождаются.
func (v *View) Detach(stage *render.Container) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stage != stage {
		return
	}
	v.stage = nil
	for tex, img := range v.images {
		img.Deallocate()
		delete(v.images, tex)
	}
}

// Attached сообщает, прикреплена ли сцена.
func (v *View) Attached() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stage != nil
}

// Draw рисует сцену r, если она прикреплена к этому View. До Init и после Destroy ничего не делает.
func (v *View) Draw(screen *ebiten.Image, r *render.GridRenderer) {
	if r == nil || !v.Attached() {
		return
	}
	r.View(func(stage *render.Container) {
		v.mu.Lock()
		ours := v.stage == stage
		v.mu.Unlock()
		if ours {
			v.drawNode(screen, stage, ebiten.GeoM{}, 1)
		}
	})
}

func (v *View) drawNode(dst *ebiten.Image, n render.Node, parent ebiten.GeoM, parentAlpha float64) {
	t := n.Base()
	if !t.Visible || t.Destroyed() {
		return
	}
	alpha := parentAlpha * t.Alpha
	if alpha <= 0 {
		return
	}
	geo := localGeoM(t)
	geo.Concat(parent)

	switch node := n.(type) {
	case *render.Container:
		for _, child := range node.Children() {
			v.drawNode(dst, child, geo, alpha)
		}
	case *render.Sprite:
		v.drawSprite(dst, node, geo, alpha)
	case *render.Graphics:
		for _, s := range node.Shapes() {
			drawShape(dst, s, geo, alpha)
		}
	}
}

// localGeoM — масштаб, затем перенос: так зеркалирование (ScaleX < 0) происходит вокруг якоря.
func localGeoM(t *render.Transform) ebiten.GeoM {
	var g ebiten.GeoM
	sx, sy := t.ScaleX, t.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	g.Scale(sx, sy)
	g.Translate(t.X, t.Y)
	return g
}

func (v *View) drawSprite(dst *ebiten.Image, s *render.Sprite, geo ebiten.GeoM, alpha float64) {
	if s.Texture == nil || s.Texture.Image == nil {
		return
	}
	img := v.image(s.Texture)
	w, h := s.Texture.Size()

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Translate(-w*s.AnchorX, -h*s.AnchorY)
	op.GeoM.Concat(geo)
	op.ColorScale.ScaleAlpha(float32(alpha))
	op.Filter = ebiten.FilterLinear
	dst.DrawImage(img, op)
}

func (v *View) image(tex *render.Texture) *ebiten.Image {
	v.mu.Lock()
	defer v.mu.Unlock()
	img, ok := v.images[tex]
	if !ok {
		img = ebiten.NewImageFromImage(tex.Image)
		v.images[tex] = img
	}
	return img
}

func drawShape(dst *ebiten.Image, s render.Shape, geo ebiten.GeoM, alpha float64) {
	switch s.Kind {
	case render.ShapePolygon:
		if len(s.Points) < 3 {
			return
		}
		var path vector.Path
		for i, p := range s.Points {
			x, y := geo.Apply(p.X, p.Y)
			if i == 0 {
				path.MoveTo(float32(x), float32(y))
				continue
			}
			path.LineTo(float32(x), float32(y))
		}
		path.Close()

		fill := &vector.DrawPathOptions{AntiAlias: true}
		fill.ColorScale.ScaleWithColor(fade(s.Fill, alpha))
		vector.FillPath(dst, &path, &vector.FillOptions{}, fill)

		if s.StrokeWidth > 0 && s.Stroke.A > 0 {
			stroke := &vector.DrawPathOptions{AntiAlias: true}
			stroke.ColorScale.ScaleWithColor(fade(s.Stroke, alpha))
			vector.StrokePath(dst, &path, &vector.StrokeOptions{Width: float32(s.StrokeWidth), LineJoin: vector.LineJoinRound}, stroke)
		}
	case render.ShapeCircle:
		x, y := geo.Apply(s.Center.X, s.Center.Y)
		vector.FillCircle(dst, float32(x), float32(y), float32(s.Radius), fade(s.Fill, alpha), true)
	case render.ShapeRect:
		x, y := geo.Apply(s.Center.X, s.Center.Y)
		vector.FillRect(dst, float32(x), float32(y), float32(s.Width), float32(s.Height), fade(s.Fill, alpha), false)
	case render.ShapeText:
		x, y := geo.Apply(s.Center.X, s.Center.Y)
		op := &text.DrawOptions{}
		op.GeoM.Translate(x, y)
		op.ColorScale.ScaleWithColor(fade(s.Fill, alpha))
		text.Draw(dst, s.Text, glyphFace, op)
	}
}

// fade трактует цвета сцены как непремультиплицированные и умножает их альфу.
func fade(c color.RGBA, alpha float64) color.NRGBA {
	a := float64(c.A) * alpha
	a = min(max(a, 0), 255)
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(a)}
}

package render

import (
	"image/color"
	"strings"
	"unicode"
	"unicode/utf8"

	"drawn-of-war/internal/deployment"
	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/hex"
)

// unitVisual — запись реестра, ключ — id юнита, а не гекс. Создаётся при первой
// отрисовке, затем меняется на месте и уничтожается ровно один раз.
type unitVisual struct {
	id     string
	group  *Container
	glow   *Graphics
	health *Graphics
	body   Node
	sprite *Sprite

	frames    *SpriteFrames
	spriteKey string
	hexSize   float64
	baseScale float64
	params    UnitParams
}

func newUnitVisual(p UnitParams, hexSize float64) *unitVisual {
	v := &unitVisual{
		id:        p.UnitID,
		group:     NewContainer("unit:" + p.UnitID),
		glow:      NewGraphics("glow"),
		hexSize:   hexSize,
		spriteKey: p.Sprite.Key(),
		params:    p,
	}
	// Свечение — первый ребёнок группы, поэтому рисуется позади спрайта и двигается вместе с ним.
	v.group.AddChild(v.glow)
	v.drawGlow(p.Player)
	return v
}

func (v *unitVisual) drawGlow(player domain.PlayerID) {
	c := deployment.TeamColor(player)
	v.glow.Clear()
	v.glow.Circle(hex.Point{}, v.hexSize*0.8, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0x40})
	v.glow.Circle(hex.Point{}, v.hexSize*0.55, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0x60})
}

// setBody заменяет тело визуала, сохраняя группу (идентичность визуала).
func (v *unitVisual) setBody(n Node) {
	if v.body != nil {
		v.body.Destroy()
	}
	v.body = n
	v.sprite, _ = n.(*Sprite)
	idx := 1
	if v.health != nil {
		idx = len(v.group.Children()) - 1
	}
	v.group.AddChildAt(n, idx)

	v.baseScale = 1
	if v.sprite != nil {
		if w, h := v.sprite.Texture.Size(); w > 0 && h > 0 {
			v.baseScale = v.hexSize * 1.6 / max(w, h)
		}
	}
}

func (v *unitVisual) applyScale(mirrored bool) {
	if v.sprite == nil {
		return
	}
	v.sprite.ScaleX = v.baseScale
	if mirrored {
		v.sprite.ScaleX = -v.baseScale
	}
	v.sprite.ScaleY = v.baseScale
}

// setHealth рисует полоску здоровья над юнитом (только если известен максимум).
func (v *unitVisual) setHealth(hp, maxHP int) {
	if maxHP <= 0 {
		if v.health != nil {
			v.health.Destroy()
			v.health = nil
		}
		return
	}
	if v.health == nil {
		v.health = NewGraphics("health")
		v.group.AddChild(v.health)
	}
	ratio := float64(hp) / float64(maxHP)
	ratio = min(max(ratio, 0), 1)

	w := v.hexSize * 1.2
	top := hex.Point{X: -w / 2, Y: -v.hexSize * 0.95}
	v.health.Clear()
	v.health.Rect(top, w, 4, color.RGBA{A: 0xb0})
	fill := color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff}
	if ratio < 0.35 {
		fill = color.RGBA{R: 0xef, G: 0x44, B: 0x44, A: 0xff}
	}
	v.health.Rect(top, w*ratio, 4, fill)
}

func (v *unitVisual) destroy() {
	v.group.Destroy()
	v.body = nil
	v.sprite = nil
	v.frames = nil
}

// placeholder — детерминированная заглушка: круг цвета команды и первая буква имени.
func placeholder(name string, player domain.PlayerID, hexSize float64) *Graphics {
	g := NewGraphics("placeholder")
	c := deployment.TeamColor(player)
	g.Circle(hex.Point{}, hexSize*0.5, c)
	g.Text(hex.Point{X: -3.5, Y: -6.5}, initial(name), color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
	return g
}

func initial(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "?"
	}
	r, _ := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r))
}

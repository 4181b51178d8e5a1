// Package render — движок отрисовки гексовой сетки и существ.
//
// Рендерер строит сохраняемый граф сцены (Container / Sprite / Graphics), а бэкенд
// (см. render/ebitenview) только обходит его и рисует. Граф не знает о GPU:
// это позволяет тестировать жизненный цикл визуалов без окна.
package render

import (
	"image"
	"image/color"

	"drawn-of-war/pkg/hex"
)

// Texture — общий декодированный ресурс. Узлы ссылаются на текстуры, но никогда их не освобождают:
// текстурами владеет кеш ассетов.
type Texture struct {
	Key   string
	Image image.Image
}

// Size — размер текстуры в пикселях.
func (t *Texture) Size() (float64, float64) {
	if t == nil || t.Image == nil {
		return 0, 0
	}
	b := t.Image.Bounds()
	return float64(b.Dx()), float64(b.Dy())
}

// Node — элемент графа сцены.
type Node interface {
	Base() *Transform
	Destroy()
}

// Transform — общие свойства узлов. Координаты локальные относительно родителя.
type Transform struct {
	Name    string
	X, Y    float64
	ScaleX  float64
	ScaleY  float64
	Alpha   float64
	Visible bool

	parent    *Container
	destroyed bool
}

func newTransform(name string) Transform {
	return Transform{Name: name, ScaleX: 1, ScaleY: 1, Alpha: 1, Visible: true}
}

func (t *Transform) Base() *Transform { return t }

func (t *Transform) Parent() *Container { return t.parent }

func (t *Transform) Destroyed() bool { return t.destroyed }

// SetPosition — сахар для X/Y.
func (t *Transform) SetPosition(p hex.Point) {
	t.X, t.Y = p.X, p.Y
}

func (t *Transform) detach() {
	if t.parent != nil {
		t.parent.removeBase(t)
	}
}

// Container группирует узлы; дети рисуются в порядке добавления.
type Container struct {
	Transform
	children []Node
}

func NewContainer(name string) *Container {
	return &Container{Transform: newTransform(name)}
}

// AddChild перевешивает узел в этот контейнер.
func (c *Container) AddChild(n Node) {
	n.Base().detach()
	n.Base().parent = c
	c.children = append(c.children, n)
}

// AddChildAt вставляет узел на позицию idx (0 — самый нижний).
func (c *Container) AddChildAt(n Node, idx int) {
	n.Base().detach()
	n.Base().parent = c
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c.children) {
		c.children = append(c.children, n)
		return
	}
	c.children = append(c.children, nil)
	copy(c.children[idx+1:], c.children[idx:])
	c.children[idx] = n
}

// RemoveChild отцепляет узел, не уничтожая его.
func (c *Container) RemoveChild(n Node) bool {
	return c.removeBase(n.Base())
}

func (c *Container) removeBase(t *Transform) bool {
	for i, child := range c.children {
		if child.Base() == t {
			c.children = append(c.children[:i], c.children[i+1:]...)
			t.parent = nil
			return true
		}
	}
	return false
}

// Children возвращает детей; срез нельзя изменять.
func (c *Container) Children() []Node {
	return c.children
}

// Destroy уничтожает поддерево и отцепляет контейнер от родителя.
func (c *Container) Destroy() {
	if c.destroyed {
		return
	}
	children := c.children
	c.children = nil
	for _, child := range children {
		child.Base().parent = nil
		child.Destroy()
	}
	c.detach()
	c.destroyed = true
}

// Sprite рисует текстуру с якорем (0.5, 0.5 — центр).
type Sprite struct {
	Transform
	Texture *Texture
	AnchorX float64
	AnchorY float64
}

func NewSprite(name string, tex *Texture) *Sprite {
	return &Sprite{Transform: newTransform(name), Texture: tex, AnchorX: 0.5, AnchorY: 0.5}
}

// Destroy отцепляет спрайт. Текстура остаётся в кеше.
func (s *Sprite) Destroy() {
	if s.destroyed {
		return
	}
	s.detach()
	s.Texture = nil
	s.destroyed = true
}

// ShapeKind — вид примитива Graphics.
type ShapeKind uint8

const (
	ShapePolygon ShapeKind = iota
	ShapeCircle
	ShapeRect
	ShapeText
)

// Shape — один примитив в локальных координатах Graphics.
type Shape struct {
	Kind        ShapeKind
	Points      []hex.Point
	Center      hex.Point
	Radius      float64
	Width       float64
	Height      float64
	Fill        color.RGBA
	Stroke      color.RGBA
	StrokeWidth float64
	Text        string
}

// Graphics — векторные примитивы, которыми владеет сам узел.
type Graphics struct {
	Transform
	shapes []Shape
}

func NewGraphics(name string) *Graphics {
	return &Graphics{Transform: newTransform(name)}
}

func (g *Graphics) Shapes() []Shape { return g.shapes }

func (g *Graphics) Clear() { g.shapes = g.shapes[:0] }

func (g *Graphics) Polygon(points []hex.Point, fill, stroke color.RGBA, strokeWidth float64) {
	g.shapes = append(g.shapes, Shape{Kind: ShapePolygon, Points: points, Fill: fill, Stroke: stroke, StrokeWidth: strokeWidth})
}

func (g *Graphics) Circle(center hex.Point, radius float64, fill color.RGBA) {
	g.shapes = append(g.shapes, Shape{Kind: ShapeCircle, Center: center, Radius: radius, Fill: fill})
}

func (g *Graphics) Rect(topLeft hex.Point, w, h float64, fill color.RGBA) {
	g.shapes = append(g.shapes, Shape{Kind: ShapeRect, Center: topLeft, Width: w, Height: h, Fill: fill})
}

func (g *Graphics) Text(at hex.Point, text string, col color.RGBA) {
	g.shapes = append(g.shapes, Shape{Kind: ShapeText, Center: at, Text: text, Fill: col})
}

// Destroy освобождает примитивы.
func (g *Graphics) Destroy() {
	if g.destroyed {
		return
	}
	g.detach()
	g.shapes = nil
	g.destroyed = true
}

// Walk обходит поддерево в порядке отрисовки. fn возвращает false, чтобы не спускаться в детей.
func Walk(n Node, fn func(Node) bool) {
	if !fn(n) {
		return
	}
	if c, ok := n.(*Container); ok {
		for _, child := range c.children {
			Walk(child, fn)
		}
	}
}

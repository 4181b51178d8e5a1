package hex

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Projection — визуальная проекция одной и той же решётки.
type Projection string

const (
	ProjectionPlanar    Projection = "planar"
	ProjectionIsometric Projection = "isometric"
)

// isoMatrix — фиксированное линейное преобразование изометрии:
// x' = (x - y) * 0.5, y' = (x + y) * 0.25.
var isoMatrix = mgl64.Mat2FromRows(
	mgl64.Vec2{0.5, -0.5},
	mgl64.Vec2{0.25, 0.25},
)

var isoInverse = isoMatrix.Inv()

var sqrt3 = math.Sqrt(3)

// Point — точка в пикселях (до смещения рендерера).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect — ограничивающий прямоугольник в пикселях.
type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

func (r Rect) Width() float64  { return r.MaxX - r.MinX }
func (r Rect) Height() float64 { return r.MaxY - r.MinY }

// Layout — неизменяемая конфигурация сетки (HexGridConfig).
// Ориентация всегда flat-top.
type Layout struct {
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	HexSize    float64    `json:"hexSize"`
	Projection Projection `json:"projection"`
}

// DefaultLayout — поле 12x8, как в боевом режиме.
func DefaultLayout() Layout {
	return Layout{
		Width:      12,
		Height:     8,
		HexSize:    32,
		Projection: ProjectionPlanar,
	}
}

// Validate проверяет размеры сетки.
func (l Layout) Validate() error {
	if l.Width <= 0 || l.Height <= 0 {
		return fmt.Errorf("grid size must be positive, got %dx%d", l.Width, l.Height)
	}
	if l.HexSize <= 0 {
		return fmt.Errorf("hex size must be positive, got %v", l.HexSize)
	}
	switch l.Projection {
	case ProjectionPlanar, ProjectionIsometric:
	default:
		return fmt.Errorf("unknown projection %q", l.Projection)
	}
	return nil
}

// IsValid — true, если 0 <= q < width и 0 <= r < height.
func (l Layout) IsValid(c Coord) bool {
	return c.Q >= 0 && c.Q < l.Width && c.R >= 0 && c.R < l.Height
}

// project применяет проекцию. Центры и вершины обязаны проходить через одну и ту же функцию,
// иначе полигоны разъедутся со спрайтами.
func (l Layout) project(x, y float64) Point {
	if l.Projection != ProjectionIsometric {
		return Point{X: x, Y: y}
	}
	v := isoMatrix.Mul2x1(mgl64.Vec2{x, y})
	return Point{X: v.X(), Y: v.Y()}
}

func (l Layout) unproject(p Point) (float64, float64) {
	if l.Projection != ProjectionIsometric {
		return p.X, p.Y
	}
	v := isoInverse.Mul2x1(mgl64.Vec2{p.X, p.Y})
	return v.X(), v.Y()
}

// ToPixel возвращает центр гекса. Чистая функция от координаты и размера.
func (l Layout) ToPixel(c Coord) Point {
	x := l.HexSize * 1.5 * float64(c.Q)
	y := l.HexSize * sqrt3 * (float64(c.R) + float64(c.Q)/2)
	return l.project(x, y)
}

// FromPixel — обратное преобразование с округлением к ближайшему гексу.
func (l Layout) FromPixel(p Point) Coord {
	x, y := l.unproject(p)
	q := (2.0 / 3.0 * x) / l.HexSize
	r := (-1.0/3.0*x + sqrt3/3.0*y) / l.HexSize
	return cubeRound(q, r)
}

// Corners возвращает 6 вершин полигона гекса в той же проекции, что и центр.
func (l Layout) Corners(c Coord) [6]Point {
	cx := l.HexSize * 1.5 * float64(c.Q)
	cy := l.HexSize * sqrt3 * (float64(c.R) + float64(c.Q)/2)

	var corners [6]Point
	for i := 0; i < 6; i++ {
		angle := math.Pi / 3 * float64(i)
		corners[i] = l.project(
			cx+l.HexSize*math.Cos(angle),
			cy+l.HexSize*math.Sin(angle),
		)
	}
	return corners
}

// Bounds считает ограничивающий прямоугольник по ВСЕМ крайним гексам, а не только по углам:
// изометрия смещает настоящие границы. Результат не кешируется.
func (l Layout) Bounds() Rect {
	if l.Width <= 0 || l.Height <= 0 {
		return Rect{}
	}

	r := Rect{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
	extend := func(c Coord) {
		for _, p := range l.Corners(c) {
			r.MinX = math.Min(r.MinX, p.X)
			r.MinY = math.Min(r.MinY, p.Y)
			r.MaxX = math.Max(r.MaxX, p.X)
			r.MaxY = math.Max(r.MaxY, p.Y)
		}
	}

	for q := 0; q < l.Width; q++ {
		extend(Coord{Q: q, R: 0})
		extend(Coord{Q: q, R: l.Height - 1})
	}
	for row := 1; row < l.Height-1; row++ {
		extend(Coord{Q: 0, R: row})
		extend(Coord{Q: l.Width - 1, R: row})
	}
	return r
}

// CenterOffset возвращает смещение, центрирующее сетку на холсте заданного размера.
// Вызывается заново при каждом изменении холста или размера гекса.
func (l Layout) CenterOffset(canvasW, canvasH float64) Point {
	b := l.Bounds()
	return Point{
		X: (canvasW-b.Width())/2 - b.MinX,
		Y: (canvasH-b.Height())/2 - b.MinY,
	}
}

// DirectionBetween вычисляет направление взгляда при переходе from -> to
// по углу между центрами гексов в текущей проекции.
func (l Layout) DirectionBetween(from, to Coord) (Direction, bool) {
	a := l.ToPixel(from)
	b := l.ToPixel(to)
	return DirectionFromDelta(b.X-a.X, b.Y-a.Y)
}

// Coords перечисляет все валидные гексы сетки (по столбцам).
func (l Layout) Coords() []Coord {
	out := make([]Coord, 0, l.Width*l.Height)
	for q := 0; q < l.Width; q++ {
		for r := 0; r < l.Height; r++ {
			out = append(out, Coord{Q: q, R: r})
		}
	}
	return out
}

func cubeRound(fq, fr float64) Coord {
	fs := -fq - fr
	q := math.Round(fq)
	r := math.Round(fr)
	s := math.Round(fs)

	dq := math.Abs(q - fq)
	dr := math.Abs(r - fr)
	ds := math.Abs(s - fs)

	if dq > dr && dq > ds {
		q = -r - s
	} else if dr > ds {
		r = -q - s
	}
	return Coord{Q: int(q), R: int(r)}
}

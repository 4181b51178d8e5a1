package deployment

import (
	"image/color"

	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/hex"
)

// DefaultZoneDepth — ширина зоны расстановки в столбцах.
const DefaultZoneDepth = 3

// Цвета команд. Используются и для подсветки зон, и для свечения за спрайтом.
var (
	TeamColorPlayer1 = color.RGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff}
	TeamColorPlayer2 = color.RGBA{R: 0xef, G: 0x44, B: 0x44, A: 0xff}
)

// Zone — диапазон столбцов [MinCol, MaxCol] (включительно), закреплённый за игроком.
type Zone struct {
	Player domain.PlayerID
	MinCol int
	MaxCol int
	Color  color.RGBA
}

// Contains проверяет только столбец; границы по строкам проверяет Layout.
func (z Zone) Contains(h hex.Coord) bool {
	return h.Q >= z.MinCol && h.Q <= z.MaxCol
}

// Center — центральный столбец зоны (для выбора направления "к центру").
func (z Zone) Center() float64 {
	return float64(z.MinCol+z.MaxCol) / 2
}

// Zones — пара зон матча. Это конфигурация, а не доменная логика.
type Zones struct {
	Player1 Zone
	Player2 Zone
}

// NewZones строит зоны для сетки шириной width: первые depth столбцов у player1,
// последние depth столбцов у player2.
func NewZones(width, depth int) Zones {
	if depth <= 0 {
		depth = DefaultZoneDepth
	}
	if depth*2 > width {
		depth = width / 2
	}
	return Zones{
		Player1: Zone{Player: domain.Player1, MinCol: 0, MaxCol: depth - 1, Color: TeamColorPlayer1},
		Player2: Zone{Player: domain.Player2, MinCol: width - depth, MaxCol: width - 1, Color: TeamColorPlayer2},
	}
}

// For возвращает зону стороны.
func (z Zones) For(p domain.PlayerID) Zone {
	if p == domain.Player2 {
		return z.Player2
	}
	return z.Player1
}

// Owner возвращает сторону, в чьей зоне лежит гекс.
func (z Zones) Owner(h hex.Coord) (domain.PlayerID, bool) {
	switch {
	case z.Player1.Contains(h):
		return domain.Player1, true
	case z.Player2.Contains(h):
		return domain.Player2, true
	}
	return "", false
}

// TeamColor — цвет стороны.
func TeamColor(p domain.PlayerID) color.RGBA {
	if p == domain.Player2 {
		return TeamColorPlayer2
	}
	return TeamColorPlayer1
}

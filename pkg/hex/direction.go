package hex

import (
	"fmt"
	"math"
	"strings"
)

// Direction — одно из шести направлений взгляда юнита.
// Порядок: против часовой стрелки от востока (экранная ось Y направлена вниз).
type Direction uint8

const (
	DirE Direction = iota
	DirNE
	DirNW
	DirW
	DirSW
	DirSE
)

var directionNames = [6]string{"E", "NE", "NW", "W", "SW", "SE"}

// Directions — все шесть направлений в порядке против часовой стрелки от E.
var Directions = [6]Direction{DirE, DirNE, DirNW, DirW, DirSW, DirSE}

func (d Direction) String() string {
	if int(d) < len(directionNames) {
		return directionNames[d]
	}
	return "UNKNOWN"
}

// ParseDirection конвертирует строку ("e", "NE", ...) в Direction.
func ParseDirection(s string) (Direction, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range directionNames {
		if name == upper {
			return Direction(i), nil
		}
	}
	return DirE, fmt.Errorf("unknown direction %q", s)
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(data []byte) error {
	parsed, err := ParseDirection(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Opposite возвращает противоположное направление.
func (d Direction) Opposite() Direction {
	return (d + 3) % 6
}

// View — одна из трёх хранимых проекций спрайта.
type View string

const (
	ViewE  View = "E"
	ViewNE View = "NE"
	ViewSE View = "SE"
)

// ViewFor выбирает хранимую проекцию для направления.
// Западные направления получаются зеркалированием восточных:
// W <- E, NW <- NE, SW <- SE.
func (d Direction) ViewFor() (view View, mirrored bool) {
	switch d {
	case DirNE:
		return ViewNE, false
	case DirSE:
		return ViewSE, false
	case DirW:
		return ViewE, true
	case DirNW:
		return ViewNE, true
	case DirSW:
		return ViewSE, true
	default:
		return ViewE, false
	}
}

// boundaryEpsilon сдвигает значения, лежащие ровно на границе секторов, к восточной половине.
const boundaryEpsilon = 1e-6

// DirectionFromDelta привязывает вектор (dx, dy) в экранных координатах
// к ближайшему из шести направлений (секторы по 60°, E = 0°).
// Строго вертикальное движение вверх даёт NE, вниз — SE.
func DirectionFromDelta(dx, dy float64) (Direction, bool) {
	if dx == 0 && dy == 0 {
		return DirE, false
	}

	// Переходим к математической системе (Y вверх).
	deg := math.Atan2(-dy, dx) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}

	if deg <= 180 {
		deg -= boundaryEpsilon
	} else {
		deg += boundaryEpsilon
	}

	sector := int(math.Floor((deg+30)/60)) % 6
	if sector < 0 {
		sector += 6
	}
	return Direction(sector), true
}

// Package hex реализует систему координат гексагональной сетки.
//
// Используются осевые координаты (q, r) и ориентация flat-top.
// Третья кубическая координата выводится как s = -q - r.
package hex

import (
	"strconv"
)

// Coord — осевая координата гекса. Сравнение структурное.
type Coord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S возвращает неявную третью кубическую координату.
func (c Coord) S() int {
	return -c.Q - c.R
}

// Hash возвращает канонический строковый ключ "q,r".
// Два гекса совпадают тогда и только тогда, когда совпадают их ключи.
func (c Coord) Hash() string {
	return strconv.Itoa(c.Q) + "," + strconv.Itoa(c.R)
}

// Equals — структурное сравнение (согласовано с Hash).
func (c Coord) Equals(other Coord) bool {
	return c.Q == other.Q && c.R == other.R
}

func (c Coord) Add(other Coord) Coord {
	return Coord{Q: c.Q + other.Q, R: c.R + other.R}
}

func (c Coord) String() string {
	return "(" + c.Hash() + ")"
}

// Hash — функциональная форма для использования в качестве ключа map.
func Hash(c Coord) string {
	return c.Hash()
}

// Equals — функциональная форма сравнения.
func Equals(a, b Coord) bool {
	return a.Equals(b)
}

// NeighborOffsets — шесть смещений соседей в осевых координатах.
var NeighborOffsets = [6]Coord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors возвращает шесть соседних координат (без проверки границ).
func (c Coord) Neighbors() [6]Coord {
	var result [6]Coord
	for i, off := range NeighborOffsets {
		result[i] = c.Add(off)
	}
	return result
}

// Distance возвращает гексагональное расстояние между координатами.
func Distance(a, b Coord) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	return max(dq, dr, ds)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

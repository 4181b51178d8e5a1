package domain

import "strings"

// PlayerID — идентификатор стороны матча.
type PlayerID string

const (
	Player1 PlayerID = "player1"
	Player2 PlayerID = "player2"
)

// Players — обе стороны в каноническом порядке.
var Players = [2]PlayerID{Player1, Player2}

// ParsePlayerID нормализует строку из сети ("Player1", "player2", ...).
func ParsePlayerID(s string) (PlayerID, bool) {
	switch PlayerID(strings.ToLower(strings.TrimSpace(s))) {
	case Player1:
		return Player1, true
	case Player2:
		return Player2, true
	}
	return "", false
}

// Opponent возвращает противоположную сторону.
func (p PlayerID) Opponent() PlayerID {
	if p == Player1 {
		return Player2
	}
	return Player1
}

func (p PlayerID) Valid() bool {
	return p == Player1 || p == Player2
}

func (p PlayerID) String() string {
	return string(p)
}

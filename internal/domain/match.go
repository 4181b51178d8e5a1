package domain

import "time"

// MatchRecord — сохраняемая часть матча: фаза и состояние расстановки обеих сторон.
type MatchRecord struct {
	MatchID   string                  `json:"matchId"`
	Phase     MatchPhase              `json:"phase"`
	Players   []PlayerDeploymentState `json:"players"`
	Result    *CombatResult           `json:"result,omitempty"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

// Player возвращает состояние стороны из записи.
func (r MatchRecord) Player(id PlayerID) (PlayerDeploymentState, bool) {
	for _, p := range r.Players {
		if p.PlayerID == id {
			return p, true
		}
	}
	return PlayerDeploymentState{}, false
}

// MatchInfo — публичное представление матча для REST и отладки.
type MatchInfo struct {
	MatchID           string           `json:"matchId"`
	Status            DeploymentStatus `json:"status"`
	Player1Placements []Placement      `json:"player1Placements"`
	Player2Placements []Placement      `json:"player2Placements"`
	Result            *CombatResult    `json:"result,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
}

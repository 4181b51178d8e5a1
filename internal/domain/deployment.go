package domain

import (
	"time"

	"drawn-of-war/pkg/hex"
)

// MaxCreatures — лимит размещений на одного игрока.
const MaxCreatures = 8

// PlayerDeploymentState — состояние расстановки одной стороны.
// IsLocked монотонен: однажды став true, он больше не сбрасывается.
type PlayerDeploymentState struct {
	PlayerID     PlayerID    `json:"playerId"`
	Roster       []Creature  `json:"roster"`
	Placements   []Placement `json:"placements"`
	MaxCreatures int         `json:"maxCreatures"`
	IsLocked     bool        `json:"isLocked"`
	IsReady      bool        `json:"isReady"`
	ReadyAt      *time.Time  `json:"readyAt,omitempty"`
}

// NewPlayerDeploymentState создаёт пустое состояние при входе в матч.
func NewPlayerDeploymentState(id PlayerID) *PlayerDeploymentState {
	return &PlayerDeploymentState{
		PlayerID:     id,
		Roster:       []Creature{},
		Placements:   []Placement{},
		MaxCreatures: MaxCreatures,
	}
}

// Clone — глубокая копия для наблюдателей.
func (s PlayerDeploymentState) Clone() PlayerDeploymentState {
	out := s
	out.Roster = append([]Creature{}, s.Roster...)
	out.Placements = ClonePlacements(s.Placements)
	if s.ReadyAt != nil {
		t := *s.ReadyAt
		out.ReadyAt = &t
	}
	return out
}

// PlacementIndex ищет размещение существа, -1 если нет.
func (s PlayerDeploymentState) PlacementIndex(creatureID string) int {
	for i, p := range s.Placements {
		if p.Creature.ID == creatureID {
			return i
		}
	}
	return -1
}

// PlacementAt ищет размещение на гексе.
func (s PlayerDeploymentState) PlacementAt(h hex.Coord) (Placement, bool) {
	key := h.Hash()
	for _, p := range s.Placements {
		if p.Hex.Hash() == key {
			return p, true
		}
	}
	return Placement{}, false
}

// DragPhase — фаза жеста перетаскивания.
type DragPhase string

const (
	DragIdle     DragPhase = "idle"
	DragDragging DragPhase = "dragging"
)

// DragState — транзиентное состояние одного жеста. Не сохраняется и не синхронизируется.
type DragState struct {
	Creature  *Creature  `json:"creature"`
	SourceHex *hex.Coord `json:"sourceHex"`
	Phase     DragPhase  `json:"phase"`
	TargetHex *hex.Coord `json:"targetHex"`
	IsValid   bool       `json:"isValid"`
}

// IdleDrag — состояние покоя.
func IdleDrag() DragState {
	return DragState{Phase: DragIdle}
}

// MatchPhase — фаза матча, видимая через status-changed.
type MatchPhase string

const (
	PhaseDeployment MatchPhase = "deployment"
	PhaseLocked     MatchPhase = "locked"
	PhaseCombat     MatchPhase = "combat"
	PhaseCompleted  MatchPhase = "completed"
)

// PlayerStatus — публичная часть состояния игрока.
type PlayerStatus struct {
	IsReady   bool       `json:"isReady"`
	IsLocked  bool       `json:"isLocked"`
	ReadyAt   *time.Time `json:"readyAt,omitempty"`
	Placed    int        `json:"placed"`
	Connected bool       `json:"connected"`
}

// DeploymentStatus — агрегированный статус матча.
type DeploymentStatus struct {
	Phase     MatchPhase   `json:"phase"`
	Player1   PlayerStatus `json:"player1"`
	Player2   PlayerStatus `json:"player2"`
	Countdown int          `json:"countdown,omitempty"`
}

// For возвращает статус указанной стороны.
func (s DeploymentStatus) For(p PlayerID) PlayerStatus {
	if p == Player2 {
		return s.Player2
	}
	return s.Player1
}

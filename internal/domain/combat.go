package domain

import (
	"encoding/json"

	"drawn-of-war/pkg/hex"
)

// CombatStatus — статус симуляции боя.
type CombatStatus string

const (
	CombatRunning   CombatStatus = "running"
	CombatPaused    CombatStatus = "paused"
	CombatCompleted CombatStatus = "completed"
)

// UnitStatus — жизненный статус юнита в снимке.
type UnitStatus string

const (
	UnitAlive UnitStatus = "alive"
	UnitDead  UnitStatus = "dead"
)

// CombatUnit — юнит в одном снимке боя.
type CombatUnit struct {
	UnitID        string        `json:"unitId"`
	CreatureID    string        `json:"creatureId"`
	OwnerID       PlayerID      `json:"ownerId"`
	Name          string        `json:"name,omitempty"`
	Position      hex.Coord     `json:"position"`
	Health        int           `json:"health"`
	MaxHealth     int           `json:"maxHealth"`
	Status        UnitStatus    `json:"status"`
	Facing        hex.Direction `json:"facing"`
	IsMoving      bool          `json:"isMoving,omitempty"`
	IsAttacking   bool          `json:"isAttacking,omitempty"`
	ActiveBuffs   []string      `json:"activeBuffs,omitempty"`
	ActiveDebuffs []string      `json:"activeDebuffs,omitempty"`
	Sprite        *SpriteRef    `json:"sprite,omitempty"`
}

// Projectile — снаряд в полёте.
type Projectile struct {
	ID       string    `json:"id"`
	SourceID string    `json:"sourceId"`
	TargetID string    `json:"targetId"`
	Position hex.Point `json:"position"`
	Progress float64   `json:"progress"`
}

// CombatEventType — вид дискретного события боя.
type CombatEventType string

const (
	EventDamage        CombatEventType = "damage"
	EventHeal          CombatEventType = "heal"
	EventDeath         CombatEventType = "death"
	EventBuffApplied   CombatEventType = "buff_applied"
	EventBuffRemoved   CombatEventType = "buff_removed"
	EventDebuffApplied CombatEventType = "debuff_applied"
	EventDebuffRemoved CombatEventType = "debuff_removed"
	EventAttack        CombatEventType = "attack"
	EventMove          CombatEventType = "move"
)

// CombatEvent — явное событие от сервера или выведенное из разницы снимков.
type CombatEvent struct {
	Type      CombatEventType `json:"type"`
	Tick      int64           `json:"tick"`
	UnitID    string          `json:"unitId"`
	TargetID  string          `json:"targetId,omitempty"`
	OldHealth int             `json:"oldHealth,omitempty"`
	NewHealth int             `json:"newHealth,omitempty"`
	Amount    int             `json:"amount,omitempty"`
	Effect    string          `json:"effect,omitempty"`
	Inferred  bool            `json:"inferred,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// CombatStatistics — агрегаты, которые сервер считает по ходу боя.
type CombatStatistics struct {
	TotalDamage map[PlayerID]int `json:"totalDamage,omitempty"`
	UnitsLost   map[PlayerID]int `json:"unitsLost,omitempty"`
	Duration    int64            `json:"durationMs,omitempty"`
}

// CombatSnapshot полностью заменяет представление мира для своего тика.
type CombatSnapshot struct {
	MatchID     string           `json:"matchId"`
	Tick        int64            `json:"tick"`
	Status      CombatStatus     `json:"status"`
	Units       []CombatUnit     `json:"units"`
	Projectiles []Projectile     `json:"projectiles"`
	Events      []CombatEvent    `json:"events"`
	Statistics  CombatStatistics `json:"statistics"`
	StartTime   int64            `json:"startTime"`
}

// UnitByID — индекс юнитов снимка.
func (s *CombatSnapshot) UnitByID() map[string]*CombatUnit {
	out := make(map[string]*CombatUnit, len(s.Units))
	for i := range s.Units {
		out[s.Units[i].UnitID] = &s.Units[i]
	}
	return out
}

// CombatResult — итог боя (combat-completed / completed).
type CombatResult struct {
	MatchID  string   `json:"matchId"`
	Winner   PlayerID `json:"winner,omitempty"`
	Reason   string   `json:"reason"`
	Duration int64    `json:"duration"`
}

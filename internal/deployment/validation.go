package deployment

import (
	"fmt"

	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/hex"
)

// Reason — закрытое перечисление причин отказа в размещении.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonLocked       Reason = "locked"
	ReasonMaxCreatures Reason = "max_creatures"
	ReasonOutOfZone    Reason = "out_of_zone"
	ReasonOccupied     Reason = "occupied"
)

// ValidationResult — результат проверки. Отказ — ожидаемый частый исход
// (например, наведение на занятый гекс при перетаскивании), поэтому это значение, а не ошибка.
type ValidationResult struct {
	Valid   bool   `json:"valid"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func ok() ValidationResult {
	return ValidationResult{Valid: true}
}

func reject(reason Reason, format string, args ...any) ValidationResult {
	return ValidationResult{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// validateLocked выполняет проверки строго по порядку, первая неудачная побеждает:
// блокировка -> лимит -> зона -> занятость. Вызывается под m.mu.
func (m *Machine) validateLocked(h hex.Coord, c domain.Creature, player domain.PlayerID) ValidationResult {
	st, found := m.players[player]
	if !found {
		return reject(ReasonOutOfZone, "unknown player %q", player)
	}

	if st.IsLocked {
		return reject(ReasonLocked, "deployment is locked for %s", player)
	}

	// Перемещение уже стоящего существа не расходует лимит.
	if st.PlacementIndex(c.ID) < 0 && len(st.Placements) >= m.maxCreatures() {
		return reject(ReasonMaxCreatures, "cannot place more than %d creatures", m.maxCreatures())
	}

	zone := m.cfg.Zones.For(player)
	if !m.cfg.Layout.IsValid(h) || !zone.Contains(h) {
		return reject(ReasonOutOfZone, "hex %s is outside the deployment zone (columns %d-%d)", h.Hash(), zone.MinCol, zone.MaxCol)
	}

	// Занятость проверяется по ОБОИМ игрокам. Своё же существо на этом гексе (перемещение на месте) допустимо.
	key := h.Hash()
	for _, id := range domain.Players {
		other := m.players[id]
		for _, p := range other.Placements {
			if p.Hex.Hash() != key {
				continue
			}
			if id != player || p.Creature.ID != c.ID {
				return reject(ReasonOccupied, "hex %s is occupied by %s", key, p.Creature.Name)
			}
		}
	}

	return ok()
}

func (m *Machine) maxCreatures() int {
	if m.cfg.MaxCreatures > 0 {
		return m.cfg.MaxCreatures
	}
	return domain.MaxCreatures
}

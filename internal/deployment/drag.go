package deployment

import (
	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/hex"
)

// Drag возвращает копию текущего DragState.
func (m *Machine) Drag() domain.DragState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneDrag(m.drag)
}

// StartDrag начинает жест за активного игрока. source == nil — существо берётся из ростера,
// иначе это перемещение уже стоящего существа. Пока жест идёт, размещение остаётся на месте:
// неудачный сброс ничего не удаляет.
// Новый жест поверх активного не начинается: сначала CancelDrag.
func (m *Machine) StartDrag(c domain.Creature, source *hex.Coord) bool {
	m.mu.Lock()
	if m.drag.Phase == domain.DragDragging {
		m.mu.Unlock()
		return false
	}
	st, found := m.players[m.active]
	if !found || st.IsLocked {
		m.mu.Unlock()
		return false
	}

	m.dragPlayer = m.active
	m.dragOrigin = nil
	if source != nil {
		src := *source
		if p, at := st.PlacementAt(src); at && p.Creature.ID == c.ID {
			origin := p
			m.dragOrigin = &origin
		}
		m.drag.SourceHex = &src
	}

	creature := c
	m.drag.Creature = &creature
	m.drag.Phase = domain.DragDragging
	m.drag.TargetHex = nil
	m.drag.IsValid = false
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeDrag, Player: m.active, CreatureID: c.ID})
	return true
}

// UpdateDrag пересчитывает IsValid для текущей цели. Вне жеста ничего не делает.
func (m *Machine) UpdateDrag(target *hex.Coord) ValidationResult {
	m.mu.Lock()
	if m.drag.Phase != domain.DragDragging {
		m.mu.Unlock()
		return ValidationResult{}
	}

	res := ValidationResult{}
	if target != nil {
		t := *target
		m.drag.TargetHex = &t
		res = m.validateLocked(t, *m.drag.Creature, m.dragPlayer)
	} else {
		m.drag.TargetHex = nil
	}
	m.drag.IsValid = res.Valid
	player, id := m.dragPlayer, m.drag.Creature.ID
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeDrag, Player: player, CreatureID: id})
	return res
}

// EndDrag завершает жест. Валидный drop коммитится через ту же логику, что и PlaceCreature;
// иначе существо остаётся (или возвращается) на исходный гекс.
func (m *Machine) EndDrag(drop *hex.Coord) bool {
	m.mu.Lock()
	if m.drag.Phase != domain.DragDragging {
		m.mu.Unlock()
		return false
	}

	player := m.dragPlayer
	creature := *m.drag.Creature

	var (
		placed    bool
		placement domain.Placement
	)
	if drop != nil {
		var res ValidationResult
		res, placement = m.placeLocked(player, creature, *drop)
		placed = res.Valid
	}
	if !placed {
		m.restoreOriginLocked()
	}
	m.resetDragLocked()
	m.mu.Unlock()

	if placed {
		m.emit(Change{Kind: ChangePlaced, Player: player, Placement: &placement, CreatureID: creature.ID})
	}
	m.emit(Change{Kind: ChangeDrag, Player: player, CreatureID: creature.ID})
	return placed
}

// CancelDrag прерывает жест, восстанавливая исходное размещение.
func (m *Machine) CancelDrag() {
	m.mu.Lock()
	if m.drag.Phase != domain.DragDragging {
		m.mu.Unlock()
		return
	}
	player, id := m.dragPlayer, m.drag.Creature.ID
	m.restoreOriginLocked()
	m.resetDragLocked()
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeDrag, Player: player, CreatureID: id})
}

// restoreOriginLocked возвращает исходное размещение, если за время жеста оно пропало
// (например, пришла синхронизация с сервера), а гекс по-прежнему свободен.
func (m *Machine) restoreOriginLocked() {
	if m.dragOrigin == nil {
		return
	}
	st := m.players[m.dragPlayer]
	if st.IsLocked || st.PlacementIndex(m.dragOrigin.Creature.ID) >= 0 {
		return
	}
	if _, busy := m.occupantLocked(m.dragOrigin.Hex); busy {
		return
	}
	st.Placements = append(st.Placements, *m.dragOrigin)
}

func (m *Machine) occupantLocked(h hex.Coord) (domain.Placement, bool) {
	for _, id := range domain.Players {
		if p, at := m.players[id].PlacementAt(h); at {
			return p, true
		}
	}
	return domain.Placement{}, false
}

func (m *Machine) resetDragLocked() {
	m.drag = domain.IdleDrag()
	m.dragOrigin = nil
	m.dragPlayer = ""
}

func cloneDrag(d domain.DragState) domain.DragState {
	out := d
	if d.Creature != nil {
		c := *d.Creature
		out.Creature = &c
	}
	if d.SourceHex != nil {
		h := *d.SourceHex
		out.SourceHex = &h
	}
	if d.TargetHex != nil {
		h := *d.TargetHex
		out.TargetHex = &h
	}
	return out
}

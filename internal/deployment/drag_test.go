package deployment

import (
	"reflect"
	"testing"

	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/hex"
)

func hexPtr(q, r int) *hex.Coord {
	return &hex.Coord{Q: q, R: r}
}

func TestCancelDragRestoresSource(t *testing.T) {
	m := newMachine(domain.Player1)
	c := creature("p1-warrior", domain.Player1)
	m.PlaceCreature(c, hex.Coord{Q: 1, R: 3})
	before := m.Placements(domain.Player1)

	if !m.StartDrag(before[0].Creature, hexPtr(1, 3)) {
		t.Fatal("StartDrag failed")
	}
	m.UpdateDrag(hexPtr(2, 5))
	m.CancelDrag()

	after := m.Placements(domain.Player1)
	if !reflect.DeepEqual(after, before) {
		t.Errorf("placement changed by cancelled drag: before %+v, after %+v", before, after)
	}
	if d := m.Drag(); d.Phase != domain.DragIdle || d.Creature != nil {
		t.Errorf("drag not reset: %+v", d)
	}
}

func TestEndDragInvalidDropKeepsUnit(t *testing.T) {
	m := newMachine(domain.Player1)
	c := creature("p1-warrior", domain.Player1)
	m.PlaceCreature(c, hex.Coord{Q: 1, R: 3})
	m.PlaceCreature(creature("p1-archer", domain.Player1), hex.Coord{Q: 0, R: 0})

	drops := []struct {
		name string
		drop *hex.Coord
	}{
		{"nil drop", nil},
		{"out of zone", hexPtr(7, 3)},
		{"occupied", hexPtr(0, 0)},
	}
	for _, tt := range drops {
		t.Run(tt.name, func(t *testing.T) {
			m.StartDrag(c, hexPtr(1, 3))
			if m.EndDrag(tt.drop) {
				t.Fatal("invalid drop committed")
			}
			st := m.State(domain.Player1)
			p, at := st.PlacementAt(hex.Coord{Q: 1, R: 3})
			if !at || p.Creature.ID != c.ID {
				t.Errorf("unit left its source hex: %+v", st.Placements)
			}
			if len(st.Placements) != 2 {
				t.Errorf("placements = %d, want 2", len(st.Placements))
			}
		})
	}
}

func TestDragLifecycle(t *testing.T) {
	m := newMachine(domain.Player1)
	c := creature("p1-knight", domain.Player1)

	if res := m.UpdateDrag(hexPtr(0, 0)); res.Valid {
		t.Error("UpdateDrag outside a drag reported valid")
	}
	if m.EndDrag(hexPtr(0, 0)) {
		t.Error("EndDrag outside a drag committed")
	}

	if !m.StartDrag(c, nil) {
		t.Fatal("StartDrag from roster failed")
	}
	if m.StartDrag(creature("other", domain.Player1), nil) {
		t.Error("second StartDrag accepted while dragging")
	}

	if res := m.UpdateDrag(hexPtr(8, 0)); res.Valid || res.Reason != ReasonOutOfZone {
		t.Errorf("hover out of zone: %+v", res)
	}
	if d := m.Drag(); d.IsValid || d.TargetHex == nil || *d.TargetHex != (hex.Coord{Q: 8, R: 0}) {
		t.Errorf("drag state after invalid hover: %+v", d)
	}

	if res := m.UpdateDrag(hexPtr(2, 2)); !res.Valid {
		t.Errorf("hover in zone: %+v", res)
	}
	if !m.Drag().IsValid {
		t.Error("drag IsValid not refreshed")
	}

	if !m.EndDrag(hexPtr(2, 2)) {
		t.Fatal("valid drop not committed")
	}
	if p, at := m.State(domain.Player1).PlacementAt(hex.Coord{Q: 2, R: 2}); !at || p.Creature.ID != c.ID {
		t.Error("dropped creature not placed")
	}
	if m.Drag().Phase != domain.DragIdle {
		t.Error("drag not idle after drop")
	}
}

func TestDragRestoresAfterRemoteSync(t *testing.T) {
	m := newMachine(domain.Player1)
	c := creature("p1-warrior", domain.Player1)
	m.PlaceCreature(c, hex.Coord{Q: 1, R: 1})

	m.StartDrag(c, hexPtr(1, 1))
	m.SyncPlacementsFromServer(domain.Player1, nil)
	m.CancelDrag()

	if _, at := m.State(domain.Player1).PlacementAt(hex.Coord{Q: 1, R: 1}); !at {
		t.Error("source placement not restored after cancel")
	}
}

func TestStartDragRefusedWhenLocked(t *testing.T) {
	m := newMachine(domain.Player1)
	m.MarkLocked(domain.Player1)
	if m.StartDrag(creature("c", domain.Player1), nil) {
		t.Error("drag started on a locked player")
	}
}

package combat

import (
	"errors"
	"testing"

	"drawn-of-war/internal/domain"
)

func unit(id string, hp int, status domain.UnitStatus, buffs ...string) domain.CombatUnit {
	return domain.CombatUnit{UnitID: id, Health: hp, MaxHealth: 100, Status: status, ActiveBuffs: buffs}
}

func snapshot(tick int64, units ...domain.CombatUnit) domain.CombatSnapshot {
	return domain.CombatSnapshot{MatchID: "m1", Tick: tick, Status: domain.CombatRunning, Units: units}
}

func TestFirstSnapshotSurfacesOnlyExplicitEvents(t *testing.T) {
	d := NewDetector()
	snap := snapshot(0, unit("a", 40, domain.UnitAlive), unit("b", 0, domain.UnitDead))
	snap.Events = []domain.CombatEvent{{Type: domain.EventAttack, UnitID: "a", TargetID: "b"}}

	got, err := d.DetectChanges(snap)
	if err != nil {
		t.Fatalf("DetectChanges: %v", err)
	}
	if len(got.Inferred) != 0 {
		t.Errorf("first snapshot inferred %d events", len(got.Inferred))
	}
	if len(got.Explicit) != 1 || got.Explicit[0].Type != domain.EventAttack {
		t.Errorf("explicit = %+v", got.Explicit)
	}
}

func TestDiffInference(t *testing.T) {
	tests := []struct {
		name string
		prev []domain.CombatUnit
		next []domain.CombatUnit
		want []domain.CombatEvent
	}{
		{
			name: "damage",
			prev: []domain.CombatUnit{unit("a", 100, domain.UnitAlive)},
			next: []domain.CombatUnit{unit("a", 70, domain.UnitAlive)},
			want: []domain.CombatEvent{{Type: domain.EventDamage, UnitID: "a", OldHealth: 100, NewHealth: 70, Amount: 30}},
		},
		{
			name: "heal",
			prev: []domain.CombatUnit{unit("a", 50, domain.UnitAlive)},
			next: []domain.CombatUnit{unit("a", 65, domain.UnitAlive)},
			want: []domain.CombatEvent{{Type: domain.EventHeal, UnitID: "a", OldHealth: 50, NewHealth: 65, Amount: 15}},
		},
		{
			name: "killed by damage",
			prev: []domain.CombatUnit{unit("a", 10, domain.UnitAlive)},
			next: []domain.CombatUnit{unit("a", 0, domain.UnitDead)},
			want: []domain.CombatEvent{
				{Type: domain.EventDamage, UnitID: "a", OldHealth: 10, NewHealth: 0, Amount: 10},
				{Type: domain.EventDeath, UnitID: "a", OldHealth: 10, NewHealth: 0},
			},
		},
		{
			name: "vanished unit dies",
			prev: []domain.CombatUnit{unit("a", 30, domain.UnitAlive), unit("b", 30, domain.UnitAlive)},
			next: []domain.CombatUnit{unit("a", 30, domain.UnitAlive)},
			want: []domain.CombatEvent{{Type: domain.EventDeath, UnitID: "b", OldHealth: 30}},
		},
		{
			name: "already dead unit removed quietly",
			prev: []domain.CombatUnit{unit("b", 0, domain.UnitDead)},
			next: nil,
			want: nil,
		},
		{
			name: "buff set difference",
			prev: []domain.CombatUnit{unit("a", 50, domain.UnitAlive, "haste", "shield")},
			next: []domain.CombatUnit{unit("a", 50, domain.UnitAlive, "shield", "rage")},
			want: []domain.CombatEvent{
				{Type: domain.EventBuffApplied, UnitID: "a", Effect: "rage"},
				{Type: domain.EventBuffRemoved, UnitID: "a", Effect: "haste"},
			},
		},
		{
			name: "debuffs",
			prev: []domain.CombatUnit{{UnitID: "a", Health: 50, Status: domain.UnitAlive}},
			next: []domain.CombatUnit{{UnitID: "a", Health: 50, Status: domain.UnitAlive, ActiveDebuffs: []string{"poison"}}},
			want: []domain.CombatEvent{{Type: domain.EventDebuffApplied, UnitID: "a", Effect: "poison"}},
		},
		{
			name: "new unit is not an event",
			prev: nil,
			next: []domain.CombatUnit{unit("c", 100, domain.UnitAlive)},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector()
			if _, err := d.DetectChanges(snapshot(1, tt.prev...)); err != nil {
				t.Fatalf("first snapshot: %v", err)
			}
			got, err := d.DetectChanges(snapshot(2, tt.next...))
			if err != nil {
				t.Fatalf("second snapshot: %v", err)
			}

			if len(got.Inferred) != len(tt.want) {
				t.Fatalf("inferred = %+v, want %+v", got.Inferred, tt.want)
			}
			for i, w := range tt.want {
				g := got.Inferred[i]
				if g.Type != w.Type || g.UnitID != w.UnitID || g.OldHealth != w.OldHealth ||
					g.NewHealth != w.NewHealth || g.Amount != w.Amount || g.Effect != w.Effect {
					t.Errorf("event %d = %+v, want %+v", i, g, w)
				}
				if g.Tick != 2 || !g.Inferred {
					t.Errorf("event %d: tick=%d inferred=%v", i, g.Tick, g.Inferred)
				}
			}
		})
	}
}

func TestExplicitEventsComeFirst(t *testing.T) {
	d := NewDetector()
	d.DetectChanges(snapshot(1, unit("a", 100, domain.UnitAlive)))

	next := snapshot(2, unit("a", 80, domain.UnitAlive))
	next.Events = []domain.CombatEvent{{Type: domain.EventDamage, Tick: 2, UnitID: "a", Amount: 20}}

	got, err := d.DetectChanges(next)
	if err != nil {
		t.Fatalf("DetectChanges: %v", err)
	}
	all := got.All()
	if len(all) != 2 {
		t.Fatalf("all = %+v", all)
	}
	if all[0].Inferred || !all[1].Inferred {
		t.Errorf("explicit events must precede inferred ones: %+v", all)
	}
}

func TestSnapshotValidation(t *testing.T) {
	d := NewDetector()
	if _, err := d.DetectChanges(snapshot(5, unit("a", 1, domain.UnitAlive))); err != nil {
		t.Fatalf("DetectChanges: %v", err)
	}

	tests := []struct {
		name string
		snap domain.CombatSnapshot
		want error
	}{
		{"stale tick", snapshot(4), ErrStaleSnapshot},
		{"negative tick", snapshot(-1), ErrInvalidSnapshot},
		{"no match id", domain.CombatSnapshot{Tick: 6}, ErrInvalidSnapshot},
		{"other match", domain.CombatSnapshot{MatchID: "m2", Tick: 6}, ErrInvalidSnapshot},
		{"duplicate units", snapshot(6, unit("a", 1, domain.UnitAlive), unit("a", 2, domain.UnitAlive)), ErrInvalidSnapshot},
		{"unit without id", snapshot(6, unit("", 1, domain.UnitAlive)), ErrInvalidSnapshot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.DetectChanges(tt.snap); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	if tick, _ := d.Previous(); tick != 5 {
		t.Errorf("rejected snapshots replaced the retained one: tick %d", tick)
	}

	d.Reset()
	if _, ok := d.Previous(); ok {
		t.Error("Reset kept the previous snapshot")
	}
	got, err := d.DetectChanges(snapshot(1, unit("a", 0, domain.UnitDead)))
	if err != nil || len(got.Inferred) != 0 {
		t.Errorf("after Reset: %+v, %v", got, err)
	}
}

func TestDetectorKeepsOwnCopy(t *testing.T) {
	d := NewDetector()
	snap := snapshot(1, unit("a", 100, domain.UnitAlive, "haste"))
	d.DetectChanges(snap)

	// Мутация переданного снимка после вызова не должна влиять на diff.
	snap.Units[0].Health = 10
	snap.Units[0].ActiveBuffs[0] = "slow"

	got, _ := d.DetectChanges(snapshot(2, unit("a", 100, domain.UnitAlive, "haste")))
	if len(got.Inferred) != 0 {
		t.Errorf("retained snapshot aliased caller memory: %+v", got.Inferred)
	}
}

// Package combat принимает снимки боя от сервера и выводит из разницы соседних снимков
// дискретные события (урон, лечение, смерть, эффекты) для лога и анимаций.
package combat

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/logger"
)

var (
	// ErrStaleSnapshot — тик снимка меньше тика уже принятого.
	ErrStaleSnapshot = errors.New("combat: stale snapshot")
	// ErrInvalidSnapshot — снимок не прошёл структурную проверку.
	ErrInvalidSnapshot = errors.New("combat: invalid snapshot")
)

// DetectedEvents — события одного снимка. Explicit пришли от сервера и авторитетны,
// Inferred выведены из разницы и служат дополнением; автоматической дедупликации нет.
type DetectedEvents struct {
	Tick     int64
	Explicit []domain.CombatEvent
	Inferred []domain.CombatEvent
}

// All возвращает явные события, за ними выведенные.
func (d DetectedEvents) All() []domain.CombatEvent {
	out := make([]domain.CombatEvent, 0, len(d.Explicit)+len(d.Inferred))
	out = append(out, d.Explicit...)
	return append(out, d.Inferred...)
}

func (d DetectedEvents) Len() int {
	return len(d.Explicit) + len(d.Inferred)
}

// Detector хранит ровно один предыдущий снимок.
type Detector struct {
	mu   sync.Mutex
	prev *domain.CombatSnapshot
}

func NewDetector() *Detector {
	return &Detector{}
}

// Reset забывает предыдущий снимок (новый бой или повторный вход в комнату).
func (d *Detector) Reset() {
	d.mu.Lock()
	d.prev = nil
	d.mu.Unlock()
}

// Previous — тик сохранённого снимка.
func (d *Detector) Previous() (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.prev == nil {
		return 0, false
	}
	return d.prev.Tick, true
}

// DetectChanges проверяет снимок, сравнивает с предыдущим и запоминает его.
// Первый снимок отдаёт только явные события. Отклонённый снимок не сохраняется.
func (d *Detector) DetectChanges(snap domain.CombatSnapshot) (DetectedEvents, error) {
	if err := Validate(snap); err != nil {
		return DetectedEvents{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.prev != nil {
		if snap.MatchID != d.prev.MatchID {
			return DetectedEvents{}, fmt.Errorf("%w: match %s, expected %s", ErrInvalidSnapshot, snap.MatchID, d.prev.MatchID)
		}
		if snap.Tick < d.prev.Tick {
			return DetectedEvents{}, fmt.Errorf("%w: tick %d after %d", ErrStaleSnapshot, snap.Tick, d.prev.Tick)
		}
	}

	out := DetectedEvents{
		Tick:     snap.Tick,
		Explicit: append([]domain.CombatEvent{}, snap.Events...),
	}
	if d.prev != nil {
		out.Inferred = diff(d.prev, &snap)
	}

	kept := cloneSnapshot(snap)
	d.prev = &kept

	if out.Len() > 0 {
		logger.Log.WithFields(logrus.Fields{
			"component": "combat",
			"match_id":  snap.MatchID,
			"tick":      snap.Tick,
			"explicit":  len(out.Explicit),
			"inferred":  len(out.Inferred),
		}).Debug("snapshot events")
	}
	return out, nil
}

// Validate — структурная проверка снимка.
func Validate(snap domain.CombatSnapshot) error {
	if snap.MatchID == "" {
		return fmt.Errorf("%w: empty matchId", ErrInvalidSnapshot)
	}
	if snap.Tick < 0 {
		return fmt.Errorf("%w: negative tick %d", ErrInvalidSnapshot, snap.Tick)
	}
	seen := make(map[string]struct{}, len(snap.Units))
	for _, u := range snap.Units {
		if u.UnitID == "" {
			return fmt.Errorf("%w: unit without id", ErrInvalidSnapshot)
		}
		if _, dup := seen[u.UnitID]; dup {
			return fmt.Errorf("%w: duplicate unit %s", ErrInvalidSnapshot, u.UnitID)
		}
		seen[u.UnitID] = struct{}{}
	}
	return nil
}

// diff выводит события в порядке юнитов нового снимка, затем исчезнувшие юниты.
func diff(prev, next *domain.CombatSnapshot) []domain.CombatEvent {
	before := prev.UnitByID()
	tick := next.Tick
	var events []domain.CombatEvent

	for i := range next.Units {
		u := &next.Units[i]
		old, found := before[u.UnitID]
		if !found {
			continue
		}

		switch {
		case u.Health < old.Health:
			events = append(events, domain.CombatEvent{
				Type: domain.EventDamage, Tick: tick, UnitID: u.UnitID,
				OldHealth: old.Health, NewHealth: u.Health, Amount: old.Health - u.Health, Inferred: true,
			})
		case u.Health > old.Health:
			events = append(events, domain.CombatEvent{
				Type: domain.EventHeal, Tick: tick, UnitID: u.UnitID,
				OldHealth: old.Health, NewHealth: u.Health, Amount: u.Health - old.Health, Inferred: true,
			})
		}

		if old.Status != domain.UnitDead && u.Status == domain.UnitDead {
			events = append(events, death(tick, u.UnitID, old.Health, u.Health))
		}

		events = appendSetDiff(events, tick, u.UnitID, old.ActiveBuffs, u.ActiveBuffs, domain.EventBuffApplied, domain.EventBuffRemoved)
		events = appendSetDiff(events, tick, u.UnitID, old.ActiveDebuffs, u.ActiveDebuffs, domain.EventDebuffApplied, domain.EventDebuffRemoved)
	}

	after := next.UnitByID()
	for _, old := range prev.Units {
		if _, still := after[old.UnitID]; still || old.Status == domain.UnitDead {
			continue
		}
		events = append(events, death(tick, old.UnitID, old.Health, 0))
	}
	return events
}

func death(tick int64, unitID string, oldHealth, newHealth int) domain.CombatEvent {
	return domain.CombatEvent{
		Type: domain.EventDeath, Tick: tick, UnitID: unitID,
		OldHealth: oldHealth, NewHealth: newHealth, Inferred: true,
	}
}

// appendSetDiff — applied для эффектов, появившихся в next, removed для пропавших.
func appendSetDiff(events []domain.CombatEvent, tick int64, unitID string, prev, next []string, applied, removed domain.CombatEventType) []domain.CombatEvent {
	if len(prev) == 0 && len(next) == 0 {
		return events
	}
	had := make(map[string]struct{}, len(prev))
	for _, e := range prev {
		had[e] = struct{}{}
	}
	has := make(map[string]struct{}, len(next))
	for _, e := range next {
		has[e] = struct{}{}
		if _, ok := had[e]; !ok {
			events = append(events, domain.CombatEvent{Type: applied, Tick: tick, UnitID: unitID, Effect: e, Inferred: true})
		}
	}
	for _, e := range prev {
		if _, ok := has[e]; !ok {
			events = append(events, domain.CombatEvent{Type: removed, Tick: tick, UnitID: unitID, Effect: e, Inferred: true})
		}
	}
	return events
}

func cloneSnapshot(s domain.CombatSnapshot) domain.CombatSnapshot {
	out := s
	out.Units = make([]domain.CombatUnit, len(s.Units))
	for i, u := range s.Units {
		out.Units[i] = u
		out.Units[i].ActiveBuffs = append([]string(nil), u.ActiveBuffs...)
		out.Units[i].ActiveDebuffs = append([]string(nil), u.ActiveDebuffs...)
	}
	out.Projectiles = append([]domain.Projectile(nil), s.Projectiles...)
	out.Events = append([]domain.CombatEvent(nil), s.Events...)
	return out
}

package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"drawn-of-war/internal/deployment"
	"drawn-of-war/internal/domain"
	"drawn-of-war/internal/render"
	"drawn-of-war/internal/render/ebitenview"
	"drawn-of-war/internal/syncclient"
	"drawn-of-war/pkg/api"
	"drawn-of-war/pkg/hex"
)

func creature(id string, owner domain.PlayerID) domain.Creature {
	return domain.Creature{ID: id, Name: id, OwnerPlayer: owner}
}

func newSession(t *testing.T, player domain.PlayerID, roster ...domain.Creature) (*Deployment, *fakeDeployChannel) {
	t.Helper()
	ch := newFakeDeployChannel()
	r := render.NewGridRenderer(render.Config{CanvasWidth: 800, CanvasHeight: 600})
	d := NewDeployment(DeploymentConfig{MatchID: "m1", Player: player, Roster: roster}, ch, r)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, ch
}

func TestDeploymentScenario(t *testing.T) {
	warrior := creature("p1-warrior", domain.Player1)
	archer := creature("p1-archer", domain.Player1)
	d, ch := newSession(t, domain.Player1, warrior, archer)
	r := d.Renderer()

	res, err := d.Place(warrior, hex.Coord{Q: 1, R: 3})
	if err != nil || !res.Valid {
		t.Fatalf("place warrior: %+v %v", res, err)
	}

	res, err = d.Place(archer, hex.Coord{Q: 1, R: 3})
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.Reason != deployment.ReasonOccupied {
		t.Fatalf("archer on occupied hex: %+v", res)
	}

	if res, _ := d.Place(warrior, hex.Coord{Q: 2, R: 5}); !res.Valid {
		t.Fatalf("move warrior: %+v", res)
	}
	if n := len(d.Machine().Placements(domain.Player1)); n != 1 {
		t.Fatalf("placements after move = %d, want 1", n)
	}
	info, ok := r.Unit("player1:p1-warrior")
	if !ok || info.Hex != (hex.Coord{Q: 2, R: 5}) || info.Opacity != OwnOpacity {
		t.Fatalf("own visual = %+v ok=%v", info, ok)
	}
	if r.UnitLayerSize() != 1 {
		t.Errorf("unit layer size = %d, want 1", r.UnitLayerSize())
	}

	// Отказ валидации не уходит на сервер.
	if len(ch.placed) != 2 {
		t.Errorf("sent placements = %d, want 2", len(ch.placed))
	}
	if last := ch.placed[len(ch.placed)-1]; last.Hex != (hex.Coord{Q: 2, R: 5}) || last.Creature.ID != warrior.ID {
		t.Errorf("last sent placement = %+v", last)
	}

	if err := d.MarkReady(); err != nil {
		t.Fatal(err)
	}
	if ch.ready != 1 || !d.Machine().State(domain.Player1).IsReady {
		t.Errorf("ready sent=%d state=%+v", ch.ready, d.Machine().State(domain.Player1))
	}

	enemy := creature("p2-goblin", domain.Player2)
	ch.oppPlaced.Publish(api.OpponentPlacedPayload{
		PlayerID:  domain.Player2,
		Placement: domain.Placement{Creature: enemy, Hex: hex.Coord{Q: 10, R: 2}},
	})
	info, ok = r.Unit("player2:p2-goblin")
	if !ok || info.Opacity != OpponentOpacity {
		t.Fatalf("opponent visual = %+v ok=%v", info, ok)
	}

	ch.oppRemoved.Publish(api.OpponentRemovedPayload{PlayerID: domain.Player2, CreatureID: "p2-goblin"})
	if _, ok := r.Unit("player2:p2-goblin"); ok {
		t.Error("opponent visual survived removal")
	}
}

func TestDeploymentPlayerTwoZone(t *testing.T) {
	goblin := creature("goblin", domain.Player2)
	d, ch := newSession(t, domain.Player2, goblin)

	if res, _ := d.Place(goblin, hex.Coord{Q: 1, R: 0}); res.Reason != deployment.ReasonOutOfZone {
		t.Fatalf("player2 in player1 zone: %+v", res)
	}
	if res, _ := d.Place(goblin, hex.Coord{Q: 10, R: 4}); !res.Valid {
		t.Fatalf("player2 in own zone: %+v", res)
	}
	if len(ch.placed) != 1 {
		t.Fatalf("sent = %d", len(ch.placed))
	}
	if got := ch.placed[0].Creature.Facing; got != hex.DirW {
		t.Errorf("initial facing = %s, want W", got)
	}

	// Событие о собственном размещении (эхо) игнорируется.
	ch.oppPlaced.Publish(api.OpponentPlacedPayload{
		PlayerID:  domain.Player2,
		Placement: domain.Placement{Creature: goblin, Hex: hex.Coord{Q: 11, R: 7}},
	})
	if p := d.Machine().Placements(domain.Player2); len(p) != 1 || p[0].Hex != (hex.Coord{Q: 10, R: 4}) {
		t.Errorf("echo moved own placement: %+v", p)
	}

	ch.oppPlaced.Publish(api.OpponentPlacedPayload{
		PlayerID:  domain.Player1,
		Placement: domain.Placement{Creature: creature("knight", domain.Player1), Hex: hex.Coord{Q: 0, R: 0}},
	})
	if info, ok := d.Renderer().Unit("player1:knight"); !ok || info.Opacity != OpponentOpacity {
		t.Errorf("player1 visual from player2 view = %+v ok=%v", info, ok)
	}
}

func TestDeploymentStateResync(t *testing.T) {
	d, ch := newSession(t, domain.Player1, creature("a", domain.Player1))
	r := d.Renderer()

	ch.state.Publish(api.StatePayload{
		MatchID: "m1",
		Player1Placements: []domain.Placement{
			{Creature: creature("a", domain.Player1), Hex: hex.Coord{Q: 0, R: 1}},
			{Creature: creature("b", domain.Player1), Hex: hex.Coord{Q: 1, R: 1}},
		},
		Player2Placements: []domain.Placement{
			{Creature: creature("x", domain.Player2), Hex: hex.Coord{Q: 11, R: 1}},
		},
		Status: domain.DeploymentStatus{Phase: domain.PhaseDeployment, Player2: domain.PlayerStatus{IsReady: true}},
	})
	if r.UnitCount() != 3 {
		t.Fatalf("units after state = %d, want 3", r.UnitCount())
	}
	if !d.Machine().State(domain.Player2).IsReady {
		t.Error("status from state not applied")
	}

	ch.state.Publish(api.StatePayload{
		MatchID: "m1",
		Player1Placements: []domain.Placement{
			{Creature: creature("b", domain.Player1), Hex: hex.Coord{Q: 2, R: 2}},
		},
	})
	if r.UnitCount() != 1 {
		t.Fatalf("units after second state = %d, want 1", r.UnitCount())
	}
	if info, _ := r.Unit("player1:b"); info.Hex != (hex.Coord{Q: 2, R: 2}) {
		t.Errorf("b at %v", info.Hex)
	}
	if len(ch.placed) != 0 {
		t.Error("server sync must not echo placements back")
	}
}

func TestDeploymentErrors(t *testing.T) {
	t.Run("server rejection", func(t *testing.T) {
		d, ch := newSession(t, domain.Player1)
		ch.errs.Publish(api.ErrorPayload{Code: "occupied", Message: "hex taken"})
		var ep api.ErrorPayload
		if !errors.As(d.Err(), &ep) || ep.Code != "occupied" {
			t.Fatalf("Err() = %v", d.Err())
		}
		if hud := strings.Join(d.HUD(), "\n"); !strings.Contains(hud, "hex taken") {
			t.Errorf("HUD does not show error:\n%s", hud)
		}
		d.Key(ebitenview.KeyCancel)
		if d.Err() != nil {
			t.Error("cancel did not clear error")
		}
	})

	t.Run("join failure", func(t *testing.T) {
		ch := newFakeDeployChannel()
		ch.joinErr = errors.New("match full")
		d := NewDeployment(DeploymentConfig{MatchID: "m1", Player: domain.Player1}, ch, render.NewGridRenderer(render.Config{}))
		defer d.Close()
		if err := d.Start(context.Background()); err == nil {
			t.Fatal("Start should fail")
		}
		if d.Err() == nil || !strings.Contains(d.Err().Error(), "match full") {
			t.Errorf("Err() = %v", d.Err())
		}
	})

	t.Run("reconnect exhausted", func(t *testing.T) {
		d, ch := newSession(t, domain.Player1)
		ch.link.Publish(syncclient.StatusFailed)
		if !errors.Is(d.Err(), syncclient.ErrReconnectExhausted) {
			t.Errorf("Err() = %v", d.Err())
		}
	})

	t.Run("ready without placements", func(t *testing.T) {
		d, ch := newSession(t, domain.Player1)
		if err := d.MarkReady(); !errors.Is(err, ErrNotReadyable) {
			t.Errorf("MarkReady err = %v", err)
		}
		if ch.ready != 0 {
			t.Error("ready sent without placements")
		}
	})

	t.Run("send failure", func(t *testing.T) {
		c := creature("a", domain.Player1)
		d, ch := newSession(t, domain.Player1, c)
		ch.sendErr = errors.New("socket closed")
		if _, err := d.Place(c, hex.Coord{Q: 0, R: 0}); err == nil {
			t.Fatal("send error not returned")
		}
		if d.Err() == nil {
			t.Error("send error not recorded")
		}
	})
}

func TestDeploymentCombatStartedLocks(t *testing.T) {
	c := creature("a", domain.Player1)
	d, ch := newSession(t, domain.Player1, c)
	if res, _ := d.Place(c, hex.Coord{Q: 0, R: 0}); !res.Valid {
		t.Fatal(res)
	}

	var got string
	d.OnCombatStarted(func(id string) { got = id })
	ch.combat.Publish(api.CombatStartedPayload{MatchID: "m1"})

	if got != "m1" || !d.CombatStarted() {
		t.Fatalf("combat-started not propagated: %q", got)
	}
	for _, p := range domain.Players {
		if !d.Machine().IsLocked(p) {
			t.Errorf("%s not locked", p)
		}
	}
	if ok, _ := d.Remove("a"); ok {
		t.Error("removed from a locked list")
	}
	if p := d.Machine().Placements(domain.Player1); len(p) != 1 {
		t.Errorf("locking cleared placements: %+v", p)
	}
}

func TestDeploymentPointerDrag(t *testing.T) {
	c := creature("a", domain.Player1)
	d, ch := newSession(t, domain.Player1, c)
	r := d.Renderer()
	l := r.Layout()
	off := r.Offset()
	at := func(h hex.Coord) (float64, float64) {
		p := l.ToPixel(h)
		return p.X + off.X, p.Y + off.Y
	}

	// Из ростера на свободный гекс своей зоны.
	d.PointerDown(at(hex.Coord{Q: 1, R: 1}))
	if d.Machine().Drag().Phase != domain.DragDragging {
		t.Fatal("drag not started from roster")
	}
	if h, state := r.Highlight(); h == nil || state != render.HighlightValid {
		t.Errorf("highlight = %v %s", h, state)
	}
	d.PointerUp(at(hex.Coord{Q: 1, R: 1}))
	if len(ch.placed) != 1 || ch.placed[0].Hex != (hex.Coord{Q: 1, R: 1}) {
		t.Fatalf("sent = %+v", ch.placed)
	}

	// Перетаскивание в чужую зону отменяется без изменений.
	d.PointerDown(at(hex.Coord{Q: 1, R: 1}))
	d.PointerMove(at(hex.Coord{Q: 9, R: 1}))
	if _, state := r.Highlight(); state != render.HighlightInvalid {
		t.Errorf("highlight over enemy zone = %s", state)
	}
	d.PointerUp(at(hex.Coord{Q: 9, R: 1}))
	if p := d.Machine().Placements(domain.Player1); len(p) != 1 || p[0].Hex != (hex.Coord{Q: 1, R: 1}) {
		t.Errorf("invalid drop changed state: %+v", p)
	}
	if len(ch.placed) != 1 {
		t.Errorf("invalid drop was sent")
	}
	if _, state := r.Highlight(); state != render.HighlightNone {
		t.Errorf("highlight after drop = %s", state)
	}
}

func TestDeploymentCloseIsIdempotent(t *testing.T) {
	ch := newFakeDeployChannel()
	d := NewDeployment(DeploymentConfig{MatchID: "m1", Player: domain.Player1}, ch, render.NewGridRenderer(render.Config{}))
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if ch.closed != 1 {
		t.Errorf("channel closed %d times", ch.closed)
	}
	if ch.state.Len() != 0 || ch.errs.Len() != 0 {
		t.Error("subscriptions leaked after Close")
	}
	if !d.Renderer().Destroyed() {
		t.Error("renderer not destroyed")
	}
}

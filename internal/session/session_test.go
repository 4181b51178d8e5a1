package session

import (
	"context"
	"image"
	"os"
	"sync"
	"testing"

	"drawn-of-war/internal/domain"
	"drawn-of-war/internal/render"
	"drawn-of-war/internal/syncclient"
	"drawn-of-war/pkg/api"
	"drawn-of-war/pkg/eventbus"
	"drawn-of-war/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitWith("error", "text", os.Stderr)
	os.Exit(m.Run())
}

// fakeDeployChannel записывает исходящие сообщения и даёт тесту публиковать входящие.
type fakeDeployChannel struct {
	mu       sync.Mutex
	joinErr  error
	sendErr  error
	joins    int
	placed   []domain.Placement
	removed  []string
	ready    int
	unready  int
	closed   int
	linkStat syncclient.Status

	state        *eventbus.Bus[api.StatePayload]
	oppPlaced    *eventbus.Bus[api.OpponentPlacedPayload]
	oppRemoved   *eventbus.Bus[api.OpponentRemovedPayload]
	oppUpdated   *eventbus.Bus[api.OpponentUpdatedPayload]
	statusChange *eventbus.Bus[domain.DeploymentStatus]
	oppConnected *eventbus.Bus[domain.PlayerID]
	oppGone      *eventbus.Bus[domain.PlayerID]
	combat       *eventbus.Bus[api.CombatStartedPayload]
	errs         *eventbus.Bus[api.ErrorPayload]
	link         *eventbus.Bus[syncclient.Status]
}

func newFakeDeployChannel() *fakeDeployChannel {
	return &fakeDeployChannel{
		linkStat:     syncclient.StatusDisconnected,
		state:        eventbus.New[api.StatePayload](),
		oppPlaced:    eventbus.New[api.OpponentPlacedPayload](),
		oppRemoved:   eventbus.New[api.OpponentRemovedPayload](),
		oppUpdated:   eventbus.New[api.OpponentUpdatedPayload](),
		statusChange: eventbus.New[domain.DeploymentStatus](),
		oppConnected: eventbus.New[domain.PlayerID](),
		oppGone:      eventbus.New[domain.PlayerID](),
		combat:       eventbus.New[api.CombatStartedPayload](),
		errs:         eventbus.New[api.ErrorPayload](),
		link:         eventbus.New[syncclient.Status](),
	}
}

func (f *fakeDeployChannel) Join(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins++
	if f.joinErr != nil {
		return f.joinErr
	}
	f.linkStat = syncclient.StatusJoined
	return nil
}

func (f *fakeDeployChannel) Place(p domain.Placement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.placed = append(f.placed, p)
	return nil
}

func (f *fakeDeployChannel) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return f.sendErr
}

func (f *fakeDeployChannel) UpdatePlacements([]domain.Placement) error { return nil }

func (f *fakeDeployChannel) Ready() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready++
	return f.sendErr
}

func (f *fakeDeployChannel) Unready() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unready++
	return f.sendErr
}

func (f *fakeDeployChannel) Status() syncclient.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.linkStat
}

func (f *fakeDeployChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeDeployChannel) OnState(fn func(api.StatePayload)) eventbus.Unsubscribe {
	return f.state.Subscribe(fn)
}

func (f *fakeDeployChannel) OnOpponentPlaced(fn func(api.OpponentPlacedPayload)) eventbus.Unsubscribe {
	return f.oppPlaced.Subscribe(fn)
}

func (f *fakeDeployChannel) OnOpponentRemoved(fn func(api.OpponentRemovedPayload)) eventbus.Unsubscribe {
	return f.oppRemoved.Subscribe(fn)
}

func (f *fakeDeployChannel) OnOpponentUpdated(fn func(api.OpponentUpdatedPayload)) eventbus.Unsubscribe {
	return f.oppUpdated.Subscribe(fn)
}

func (f *fakeDeployChannel) OnStatusChanged(fn func(domain.DeploymentStatus)) eventbus.Unsubscribe {
	return f.statusChange.Subscribe(fn)
}

func (f *fakeDeployChannel) OnOpponentConnected(fn func(domain.PlayerID)) eventbus.Unsubscribe {
	return f.oppConnected.Subscribe(fn)
}

func (f *fakeDeployChannel) OnOpponentDisconnected(fn func(domain.PlayerID)) eventbus.Unsubscribe {
	return f.oppGone.Subscribe(fn)
}

func (f *fakeDeployChannel) OnCombatStarted(fn func(api.CombatStartedPayload)) eventbus.Unsubscribe {
	return f.combat.Subscribe(fn)
}

func (f *fakeDeployChannel) OnError(fn func(api.ErrorPayload)) eventbus.Unsubscribe {
	return f.errs.Subscribe(fn)
}

func (f *fakeDeployChannel) OnStatus(fn func(syncclient.Status)) eventbus.Unsubscribe {
	return f.link.Subscribe(fn)
}

// fakeCombatChannel — то же для пространства боя.
type fakeCombatChannel struct {
	mu        sync.Mutex
	joinErr   error
	joins     int
	requests  int
	leaves    int
	snapshots *eventbus.Bus[domain.CombatSnapshot]
	events    *eventbus.Bus[[]domain.CombatEvent]
	completed *eventbus.Bus[domain.CombatResult]
	errs      *eventbus.Bus[api.ErrorPayload]
}

func newFakeCombatChannel() *fakeCombatChannel {
	return &fakeCombatChannel{
		snapshots: eventbus.New[domain.CombatSnapshot](),
		events:    eventbus.New[[]domain.CombatEvent](),
		completed: eventbus.New[domain.CombatResult](),
		errs:      eventbus.New[api.ErrorPayload](),
	}
}

func (f *fakeCombatChannel) Join(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins++
	return f.joinErr
}

func (f *fakeCombatChannel) RequestState() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return nil
}

func (f *fakeCombatChannel) Leave() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	return nil
}

func (f *fakeCombatChannel) Status() syncclient.Status { return syncclient.StatusJoined }

func (f *fakeCombatChannel) OnSnapshot(fn func(domain.CombatSnapshot)) eventbus.Unsubscribe {
	return f.snapshots.Subscribe(fn)
}

func (f *fakeCombatChannel) OnEvents(fn func([]domain.CombatEvent)) eventbus.Unsubscribe {
	return f.events.Subscribe(fn)
}

func (f *fakeCombatChannel) OnCompleted(fn func(domain.CombatResult)) eventbus.Unsubscribe {
	return f.completed.Subscribe(fn)
}

func (f *fakeCombatChannel) OnError(fn func(api.ErrorPayload)) eventbus.Unsubscribe {
	return f.errs.Subscribe(fn)
}

// staticSource отдаёт одну и ту же текстуру из кэша, поэтому визуалы создаются синхронно.
type staticSource struct{}

func (staticSource) Cached(ref domain.SpriteRef) (*render.SpriteFrames, bool) {
	return render.StaticFrames(&render.Texture{Key: ref.Key(), Image: image.NewRGBA(image.Rect(0, 0, 32, 32))}), true
}

func (s staticSource) Load(_ context.Context, ref domain.SpriteRef) (*render.SpriteFrames, error) {
	frames, _ := s.Cached(ref)
	return frames, nil
}

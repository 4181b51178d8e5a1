package syncclient

import (
	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/api"
	"drawn-of-war/pkg/eventbus"
	"drawn-of-war/pkg/logger"
)

// CombatClient — канал пространства боя. Рукопожатие: join{matchId} -> joined{matchId, room}.
// Снимки и события приходят после joined в порядке отправки симулятором.
type CombatClient struct {
	*link

	room      string
	snapshots *eventbus.Bus[domain.CombatSnapshot]
	events    *eventbus.Bus[[]domain.CombatEvent]
	completed *eventbus.Bus[domain.CombatResult]
}

// NewCombat создаёт клиента боя. PlayerID в cfg не обязателен.
func NewCombat(cfg Config) *CombatClient {
	c := &CombatClient{
		snapshots: eventbus.New[domain.CombatSnapshot](),
		events:    eventbus.New[[]domain.CombatEvent](),
		completed: eventbus.New[domain.CombatResult](),
	}
	hs := handshake{
		event: api.CombatJoin,
		payload: func() any {
			return api.CombatRoomPayload{MatchID: cfg.MatchID}
		},
		ack: api.CombatJoined,
	}
	log := logger.Match("combatclient", cfg.MatchID, string(cfg.PlayerID))
	c.link = newLink(cfg, hs, c.dispatch, log)
	return c
}

// Room — имя комнаты из последнего joined.
func (c *CombatClient) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *CombatClient) dispatch(msg api.Message) {
	var err error
	switch msg.Type {
	case api.CombatJoined:
		var p api.CombatJoinedPayload
		if err = msg.Decode(&p); err == nil {
			c.mu.Lock()
			c.room = p.Room
			c.mu.Unlock()
		}
	case api.CombatState:
		var snap domain.CombatSnapshot
		if err = msg.Decode(&snap); err == nil {
			c.snapshots.Publish(snap)
		}
	case api.CombatEvents:
		var p api.CombatEventsPayload
		if err = msg.Decode(&p); err == nil {
			c.events.Publish(p.Events)
		}
	case api.CombatCompleted:
		var p api.CombatCompletedResult
		if err = msg.Decode(&p); err == nil {
			c.completed.Publish(p.Result)
		}
	default:
		c.log.WithField("type", msg.Type).Debug("ignoring unknown combat event")
	}

	if err != nil {
		c.log.WithError(err).WithField("type", msg.Type).Warn("failed to decode combat event")
	}
}

func (c *CombatClient) OnSnapshot(fn func(domain.CombatSnapshot)) eventbus.Unsubscribe {
	return c.snapshots.Subscribe(fn)
}

func (c *CombatClient) OnEvents(fn func([]domain.CombatEvent)) eventbus.Unsubscribe {
	return c.events.Subscribe(fn)
}

func (c *CombatClient) OnCompleted(fn func(domain.CombatResult)) eventbus.Unsubscribe {
	return c.completed.Subscribe(fn)
}

// RequestState просит сервер прислать последний снимок.
func (c *CombatClient) RequestState() error {
	return c.send(api.CombatGetState, api.CombatRoomPayload{MatchID: c.cfg.MatchID})
}

// Leave покидает комнату и закрывает канал.
func (c *CombatClient) Leave() error {
	err := c.send(api.CombatLeave, api.CombatRoomPayload{MatchID: c.cfg.MatchID})
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

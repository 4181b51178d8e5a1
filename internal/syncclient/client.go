// Package syncclient — клиентская сторона протокола синхронизации расстановки и боя.
//
// Клиент — явный объект сессии: его создаёт и закрывает владелец (контроллер страницы, бот),
// глобального экземпляра нет. Все подписки возвращают хендл отписки.
package syncclient

import (
	"context"

	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/api"
	"drawn-of-war/pkg/eventbus"
	"drawn-of-war/pkg/logger"
)

// Client — канал расстановки одного игрока в одном матче.
type Client struct {
	*link

	state                *eventbus.Bus[api.StatePayload]
	opponentPlaced       *eventbus.Bus[api.OpponentPlacedPayload]
	opponentRemoved      *eventbus.Bus[api.OpponentRemovedPayload]
	opponentUpdated      *eventbus.Bus[api.OpponentUpdatedPayload]
	statusChanged        *eventbus.Bus[domain.DeploymentStatus]
	opponentConnected    *eventbus.Bus[domain.PlayerID]
	opponentDisconnected *eventbus.Bus[domain.PlayerID]
	combatStarted        *eventbus.Bus[api.CombatStartedPayload]
	combatCompleted      *eventbus.Bus[api.CombatCompletedPayload]
}

// New создаёт клиента. Соединение устанавливается при первом Join.
func New(cfg Config) *Client {
	c := &Client{
		state:                eventbus.New[api.StatePayload](),
		opponentPlaced:       eventbus.New[api.OpponentPlacedPayload](),
		opponentRemoved:      eventbus.New[api.OpponentRemovedPayload](),
		opponentUpdated:      eventbus.New[api.OpponentUpdatedPayload](),
		statusChanged:        eventbus.New[domain.DeploymentStatus](),
		opponentConnected:    eventbus.New[domain.PlayerID](),
		opponentDisconnected: eventbus.New[domain.PlayerID](),
		combatStarted:        eventbus.New[api.CombatStartedPayload](),
		combatCompleted:      eventbus.New[api.CombatCompletedPayload](),
	}

	hs := handshake{
		event: api.EventJoin,
		payload: func() any {
			return api.JoinPayload{MatchRef: c.ref()}
		},
		ack: api.EventState,
	}
	log := logger.Match("syncclient", cfg.MatchID, string(cfg.PlayerID))
	c.link = newLink(cfg, hs, c.dispatch, log)
	return c
}

func (c *Client) ref() api.MatchRef {
	return api.MatchRef{MatchID: c.cfg.MatchID, PlayerID: c.cfg.PlayerID}
}

// MatchID / PlayerID — идентичность сессии.
func (c *Client) MatchID() string           { return c.cfg.MatchID }
func (c *Client) PlayerID() domain.PlayerID { return c.cfg.PlayerID }

// dispatch направляет каждое событие ровно в одну шину. Вызывается из горутины чтения.
func (c *Client) dispatch(msg api.Message) {
	var err error
	switch msg.Type {
	case api.EventState:
		var p api.StatePayload
		if err = msg.Decode(&p); err == nil {
			c.state.Publish(p)
		}
	case api.EventOpponentPlaced:
		var p api.OpponentPlacedPayload
		if err = msg.Decode(&p); err == nil {
			c.opponentPlaced.Publish(p)
		}
	case api.EventOpponentRemoved:
		var p api.OpponentRemovedPayload
		if err = msg.Decode(&p); err == nil {
			c.opponentRemoved.Publish(p)
		}
	case api.EventOpponentUpdated:
		var p api.OpponentUpdatedPayload
		if err = msg.Decode(&p); err == nil {
			c.opponentUpdated.Publish(p)
		}
	case api.EventStatusChanged:
		var p api.StatusChangedPayload
		if err = msg.Decode(&p); err == nil {
			c.statusChanged.Publish(p.Status)
		}
	case api.EventOpponentConnected:
		var p api.PlayerPayload
		if err = msg.Decode(&p); err == nil {
			c.opponentConnected.Publish(p.PlayerID)
		}
	case api.EventOpponentDisconnected:
		var p api.PlayerPayload
		if err = msg.Decode(&p); err == nil {
			c.opponentDisconnected.Publish(p.PlayerID)
		}
	case api.EventCombatStarted:
		var p api.CombatStartedPayload
		if err = msg.Decode(&p); err == nil {
			c.combatStarted.Publish(p)
		}
	case api.EventCombatCompleted:
		var p api.CombatCompletedPayload
		if err = msg.Decode(&p); err == nil {
			c.combatCompleted.Publish(p)
		}
	default:
		c.log.WithField("type", msg.Type).Debug("ignoring unknown event")
	}

	if err != nil {
		c.log.WithError(err).WithField("type", msg.Type).Warn("failed to decode event")
	}
}

// --- Подписки ---

func (c *Client) OnState(fn func(api.StatePayload)) eventbus.Unsubscribe {
	return c.state.Subscribe(fn)
}

func (c *Client) OnOpponentPlaced(fn func(api.OpponentPlacedPayload)) eventbus.Unsubscribe {
	return c.opponentPlaced.Subscribe(fn)
}

func (c *Client) OnOpponentRemoved(fn func(api.OpponentRemovedPayload)) eventbus.Unsubscribe {
	return c.opponentRemoved.Subscribe(fn)
}

func (c *Client) OnOpponentUpdated(fn func(api.OpponentUpdatedPayload)) eventbus.Unsubscribe {
	return c.opponentUpdated.Subscribe(fn)
}

func (c *Client) OnStatusChanged(fn func(domain.DeploymentStatus)) eventbus.Unsubscribe {
	return c.statusChanged.Subscribe(fn)
}

func (c *Client) OnOpponentConnected(fn func(domain.PlayerID)) eventbus.Unsubscribe {
	return c.opponentConnected.Subscribe(fn)
}

func (c *Client) OnOpponentDisconnected(fn func(domain.PlayerID)) eventbus.Unsubscribe {
	return c.opponentDisconnected.Subscribe(fn)
}

func (c *Client) OnCombatStarted(fn func(api.CombatStartedPayload)) eventbus.Unsubscribe {
	return c.combatStarted.Subscribe(fn)
}

func (c *Client) OnCombatCompleted(fn func(api.CombatCompletedPayload)) eventbus.Unsubscribe {
	return c.combatCompleted.Subscribe(fn)
}

// --- Исходящие события. До завершения join все возвращают ErrNotJoined. ---

func (c *Client) Place(placement domain.Placement) error {
	return c.send(api.EventPlace, api.PlacePayload{MatchRef: c.ref(), Placement: placement})
}

func (c *Client) Remove(creatureID string) error {
	return c.send(api.EventRemove, api.RemovePayload{MatchRef: c.ref(), CreatureID: creatureID})
}

func (c *Client) UpdatePlacements(placements []domain.Placement) error {
	return c.send(api.EventUpdatePlacements, api.UpdatePlacementsPayload{MatchRef: c.ref(), Placements: placements})
}

func (c *Client) Ready() error {
	return c.send(api.EventReady, api.ReadyPayload{MatchRef: c.ref()})
}

func (c *Client) Unready() error {
	return c.send(api.EventUnready, api.ReadyPayload{MatchRef: c.ref()})
}

// Connect — синоним Join для вызывающих, которым нужно только "подключиться и синхронизироваться".
func (c *Client) Connect(ctx context.Context) error {
	return c.Join(ctx)
}

package server

import (
	"fmt"

	"github.com/gorilla/websocket"

	"drawn-of-war/internal/engine"
	"drawn-of-war/pkg/api"
	"drawn-of-war/pkg/logger"
	"drawn-of-war/pkg/utils"
)

// CombatClient — зритель боя. Комната общая, поэтому у соединения свой случайный id.
type CombatClient struct {
	*peer

	Service *engine.MatchService
	ID      string
	MatchID string
}

func NewCombatClient(svc *engine.MatchService, conn *websocket.Conn) *CombatClient {
	id := utils.ConnID("viewer")
	return &CombatClient{
		peer:    newPeer(conn, logger.Component("server").WithField("conn", id)),
		Service: svc,
		ID:      id,
	}
}

func (c *CombatClient) readPump() {
	joined := false
	defer func() {
		if joined {
			c.Service.LeaveCombat(c.MatchID, c.ID)
		}
		c.stop()
	}()

	c.setupRead()

	// 1. HANDSHAKE (join{matchId} -> joined)
	sub, err := c.handshake()
	if err != nil {
		c.log.WithError(err).Warn("Combat handshake failed")
		if werr := c.writeNow(api.EventError, asErrorPayload(err)); werr != nil {
			c.log.WithError(werr).Debug("failed to report handshake error")
		}
		return
	}
	joined = true

	// joined уходит раньше любых снимков из комнаты.
	room := api.CombatRoom(c.MatchID)
	if err := c.writeNow(api.CombatJoined, api.CombatJoinedPayload{MatchID: c.MatchID, Room: room}); err != nil {
		c.log.WithError(err).Debug("failed to send joined")
		return
	}
	c.log.WithField("room", room).Info("Viewer joined combat room")

	go c.writePump(sub)

	for {
		msg, ok, err := c.readMessage()
		if err != nil {
			if isUnexpectedClose(err) {
				c.log.WithError(err).Warn("WS read error")
			}
			return
		}
		if !ok {
			c.reply(api.EventError, api.ErrorPayload{Code: api.CodeBadRequest, Message: "malformed message"})
			continue
		}

		switch msg.Type {
		case api.CombatGetState:
			if !c.Service.ResendCombatState(c.MatchID, c.ID) {
				c.log.Debug("no combat state to resend yet")
			}
		case api.CombatLeave:
			return
		case api.CombatJoin:
			// Уже в комнате.
		default:
			c.log.WithField("type", msg.Type).Debug("ignoring unknown combat event")
		}
	}
}

func (c *CombatClient) handshake() (<-chan []byte, error) {
	msg, ok, err := c.readMessage()
	if err != nil {
		return nil, fmt.Errorf("read join: %w", err)
	}
	if !ok {
		return nil, api.ErrorPayload{Code: api.CodeBadRequest, Message: "malformed join"}
	}
	if msg.Type != api.CombatJoin {
		return nil, api.ErrorPayload{Code: api.CodeNotJoined, Message: fmt.Sprintf("expected %s, got %q", api.CombatJoin, msg.Type)}
	}

	var p api.CombatRoomPayload
	if err := msg.Decode(&p); err != nil {
		return nil, api.ErrorPayload{Code: api.CodeBadRequest, Message: err.Error()}
	}
	if err := p.Validate(); err != nil {
		return nil, api.ErrorPayload{Code: api.CodeBadRequest, Message: err.Error()}
	}
	c.MatchID = p.MatchID
	c.log = c.log.WithField("match_id", p.MatchID)
	return c.Service.JoinCombat(p.MatchID, c.ID)
}

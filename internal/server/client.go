package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"drawn-of-war/internal/domain"
	"drawn-of-war/internal/engine"
	"drawn-of-war/pkg/api"
	"drawn-of-war/pkg/logger"
)

// Настройки WebSocket
const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	joinTimeout = 5 * time.Second
	sendBuffer  = 16

	// update-placements может нести спрайты в base64.
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// peer — общая часть соединений обоих пространств имён.
// Писать в сокет может только writePump; до его запуска — writeNow.
type peer struct {
	Conn *websocket.Conn
	Send chan []byte

	quit     chan struct{}
	quitOnce sync.Once
	log      *logrus.Entry
}

func newPeer(conn *websocket.Conn, log *logrus.Entry) *peer {
	return &peer{
		Conn: conn,
		Send: make(chan []byte, sendBuffer),
		quit: make(chan struct{}),
		log:  log,
	}
}

func (p *peer) setupRead() {
	p.Conn.SetReadLimit(maxMessageSize)
	if err := p.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		p.log.WithError(err).Warn("failed to set read deadline")
	}
	p.Conn.SetPongHandler(func(string) error {
		if err := p.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			p.log.WithError(err).Warn("failed to set pong read deadline")
		}
		return nil
	})
}

// readMessage читает один конверт. Битый JSON не рвет соединение.
func (p *peer) readMessage() (api.Message, bool, error) {
	_, data, err := p.Conn.ReadMessage()
	if err != nil {
		return api.Message{}, false, err
	}
	var msg api.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return api.Message{}, false, nil
	}
	return msg, true, nil
}

// writeNow пишет в сокет напрямую. Только пока writePump не запущен.
func (p *peer) writeNow(eventType string, payload any) error {
	data, err := api.Encode(eventType, payload)
	if err != nil {
		return err
	}
	if err := p.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return p.Conn.WriteMessage(websocket.TextMessage, data)
}

// reply кладет ответ самого соединения (не матча) в очередь writePump.
func (p *peer) reply(eventType string, payload any) {
	data, err := api.Encode(eventType, payload)
	if err != nil {
		p.log.WithError(err).Error("failed to encode reply")
		return
	}
	select {
	case p.Send <- data:
	case <-p.quit:
	default:
		p.log.Warn("reply queue full, message dropped")
	}
}

func (p *peer) stop() {
	p.quitOnce.Do(func() { close(p.quit) })
	if err := p.Conn.Close(); err != nil {
		p.log.WithError(err).Debug("failed to close websocket connection")
	}
}

// writePump отправляет данные клиенту + Ping. Закрытие sub завершает соединение.
func (p *peer) writePump(sub <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.stop()
	}()

	write := func(messageType int, data []byte) bool {
		if err := p.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			p.log.WithError(err).Warn("failed to set write deadline")
		}
		if err := p.Conn.WriteMessage(messageType, data); err != nil {
			p.log.WithError(err).Debug("websocket write failed")
			return false
		}
		return true
	}

	for {
		select {
		case message, ok := <-sub:
			if !ok {
				write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if !write(websocket.TextMessage, message) {
				return
			}

		case message := <-p.Send:
			if !write(websocket.TextMessage, message) {
				return
			}

		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				return
			}

		case <-p.quit:
			return
		}
	}
}

func isUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure)
}

// Client - посредник между WebSocket расстановки и MatchService
type Client struct {
	*peer

	Service  *engine.MatchService
	MatchID  string
	PlayerID domain.PlayerID
}

func NewClient(svc *engine.MatchService, conn *websocket.Conn) *Client {
	return &Client{
		peer:    newPeer(conn, logger.Component("server")),
		Service: svc,
	}
}

// readPump: рукопожатие, затем команды игрока в цикл матча.
func (c *Client) readPump() {
	var sub <-chan []byte
	defer func() {
		if sub != nil {
			c.Service.Leave(c.MatchID, c.PlayerID, sub)
		}
		c.stop()
	}()

	c.setupRead()

	// 1. HANDSHAKE (JOIN)
	var err error
	sub, err = c.handshake()
	if err != nil {
		c.log.WithError(err).Warn("Handshake failed")
		if werr := c.writeNow(api.EventError, asErrorPayload(err)); werr != nil {
			c.log.WithError(werr).Debug("failed to report handshake error")
		}
		return
	}
	c.log = logger.Match("server", c.MatchID, string(c.PlayerID))
	c.log.Info("Client joined")

	// 2. Обновления матча идут прямо в writePump
	go c.writePump(sub)

	// 3. ЦИКЛ ЧТЕНИЯ КОМАНД
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
		if err := c.Service.Submit(context.Background(), c.MatchID, c.PlayerID, msg); err != nil {
			c.log.WithError(err).Warn("Match is not accepting commands")
			return
		}
	}
}

// handshake ждет join и подключает сторону к матчу.
func (c *Client) handshake() (<-chan []byte, error) {
	msg, ok, err := c.readMessage()
	if err != nil {
		return nil, fmt.Errorf("read join: %w", err)
	}
	if !ok {
		return nil, api.ErrorPayload{Code: api.CodeBadRequest, Message: "malformed join"}
	}
	if msg.Type != api.EventJoin {
		return nil, api.ErrorPayload{Code: api.CodeNotJoined, Message: fmt.Sprintf("expected %s, got %q", api.EventJoin, msg.Type)}
	}

	var p api.JoinPayload
	if err := msg.Decode(&p); err != nil {
		return nil, api.ErrorPayload{Code: api.CodeBadRequest, Message: err.Error()}
	}
	if err := p.Validate(); err != nil {
		return nil, api.ErrorPayload{Code: api.CodeBadRequest, Message: err.Error()}
	}
	c.MatchID, c.PlayerID = p.MatchID, p.PlayerID

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()
	return c.Service.Join(ctx, p.MatchID, p.PlayerID)
}

// asErrorPayload переводит ошибку сервиса в error-событие протокола.
func asErrorPayload(err error) api.ErrorPayload {
	var ep api.ErrorPayload
	switch {
	case errors.As(err, &ep):
		return ep
	case errors.Is(err, engine.ErrMatchNotFound):
		return api.ErrorPayload{Code: api.CodeMatchNotFound, Message: err.Error()}
	case errors.Is(err, engine.ErrMatchClosed), errors.Is(err, engine.ErrServiceClosed):
		return api.ErrorPayload{Code: api.CodeMatchClosed, Message: err.Error()}
	case errors.Is(err, engine.ErrCombatNotStarted):
		return api.ErrorPayload{Code: api.CodeNotReady, Message: err.Error()}
	}
	return api.ErrorPayload{Code: api.CodeInternal, Message: err.Error()}
}

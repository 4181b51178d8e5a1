package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"drawn-of-war/pkg/api"
	"drawn-of-war/pkg/eventbus"
)

// joinAttempt — одно рукопожатие. Все вызовы Join во время попытки ждут её же.
type joinAttempt struct {
	done  chan struct{}
	once  sync.Once
	err   error
	timer *time.Timer
}

func (a *joinAttempt) finish(err error) {
	a.once.Do(func() {
		if a.timer != nil {
			a.timer.Stop()
		}
		a.err = err
		close(a.done)
	})
}

// handshake описывает рукопожатие пространства имён.
type handshake struct {
	event   string
	payload func() any
	ack     string
}

// link — соединение с сервером, общее для обоих пространств имён:
// дозвон, join, единственная горутина чтения, переподключение с backoff.
// Подписчики живут на шинах link, а не соединения, поэтому переживают переподключение ровно в одном экземпляре.
type link struct {
	cfg      Config
	hs       handshake
	dispatch func(api.Message)
	log      *logrus.Entry

	mu      sync.Mutex
	conn    *websocket.Conn
	gen     uint64
	status  Status
	lastErr error
	pending *joinAttempt
	closed  bool
	closeCh chan struct{}

	writeMu sync.Mutex

	statusBus *eventbus.Bus[Status]
	errorBus  *eventbus.Bus[api.ErrorPayload]
}

func newLink(cfg Config, hs handshake, dispatch func(api.Message), log *logrus.Entry) *link {
	return &link{
		cfg:       cfg.withDefaults(),
		hs:        hs,
		dispatch:  dispatch,
		log:       log,
		status:    StatusDisconnected,
		closeCh:   make(chan struct{}),
		statusBus: eventbus.New[Status](),
		errorBus:  eventbus.New[api.ErrorPayload](),
	}
}

func (l *link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Err — постоянная ошибка после StatusFailed.
func (l *link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// IsConnected — true только после получения авторитетного состояния.
func (l *link) IsConnected() bool {
	return l.Status() == StatusJoined
}

// OnStatus подписывает на смену статуса соединения.
func (l *link) OnStatus(fn func(Status)) eventbus.Unsubscribe {
	return l.statusBus.Subscribe(fn)
}

// OnError подписывает на error-события сервера вне рукопожатия.
func (l *link) OnError(fn func(api.ErrorPayload)) eventbus.Unsubscribe {
	return l.errorBus.Subscribe(fn)
}

// setStatusLocked меняет статус и возвращает функцию уведомления (вызвать после Unlock).
func (l *link) setStatusLocked(s Status) func() {
	if l.status == s {
		return func() {}
	}
	l.status = s
	return func() { l.statusBus.Publish(s) }
}

// Join выполняет рукопожатие или присоединяется к уже идущему.
// Отмена ctx прекращает ожидание этого вызова, но не саму попытку.
func (l *link) Join(ctx context.Context) error {
	l.mu.Lock()
	switch {
	case l.closed:
		l.mu.Unlock()
		return ErrClosed
	case l.status == StatusJoined:
		l.mu.Unlock()
		return nil
	case l.status == StatusFailed:
		err := l.lastErr
		l.mu.Unlock()
		return err
	}

	att := l.pending
	if att == nil {
		att = &joinAttempt{done: make(chan struct{})}
		l.pending = att
		att.timer = time.AfterFunc(l.cfg.JoinTimeout, func() {
			l.failJoin(att, ErrJoinTimeout)
		})
		go l.runJoin(att)
	}
	l.mu.Unlock()

	select {
	case <-att.done:
		return att.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *link) runJoin(att *joinAttempt) {
	conn, err := l.ensureConn()
	if err != nil {
		l.failJoin(att, err)
		return
	}

	data, err := api.Encode(l.hs.event, l.hs.payload())
	if err != nil {
		l.failJoin(att, err)
		return
	}
	if err := l.writeTo(conn, data); err != nil {
		l.failJoin(att, fmt.Errorf("send %s: %w", l.hs.event, err))
	}
}

// ensureConn возвращает текущее соединение или дозванивается.
func (l *link) ensureConn() (*websocket.Conn, error) {
	l.mu.Lock()
	if l.conn != nil {
		conn := l.conn
		l.mu.Unlock()
		return conn, nil
	}
	notify := l.setStatusLocked(StatusConnecting)
	l.mu.Unlock()
	notify()

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.JoinTimeout)
	defer cancel()

	conn, _, err := l.cfg.Dialer.DialContext(ctx, l.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", l.cfg.URL, err)
	}
	conn.SetReadLimit(maxMessageSize)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClosed
	}
	l.gen++
	gen := l.gen
	l.conn = conn
	l.mu.Unlock()

	go l.readLoop(conn, gen)
	return conn, nil
}

// failJoin завершает попытку ошибкой, если она всё ещё текущая, и сбрасывает соединение.
func (l *link) failJoin(att *joinAttempt, err error) {
	l.mu.Lock()
	if l.pending != att {
		l.mu.Unlock()
		return
	}
	l.pending = nil
	conn := l.dropConnLocked()
	notify := func() {}
	if !l.closed && l.status != StatusFailed {
		notify = l.setStatusLocked(StatusDisconnected)
	}
	l.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	l.log.WithError(err).Warn("join failed")
	att.finish(err)
	notify()
}

func (l *link) dropConnLocked() *websocket.Conn {
	conn := l.conn
	l.conn = nil
	l.gen++
	return conn
}

// readLoop — единственный читатель соединения. События применяются строго в порядке получения.
func (l *link) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.handleDisconnect(gen, err)
			return
		}

		var msg api.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			l.log.WithError(err).Warn("malformed message")
			continue
		}

		if !l.current(gen) {
			return
		}
		l.handle(msg)
	}
}

func (l *link) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen == gen && !l.closed
}

func (l *link) handle(msg api.Message) {
	switch msg.Type {
	case l.hs.ack:
		l.mu.Lock()
		att := l.pending
		l.pending = nil
		notify := l.setStatusLocked(StatusJoined)
		l.mu.Unlock()

		notify()
		l.dispatch(msg)
		// Join возвращается только после того, как состояние применено.
		if att != nil {
			att.finish(nil)
		}

	case api.EventError:
		var payload api.ErrorPayload
		if err := msg.Decode(&payload); err != nil {
			l.log.WithError(err).Warn("undecodable error event")
			return
		}

		l.mu.Lock()
		att := l.pending
		l.mu.Unlock()
		if att != nil {
			l.failJoin(att, payload)
			return
		}
		l.log.WithField("code", payload.Code).Warn(payload.Message)
		l.errorBus.Publish(payload)

	default:
		l.dispatch(msg)
	}
}

// handleDisconnect реагирует на обрыв. Устаревшие поколения игнорируются.
func (l *link) handleDisconnect(gen uint64, cause error) {
	l.mu.Lock()
	if l.gen != gen || l.closed {
		l.mu.Unlock()
		return
	}
	wasJoined := l.status == StatusJoined
	conn := l.dropConnLocked()
	att := l.pending
	l.pending = nil
	notify := l.setStatusLocked(StatusDisconnected)
	l.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if websocket.IsUnexpectedCloseError(cause, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		l.log.WithError(cause).Warn("connection lost")
	} else {
		l.log.WithError(cause).Debug("connection closed")
	}
	if att != nil {
		att.finish(fmt.Errorf("connection lost during join: %w", cause))
	}
	notify()

	switch {
	case !wasJoined:
	case l.cfg.MaxRetries > 0:
		go l.reconnect()
	default:
		l.fail(fmt.Errorf("%w: reconnect disabled", ErrReconnectExhausted))
	}
}

// reconnect повторяет рукопожатие с ограниченным экспоненциальным backoff.
// Сервер — источник истины, поэтому после переподключения всегда заново выполняется join.
func (l *link) reconnect() {
	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxRetries; attempt++ {
		select {
		case <-time.After(l.cfg.backoff(attempt)):
		case <-l.closeCh:
			return
		}

		l.log.WithField("attempt", attempt).Info("reconnecting")
		lastErr = l.Join(context.Background())
		if lastErr == nil {
			l.log.WithField("attempt", attempt).Info("rejoined")
			return
		}
		if errors.Is(lastErr, ErrClosed) {
			return
		}
	}

	l.fail(fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, l.cfg.MaxRetries, lastErr))
}

// fail переводит канал в постоянную ошибку.
func (l *link) fail(err error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.lastErr = err
	notify := l.setStatusLocked(StatusFailed)
	l.mu.Unlock()

	l.log.WithError(err).Error("sync channel failed")
	notify()
}

// send отправляет событие после проверки статуса.
func (l *link) send(eventType string, payload any) error {
	l.mu.Lock()
	switch {
	case l.closed:
		l.mu.Unlock()
		return ErrClosed
	case l.status == StatusFailed:
		err := l.lastErr
		l.mu.Unlock()
		return err
	case l.status != StatusJoined || l.conn == nil:
		l.mu.Unlock()
		return ErrNotJoined
	}
	conn := l.conn
	l.mu.Unlock()

	data, err := api.Encode(eventType, payload)
	if err != nil {
		return err
	}
	if err := l.writeTo(conn, data); err != nil {
		return fmt.Errorf("send %s: %w", eventType, err)
	}
	return nil
}

func (l *link) writeTo(conn *websocket.Conn, data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close закрывает канал. Подписки остаются у владельцев их хендлов.
func (l *link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.closeCh)
	conn := l.dropConnLocked()
	att := l.pending
	l.pending = nil
	notify := l.setStatusLocked(StatusDisconnected)
	l.mu.Unlock()

	if att != nil {
		att.finish(ErrClosed)
	}
	notify()

	if conn == nil {
		return nil
	}
	l.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	l.writeMu.Unlock()
	return conn.Close()
}

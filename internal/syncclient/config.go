package syncclient

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"drawn-of-war/internal/domain"
)

// Status — состояние канала с точки зрения потребителя.
// StatusJoined означает не "сокет открыт", а "получено авторитетное состояние после join".
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusJoined       Status = "joined"
	StatusFailed       Status = "failed"
)

var (
	// ErrJoinTimeout — сервер не ответил на join за JoinTimeout.
	ErrJoinTimeout = errors.New("syncclient: join timed out")
	// ErrNotJoined — операция до завершения join (или после обрыва).
	ErrNotJoined = errors.New("syncclient: not joined")
	// ErrClosed — клиент закрыт владельцем.
	ErrClosed = errors.New("syncclient: client closed")
	// ErrReconnectExhausted — попытки переподключения исчерпаны, состояние StatusFailed.
	ErrReconnectExhausted = errors.New("syncclient: reconnect attempts exhausted")
)

// Настройки по умолчанию
const (
	defaultJoinTimeout = 5 * time.Second
	defaultMaxRetries  = 5
	defaultBaseBackoff = 250 * time.Millisecond
	defaultMaxBackoff  = 5 * time.Second
	writeWait          = 10 * time.Second
	maxMessageSize     = 1 << 20
)

// Config — параметры одного канала матча.
type Config struct {
	// URL websocket-эндпоинта, например ws://localhost:8080/ws/deployment.
	URL      string
	MatchID  string
	PlayerID domain.PlayerID

	// JoinTimeout — верхняя граница рукопожатия, включая дозвон.
	JoinTimeout time.Duration
	// MaxRetries — число попыток переподключения после обрыва.
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	Dialer *websocket.Dialer
}

// DefaultConfig заполняет таймауты и повторы значениями по умолчанию.
func DefaultConfig(url, matchID string, player domain.PlayerID) Config {
	return Config{
		URL:         url,
		MatchID:     matchID,
		PlayerID:    player,
		JoinTimeout: defaultJoinTimeout,
		MaxRetries:  defaultMaxRetries,
		BaseBackoff: defaultBaseBackoff,
		MaxBackoff:  defaultMaxBackoff,
		Dialer:      websocket.DefaultDialer,
	}
}

func (c Config) withDefaults() Config {
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = defaultJoinTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	return c
}

// backoff — экспоненциальная задержка перед попыткой attempt (с 1), ограниченная MaxBackoff.
func (c Config) backoff(attempt int) time.Duration {
	d := c.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return d
}

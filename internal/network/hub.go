package network

import (
	"github.com/sasha-s/go-deadlock"

	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/logger"
)

// SubscriberBuffer — ёмкость личного канала подписчика.
const SubscriberBuffer = 100

// Subscriber — ключ подписки: сторона конкретного матча.
type Subscriber struct {
	MatchID  string
	PlayerID domain.PlayerID
}

// Broadcaster занимается только рассылкой готовых сообщений подписчикам расстановки.
// Сообщения кодируются один раз отправителем и уходят в каналы как []byte.
type Broadcaster struct {
	mu deadlock.RWMutex
	// Мапа: матч+игрок -> личный канал
	subscribers map[Subscriber]chan []byte
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[Subscriber]chan []byte),
	}
}

// Register создает личный канал для стороны матча.
// Повторный вход (reconnect) закрывает прежний канал: старый writePump завершится сам.
func (b *Broadcaster) Register(matchID string, player domain.PlayerID) <-chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := Subscriber{MatchID: matchID, PlayerID: player}
	if old, ok := b.subscribers[key]; ok {
		close(old)
	}

	ch := make(chan []byte, SubscriberBuffer)
	b.subscribers[key] = ch
	return ch
}

// Unregister удаляет подписчика, но только если ch всё ещё его текущий канал.
// Поздний выход старого соединения не должен отключить новое.
func (b *Broadcaster) Unregister(matchID string, player domain.PlayerID, ch <-chan []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := Subscriber{MatchID: matchID, PlayerID: player}
	cur, ok := b.subscribers[key]
	if !ok || (ch != nil && (<-chan []byte)(cur) != ch) {
		return false
	}
	close(cur)
	delete(b.subscribers, key)
	return true
}

// Delivery — исход доставки одному подписчику.
type Delivery int

const (
	Delivered Delivery = iota
	NoSubscriber
	// Evicted: канал переполнился, подписчик снят и его канал закрыт.
	// Клиент переподключится и получит полный state.
	Evicted
)

// SendTo отправляет сообщение одной стороне (Unicast).
// Потерять дельту молча нельзя: отставший подписчик отключается целиком.
func (b *Broadcaster) SendTo(matchID string, player domain.PlayerID, msg []byte) Delivery {
	key := Subscriber{MatchID: matchID, PlayerID: player}

	b.mu.RLock()
	ch, ok := b.subscribers[key]
	if !ok {
		b.mu.RUnlock()
		return NoSubscriber
	}
	select {
	case ch <- msg:
		b.mu.RUnlock()
		return Delivered
	default:
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	// Пока держали RLock, сторона могла переподключиться: новый канал не трогаем.
	if cur, ok := b.subscribers[key]; !ok || cur != ch {
		return NoSubscriber
	}
	select {
	case ch <- msg:
		return Delivered
	default:
	}
	close(ch)
	delete(b.subscribers, key)
	logger.Match("hub", matchID, string(player)).Warn("subscriber channel full, subscriber evicted")
	return Evicted
}

// Broadcast отправляет сообщение обеим сторонам матча и возвращает отключенных.
func (b *Broadcaster) Broadcast(matchID string, msg []byte) []domain.PlayerID {
	var evicted []domain.PlayerID
	for _, p := range domain.Players {
		if b.SendTo(matchID, p, msg) == Evicted {
			evicted = append(evicted, p)
		}
	}
	return evicted
}

// HasSubscriber проверяет, подключена ли сторона.
func (b *Broadcaster) HasSubscriber(matchID string, player domain.PlayerID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subscribers[Subscriber{MatchID: matchID, PlayerID: player}]
	return ok
}

// SubscriberCount возвращает количество активных подписчиков.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// CloseMatch отключает всех подписчиков матча.
func (b *Broadcaster) CloseMatch(matchID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, ch := range b.subscribers {
		if key.MatchID == matchID {
			close(ch)
			delete(b.subscribers, key)
		}
	}
}

package network

import (
	"github.com/sasha-s/go-deadlock"

	"drawn-of-war/pkg/logger"
)

// CombatHub раздаёт снимки и события боя всем, кто вошёл в комнату матча.
// Последний снимок и итог запоминаются, чтобы поздний зритель сразу получил картину.
type CombatHub struct {
	mu    deadlock.RWMutex
	rooms map[string]*room
}

type room struct {
	members   map[string]chan []byte
	lastState []byte
	completed []byte
}

func NewCombatHub() *CombatHub {
	return &CombatHub{rooms: make(map[string]*room)}
}

func (h *CombatHub) roomLocked(name string) *room {
	r, ok := h.rooms[name]
	if !ok {
		r = &room{members: make(map[string]chan []byte)}
		h.rooms[name] = r
	}
	return r
}

// Join добавляет соединение в комнату. Повторный Join того же id заменяет канал.
// Поздний зритель первым делом получает последний снимок и итог, если они есть.
func (h *CombatHub) Join(roomName, connID string) <-chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.roomLocked(roomName)
	if old, ok := r.members[connID]; ok {
		close(old)
	}
	ch := make(chan []byte, SubscriberBuffer)
	if r.lastState != nil {
		ch <- r.lastState
	}
	if r.completed != nil {
		ch <- r.completed
	}
	r.members[connID] = ch
	return ch
}

// SendLast повторяет последний снимок одному участнику (getState).
func (h *CombatHub) SendLast(roomName, connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rooms[roomName]
	if !ok || r.lastState == nil {
		return false
	}
	ch, ok := r.members[connID]
	if !ok {
		return false
	}
	select {
	case ch <- r.lastState:
		return true
	default:
		return false
	}
}

// Leave убирает соединение из комнаты и закрывает его канал.
func (h *CombatHub) Leave(roomName, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomName]
	if !ok {
		return
	}
	if ch, ok := r.members[connID]; ok {
		close(ch)
		delete(r.members, connID)
	}
	if len(r.members) == 0 && r.lastState == nil && r.completed == nil {
		delete(h.rooms, roomName)
	}
}

// Publish рассылает сообщение участникам комнаты. Участник с переполненным каналом
// снимается: после переподключения он получит последний снимок из кеша комнаты.
func (h *CombatHub) Publish(roomName string, msg []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomName]
	if !ok {
		return 0
	}
	sent := 0
	for id, ch := range r.members {
		select {
		case ch <- msg:
			sent++
		default:
			close(ch)
			delete(r.members, id)
			logger.Component("combat-hub").WithField("conn", id).Warn("combat subscriber channel full, subscriber evicted")
		}
	}
	return sent
}

// PublishState запоминает снимок как последний и рассылает его.
func (h *CombatHub) PublishState(roomName string, msg []byte) int {
	h.mu.Lock()
	h.roomLocked(roomName).lastState = msg
	h.mu.Unlock()
	return h.Publish(roomName, msg)
}

// PublishCompleted запоминает итог и рассылает его.
func (h *CombatHub) PublishCompleted(roomName string, msg []byte) int {
	h.mu.Lock()
	h.roomLocked(roomName).completed = msg
	h.mu.Unlock()
	return h.Publish(roomName, msg)
}

// LastState возвращает последний опубликованный снимок комнаты.
func (h *CombatHub) LastState(roomName string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[roomName]; ok && r.lastState != nil {
		return r.lastState, true
	}
	return nil, false
}

// Completed возвращает итог боя, если он уже известен.
func (h *CombatHub) Completed(roomName string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[roomName]; ok && r.completed != nil {
		return r.completed, true
	}
	return nil, false
}

// MemberCount — число соединений в комнате.
func (h *CombatHub) MemberCount(roomName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[roomName]; ok {
		return len(r.members)
	}
	return 0
}

// CloseRoom отключает всех участников и забывает комнату.
func (h *CombatHub) CloseRoom(roomName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomName]
	if !ok {
		return
	}
	for _, ch := range r.members {
		close(ch)
	}
	delete(h.rooms, roomName)
}

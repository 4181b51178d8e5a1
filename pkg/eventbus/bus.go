// Package eventbus — типизированный реестр наблюдателей.
//
// Каждая подписка возвращает функцию отписки, поэтому очистка слушателей
// структурная: владелец сессии хранит хендлы и вызывает их при teardown.
package eventbus

import (
	"sync"
)

// Unsubscribe снимает подписку. Повторный вызов безопасен.
type Unsubscribe func()

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Bus рассылает события типа T подписчикам в порядке подписки.
type Bus[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber[T]
}

func New[T any]() *Bus[T] {
	return &Bus[T]{}
}

// Subscribe регистрирует обработчик и возвращает хендл отписки.
func (b *Bus[T]) Subscribe(fn func(T)) Unsubscribe {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber[T]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			// Копируем, чтобы не портить срез, который сейчас итерирует Publish
			next := make([]subscriber[T], 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			next = append(next, b.subs[i+1:]...)
			b.subs = next
			return
		}
	}
}

// Publish синхронно вызывает всех подписчиков в вызывающей горутине.
// Обработчик может отписаться прямо во время вызова.
func (b *Bus[T]) Publish(event T) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(event)
	}
}

// Len возвращает количество активных подписчиков.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Clear снимает все подписки разом.
func (b *Bus[T]) Clear() {
	b.mu.Lock()
	b.subs = nil
	b.mu.Unlock()
}

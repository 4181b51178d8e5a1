package engine

import (
	"time"

	"drawn-of-war/internal/deployment"
)

// Config хранит параметры запуска движка матчей
type Config struct {
	// Deployment — сетка, зоны и лимит существ. Одинаковы для всех матчей.
	Deployment deployment.Config

	// Countdown — сколько "секунд" отсчитывается между фиксацией и началом боя.
	// 0 — бой стартует сразу после фиксации.
	Countdown int
	// CountdownStep — длительность одного шага отсчета.
	CountdownStep time.Duration

	// CommandBuffer — емкость очереди команд одного матча.
	CommandBuffer int
	// StoreTimeout ограничивает одну операцию с хранилищем.
	StoreTimeout time.Duration
}

// NewConfig создает конфиг по умолчанию
func NewConfig() Config {
	return Config{
		Deployment:    deployment.NewConfig(),
		Countdown:     3,
		CountdownStep: time.Second,
		CommandBuffer: 100,
		StoreTimeout:  2 * time.Second,
	}
}

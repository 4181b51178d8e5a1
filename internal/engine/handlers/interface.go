package handlers

import (
	"encoding/json"
	"fmt"

	"drawn-of-war/internal/deployment"
	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/api"
)

// Context передает хендлеру состояние матча.
// Machine — авторитетная машина расстановки; хендлер мутирует её напрямую.
type Context struct {
	MatchID string
	Player  domain.PlayerID
	Phase   domain.MatchPhase
	Machine *deployment.Machine
}

// Result - возвращает результат выполнения команды.
// Хендлер НЕ пишет в сокеты сам, он возвращает, что разослать.
type Result struct {
	Event         string // Событие для соперника (opponent-placed, ...)
	Payload       any    // Его payload
	StatusChanged bool   // Разослать status-changed обеим сторонам
	Persist       bool   // Сохранить матч
}

// HandlerFunc - это контракт для любой команды (place, remove, ready, ...).
type HandlerFunc func(ctx Context, payload json.RawMessage) (Result, error)

// EmptyResult - вспомогательная функция для пустого успешного ответа
func EmptyResult() Result {
	return Result{}
}

// Reject формирует отказ, который уйдет клиенту как событие error.
func Reject(code, format string, args ...any) error {
	return api.ErrorPayload{Code: code, Message: fmt.Sprintf(format, args...)}
}

// RejectValidation переводит отказ машины расстановки в событие error с кодом причины.
func RejectValidation(res deployment.ValidationResult) error {
	return api.ErrorPayload{Code: string(res.Reason), Message: res.Message}
}

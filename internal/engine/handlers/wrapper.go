package handlers

import (
	"encoding/json"
	"errors"

	"drawn-of-war/pkg/api"
)

// TypedHandlerFunc - это "чистый" хендлер, который работает с готовой структурой T
type TypedHandlerFunc[T any] func(ctx Context, payload T) (Result, error)

type matchScoped interface {
	Ref() api.MatchRef
}

// WithPayload берет "чистый" хендлер и превращает его в стандартный HandlerFunc.
// Она берет на себя Unmarshal, Validate и проверку адреса события.
func WithPayload[T any](handler TypedHandlerFunc[T]) HandlerFunc {
	return func(ctx Context, raw json.RawMessage) (Result, error) {
		var payload T

		// 1. Распаковка JSON
		if len(raw) == 0 {
			return Result{}, Reject(api.CodeBadRequest, "payload is required")
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return Result{}, Reject(api.CodeBadRequest, "invalid payload format: %v", err)
		}

		// 2. Автоматическая валидация
		if v, ok := any(payload).(api.Validator); ok {
			if err := v.Validate(); err != nil {
				return Result{}, Reject(api.CodeBadRequest, "validation failed: %v", err)
			}
		}

		// 3. Соединение говорит только от своего имени и только в свой матч
		if s, ok := any(payload).(matchScoped); ok {
			ref := s.Ref()
			if ref.MatchID != ctx.MatchID || ref.PlayerID != ctx.Player {
				return Result{}, Reject(api.CodeWrongPlayer, "connection is bound to %s/%s", ctx.MatchID, ctx.Player)
			}
		}

		// 4. Вызов чистой логики
		return handler(ctx, payload)
	}
}

// AsErrorPayload приводит ошибку хендлера к событию error. Неожиданные ошибки получают код internal.
func AsErrorPayload(err error) api.ErrorPayload {
	var ep api.ErrorPayload
	if errors.As(err, &ep) {
		return ep
	}
	return api.ErrorPayload{Code: api.CodeInternal, Message: err.Error()}
}

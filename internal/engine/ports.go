package engine

import (
	"context"

	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/logger"
)

// Store сохраняет расстановку между перезапусками сервера.
type Store interface {
	SaveMatch(ctx context.Context, rec domain.MatchRecord) error
	// LoadMatch возвращает false без ошибки, если матч не сохранялся.
	LoadMatch(ctx context.Context, matchID string) (domain.MatchRecord, bool, error)
}

// CombatLauncher передает зафиксированные армии внешнему симулятору боя.
// Симулятор затем присылает снимки через HTTP API сервера.
type CombatLauncher interface {
	LaunchCombat(ctx context.Context, matchID string, armies map[domain.PlayerID][]domain.Placement) error
}

// LauncherFunc позволяет использовать функцию как CombatLauncher.
type LauncherFunc func(ctx context.Context, matchID string, armies map[domain.PlayerID][]domain.Placement) error

func (f LauncherFunc) LaunchCombat(ctx context.Context, matchID string, armies map[domain.PlayerID][]domain.Placement) error {
	return f(ctx, matchID, armies)
}

// LogLauncher только фиксирует старт боя в логе. Используется, когда симулятор подключается сам.
var LogLauncher = LauncherFunc(func(_ context.Context, matchID string, armies map[domain.PlayerID][]domain.Placement) error {
	logger.Component("engine").WithField("match_id", matchID).
		Infof("Combat started: %d vs %d creatures", len(armies[domain.Player1]), len(armies[domain.Player2]))
	return nil
})

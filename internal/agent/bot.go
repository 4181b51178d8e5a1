package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"drawn-of-war/internal/deployment"
	"drawn-of-war/internal/domain"
	"drawn-of-war/internal/syncclient"
	"drawn-of-war/pkg/api"
	"drawn-of-war/pkg/hex"
	"drawn-of-war/pkg/logger"
)

// ErrNoFreeHex — в зоне бота не нашлось допустимого гекса для существа.
var ErrNoFreeHex = errors.New("agent: no valid hex left in deployment zone")

// Bot представляет собой "Игрока-компьютера" (Headless Agent).
// Это ВНЕШНИЙ клиент: он подключается к серверу тем же протоколом, что и браузер,
// и держит свою копию расстановки в deployment.Machine, поэтому подчиняется той же валидации.
//
// Жизненный цикл:
//  1. NewBot -> клиент синхронизации и локальная машина.
//  2. Run -> join, ожидание первого state, расстановка отряда, ready.
//  3. Run возвращается после combat-completed или отмены ctx.
type Bot struct {
	Player domain.PlayerID
	Roster []domain.Creature

	client  *syncclient.Client
	machine *deployment.Machine
	log     *logrus.Entry

	synced    chan struct{}
	syncOnce  sync.Once
	completed chan domain.PlayerID
}

func NewBot(cfg syncclient.Config, roster []domain.Creature) *Bot {
	return &Bot{
		Player:    cfg.PlayerID,
		Roster:    roster,
		client:    syncclient.New(cfg),
		machine:   deployment.NewMachine(deployment.NewConfig(), cfg.PlayerID),
		log:       logger.Match("agent", cfg.MatchID, string(cfg.PlayerID)),
		synced:    make(chan struct{}),
		completed: make(chan domain.PlayerID, 1),
	}
}

// DefaultRoster — отряд бота, когда библиотека существ не подключена.
func DefaultRoster(player domain.PlayerID) []domain.Creature {
	base := []struct {
		id    string
		name  string
		stats domain.Stats
	}{
		{"goblin", "Goblin", domain.Stats{Health: 30, Attack: 6, Speed: 4}},
		{"troll", "Troll", domain.Stats{Health: 80, Attack: 12, Speed: 2}},
		{"archer", "Skeleton Archer", domain.Stats{Health: 25, Attack: 8, Speed: 3, Range: 4}},
	}
	out := make([]domain.Creature, 0, len(base))
	for _, b := range base {
		stats := b.stats
		out = append(out, domain.Creature{
			ID:          "bot-" + b.id,
			Name:        b.name,
			OwnerPlayer: player,
			Stats:       &stats,
		})
	}
	return out
}

// Machine — локальная копия расстановки бота.
func (b *Bot) Machine() *deployment.Machine {
	return b.machine
}

// Run запускает цикл жизни бота. Блокирует до конца боя или отмены ctx.
func (b *Bot) Run(ctx context.Context) error {
	unsubs := b.subscribe()
	defer func() {
		for _, u := range unsubs {
			u()
		}
		if err := b.client.Close(); err != nil {
			b.log.WithError(err).Debug("close sync client")
		}
	}()

	if err := b.client.Connect(ctx); err != nil {
		return fmt.Errorf("bot join: %w", err)
	}

	select {
	case <-b.synced:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := b.deploy(); err != nil {
		return err
	}
	b.log.Info("Bot deployed and ready")

	select {
	case winner := <-b.completed:
		b.log.WithField("winner", winner).Info("Combat finished, bot leaving")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// subscribe зеркалит события сервера в локальную машину.
func (b *Bot) subscribe() []func() {
	opponent := b.Player.Opponent()
	return []func(){
		b.client.OnState(func(s api.StatePayload) {
			for _, p := range domain.Players {
				b.machine.SyncPlacementsFromServer(p, s.PlacementsFor(p))
			}
			b.machine.ApplyStatus(s.Status)
			b.syncOnce.Do(func() { close(b.synced) })
		}),
		b.client.OnOpponentPlaced(func(p api.OpponentPlacedPayload) {
			b.machine.ApplyRemotePlacement(opponent, p.Placement)
		}),
		b.client.OnOpponentRemoved(func(p api.OpponentRemovedPayload) {
			b.machine.ApplyRemoteRemoval(opponent, p.CreatureID)
		}),
		b.client.OnOpponentUpdated(func(p api.OpponentUpdatedPayload) {
			b.machine.SyncPlacementsFromServer(opponent, p.Placements)
		}),
		b.client.OnStatusChanged(b.machine.ApplyStatus),
		b.client.OnError(func(e api.ErrorPayload) {
			b.log.WithField("code", e.Code).Warn("Server rejected bot action: " + e.Message)
		}),
		b.client.OnCombatCompleted(func(p api.CombatCompletedPayload) {
			select {
			case b.completed <- p.Winner:
			default:
			}
		}),
	}
}

// deploy ставит неразмещенных существ отряда и отмечает готовность.
// После переподключения к восстановленному матчу уже стоящие существа не трогаются.
func (b *Bot) deploy() error {
	state := b.machine.State(b.Player)
	if state.IsLocked {
		return nil
	}

	candidates := b.frontLine()
	for _, c := range b.Roster {
		if state.PlacementIndex(c.ID) >= 0 {
			continue
		}
		c.OwnerPlayer = b.Player

		placed := false
		for _, h := range candidates {
			if !b.machine.ValidatePlacement(h, c, b.Player).Valid {
				continue
			}
			if ok, _ := b.machine.PlaceFor(b.Player, c, h); !ok {
				continue
			}
			st := b.machine.State(b.Player)
			if err := b.client.Place(st.Placements[st.PlacementIndex(c.ID)]); err != nil {
				return fmt.Errorf("place %s: %w", c.ID, err)
			}
			placed = true
			break
		}
		if !placed {
			if len(b.machine.Placements(b.Player)) >= b.machine.Config().MaxCreatures {
				break
			}
			return fmt.Errorf("%w: %s", ErrNoFreeHex, c.ID)
		}
	}

	if b.machine.State(b.Player).IsReady {
		return nil
	}
	// Локально отмечаем раньше, чем уходит событие: сервер все равно перепроверит.
	if !b.machine.MarkReady(b.Player) {
		return errors.New("agent: nothing placed, cannot mark ready")
	}
	return b.client.Ready()
}

// frontLine — гексы зоны бота, начиная со столбца, ближайшего к центру поля.
func (b *Bot) frontLine() []hex.Coord {
	cfg := b.machine.Config()
	zone := cfg.Zones.For(b.Player)
	center := float64(cfg.Layout.Width) / 2

	var coords []hex.Coord
	for _, h := range cfg.Layout.Coords() {
		if zone.Contains(h) {
			coords = append(coords, h)
		}
	}
	dist := func(h hex.Coord) float64 {
		d := float64(h.Q) + 0.5 - center
		if d < 0 {
			return -d
		}
		return d
	}
	sort.SliceStable(coords, func(i, j int) bool {
		if di, dj := dist(coords[i]), dist(coords[j]); di != dj {
			return di < dj
		}
		return coords[i].R < coords[j].R
	})
	return coords
}

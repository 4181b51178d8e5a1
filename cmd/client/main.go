package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/hajimehoshi/ebiten/v2"

	"drawn-of-war/internal/assets"
	"drawn-of-war/internal/domain"
	"drawn-of-war/internal/library"
	"drawn-of-war/internal/render"
	"drawn-of-war/internal/render/ebitenview"
	"drawn-of-war/internal/session"
	"drawn-of-war/internal/syncclient"
	"drawn-of-war/internal/version"
	"drawn-of-war/pkg/logger"
)

const (
	windowWidth  = 1024
	windowHeight = 720
)

func init() {
	logger.Init()
}

func main() {
	var (
		serverURL  string
		libraryURL string
		matchID    string
		player     string
	)
	flag.StringVar(&serverURL, "server", envOr("DOW_SERVER_URL", "ws://localhost:8080"), "sync server base URL (ws:// or wss://)")
	flag.StringVar(&libraryURL, "library", os.Getenv("DOW_LIBRARY_URL"), "creature library base URL (demo roster if empty)")
	flag.StringVar(&matchID, "match", "demo", "match id to join")
	flag.StringVar(&player, "player", string(domain.Player1), "side to play: player1 or player2")
	flag.Parse()

	logger.Log.Info("Starting Drawn of War client...")
	logger.Log.Info(version.String())

	side, ok := domain.ParsePlayerID(player)
	if !ok {
		logger.Log.Fatalf("unknown player %q", player)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	screens := &screens{
		serverURL: strings.TrimRight(serverURL, "/"),
		matchID:   matchID,
		player:    side,
		roster:    loadRoster(ctx, libraryURL, side),
		textures:  assets.New(assets.Config{BaseURL: libraryURL}),
	}

	view := ebitenview.NewView()
	app := session.NewApp(screens, view)
	defer func() {
		if err := app.Close(); err != nil {
			logger.Log.WithError(err).Warn("close session")
		}
	}()

	if err := app.Start(ctx); err != nil {
		logger.Log.WithError(err).Fatal("Failed to start session")
	}

	ebiten.SetWindowSize(windowWidth, windowHeight)
	ebiten.SetWindowTitle("Drawn of War — " + matchID + " (" + string(side) + ")")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)

	if err := ebiten.RunGame(ebitenview.NewGame(app, view, windowWidth, windowHeight)); err != nil {
		logger.Log.WithError(err).Error("Game loop stopped")
	}
}

// screens собирает экраны из syncclient, загрузчика спрайтов и рендерера.
type screens struct {
	serverURL string
	matchID   string
	player    domain.PlayerID
	roster    []domain.Creature
	textures  *assets.Source
}

func (s *screens) rendererConfig(strategy render.VisualStrategy) render.Config {
	return render.Config{
		ShowZones:    true,
		CanvasWidth:  windowWidth,
		CanvasHeight: windowHeight,
		Strategy:     strategy,
		Textures:     s.textures,
	}
}

func (s *screens) Deployment(context.Context) (*session.Deployment, error) {
	ch := syncclient.New(syncclient.DefaultConfig(s.serverURL+"/ws/deployment", s.matchID, s.player))

	cfg := s.rendererConfig(nil)
	for _, c := range s.roster {
		if !c.Sprite.IsZero() {
			cfg.Preload = append(cfg.Preload, c.Sprite)
		}
	}

	return session.NewDeployment(session.DeploymentConfig{
		MatchID: s.matchID,
		Player:  s.player,
		Roster:  s.roster,
	}, ch, render.NewGridRenderer(cfg)), nil
}

func (s *screens) Combat(_ context.Context, sprites map[string]domain.SpriteRef) (*session.Combat, error) {
	ch := syncclient.NewCombat(syncclient.DefaultConfig(s.serverURL+"/ws/combat", s.matchID, s.player))
	strategy := render.NewAnimatedStrategy()

	return session.NewCombat(session.CombatConfig{
		MatchID: s.matchID,
		Player:  s.player,
		Sprites: sprites,
	}, ch, render.NewGridRenderer(s.rendererConfig(strategy)), strategy), nil
}

// loadRoster берет отряд из библиотеки существ; без нее — демо-отряд.
func loadRoster(ctx context.Context, libraryURL string, side domain.PlayerID) []domain.Creature {
	if libraryURL != "" {
		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		roster, err := library.NewClient(library.NewConfig(libraryURL)).Roster(fetchCtx, side)
		if err == nil && len(roster) > 0 {
			return roster
		}
		logger.Log.WithError(err).Warn("Creature library unavailable, using demo roster")
	}

	demo := []struct{ id, name string }{
		{"knight", "Knight"},
		{"archer", "Archer"},
		{"mage", "Mage"},
		{"wolf", "Dire Wolf"},
	}
	out := make([]domain.Creature, 0, len(demo))
	for _, d := range demo {
		out = append(out, domain.Creature{ID: d.id, Name: d.name, OwnerPlayer: side})
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Package library — клиент внешней библиотеки существ.
//
// Ответ библиотеки исторически приходит в разных формах (строка, {url}, {base64},
// набор проекций, устаревшие поля spriteUrl/imageBase64). Форма разбирается здесь один раз,
// дальше по системе ходит только domain.SpriteRef.
package library

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/hex"
	"drawn-of-war/pkg/logger"
)

var ErrNotFound = errors.New("library: creature not found")

type Config struct {
	BaseURL string
	Timeout time.Duration
}

func NewConfig(baseURL string) Config {
	return Config{BaseURL: baseURL, Timeout: 8 * time.Second}
}

type Client struct {
	cfg  Config
	http *http.Client
	log  *logrus.Entry
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger.Component("library"),
	}
}

// Roster возвращает существ игрока, готовых к расстановке.
// Записи без id пропускаются; OwnerPlayer проставляется запрошенной стороной.
func (c *Client) Roster(ctx context.Context, owner domain.PlayerID) ([]domain.Creature, error) {
	q := url.Values{}
	q.Set("owner", owner.String())

	var raw json.RawMessage
	if err := c.get(ctx, "/api/creatures?"+q.Encode(), &raw); err != nil {
		return nil, err
	}
	entries, err := decodeList(raw)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Creature, 0, len(entries))
	for _, e := range entries {
		cr, err := e.creature()
		if err != nil {
			c.log.WithError(err).WithField("creature_id", e.ID).Warn("skipping library entry")
			continue
		}
		cr.OwnerPlayer = owner
		out = append(out, cr)
	}
	return out, nil
}

// Creature загружает одно существо.
func (c *Client) Creature(ctx context.Context, id string) (domain.Creature, error) {
	var e rawCreature
	if err := c.get(ctx, "/api/creatures/"+url.PathEscape(id), &e); err != nil {
		return domain.Creature{}, err
	}
	return e.creature()
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("library request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("library status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode library response: %w", err)
	}
	return nil
}

// decodeList принимает и голый массив, и обёртку {"creatures": [...]} / {"data": [...]}.
func decodeList(raw json.RawMessage) ([]rawCreature, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var list []rawCreature
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode creature list: %w", err)
		}
		return list, nil
	}
	var wrapped struct {
		Creatures []rawCreature `json:"creatures"`
		Data      []rawCreature `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode creature list: %w", err)
	}
	if wrapped.Creatures != nil {
		return wrapped.Creatures, nil
	}
	return wrapped.Data, nil
}

type rawCreature struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	PlayerID    string          `json:"playerId"`
	Facing      string          `json:"facing"`
	Sprite      json.RawMessage `json:"sprite"`
	SpriteURL   string          `json:"spriteUrl"`
	ImageBase64 string          `json:"imageBase64"`
	Views       json.RawMessage `json:"directionalViews"`
	Stats       *domain.Stats   `json:"stats"`
}

type rawView struct {
	Sprite       string   `json:"sprite"`
	SpriteURL    string   `json:"spriteUrl"`
	IdleFrames   []string `json:"idleFrames"`
	WalkFrames   []string `json:"walkFrames"`
	AttackFrames []string `json:"attackFrames"`
}

type rawSprite struct {
	URL    string             `json:"url"`
	Base64 string             `json:"base64"`
	Data   string             `json:"data"`
	Views  map[string]rawView `json:"views"`
	E      *rawView           `json:"E"`
	NE     *rawView           `json:"NE"`
	SE     *rawView           `json:"SE"`
}

func (e rawCreature) creature() (domain.Creature, error) {
	if e.ID == "" {
		return domain.Creature{}, errors.New("creature without id")
	}
	sprite, err := e.sprite()
	if err != nil {
		return domain.Creature{}, fmt.Errorf("creature %s: %w", e.ID, err)
	}

	cr := domain.Creature{
		ID:     e.ID,
		Name:   e.Name,
		Sprite: sprite,
		Stats:  e.Stats,
	}
	if p, ok := domain.ParsePlayerID(e.PlayerID); ok {
		cr.OwnerPlayer = p
	}
	if d, err := hex.ParseDirection(e.Facing); err == nil {
		cr.Facing = d
	}
	return cr, nil
}

// sprite выбирает первую непустую форму: проекции, sprite, затем устаревшие поля.
func (e rawCreature) sprite() (domain.SpriteRef, error) {
	if len(e.Views) > 0 && string(e.Views) != "null" {
		var s rawSprite
		if err := json.Unmarshal(e.Views, &s.Views); err != nil {
			return domain.SpriteRef{}, fmt.Errorf("directional views: %w", err)
		}
		if ref := s.directional(); !ref.IsZero() {
			return ref, nil
		}
	}

	if ref, err := parseSprite(e.Sprite); err != nil {
		return domain.SpriteRef{}, err
	} else if !ref.IsZero() {
		return ref, nil
	}

	switch {
	case e.SpriteURL != "":
		return domain.URLSprite(e.SpriteURL), nil
	case e.ImageBase64 != "":
		return domain.Base64Sprite(e.ImageBase64), nil
	}
	// Без спрайта существо всё равно можно расставить: рендерер нарисует заглушку.
	return domain.SpriteRef{}, nil
}

func parseSprite(raw json.RawMessage) (domain.SpriteRef, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return domain.SpriteRef{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return domain.SpriteRef{}, fmt.Errorf("sprite string: %w", err)
		}
		return spriteFromString(s), nil
	}

	var s rawSprite
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.SpriteRef{}, fmt.Errorf("sprite object: %w", err)
	}
	if ref := s.directional(); !ref.IsZero() {
		return ref, nil
	}
	switch {
	case s.URL != "":
		return domain.URLSprite(s.URL), nil
	case s.Base64 != "":
		return domain.Base64Sprite(s.Base64), nil
	case s.Data != "":
		return spriteFromString(s.Data), nil
	}
	return domain.SpriteRef{}, nil
}

func spriteFromString(s string) domain.SpriteRef {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return domain.SpriteRef{}
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"), strings.HasPrefix(s, "/"):
		return domain.URLSprite(s)
	}
	// data: URL тоже храним как встроенное изображение.
	return domain.Base64Sprite(s)
}

func (s rawSprite) directional() domain.SpriteRef {
	views := make(map[hex.View]domain.DirectionalView, 3)
	add := func(v hex.View, rv *rawView) {
		if rv == nil {
			return
		}
		sprite := rv.Sprite
		if sprite == "" {
			sprite = rv.SpriteURL
		}
		if sprite == "" {
			return
		}
		views[v] = domain.DirectionalView{
			Sprite:       sprite,
			IdleFrames:   rv.IdleFrames,
			WalkFrames:   rv.WalkFrames,
			AttackFrames: rv.AttackFrames,
		}
	}
	for _, v := range []hex.View{hex.ViewE, hex.ViewNE, hex.ViewSE} {
		if rv, ok := s.Views[string(v)]; ok {
			add(v, &rv)
		}
	}
	add(hex.ViewE, s.E)
	add(hex.ViewNE, s.NE)
	add(hex.ViewSE, s.SE)

	if len(views) == 0 {
		return domain.SpriteRef{}
	}
	return domain.DirectionalSprite(views)
}

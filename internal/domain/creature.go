package domain

import (
	"crypto/sha256"
	hexenc "encoding/hex"
	"io"
	"strconv"

	"drawn-of-war/pkg/hex"
)

// SpriteKind — дискриминатор варианта SpriteRef.
type SpriteKind string

const (
	SpriteURL         SpriteKind = "url"
	SpriteBase64      SpriteKind = "base64"
	SpriteDirectional SpriteKind = "directional"
)

// DirectionalView — анимационный набор для одной из трёх хранимых проекций.
type DirectionalView struct {
	Sprite       string   `json:"sprite"`
	IdleFrames   []string `json:"idleFrames,omitempty"`
	WalkFrames   []string `json:"walkFrames,omitempty"`
	AttackFrames []string `json:"attackFrames,omitempty"`
}

// SpriteRef — размеченное объединение ссылки на спрайт.
// Форма определяется один раз на границе (ответ библиотеки -> Creature),
// ядро больше никогда не "угадывает" структуру.
//
// Для SpriteDirectional заполнен Views с ключами E, NE, SE.
// Западные проекции не хранятся: они получаются зеркалированием.
type SpriteRef struct {
	Kind  SpriteKind                   `json:"kind"`
	URL   string                       `json:"url,omitempty"`
	Data  string                       `json:"data,omitempty"`
	Views map[hex.View]DirectionalView `json:"views,omitempty"`
}

func URLSprite(url string) SpriteRef {
	return SpriteRef{Kind: SpriteURL, URL: url}
}

func Base64Sprite(data string) SpriteRef {
	return SpriteRef{Kind: SpriteBase64, Data: data}
}

func DirectionalSprite(views map[hex.View]DirectionalView) SpriteRef {
	return SpriteRef{Kind: SpriteDirectional, Views: views}
}

// IsZero — ссылка не задана (рендерер нарисует заглушку).
func (s SpriteRef) IsZero() bool {
	switch s.Kind {
	case SpriteURL:
		return s.URL == ""
	case SpriteBase64:
		return s.Data == ""
	case SpriteDirectional:
		return len(s.Views) == 0
	}
	return true
}

// Key — стабильный ключ кеша для всего набора ресурсов.
// Встроенные данные и направленные наборы хешируются целиком: ключ различает
// любые два набора, отличающиеся хоть одним кадром.
func (s SpriteRef) Key() string {
	switch s.Kind {
	case SpriteURL:
		return "url:" + s.URL
	case SpriteBase64:
		if len(s.Data) > 64 {
			return "b64:" + digest(s.Data)
		}
		return "b64:" + s.Data
	case SpriteDirectional:
		h := sha256.New()
		for _, v := range []hex.View{hex.ViewE, hex.ViewNE, hex.ViewSE} {
			dv, ok := s.Views[v]
			if !ok {
				continue
			}
			writeField(h, string(v))
			writeField(h, dv.Sprite)
			for _, frames := range [][]string{dv.IdleFrames, dv.WalkFrames, dv.AttackFrames} {
				writeField(h, strconv.Itoa(len(frames)))
				for _, f := range frames {
					writeField(h, f)
				}
			}
		}
		return "dir:" + hexenc.EncodeToString(h.Sum(nil))
	}
	return ""
}

func digest(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hexenc.EncodeToString(sum[:])
}

// writeField пишет поле с длиной, чтобы границы полей не склеивались.
func writeField(w io.Writer, v string) {
	_, _ = io.WriteString(w, strconv.Itoa(len(v))+":"+v)
}

// Stats — опциональные характеристики, которые показываются в UI.
type Stats struct {
	Health int `json:"health"`
	Attack int `json:"attack"`
	Speed  int `json:"speed"`
	Range  int `json:"range,omitempty"`
}

// Creature — существо из ростера игрока (DeploymentCreature).
// OwnerPlayer носит информационный характер: сторона, чьё состояние меняется,
// определяется сессией, а не этим полем.
type Creature struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Sprite      SpriteRef     `json:"sprite"`
	OwnerPlayer PlayerID      `json:"playerId"`
	Facing      hex.Direction `json:"facing"`
	Stats       *Stats        `json:"stats,omitempty"`
}

// Placement — копия существа, поставленная на гекс.
type Placement struct {
	Creature Creature  `json:"creature"`
	Hex      hex.Coord `json:"hex"`
}

// ClonePlacements делает глубокую копию списка (Stats копируется по значению).
func ClonePlacements(src []Placement) []Placement {
	if src == nil {
		return []Placement{}
	}
	out := make([]Placement, len(src))
	for i, p := range src {
		out[i] = p
		if p.Creature.Stats != nil {
			s := *p.Creature.Stats
			out[i].Creature.Stats = &s
		}
	}
	return out
}

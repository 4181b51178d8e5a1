package render

import (
	"context"

	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/hex"
)

// ViewFrames — текстуры одной хранимой проекции (E, NE или SE).
type ViewFrames struct {
	Sprite *Texture
	Idle   []*Texture
	Walk   []*Texture
	Attack []*Texture
}

// SpriteFrames — разрешённый SpriteRef. Для плоского спрайта заполнен только Static.
type SpriteFrames struct {
	Key    string
	Static *Texture
	Views  map[hex.View]*ViewFrames
}

// StaticFrames оборачивает одну текстуру.
func StaticFrames(tex *Texture) *SpriteFrames {
	return &SpriteFrames{Key: tex.Key, Static: tex}
}

// ViewFor выбирает набор для направления. Западные направления получаются зеркалированием
// восточных, отдельные зеркальные ассеты не запрашиваются.
func (f *SpriteFrames) ViewFor(dir hex.Direction) (*ViewFrames, bool) {
	view, mirrored := dir.ViewFor()
	if f.Static != nil || len(f.Views) == 0 {
		return &ViewFrames{Sprite: f.Static}, mirrored
	}
	if v, ok := f.Views[view]; ok && v != nil {
		return v, mirrored
	}
	// Неполный набор: берём любую доступную проекцию в каноническом порядке.
	for _, fallback := range []hex.View{hex.ViewE, hex.ViewSE, hex.ViewNE} {
		if v, ok := f.Views[fallback]; ok && v != nil {
			return v, mirrored
		}
	}
	return &ViewFrames{}, mirrored
}

// Still — кадр покоя для статической отрисовки.
func (v *ViewFrames) Still() *Texture {
	if v.Sprite != nil {
		return v.Sprite
	}
	if len(v.Idle) > 0 {
		return v.Idle[0]
	}
	return nil
}

// TextureSource разрешает ссылки на спрайты. Реализуется пакетом assets.
type TextureSource interface {
	// Cached возвращает уже загруженный набор без ожидания.
	Cached(ref domain.SpriteRef) (*SpriteFrames, bool)
	// Load загружает набор; вызывается вне блокировок рендерера.
	Load(ctx context.Context, ref domain.SpriteRef) (*SpriteFrames, error)
}

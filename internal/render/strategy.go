package render

import (
	"time"

	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/hex"
)

// UnitParams — всё, что нужно для отрисовки одного юнита.
type UnitParams struct {
	UnitID  string
	Hex     hex.Coord
	Player  domain.PlayerID
	Name    string
	Sprite  domain.SpriteRef
	Opacity float64
	Facing  hex.Direction

	// Используются стратегией анимации.
	Animation AnimationState
	Health    int
	MaxHealth int
}

// UnitRenderer — возможность отрисовки юнитов; реализуется GridRenderer
// с разными стратегиями для расстановки и боя.
type UnitRenderer interface {
	RenderUnit(p UnitParams)
	RemoveUnit(unitID string)
	ClearAll()
	UpdateHighlight(h *hex.Coord, state HighlightState)
}

// VisualStrategy отвечает за тело визуала (спрайт) внутри группы юнита.
// Группа, свечение команды и позиция принадлежат рендереру.
type VisualStrategy interface {
	// Build создаёт тело для свежезагруженных кадров.
	Build(v *unitVisual, frames *SpriteFrames, p UnitParams)
	// Update применяет изменения направления/анимации к существующему телу.
	Update(v *unitVisual, p UnitParams)
	// Forget вызывается перед уничтожением группы.
	Forget(unitID string)
	// Advance продвигает время; статической стратегии нечего делать.
	Advance(dt time.Duration)
	// Flush рассылает отложенные уведомления вне блокировки рендерера.
	Flush()
}

// StaticStrategy рисует один кадр покоя текущей проекции (экран расстановки).
type StaticStrategy struct{}

func (StaticStrategy) Build(v *unitVisual, frames *SpriteFrames, p UnitParams) {
	v.frames = frames
	view, mirrored := frames.ViewFor(p.Facing)
	s := NewSprite("sprite", view.Still())
	v.setBody(s)
	v.applyScale(mirrored)
}

func (StaticStrategy) Update(v *unitVisual, p UnitParams) {
	if v.sprite == nil || v.frames == nil {
		return
	}
	view, mirrored := v.frames.ViewFor(p.Facing)
	if tex := view.Still(); tex != nil {
		v.sprite.Texture = tex
	}
	v.applyScale(mirrored)
}

func (StaticStrategy) Forget(string)         {}
func (StaticStrategy) Advance(time.Duration) {}
func (StaticStrategy) Flush()                {}

// AnimatedStrategy передаёт спрайты в AnimationManager (экран боя).
type AnimatedStrategy struct {
	Anim *AnimationManager
}

func NewAnimatedStrategy() *AnimatedStrategy {
	return &AnimatedStrategy{Anim: NewAnimationManager()}
}

func (a *AnimatedStrategy) Build(v *unitVisual, frames *SpriteFrames, p UnitParams) {
	v.frames = frames
	view, mirrored := frames.ViewFor(p.Facing)
	s := NewSprite("sprite", view.Still())
	v.setBody(s)
	v.applyScale(mirrored)

	state := p.Animation
	if state == "" {
		state = AnimIdle
	}
	a.Anim.Add(v.id, s, frames, v.baseScale, state, p.Facing)
}

func (a *AnimatedStrategy) Update(v *unitVisual, p UnitParams) {
	if v.sprite == nil {
		return
	}
	a.Anim.SetFacing(v.id, p.Facing)
	if p.Animation != "" {
		a.Anim.Play(v.id, p.Animation)
	}
}

func (a *AnimatedStrategy) Forget(unitID string) {
	a.Anim.Remove(unitID)
}

func (a *AnimatedStrategy) Advance(dt time.Duration) {
	a.Anim.Advance(dt)
}

func (a *AnimatedStrategy) Flush() {
	a.Anim.FlushCompleted()
}

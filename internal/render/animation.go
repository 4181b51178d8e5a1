package render

import (
	"sync"
	"time"

	"drawn-of-war/pkg/eventbus"
	"drawn-of-war/pkg/hex"
)

// AnimationState — состояние анимации юнита.
type AnimationState string

const (
	AnimIdle   AnimationState = "idle"
	AnimWalk   AnimationState = "walk"
	AnimAttack AnimationState = "attack"
	AnimDeath  AnimationState = "death"
)

// Clip — набор кадров одного состояния.
type Clip struct {
	Frames        []*Texture
	FrameDuration time.Duration
	Loop          bool
	ShouldMirror  bool
}

// ClipTiming — длительность кадра и зацикленность по состояниям.
var ClipTiming = map[AnimationState]struct {
	FrameDuration time.Duration
	Loop          bool
}{
	AnimIdle:   {150 * time.Millisecond, true},
	AnimWalk:   {100 * time.Millisecond, true},
	AnimAttack: {80 * time.Millisecond, false},
	AnimDeath:  {120 * time.Millisecond, false},
}

// AnimationComplete — уведомление о завершении незацикленной анимации.
type AnimationComplete struct {
	UnitID string
	State  AnimationState
}

// AnimatedEntry — состояние анимации одного юнита. Ключ — стабильный id юнита.
type AnimatedEntry struct {
	UnitID    string
	Sprite    *Sprite
	Frames    *SpriteFrames
	State     AnimationState
	Facing    hex.Direction
	Clip      Clip
	Frame     int
	Elapsed   time.Duration
	Playing   bool
	BaseScale float64

	completionArmed bool
}

// AnimationManager ведёт покадровые анимации. Смена состояния подменяет кадры и перезапускает
// воспроизведение, но не пересоздаёт спрайт.
type AnimationManager struct {
	mu       sync.Mutex
	entries  map[string]*AnimatedEntry
	fired    []AnimationComplete
	complete *eventbus.Bus[AnimationComplete]
}

func NewAnimationManager() *AnimationManager {
	return &AnimationManager{
		entries:  make(map[string]*AnimatedEntry, 64),
		fired:    make([]AnimationComplete, 0, 16),
		complete: eventbus.New[AnimationComplete](),
	}
}

// OnAnimationComplete подписывает на завершения незацикленных анимаций.
func (m *AnimationManager) OnAnimationComplete(fn func(AnimationComplete)) eventbus.Unsubscribe {
	return m.complete.Subscribe(fn)
}

// Add регистрирует спрайт юнита и запускает state.
func (m *AnimationManager) Add(unitID string, sprite *Sprite, frames *SpriteFrames, baseScale float64, state AnimationState, facing hex.Direction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &AnimatedEntry{UnitID: unitID, Sprite: sprite, Frames: frames, BaseScale: baseScale, Facing: facing}
	m.entries[unitID] = e
	m.playLocked(e, state)
}

// Play переключает состояние. Повторный Play того же зацикленного состояния не перезапускает клип.
func (m *AnimationManager) Play(unitID string, state AnimationState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[unitID]
	if !ok {
		return false
	}
	if e.State == state && e.Playing && e.Clip.Loop {
		return true
	}
	m.playLocked(e, state)
	return true
}

// SetFacing меняет направление; кадры текущего состояния берутся из новой проекции.
func (m *AnimationManager) SetFacing(unitID string, facing hex.Direction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[unitID]
	if !ok || e.Facing == facing {
		return
	}
	e.Facing = facing
	frame, elapsed, playing, armed := e.Frame, e.Elapsed, e.Playing, e.completionArmed
	e.Clip = buildClip(e.Frames, e.State, facing)
	if frame >= len(e.Clip.Frames) {
		frame = 0
	}
	e.Frame, e.Elapsed, e.Playing, e.completionArmed = frame, elapsed, playing, armed
	applyFrame(e)
}

func (m *AnimationManager) playLocked(e *AnimatedEntry, state AnimationState) {
	e.State = state
	e.Clip = buildClip(e.Frames, state, e.Facing)
	e.Frame = 0
	e.Elapsed = 0
	e.Playing = len(e.Clip.Frames) > 0
	e.completionArmed = !e.Clip.Loop
	applyFrame(e)
}

// Advance продвигает все анимации на dt. Не аллоцирует в установившемся режиме.
// Завершения копятся до FlushCompleted.
func (m *AnimationManager) Advance(dt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if !e.Playing || e.Clip.FrameDuration <= 0 {
			continue
		}
		e.Elapsed += dt
		changed := false
		for e.Elapsed >= e.Clip.FrameDuration {
			e.Elapsed -= e.Clip.FrameDuration
			if e.Frame+1 < len(e.Clip.Frames) {
				e.Frame++
				changed = true
				continue
			}
			if e.Clip.Loop {
				e.Frame = 0
				changed = true
				continue
			}
			// Незацикленный клип замирает на последнем кадре.
			e.Playing = false
			e.Elapsed = 0
			if e.completionArmed {
				e.completionArmed = false
				m.fired = append(m.fired, AnimationComplete{UnitID: e.UnitID, State: e.State})
			}
			break
		}
		if changed {
			applyFrame(e)
		}
	}
}

// FlushCompleted рассылает накопленные завершения. Вызывается без внешних блокировок,
// чтобы слушатели могли обращаться к рендереру.
func (m *AnimationManager) FlushCompleted() {
	m.mu.Lock()
	if len(m.fired) == 0 {
		m.mu.Unlock()
		return
	}
	batch := make([]AnimationComplete, len(m.fired))
	copy(batch, m.fired)
	m.fired = m.fired[:0]
	m.mu.Unlock()

	for _, c := range batch {
		m.complete.Publish(c)
	}
}

// Update — Advance и FlushCompleted для самостоятельного использования.
func (m *AnimationManager) Update(dt time.Duration) {
	m.Advance(dt)
	m.FlushCompleted()
}

// Remove снимает юнит с учёта; ожидающее завершение отменяется.
func (m *AnimationManager) Remove(unitID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, unitID)
}

// Destroy очищает все записи и подписки.
func (m *AnimationManager) Destroy() {
	m.mu.Lock()
	m.entries = make(map[string]*AnimatedEntry)
	m.fired = m.fired[:0]
	m.mu.Unlock()
	m.complete.Clear()
}

// Entry возвращает копию записи.
func (m *AnimationManager) Entry(unitID string) (AnimatedEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[unitID]
	if !ok {
		return AnimatedEntry{}, false
	}
	return *e, true
}

func (m *AnimationManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// buildClip выбирает кадры состояния из проекции направления.
// Отсутствующие кадры заменяются кадрами покоя, а затем единственным спрайтом.
func buildClip(frames *SpriteFrames, state AnimationState, facing hex.Direction) Clip {
	timing, ok := ClipTiming[state]
	if !ok {
		timing = ClipTiming[AnimIdle]
	}
	clip := Clip{FrameDuration: timing.FrameDuration, Loop: timing.Loop}
	if frames == nil {
		return clip
	}

	view, mirrored := frames.ViewFor(facing)
	clip.ShouldMirror = mirrored

	switch state {
	case AnimWalk:
		clip.Frames = view.Walk
	case AnimAttack:
		clip.Frames = view.Attack
	case AnimDeath:
		clip.Frames = nil
	default:
		clip.Frames = view.Idle
	}
	if len(clip.Frames) == 0 {
		clip.Frames = view.Idle
	}
	if len(clip.Frames) == 0 {
		if still := view.Still(); still != nil {
			clip.Frames = []*Texture{still}
		}
	}
	return clip
}

// applyFrame выставляет текстуру и зеркалирование спрайта.
func applyFrame(e *AnimatedEntry) {
	if e.Sprite == nil || len(e.Clip.Frames) == 0 {
		return
	}
	e.Sprite.Texture = e.Clip.Frames[e.Frame]
	e.Sprite.ScaleX = e.BaseScale
	if e.Clip.ShouldMirror {
		e.Sprite.ScaleX = -e.BaseScale
	}
	e.Sprite.ScaleY = e.BaseScale
}

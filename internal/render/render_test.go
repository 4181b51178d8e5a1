package render

import (
	"context"
	"errors"
	"image"
	"os"
	"sync"
	"testing"
	"time"

	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/hex"
	"drawn-of-war/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitWith("error", "text", os.Stderr)
	os.Exit(m.Run())
}

func tex(key string) *Texture {
	return &Texture{Key: key, Image: image.NewRGBA(image.Rect(0, 0, 64, 64))}
}

// fakeSource — управляемый источник текстур. Если gate не nil, Load ждёт его закрытия.
type fakeSource struct {
	mu      sync.Mutex
	frames  map[string]*SpriteFrames
	cached  map[string]*SpriteFrames
	fail    map[string]error
	gate    chan struct{}
	started chan string
	done    chan string
	loads   int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		frames:  make(map[string]*SpriteFrames),
		cached:  make(map[string]*SpriteFrames),
		fail:    make(map[string]error),
		started: make(chan string, 16),
		done:    make(chan string, 16),
	}
}

func (f *fakeSource) Cached(ref domain.SpriteRef) (*SpriteFrames, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr, ok := f.cached[ref.Key()]
	return fr, ok
}

func (f *fakeSource) Load(ctx context.Context, ref domain.SpriteRef) (*SpriteFrames, error) {
	f.mu.Lock()
	f.loads++
	gate := f.gate
	f.mu.Unlock()

	key := ref.Key()
	defer func() { f.done <- key }()
	f.started <- key

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	fr, ok := f.frames[key]
	if !ok {
		return nil, errors.New("not found")
	}
	f.cached[key] = fr
	return fr, nil
}

func (f *fakeSource) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

type fakeHost struct {
	mu       sync.Mutex
	attached int
	detached int
}

func (h *fakeHost) Attach(*Container) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attached++
	return nil
}

func (h *fakeHost) Detach(*Container) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detached++
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for texture source")
		return ""
	}
}

func newRenderer(src TextureSource, strategy VisualStrategy) *GridRenderer {
	return NewGridRenderer(Config{
		Layout:       hex.DefaultLayout(),
		CanvasWidth:  800,
		CanvasHeight: 600,
		Strategy:     strategy,
		Textures:     src,
	})
}

var knightRef = domain.URLSprite("http://assets/knight.png")

func TestRenderUnitMovesInPlace(t *testing.T) {
	src := newFakeSource()
	src.cached[knightRef.Key()] = StaticFrames(tex("knight"))
	r := newRenderer(src, StaticStrategy{})

	path := []hex.Coord{{Q: 0, R: 0}, {Q: 1, R: 0}, {Q: 2, R: 1}, {Q: 2, R: 2}}
	for _, h := range path {
		r.RenderUnit(UnitParams{UnitID: "u1", Hex: h, Player: domain.Player1, Name: "Knight", Sprite: knightRef, Opacity: 1})
	}

	if got := r.UnitCount(); got != 1 {
		t.Fatalf("registry size = %d, want 1", got)
	}
	if got := r.UnitLayerSize(); got != 1 {
		t.Fatalf("unit layer holds %d groups, want 1 (ghost visuals left behind)", got)
	}
	info, _ := r.Unit("u1")
	if want := r.Layout().ToPixel(path[len(path)-1]); info.Position != want {
		t.Errorf("position = %+v, want %+v", info.Position, want)
	}
	if src.loadCount() != 0 {
		t.Errorf("cached sprite triggered %d loads", src.loadCount())
	}
}

func TestVisualGroupHasGlowBehindBody(t *testing.T) {
	src := newFakeSource()
	src.cached[knightRef.Key()] = StaticFrames(tex("knight"))
	r := newRenderer(src, StaticStrategy{})
	r.RenderUnit(UnitParams{UnitID: "u1", Player: domain.Player2, Sprite: knightRef})

	v := r.units["u1"]
	children := v.group.Children()
	if len(children) != 2 {
		t.Fatalf("group children = %d, want glow + sprite", len(children))
	}
	if children[0] != Node(v.glow) {
		t.Error("glow is not the bottom child")
	}
	if _, ok := children[1].(*Sprite); !ok {
		t.Errorf("second child is %T, want *Sprite", children[1])
	}
}

func TestPendingLoadIsDeduplicated(t *testing.T) {
	src := newFakeSource()
	src.gate = make(chan struct{})
	src.frames[knightRef.Key()] = StaticFrames(tex("knight"))
	r := newRenderer(src, StaticStrategy{})

	r.RenderUnit(UnitParams{UnitID: "u1", Hex: hex.Coord{Q: 0, R: 0}, Sprite: knightRef})
	recv(t, src.started)
	r.RenderUnit(UnitParams{UnitID: "u1", Hex: hex.Coord{Q: 1, R: 1}, Sprite: knightRef})
	r.RenderUnit(UnitParams{UnitID: "u1", Hex: hex.Coord{Q: 2, R: 1}, Sprite: knightRef})

	if got := r.PendingCount(); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
	close(src.gate)
	waitFor(t, "visual created", func() bool { return r.UnitCount() == 1 })

	if got := src.loadCount(); got != 1 {
		t.Errorf("loads = %d, want 1", got)
	}
	if got := r.UnitLayerSize(); got != 1 {
		t.Errorf("unit layer = %d, want 1", got)
	}
	info, _ := r.Unit("u1")
	if want := r.Layout().ToPixel(hex.Coord{Q: 2, R: 1}); info.Position != want {
		t.Errorf("visual uses stale params: %+v, want %+v", info.Position, want)
	}
}

func TestRemoveDuringLoadDiscardsResult(t *testing.T) {
	src := newFakeSource()
	src.gate = make(chan struct{})
	src.frames[knightRef.Key()] = StaticFrames(tex("knight"))
	r := newRenderer(src, StaticStrategy{})

	r.RenderUnit(UnitParams{UnitID: "u1", Sprite: knightRef})
	recv(t, src.started)
	r.RemoveUnit("u1")
	close(src.gate)
	recv(t, src.done)

	// Результат загрузки применяется после возврата Load; даём ему шанс проявиться.
	for range 20 {
		if r.UnitCount() != 0 {
			t.Fatal("stale load resurrected a removed unit")
		}
		time.Sleep(time.Millisecond)
	}
	if r.PendingCount() != 0 {
		t.Error("pending entry left after removal")
	}
}

func TestLoadFailureFallsBackToPlaceholder(t *testing.T) {
	src := newFakeSource()
	src.fail[knightRef.Key()] = errors.New("404")
	r := newRenderer(src, StaticStrategy{})

	r.RenderUnit(UnitParams{UnitID: "u1", Name: "knight", Sprite: knightRef})
	waitFor(t, "placeholder", func() bool { return r.UnitCount() == 1 })

	info, _ := r.Unit("u1")
	if !info.Placeholder {
		t.Fatal("expected placeholder after failed load")
	}
	g := r.units["u1"].body.(*Graphics)
	var text string
	for _, s := range g.Shapes() {
		if s.Kind == ShapeText {
			text = s.Text
		}
	}
	if text != "K" {
		t.Errorf("placeholder letter = %q, want K", text)
	}
}

func TestNoSpriteRendersPlaceholderSynchronously(t *testing.T) {
	r := newRenderer(newFakeSource(), StaticStrategy{})
	r.RenderUnit(UnitParams{UnitID: "u1", Name: ""})
	info, ok := r.Unit("u1")
	if !ok || !info.Placeholder {
		t.Fatalf("want immediate placeholder, got %+v ok=%v", info, ok)
	}
}

func TestOpacity(t *testing.T) {
	r := newRenderer(nil, StaticStrategy{})

	r.RenderUnit(UnitParams{UnitID: "mine", Opacity: 1})
	r.RenderUnit(UnitParams{UnitID: "theirs", Hex: hex.Coord{Q: 11, R: 0}, Opacity: 0.5})
	r.RenderUnit(UnitParams{UnitID: "unset"})

	tests := []struct {
		id   string
		want float64
	}{
		{"mine", 1},
		{"theirs", 0.5},
		{"unset", 1},
	}
	for _, tt := range tests {
		info, _ := r.Unit(tt.id)
		if info.Opacity != tt.want {
			t.Errorf("%s opacity = %v, want %v", tt.id, info.Opacity, tt.want)
		}
	}
}

func directionalFrames() (*SpriteFrames, map[hex.View]*Texture) {
	textures := map[hex.View]*Texture{
		hex.ViewE:  tex("e"),
		hex.ViewNE: tex("ne"),
		hex.ViewSE: tex("se"),
	}
	views := make(map[hex.View]*ViewFrames, 3)
	for v, t := range textures {
		views[v] = &ViewFrames{Sprite: t}
	}
	return &SpriteFrames{Key: "dir", Views: views}, textures
}

func TestFacingMirrorsWestDirections(t *testing.T) {
	frames, textures := directionalFrames()
	ref := domain.DirectionalSprite(map[hex.View]domain.DirectionalView{hex.ViewE: {Sprite: "e"}})
	src := newFakeSource()
	src.cached[ref.Key()] = frames
	r := newRenderer(src, StaticStrategy{})

	tests := []struct {
		facing   hex.Direction
		texture  *Texture
		mirrored bool
	}{
		{hex.DirE, textures[hex.ViewE], false},
		{hex.DirW, textures[hex.ViewE], true},
		{hex.DirNE, textures[hex.ViewNE], false},
		{hex.DirNW, textures[hex.ViewNE], true},
		{hex.DirSE, textures[hex.ViewSE], false},
		{hex.DirSW, textures[hex.ViewSE], true},
	}
	for _, tt := range tests {
		t.Run(tt.facing.String(), func(t *testing.T) {
			r.RenderUnit(UnitParams{UnitID: "u1", Sprite: ref, Facing: tt.facing})
			info, _ := r.Unit("u1")
			if info.Texture != tt.texture {
				t.Errorf("texture = %v, want %v", info.Texture.Key, tt.texture.Key)
			}
			if info.Mirrored != tt.mirrored {
				t.Errorf("mirrored = %v, want %v", info.Mirrored, tt.mirrored)
			}
		})
	}
}

func TestSingleHighlight(t *testing.T) {
	r := newRenderer(nil, StaticStrategy{})

	r.UpdateHighlight(&hex.Coord{Q: 1, R: 1}, HighlightHover)
	r.UpdateHighlight(&hex.Coord{Q: 2, R: 2}, HighlightValid)

	if n := len(r.highlightLayer.Shapes()); n != 1 {
		t.Fatalf("highlight shapes = %d, want 1", n)
	}
	h, state := r.Highlight()
	if h == nil || *h != (hex.Coord{Q: 2, R: 2}) || state != HighlightValid {
		t.Errorf("highlight = %v %s", h, state)
	}

	r.UpdateHighlight(nil, HighlightInvalid)
	if n := len(r.highlightLayer.Shapes()); n != 0 {
		t.Errorf("clear left %d shapes", n)
	}
	if _, state := r.Highlight(); state != HighlightNone {
		t.Errorf("state after clear = %s", state)
	}

	r.UpdateHighlight(&hex.Coord{Q: 99, R: 0}, HighlightHover)
	if n := len(r.highlightLayer.Shapes()); n != 0 {
		t.Error("out-of-grid hex highlighted")
	}
}

func TestInitDrawsGridAndAttaches(t *testing.T) {
	r := newRenderer(nil, StaticStrategy{})
	host := &fakeHost{}
	if err := r.Init(context.Background(), host); err != nil {
		t.Fatal(err)
	}
	if !r.Initialized() || host.attached != 1 {
		t.Fatalf("initialized=%v attached=%d", r.Initialized(), host.attached)
	}
	l := r.Layout()
	if n := len(r.gridLayer.Shapes()); n != l.Width*l.Height {
		t.Errorf("grid polygons = %d, want %d", n, l.Width*l.Height)
	}
	r.Destroy()
	if host.detached != 1 {
		t.Errorf("detached = %d", host.detached)
	}
}

func TestDestroyDuringInit(t *testing.T) {
	src := newFakeSource()
	src.gate = make(chan struct{})
	src.frames[knightRef.Key()] = StaticFrames(tex("knight"))

	r := NewGridRenderer(Config{Textures: src, Preload: []domain.SpriteRef{knightRef}})
	host := &fakeHost{}

	errCh := make(chan error, 1)
	go func() { errCh <- r.Init(context.Background(), host) }()

	recv(t, src.started)
	r.Destroy()
	close(src.gate)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Init returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Init did not return")
	}
	if host.attached != 0 {
		t.Error("destroyed renderer attached to host")
	}
	if r.Initialized() {
		t.Error("destroyed renderer reports initialized")
	}
}

func TestDestroyIsIdempotentAndFinal(t *testing.T) {
	r := newRenderer(nil, StaticStrategy{})
	r.RenderUnit(UnitParams{UnitID: "u1"})
	r.Destroy()
	r.Destroy()

	r.RenderUnit(UnitParams{UnitID: "u2"})
	r.Update(time.Second)
	if r.UnitCount() != 0 {
		t.Error("destroyed renderer accepted units")
	}
	if err := r.Init(context.Background(), &fakeHost{}); err != nil {
		t.Errorf("Init after Destroy: %v", err)
	}
}

func TestClearAll(t *testing.T) {
	src := newFakeSource()
	src.gate = make(chan struct{})
	r := newRenderer(src, StaticStrategy{})

	r.RenderUnit(UnitParams{UnitID: "a"})
	r.RenderUnit(UnitParams{UnitID: "b", Sprite: knightRef})
	recv(t, src.started)
	r.ClearAll()

	if r.UnitCount() != 0 || r.PendingCount() != 0 || r.UnitLayerSize() != 0 {
		t.Errorf("units=%d pending=%d layer=%d", r.UnitCount(), r.PendingCount(), r.UnitLayerSize())
	}
	close(src.gate)
}

var archerRef = domain.URLSprite("http://assets/archer.png")

func TestSpriteChangeLoadsNewTexture(t *testing.T) {
	src := newFakeSource()
	knight, archer := tex("knight"), tex("archer")
	src.cached[knightRef.Key()] = StaticFrames(knight)
	src.frames[archerRef.Key()] = StaticFrames(archer)
	r := newRenderer(src, StaticStrategy{})

	r.RenderUnit(UnitParams{UnitID: "u1", Sprite: knightRef})
	if info, _ := r.Unit("u1"); info.Texture != knight {
		t.Fatalf("initial texture = %+v", info.Texture)
	}

	r.RenderUnit(UnitParams{UnitID: "u1", Hex: hex.Coord{Q: 1, R: 1}, Sprite: archerRef})
	waitFor(t, "archer texture", func() bool {
		info, _ := r.Unit("u1")
		return info.Texture == archer
	})

	info, _ := r.Unit("u1")
	if want := r.Layout().ToPixel(hex.Coord{Q: 1, R: 1}); info.Position != want {
		t.Errorf("position = %+v, want %+v", info.Position, want)
	}
	if r.UnitLayerSize() != 1 || r.PendingCount() != 0 {
		t.Errorf("layer=%d pending=%d", r.UnitLayerSize(), r.PendingCount())
	}
}

func TestSpriteChangeWhileFirstLoadPending(t *testing.T) {
	src := newFakeSource()
	src.gate = make(chan struct{})
	archer := tex("archer")
	src.frames[knightRef.Key()] = StaticFrames(tex("knight"))
	src.frames[archerRef.Key()] = StaticFrames(archer)
	r := newRenderer(src, StaticStrategy{})

	r.RenderUnit(UnitParams{UnitID: "u1", Sprite: knightRef})
	recv(t, src.started)
	r.RenderUnit(UnitParams{UnitID: "u1", Sprite: archerRef})
	recv(t, src.started)
	close(src.gate)
	recv(t, src.done)
	recv(t, src.done)

	waitFor(t, "visual created", func() bool { return r.UnitCount() == 1 })
	// Устаревшая загрузка рыцаря не должна перекрыть лучника.
	for range 20 {
		if info, _ := r.Unit("u1"); info.Texture != archer {
			t.Fatalf("texture = %+v, want archer", info.Texture)
		}
		time.Sleep(time.Millisecond)
	}
	if r.UnitLayerSize() != 1 {
		t.Errorf("unit layer = %d", r.UnitLayerSize())
	}
}

func TestHexAtInvertsLayout(t *testing.T) {
	for _, proj := range []hex.Projection{hex.ProjectionPlanar, hex.ProjectionIsometric} {
		l := hex.DefaultLayout()
		l.Projection = proj
		r := NewGridRenderer(Config{Layout: l, CanvasWidth: 1024, CanvasHeight: 768})
		off := r.Offset()

		for _, c := range l.Coords() {
			p := l.ToPixel(c)
			got, ok := r.HexAt(p.X+off.X, p.Y+off.Y)
			if !ok || got != c {
				t.Fatalf("%s: HexAt(%v) = %v ok=%v", proj, c, got, ok)
			}
		}
		if _, ok := r.HexAt(-1000, -1000); ok {
			t.Errorf("%s: point far outside reported valid", proj)
		}
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	r := newRenderer(nil, StaticStrategy{})
	r.RemoveUnit("ghost")
	r.RenderUnit(UnitParams{UnitID: "u1"})
	r.RemoveUnit("u1")
	r.RemoveUnit("u1")
	if r.UnitLayerSize() != 0 {
		t.Error("unit layer not empty")
	}
}

// Package assets разрешает SpriteRef в текстуры: загрузка по URL, base64 и data URL,
// кеш по ключу ссылки и объединение одновременных запросов.
package assets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // регистрация декодера GIF
	_ "image/jpeg" // регистрация декодера JPEG
	_ "image/png"  // регистрация декодера PNG
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp" // регистрация декодера WebP
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"drawn-of-war/internal/domain"
	"drawn-of-war/internal/render"
	hexgrid "drawn-of-war/pkg/hex"
	"drawn-of-war/pkg/logger"
)

var (
	ErrUnsupportedRef = errors.New("assets: unsupported sprite reference")
	ErrTooLarge       = errors.New("assets: image exceeds size limit")
	ErrBadDataURL     = errors.New("assets: malformed data url")
)

// Config — параметры загрузчика.
type Config struct {
	// BaseURL используется для относительных путей вида "/sprites/x.png".
	BaseURL  string
	Timeout  time.Duration
	MaxBytes int64
	Client   *http.Client
}

func NewConfig() Config {
	return Config{
		Timeout:  8 * time.Second,
		MaxBytes: 8 << 20,
	}
}

// Source реализует render.TextureSource.
type Source struct {
	cfg    Config
	client *http.Client
	log    *logrus.Entry

	mu     sync.RWMutex
	images map[string]*render.Texture
	frames map[string]*render.SpriteFrames

	flights singleflight.Group
}

var _ render.TextureSource = (*Source)(nil)

func New(cfg Config) *Source {
	def := NewConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Source{
		cfg:    cfg,
		client: client,
		log:    logger.Component("assets"),
		images: make(map[string]*render.Texture),
		frames: make(map[string]*render.SpriteFrames),
	}
}

// Cached возвращает набор, если он уже загружен.
func (s *Source) Cached(ref domain.SpriteRef) (*render.SpriteFrames, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.frames[ref.Key()]
	return f, ok
}

// Load загружает набор. Одновременные запросы одной ссылки выполняют одну загрузку.
// Отмена ctx прерывает ожидание, но не общую загрузку: её результат попадёт в кеш.
func (s *Source) Load(ctx context.Context, ref domain.SpriteRef) (*render.SpriteFrames, error) {
	if ref.IsZero() {
		return nil, ErrUnsupportedRef
	}
	if f, ok := s.Cached(ref); ok {
		return f, nil
	}

	key := ref.Key()
	ch := s.flights.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
		defer cancel()

		f, err := s.resolve(lctx, ref)
		if err != nil {
			return nil, err
		}
		f.Key = key
		s.mu.Lock()
		s.frames[key] = f
		s.mu.Unlock()
		return f, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("load sprite %s: %w", shortKey(key), res.Err)
		}
		return res.Val.(*render.SpriteFrames), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len — число закешированных наборов.
func (s *Source) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

func (s *Source) resolve(ctx context.Context, ref domain.SpriteRef) (*render.SpriteFrames, error) {
	switch ref.Kind {
	case domain.SpriteURL:
		tex, err := s.image(ctx, ref.URL)
		if err != nil {
			return nil, err
		}
		return render.StaticFrames(tex), nil
	case domain.SpriteBase64:
		tex, err := s.image(ctx, ref.Data)
		if err != nil {
			return nil, err
		}
		return render.StaticFrames(tex), nil
	case domain.SpriteDirectional:
		return s.directional(ctx, ref.Views)
	}
	return nil, fmt.Errorf("%w: kind %q", ErrUnsupportedRef, ref.Kind)
}

// directional грузит хранимые проекции параллельно. Проекция без основного спрайта
// пропускается, пропавшие кадры анимации заменяются на стороне рендерера.
func (s *Source) directional(ctx context.Context, views map[hexgrid.View]domain.DirectionalView) (*render.SpriteFrames, error) {
	out := &render.SpriteFrames{Views: make(map[hexgrid.View]*render.ViewFrames, len(views))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for view, dv := range views {
		g.Go(func() error {
			vf, err := s.view(gctx, dv)
			if err != nil {
				s.log.WithError(err).WithField("view", view).Warn("directional view unavailable")
				return nil
			}
			mu.Lock()
			out.Views[view] = vf
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(out.Views) == 0 {
		return nil, fmt.Errorf("%w: no directional view could be loaded", ErrUnsupportedRef)
	}
	return out, nil
}

func (s *Source) view(ctx context.Context, dv domain.DirectionalView) (*render.ViewFrames, error) {
	sprite, err := s.image(ctx, dv.Sprite)
	if err != nil {
		return nil, err
	}
	return &render.ViewFrames{
		Sprite: sprite,
		Idle:   s.sequence(ctx, dv.IdleFrames),
		Walk:   s.sequence(ctx, dv.WalkFrames),
		Attack: s.sequence(ctx, dv.AttackFrames),
	}, nil
}

// sequence возвращает кадры по порядку; при любой ошибке анимация отбрасывается целиком,
// чтобы не проигрывать клип с дырами.
func (s *Source) sequence(ctx context.Context, srcs []string) []*render.Texture {
	if len(srcs) == 0 {
		return nil
	}
	out := make([]*render.Texture, 0, len(srcs))
	for _, src := range srcs {
		tex, err := s.image(ctx, src)
		if err != nil {
			s.log.WithError(err).Debug("dropping animation sequence")
			return nil
		}
		out = append(out, tex)
	}
	return out
}

// image декодирует одно изображение; результат кешируется по исходной строке.
func (s *Source) image(ctx context.Context, src string) (*render.Texture, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("%w: empty image source", ErrUnsupportedRef)
	}
	key := imageKey(src)

	s.mu.RLock()
	tex, ok := s.images[key]
	s.mu.RUnlock()
	if ok {
		return tex, nil
	}

	raw, err := s.bytes(ctx, src)
	if err != nil {
		return nil, err
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	tex = &render.Texture{Key: key, Image: img}
	s.mu.Lock()
	if cached, ok := s.images[key]; ok {
		tex = cached
	} else {
		s.images[key] = tex
	}
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"image": shortKey(key), "format": format}).Debug("image decoded")
	return tex, nil
}

func (s *Source) bytes(ctx context.Context, src string) ([]byte, error) {
	switch {
	case strings.HasPrefix(src, "data:"):
		return decodeDataURL(src)
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return s.fetch(ctx, src)
	case strings.HasPrefix(src, "/") && s.cfg.BaseURL != "":
		return s.fetch(ctx, strings.TrimRight(s.cfg.BaseURL, "/")+src)
	}
	return decodeBase64(src)
}

func (s *Source) fetch(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	if int64(len(body)) > s.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, u)
	}
	return body, nil
}

// decodeDataURL разбирает data:[<mediatype>][;base64],<data>.
func decodeDataURL(src string) ([]byte, error) {
	meta, data, ok := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !ok {
		return nil, ErrBadDataURL
	}
	if strings.HasSuffix(meta, ";base64") {
		return decodeBase64(data)
	}
	unescaped, err := url.PathUnescape(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDataURL, err)
	}
	return []byte(unescaped), nil
}

func decodeBase64(data string) ([]byte, error) {
	data = strings.TrimRight(strings.TrimSpace(data), "=")
	b, err := base64.RawStdEncoding.DecodeString(data)
	if err != nil {
		if b2, err2 := base64.RawURLEncoding.DecodeString(data); err2 == nil {
			return b2, nil
		}
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return b, nil
}

// imageKey — короткий ключ для длинных встроенных изображений.
func imageKey(src string) string {
	if len(src) <= 256 {
		return src
	}
	sum := sha256.Sum256([]byte(src))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func shortKey(key string) string {
	if len(key) > 80 {
		return key[:77] + "..."
	}
	return key
}

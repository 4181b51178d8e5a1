package ebitenview

import (
	"errors"
	"image/color"
	"math"
	"testing"

	"drawn-of-war/internal/render"
)

func TestLocalGeoMMirrorsAroundAnchor(t *testing.T) {
	s := render.NewSprite("s", nil)
	s.X, s.Y = 100, 50
	s.ScaleX, s.ScaleY = -2, 2

	g := localGeoM(&s.Transform)
	tests := []struct {
		x, y   float64
		wx, wy float64
	}{
		{0, 0, 100, 50},
		{10, 0, 80, 50},
		{-10, 5, 120, 60},
	}
	for _, tt := range tests {
		x, y := g.Apply(tt.x, tt.y)
		if math.Abs(x-tt.wx) > 1e-9 || math.Abs(y-tt.wy) > 1e-9 {
			t.Errorf("Apply(%v,%v) = (%v,%v), want (%v,%v)", tt.x, tt.y, x, y, tt.wx, tt.wy)
		}
	}
}

func TestFade(t *testing.T) {
	tests := []struct {
		in    color.RGBA
		alpha float64
		want  uint8
	}{
		{color.RGBA{R: 10, A: 255}, 1, 255},
		{color.RGBA{R: 10, A: 255}, 0.5, 127},
		{color.RGBA{R: 10, A: 0x40}, 0.5, 0x20},
		{color.RGBA{A: 255}, 2, 255},
	}
	for _, tt := range tests {
		got := fade(tt.in, tt.alpha)
		if got.A != tt.want || got.R != tt.in.R {
			t.Errorf("fade(%v, %v) = %v, want alpha %d", tt.in, tt.alpha, got, tt.want)
		}
	}
}

func TestViewAttachLifecycle(t *testing.T) {
	v := NewView()
	stage := render.NewContainer("stage")
	if err := v.Attach(stage); err != nil {
		t.Fatal(err)
	}
	if err := v.Attach(render.NewContainer("other")); !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("second attach err = %v", err)
	}
	v.Detach(render.NewContainer("other"))
	if !v.Attached() {
		t.Error("detaching a foreign stage detached ours")
	}
	v.Detach(stage)
	if v.Attached() {
		t.Error("still attached after detach")
	}
}

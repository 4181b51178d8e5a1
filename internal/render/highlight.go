package render

import "image/color"

// HighlightState — вид подсветки гекса.
type HighlightState string

const (
	HighlightNone     HighlightState = "none"
	HighlightHover    HighlightState = "hover"
	HighlightValid    HighlightState = "valid"
	HighlightInvalid  HighlightState = "invalid"
	HighlightSelected HighlightState = "selected"
	HighlightRange    HighlightState = "range"
)

var highlightColors = map[HighlightState]struct{ fill, stroke color.RGBA }{
	HighlightHover:    {color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0x30}, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xc0}},
	HighlightValid:    {color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0x50}, color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff}},
	HighlightInvalid:  {color.RGBA{R: 0xef, G: 0x44, B: 0x44, A: 0x50}, color.RGBA{R: 0xef, G: 0x44, B: 0x44, A: 0xff}},
	HighlightSelected: {color.RGBA{R: 0xfa, G: 0xcc, B: 0x15, A: 0x40}, color.RGBA{R: 0xfa, G: 0xcc, B: 0x15, A: 0xff}},
	HighlightRange:    {color.RGBA{R: 0x60, G: 0xa5, B: 0xfa, A: 0x30}, color.RGBA{R: 0x60, G: 0xa5, B: 0xfa, A: 0xa0}},
}

// Package color implements the color & brightness policy: a fixed
// 12-entry pitch-class wheel, velocity-to-brightness mapping, and the
// multiplicative volume/gamma chain applied last before a color reaches
// the LED driver. The wheel is derived from an HSV color space via
// go-colorful rather than a designer-authored palette asset, since
// there is none for this domain — only a computed 12-tone wheel
// starting red at C.
package color

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// RGB is an 8-bit-per-channel color.
type RGB [3]uint8

// Off is pure black, used to clear a pixel.
var Off = RGB{0, 0, 0}

// wheel holds the 12 pitch-class colors, computed once at package init:
// evenly spaced hues around the HSV wheel starting at red (hue 0) for
// pitch class 0 (C) and advancing clockwise with the chromatic scale.
var wheel [12]RGB

func init() {
	for pc := 0; pc < 12; pc++ {
		hue := float64(pc) * 30.0 // 360/12
		c := colorful.Hsv(hue, 0.95, 1.0)
		wheel[pc] = clampRGB(c)
	}
}

func clampRGB(c colorful.Color) RGB {
	r, g, b := c.Clamped().RGB255()
	return RGB{r, g, b}
}

// ForNote returns the pitch-class color for a MIDI note (note%12).
func ForNote(note int) RGB {
	pc := ((note % 12) + 12) % 12
	return wheel[pc]
}

// BrightnessForVelocity linearly interpolates from 0.1 at velocity 1 to
// 1.0 at velocity 127. Velocity 0 is treated
// like 1 since a real note_on with velocity 0 is a note_off, never
// routed here.
func BrightnessForVelocity(velocity int) float64 {
	if velocity < 1 {
		velocity = 1
	}
	if velocity > 127 {
		velocity = 127
	}
	return 0.1 + (float64(velocity)/127.0)*0.9
}

// Scale multiplies an RGB color by brightness in [0,1], then by volume
// in [0,1], then by gamma correction (if gamma > 0, x^gamma; gamma <= 0
// disables the correction), in that order — the final multiplicative
// step before a color reaches the LED driver.
func Scale(c RGB, brightness, volume, gamma float64) RGB {
	factor := clamp01(brightness) * clamp01(volume)
	out := RGB{
		scaleChannel(c[0], factor),
		scaleChannel(c[1], factor),
		scaleChannel(c[2], factor),
	}
	if gamma > 0 {
		out = applyGamma(out, gamma)
	}
	return out
}

func scaleChannel(v uint8, factor float64) uint8 {
	return uint8(math.Round(float64(v) * factor))
}

func applyGamma(c RGB, gamma float64) RGB {
	return RGB{
		gammaChannel(c[0], gamma),
		gammaChannel(c[1], gamma),
		gammaChannel(c[2], gamma),
	}
}

func gammaChannel(v uint8, gamma float64) uint8 {
	norm := float64(v) / 255.0
	corrected := math.Pow(norm, gamma)
	return uint8(math.Round(corrected * 255.0))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// HintColors are the learning-mode hint colors loaded from settings:
// one bright/dim pair per hand, cached and only re-derived on settings
// change.
type HintColors struct {
	LeftBright  RGB
	LeftDim     RGB
	RightBright RGB
	RightDim    RGB
}

// DefaultHintColors is a sane white/dim-white pair for each hand.
func DefaultHintColors() HintColors {
	return HintColors{
		LeftBright:  RGB{255, 255, 255},
		LeftDim:     RGB{40, 40, 40},
		RightBright: RGB{255, 255, 255},
		RightDim:    RGB{40, 40, 40},
	}
}

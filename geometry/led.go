package geometry

import "ledpiano/apierr"

// LedParams holds the physical parameters of the LED strip.
type LedParams struct {
	DensityPerMeter int     // e.g. one of {60,72,100,120,144,160,180,200}
	StripStartMM    float64 // physical position of LED index 0's nominal center
	OffsetMM        float64 // additional calibration offset applied uniformly
	PhysicalWidthMM float64 // led_physical_width
	PitchOverrideMM float64 // when >0, used instead of 1000/density (set by auto-pitch calibration)
}

// SpacingMM returns the effective center-to-center pitch: the
// calibrated override when present, otherwise the nominal 1000/density.
func (p LedParams) SpacingMM() float64 {
	if p.PitchOverrideMM > 0 {
		return p.PitchOverrideMM
	}
	if p.DensityPerMeter <= 0 {
		return 0
	}
	return 1000.0 / float64(p.DensityPerMeter)
}

// LedPlacement is one LED's physical rectangle along the strip.
type LedPlacement struct {
	Index int
	Rect  Rect
}

func (l LedPlacement) CenterMM() float64 { return l.Rect.CenterMM() }

// ComputeLedPlacements lays out LED rectangles for every index in
// [startLed, endLed] using params.SpacingMM(): PitchOverrideMM when set,
// otherwise the nominal pitch derived from density.
func ComputeLedPlacements(startLed, endLed int, params LedParams) ([]LedPlacement, error) {
	if endLed < startLed {
		return nil, apierr.New(apierr.InvalidGeometry, "end_led before start_led")
	}
	if params.DensityPerMeter <= 0 {
		return nil, apierr.New(apierr.InvalidGeometry, "led density must be positive")
	}
	if params.PhysicalWidthMM <= 0 {
		return nil, apierr.New(apierr.InvalidGeometry, "led physical width must be positive")
	}

	spacing := params.SpacingMM()
	out := make([]LedPlacement, 0, endLed-startLed+1)
	for idx := startLed; idx <= endLed; idx++ {
		center := params.StripStartMM + float64(idx)*spacing + params.OffsetMM
		half := params.PhysicalWidthMM / 2
		out = append(out, LedPlacement{
			Index: idx,
			Rect:  Rect{StartMM: center - half, EndMM: center + half},
		})
	}
	return out, nil
}

// MMToLEDs converts a millimeter span to an LED count at the given
// pitch, and LEDsToMM is its inverse — used by the round-trip law in
// SPEC_FULL.md/spec.md §8: mm_to_leds(leds_to_mm(n, d), d) == n.
func MMToLEDs(mm float64, pitchMM float64) int {
	if pitchMM <= 0 {
		return 0
	}
	return int(mm/pitchMM + 0.5)
}

func LEDsToMM(n int, pitchMM float64) float64 {
	return float64(n) * pitchMM
}

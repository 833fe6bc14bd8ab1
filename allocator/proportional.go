package allocator

import (
	"sort"

	"ledpiano/apierr"
	"ledpiano/geometry"
)

// ProportionalParams configures the piano-based allocator.
type ProportionalParams struct {
	Piano        geometry.PianoSpec
	Physical     geometry.PhysicalParams
	LED          geometry.LedParams
	StartLED     int
	EndLED       int
	AllowSharing bool
}

// Proportional divides the piano's physical width into N equal slots
// (one per key, regardless of white/black actual width) and projects
// each slot into LED-index space by the ratio of usable LED coverage to
// piano width. With sharing, adjacent keys' slots are expanded by one
// LED on each side so neighbors share boundary LEDs; without sharing, a
// first-writer-wins partition is taken instead.
//
// Historically this allocator only accepted the 88-key piano; per
// SPEC_FULL.md's Open Question 1 that restriction is lifted here by
// deriving everything from spec.KeyCount instead of a hardcoded 88.
func Proportional(p ProportionalParams) (*BaseMapping, error) {
	geoms, err := geometry.ComputeKeyGeometries(p.Piano, p.Physical)
	if err != nil {
		return nil, err
	}
	pianoWidth := geometry.PianoWidthMM(geoms)
	if pianoWidth <= 0 {
		return nil, apierr.New(apierr.InvalidGeometry, "piano width must be positive")
	}

	usableCount := p.EndLED - p.StartLED + 1
	if usableCount <= 0 {
		return nil, apierr.New(apierr.InvalidGeometry, "usable LED range is empty")
	}

	spacing := p.LED.SpacingMM()
	if spacing <= 0 {
		return nil, apierr.New(apierr.InvalidGeometry, "led density must be positive")
	}

	var ledCoverageMM float64
	if usableCount > 1 {
		ledCoverageMM = float64(usableCount-1) * spacing
	}
	if ledCoverageMM <= 0 {
		return nil, apierr.New(apierr.InsufficientCoverage, "usable LED range cannot plausibly span the piano")
	}
	scale := ledCoverageMM / pianoWidth

	n := p.Piano.KeyCount
	slotWidth := pianoWidth / float64(n)

	ledIndexFor := func(mm float64) int {
		offset := mm * scale / spacing
		return p.StartLED + int(offset+0.5)
	}
	clamp := func(idx int) int {
		if idx < p.StartLED {
			return p.StartLED
		}
		if idx > p.EndLED {
			return p.EndLED
		}
		return idx
	}

	keys := make(map[int][]int, n)

	if p.AllowSharing {
		for k := 0; k < n; k++ {
			slotStart := float64(k) * slotWidth
			slotEnd := float64(k+1) * slotWidth
			first := ledIndexFor(slotStart)
			last := ledIndexFor(slotEnd)
			lo := clamp(first - 1)
			hi := clamp(last + 1)
			if hi < lo {
				continue
			}
			leds := make([]int, 0, hi-lo+1)
			for idx := lo; idx <= hi; idx++ {
				leds = append(leds, idx)
			}
			keys[k] = leds
		}
	} else {
		assigned := make(map[int]bool, usableCount)
		for k := 0; k < n; k++ {
			slotStart := float64(k) * slotWidth
			slotEnd := float64(k+1) * slotWidth
			first := clamp(ledIndexFor(slotStart))
			last := clamp(ledIndexFor(slotEnd))
			var leds []int
			for idx := first; idx <= last; idx++ {
				if assigned[idx] {
					continue
				}
				assigned[idx] = true
				leds = append(leds, idx)
			}
			keys[k] = leds
		}
	}

	for k := range keys {
		sort.Ints(keys[k])
	}

	return &BaseMapping{Keys: keys}, nil
}

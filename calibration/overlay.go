// Package calibration applies the calibration overlay to a base mapping
// produced by package allocator, yielding the canonical key → LED
// mapping actually used at runtime. The overlay is a pure function of
// (base mapping, overlay params, LED range): same inputs, same output,
// always — so it can be memoized by the mapping cache without ever
// re-deriving from MIDI/hardware state.
package calibration

import (
	"fmt"
	"math"
	"sort"

	"ledpiano/allocator"
	"ledpiano/apierr"
	"ledpiano/geometry"
)

// SolderJoint describes a physical break in the strip at ledIndex that
// introduces an extra gap (or overlap) of offsetMM relative to the
// nominal pitch.
type SolderJoint struct {
	LedIndex int
	OffsetMM float64
}

// TrimSpec removes a fixed number of LEDs from each end of a key's
// assignment, redistributing them to neighboring keys.
type TrimSpec struct {
	Left  int
	Right int
}

// Overlay bundles every calibration adjustment. All maps are keyed by
// MIDI note number except SolderJoints, which is keyed by LED index.
type Overlay struct {
	KeyOffsets         map[int]int
	SolderJoints       map[int]SolderJoint
	Trims              map[int]TrimSpec
	SelectionOverrides map[int][]int

	// JointConversionPitchMM is the mm-per-LED used to convert a solder
	// joint's physical offset into an integer LED-index shift. Per
	// SPEC_FULL.md's Open Question 2, the historical default of a fixed
	// 3.5mm was a bug: this should default to 1000/leds_per_meter (the
	// strip's own nominal pitch) unless explicitly overridden.
	JointConversionPitchMM float64
}

// Result is the canonical mapping plus diagnostics about what the
// overlay actually did.
type Result struct {
	Keys       map[int][]int
	Warnings   []string
	ClampCount int
}

// Apply runs the four overlay steps, in order, against base:
// cascading key offsets, solder-joint compensation, per-key LED trim
// with redistribution, and LED selection override with re-homing.
// Every step re-clamps to [startLed, endLed].
func Apply(base *allocator.BaseMapping, overlay Overlay, piano geometry.PianoSpec, geoms []geometry.KeyGeometry, ledParams geometry.LedParams, startLed, endLed int) (*Result, error) {
	if endLed < startLed {
		return nil, apierr.New(apierr.InvalidGeometry, "end_led before start_led")
	}
	if len(geoms) != piano.KeyCount {
		return nil, apierr.New(apierr.InvalidGeometry, "geometry does not match piano spec")
	}

	keys := copyKeys(base.Keys)
	var warnings []string
	clampCount := 0

	keys, n := applyKeyOffsets(keys, piano, overlay.KeyOffsets, startLed, endLed)
	clampCount += n

	jointPitch := overlay.JointConversionPitchMM
	if jointPitch <= 0 {
		jointPitch = ledParams.SpacingMM()
	}
	if len(overlay.SolderJoints) > 0 {
		if jointPitch <= 0 {
			return nil, apierr.New(apierr.InvalidGeometry, "joint conversion pitch must be positive")
		}
		keys, n = applySolderJoints(keys, overlay.SolderJoints, jointPitch, startLed, endLed)
		clampCount += n
	}

	keys, trimWarnings := applyTrims(keys, piano, overlay.Trims)
	warnings = append(warnings, trimWarnings...)

	if len(overlay.SelectionOverrides) > 0 {
		placements, err := geometry.ComputeLedPlacements(startLed, endLed, ledParams)
		if err != nil {
			return nil, err
		}
		byIdx := make(map[int]geometry.LedPlacement, len(placements))
		for _, p := range placements {
			byIdx[p.Index] = p
		}
		var sel int
		keys, sel = applySelectionOverrides(keys, piano, geoms, byIdx, overlay.SelectionOverrides, startLed, endLed)
		clampCount += sel
	}

	return &Result{Keys: keys, Warnings: warnings, ClampCount: clampCount}, nil
}

func copyKeys(in map[int][]int) map[int][]int {
	out := make(map[int][]int, len(in))
	for k, v := range in {
		out[k] = append([]int(nil), v...)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func dedupeSorted(in []int) []int {
	if len(in) == 0 {
		return in
	}
	out := in[:1]
	for _, v := range in[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// applyKeyOffsets implements cascading per-key offsets: the offset
// recorded for a key applies to every key at or above it, so a single
// "shift everything from middle C up by one LED" correction doesn't
// require touching every key individually.
func applyKeyOffsets(keys map[int][]int, piano geometry.PianoSpec, offsets map[int]int, startLed, endLed int) (map[int][]int, int) {
	if len(offsets) == 0 {
		return keys, 0
	}
	notes := make([]int, 0, len(offsets))
	for n := range offsets {
		notes = append(notes, n)
	}
	sort.Ints(notes)
	prefix := make([]int, len(notes))
	sum := 0
	for i, n := range notes {
		sum += offsets[n]
		prefix[i] = sum
	}
	cumulativeAt := func(note int) int {
		idx := sort.SearchInts(notes, note+1) - 1
		if idx < 0 {
			return 0
		}
		return prefix[idx]
	}

	out := make(map[int][]int, len(keys))
	clamped := 0
	for k, leds := range keys {
		note := piano.MIDIStart + k
		shift := cumulativeAt(note)
		if shift == 0 {
			out[k] = leds
			continue
		}
		shifted := make([]int, len(leds))
		for i, idx := range leds {
			v := idx + shift
			c := clampInt(v, startLed, endLed)
			if c != v {
				clamped++
			}
			shifted[i] = c
		}
		sort.Ints(shifted)
		out[k] = dedupeSorted(shifted)
	}
	return out, clamped
}

// applySolderJoints compensates for physical breaks in the strip: each
// LED's index is shifted by the cumulative rounded offset of every
// joint strictly before it, so everything downstream of a joint moves
// together.
func applySolderJoints(keys map[int][]int, joints map[int]SolderJoint, jointPitchMM float64, startLed, endLed int) (map[int][]int, int) {
	jointIdxs := make([]int, 0, len(joints))
	for idx := range joints {
		jointIdxs = append(jointIdxs, idx)
	}
	sort.Ints(jointIdxs)
	prefix := make([]int, len(jointIdxs))
	sum := 0
	for i, idx := range jointIdxs {
		sum += roundHalfAwayFromZero(joints[idx].OffsetMM / jointPitchMM)
		prefix[i] = sum
	}
	cumulativeBefore := func(ledIndex int) int {
		pos := sort.SearchInts(jointIdxs, ledIndex)
		if pos == 0 {
			return 0
		}
		return prefix[pos-1]
	}

	out := make(map[int][]int, len(keys))
	clamped := 0
	for k, leds := range keys {
		shifted := make([]int, len(leds))
		for i, idx := range leds {
			v := idx + cumulativeBefore(idx)
			c := clampInt(v, startLed, endLed)
			if c != v {
				clamped++
			}
			shifted[i] = c
		}
		sort.Ints(shifted)
		out[k] = dedupeSorted(shifted)
	}
	return out, clamped
}

func roundHalfAwayFromZero(x float64) int {
	if x >= 0 {
		return int(math.Floor(x + 0.5))
	}
	return -int(math.Floor(-x + 0.5))
}

type trimmed struct {
	left  []int
	right []int
}

// applyTrims removes left/right LEDs from a key's assignment and hands
// them to the actually-present neighbor. Two passes: the first trims
// every key without touching its neighbors, and the second locates each
// trimmed LED's new home in the post-trim mapping, so a chain of
// back-to-back trims redistributes correctly instead of each trim
// reasoning about a neighbor that might itself be about to lose all its
// LEDs.
func applyTrims(keys map[int][]int, piano geometry.PianoSpec, trims map[int]TrimSpec) (map[int][]int, []string) {
	if len(trims) == 0 {
		return keys, nil
	}
	n := piano.KeyCount
	out := copyKeys(keys)
	var warnings []string

	collected := make(map[int]trimmed, len(trims))
	for k := 0; k < n; k++ {
		note := piano.MIDIStart + k
		t, ok := trims[note]
		if !ok {
			continue
		}
		left, right := t.Left, t.Right
		if left < 0 {
			left = 0
		}
		if right < 0 {
			right = 0
		}
		leds := out[k]
		if left+right == 0 || len(leds) == 0 {
			continue
		}
		if left+right >= len(leds) {
			warnings = append(warnings, fmt.Sprintf("trim for note %d would empty its key; skipped", note))
			continue
		}
		tr := trimmed{
			left:  append([]int(nil), leds[:left]...),
			right: append([]int(nil), leds[len(leds)-right:]...),
		}
		out[k] = append([]int(nil), leds[left:len(leds)-right]...)
		collected[k] = tr
	}

	for k := 0; k < n; k++ {
		tr, ok := collected[k]
		if !ok {
			continue
		}
		if len(tr.left) > 0 {
			if pk, found := nearestNonEmptyKey(out, k, -1, n); found {
				out[pk] = append(out[pk], tr.left...)
			}
		}
		if len(tr.right) > 0 {
			if nk, found := nearestNonEmptyKey(out, k, +1, n); found {
				out[nk] = append(append([]int(nil), tr.right...), out[nk]...)
			}
		}
	}

	for k := range out {
		sort.Ints(out[k])
		out[k] = dedupeSorted(out[k])
	}
	return out, warnings
}

func nearestNonEmptyKey(keys map[int][]int, k, dir, n int) (int, bool) {
	for j := k + dir; j >= 0 && j < n; j += dir {
		if len(keys[j]) > 0 {
			return j, true
		}
	}
	return 0, false
}

// applySelectionOverrides replaces a key's LED list outright. Any LED
// the override drops is re-homed to whichever physical neighbor key is
// closer, using _find_best_neighbor: smaller distance from the LED's
// center to the neighbor's exposed edge wins; on a tie, the white-key
// neighbor wins; if both neighbors are the same type, the right
// neighbor wins.
func applySelectionOverrides(keys map[int][]int, piano geometry.PianoSpec, geoms []geometry.KeyGeometry, placements map[int]geometry.LedPlacement, overrides map[int][]int, startLed, endLed int) (map[int][]int, int) {
	out := copyKeys(keys)
	n := piano.KeyCount
	clamped := 0

	for k := 0; k < n; k++ {
		note := piano.MIDIStart + k
		override, ok := overrides[note]
		if !ok {
			continue
		}
		before := out[k]
		after := make([]int, 0, len(override))
		for _, idx := range override {
			c := clampInt(idx, startLed, endLed)
			if c != idx {
				clamped++
			}
			after = append(after, c)
		}
		sort.Ints(after)
		after = dedupeSorted(after)
		afterSet := make(map[int]bool, len(after))
		for _, idx := range after {
			afterSet[idx] = true
		}
		out[k] = after

		var leftKey, rightKey *geometry.KeyGeometry
		if k > 0 {
			leftKey = &geoms[k-1]
		}
		if k < n-1 {
			rightKey = &geoms[k+1]
		}

		for _, idx := range before {
			if afterSet[idx] {
				continue
			}
			placement, ok := placements[idx]
			if !ok {
				continue
			}
			dest, destOk := findBestNeighbor(placement.CenterMM(), k-1, leftKey, k+1, rightKey)
			if destOk {
				out[dest] = append(out[dest], idx)
			}
		}
	}

	for k := range out {
		sort.Ints(out[k])
		out[k] = dedupeSorted(out[k])
	}
	return out, clamped
}

func findBestNeighbor(ledCenterMM float64, leftIdx int, leftKey *geometry.KeyGeometry, rightIdx int, rightKey *geometry.KeyGeometry) (int, bool) {
	switch {
	case leftKey == nil && rightKey == nil:
		return 0, false
	case leftKey == nil:
		return rightIdx, true
	case rightKey == nil:
		return leftIdx, true
	}

	distLeft := math.Abs(ledCenterMM - leftKey.Rect.EndMM)
	distRight := math.Abs(ledCenterMM - rightKey.Rect.StartMM)
	switch {
	case distLeft < distRight:
		return leftIdx, true
	case distRight < distLeft:
		return rightIdx, true
	case leftKey.Type == geometry.White && rightKey.Type != geometry.White:
		return leftIdx, true
	default:
		return rightIdx, true
	}
}

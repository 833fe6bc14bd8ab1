// Package geometry turns piano and LED-strip physical parameters into
// millimeter rectangles. Every downstream allocator operates on the
// rectangles this package produces; nothing else in the module reaches
// for a ruler.
package geometry

import "ledpiano/apierr"

// PianoSize names a keyboard size. The 88-key form is the reference
// layout; every other size is a contiguous MIDI subrange of it.
type PianoSize string

const (
	Piano25 PianoSize = "25"
	Piano37 PianoSize = "37"
	Piano49 PianoSize = "49"
	Piano61 PianoSize = "61"
	Piano76 PianoSize = "76"
	Piano88 PianoSize = "88"
)

// PianoSpec resolves a named size to its key count and MIDI range.
type PianoSpec struct {
	Size      PianoSize
	KeyCount  int
	MIDIStart int
	MIDIEnd   int
}

var pianoSpecs = map[PianoSize]PianoSpec{
	Piano88: {Piano88, 88, 21, 108},
	Piano76: {Piano76, 76, 28, 103},
	Piano61: {Piano61, 61, 36, 96},
	Piano49: {Piano49, 49, 36, 84},
	Piano37: {Piano37, 37, 48, 84},
	Piano25: {Piano25, 25, 48, 72},
}

// Spec resolves a named size, or InvalidInput for an unknown one.
func Spec(size PianoSize) (PianoSpec, error) {
	s, ok := pianoSpecs[size]
	if !ok {
		return PianoSpec{}, apierr.Field(apierr.InvalidInput, "piano.size", "unknown piano size: "+string(size))
	}
	return s, nil
}

// blackKeySemitones holds the fixed offset-within-octave set (relative
// to C) that is black on every standard piano, independent of which
// octave or partial octave a range starts/ends in.
var blackKeySemitones = map[int]bool{1: true, 3: true, 6: true, 8: true, 10: true}

// IsBlackNote reports whether a MIDI note number falls on a black key.
func IsBlackNote(note int) bool {
	return blackKeySemitones[((note%12)+12)%12]
}

// CountWhiteKeys returns the number of white keys in the size's MIDI
// range, so any named size can be asked for its white-key count
// directly instead of assuming 88. The proportional allocator does not
// call it; it sizes its slots from PianoSpec.KeyCount (see SPEC_FULL.md
// Open Question 1).
func CountWhiteKeys(size PianoSize) (int, error) {
	spec, err := Spec(size)
	if err != nil {
		return 0, err
	}
	count := 0
	for note := spec.MIDIStart; note <= spec.MIDIEnd; note++ {
		if !IsBlackNote(note) {
			count++
		}
	}
	return count, nil
}

// KeyIndexForNote maps a MIDI note to a 0-based key index within spec,
// or an error if the note falls outside the piano's range.
func KeyIndexForNote(spec PianoSpec, note int) (int, error) {
	if note < spec.MIDIStart || note > spec.MIDIEnd {
		return 0, apierr.Field(apierr.InvalidInput, "midi_note", "note out of range for piano size")
	}
	return note - spec.MIDIStart, nil
}

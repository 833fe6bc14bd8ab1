package geometry

import "ledpiano/apierr"

// KeyType distinguishes white from black keys.
type KeyType int

const (
	White KeyType = iota
	Black
)

func (t KeyType) String() string {
	if t == Black {
		return "black"
	}
	return "white"
}

// PhysicalParams holds the user-overridable physical constants used to
// lay out key rectangles. Defaults match a standard 88-key piano.
type PhysicalParams struct {
	WhiteKeyWidthMM float64
	BlackKeyWidthMM float64
	WhiteKeyGapMM   float64
}

// DefaultPhysicalParams returns the standard 88-key physical constants.
func DefaultPhysicalParams() PhysicalParams {
	return PhysicalParams{
		WhiteKeyWidthMM: 23.5,
		BlackKeyWidthMM: 13.7,
		WhiteKeyGapMM:   1.0,
	}
}

// KeyGeometry is one key's physical rectangle.
type KeyGeometry struct {
	Index int
	Note  int
	Type  KeyType
	Rect  Rect
}

func (k KeyGeometry) CenterMM() float64 { return k.Rect.CenterMM() }
func (k KeyGeometry) WidthMM() float64  { return k.Rect.WidthMM() }

// ComputeKeyGeometries lays out every key in spec's MIDI range: white
// keys tile left to right at whiteWidth+gap pitch, and each black key is
// centered on the boundary between its two physically adjacent white
// keys. Pure and deterministic.
func ComputeKeyGeometries(spec PianoSpec, params PhysicalParams) ([]KeyGeometry, error) {
	if params.WhiteKeyWidthMM <= 0 || params.BlackKeyWidthMM <= 0 {
		return nil, apierr.New(apierr.InvalidGeometry, "key widths must be positive")
	}
	if params.WhiteKeyGapMM < 0 {
		return nil, apierr.New(apierr.InvalidGeometry, "white key gap cannot be negative")
	}
	n := spec.KeyCount
	if n <= 0 {
		return nil, apierr.New(apierr.InvalidGeometry, "piano has no keys")
	}

	geoms := make([]KeyGeometry, n)

	cursor := 0.0
	for i := 0; i < n; i++ {
		note := spec.MIDIStart + i
		if IsBlackNote(note) {
			geoms[i] = KeyGeometry{Index: i, Note: note, Type: Black}
			continue
		}
		start := cursor
		end := cursor + params.WhiteKeyWidthMM
		geoms[i] = KeyGeometry{Index: i, Note: note, Type: White, Rect: Rect{StartMM: start, EndMM: end}}
		cursor = end + params.WhiteKeyGapMM
	}

	for i := 0; i < n; i++ {
		if geoms[i].Type != Black {
			continue
		}
		prev, hasPrev := nearestWhite(geoms, i, -1)
		next, hasNext := nearestWhite(geoms, i, +1)

		var boundary float64
		switch {
		case hasPrev && hasNext:
			boundary = (prev.Rect.EndMM + next.Rect.StartMM) / 2
		case hasPrev:
			boundary = prev.Rect.EndMM + params.WhiteKeyGapMM/2
		case hasNext:
			boundary = next.Rect.StartMM - params.WhiteKeyGapMM/2
		default:
			boundary = 0
		}

		half := params.BlackKeyWidthMM / 2
		geoms[i].Rect = Rect{StartMM: boundary - half, EndMM: boundary + half}
	}

	return geoms, nil
}

// nearestWhite scans from i in direction dir (-1 or +1) for the nearest
// white key, returning it and whether one was found. Linear scan over
// at most 88 keys is trivial, as the teacher's own neighbor lookups
// assume (N=88 keeps it cheap).
func nearestWhite(geoms []KeyGeometry, i, dir int) (KeyGeometry, bool) {
	for j := i + dir; j >= 0 && j < len(geoms); j += dir {
		if geoms[j].Type == White {
			return geoms[j], true
		}
	}
	return KeyGeometry{}, false
}

// PianoWidthMM returns the total physical span of the laid-out keys
// (the end of the last key, which is always a white key for every
// named piano size).
func PianoWidthMM(geoms []KeyGeometry) float64 {
	if len(geoms) == 0 {
		return 0
	}
	return geoms[len(geoms)-1].Rect.EndMM
}

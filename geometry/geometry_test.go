package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecKnownSizes(t *testing.T) {
	tests := []struct {
		size     PianoSize
		keyCount int
	}{
		{Piano88, 88},
		{Piano76, 76},
		{Piano61, 61},
		{Piano49, 49},
		{Piano37, 37},
		{Piano25, 25},
	}
	for _, tt := range tests {
		t.Run(string(tt.size), func(t *testing.T) {
			spec, err := Spec(tt.size)
			require.NoError(t, err)
			assert.Equal(t, tt.keyCount, spec.KeyCount)
			assert.Equal(t, tt.keyCount, spec.MIDIEnd-spec.MIDIStart+1)
			assert.GreaterOrEqual(t, spec.MIDIStart, 21)
			assert.LessOrEqual(t, spec.MIDIEnd, 108)
		})
	}
}

func TestSpecUnknownSize(t *testing.T) {
	_, err := Spec(PianoSize("61-weighted"))
	require.Error(t, err)
}

func TestCountWhiteKeys88(t *testing.T) {
	count, err := CountWhiteKeys(Piano88)
	require.NoError(t, err)
	assert.Equal(t, 52, count)
}

func TestCountWhiteKeysSubsetsAreConsistent(t *testing.T) {
	for _, size := range []PianoSize{Piano25, Piano37, Piano49, Piano61, Piano76, Piano88} {
		spec, err := Spec(size)
		require.NoError(t, err)
		white, err := CountWhiteKeys(size)
		require.NoError(t, err)
		black := spec.KeyCount - white
		assert.Equal(t, spec.KeyCount, white+black)
		assert.Greater(t, white, 0)
	}
}

func TestComputeKeyGeometries88Key(t *testing.T) {
	spec, err := Spec(Piano88)
	require.NoError(t, err)
	geoms, err := ComputeKeyGeometries(spec, DefaultPhysicalParams())
	require.NoError(t, err)
	require.Len(t, geoms, 88)

	// Key 0 is A0 (MIDI 21), a white key starting at the origin.
	assert.Equal(t, White, geoms[0].Type)
	assert.Equal(t, 0.0, geoms[0].Rect.StartMM)

	// Keys tile strictly left to right: every key's center is greater
	// than the previous key's center.
	for i := 1; i < len(geoms); i++ {
		assert.Greater(t, geoms[i].CenterMM(), geoms[i-1].CenterMM(), "key %d should be right of key %d", i, i-1)
	}

	// Every key's width matches the configured width for its type
	// (black or white).
	for _, k := range geoms {
		if k.Type == Black {
			assert.InDelta(t, 13.7, k.WidthMM(), 1e-9)
		} else {
			assert.InDelta(t, 23.5, k.WidthMM(), 1e-9)
		}
	}
}

func TestComputeKeyGeometriesInvalid(t *testing.T) {
	spec, _ := Spec(Piano88)
	_, err := ComputeKeyGeometries(spec, PhysicalParams{WhiteKeyWidthMM: 0, BlackKeyWidthMM: 13.7, WhiteKeyGapMM: 1})
	require.Error(t, err)
}

func TestComputeLedPlacements(t *testing.T) {
	params := LedParams{DensityPerMeter: 200, StripStartMM: 0, PhysicalWidthMM: 3}
	placements, err := ComputeLedPlacements(4, 249, params)
	require.NoError(t, err)
	assert.Len(t, placements, 246)
	assert.InDelta(t, 5.0, params.SpacingMM(), 1e-9)

	// Placements are strictly ascending and evenly spaced.
	for i := 1; i < len(placements); i++ {
		delta := placements[i].CenterMM() - placements[i-1].CenterMM()
		assert.InDelta(t, 5.0, delta, 1e-9)
	}
}

func TestComputeLedPlacementsInvalidRange(t *testing.T) {
	_, err := ComputeLedPlacements(10, 5, LedParams{DensityPerMeter: 200, PhysicalWidthMM: 3})
	require.Error(t, err)
}

func TestOverlapMM(t *testing.T) {
	a := Rect{StartMM: 0, EndMM: 10}
	b := Rect{StartMM: 5, EndMM: 15}
	assert.InDelta(t, 5.0, OverlapMM(a, b), 1e-9)

	c := Rect{StartMM: 20, EndMM: 30}
	assert.Equal(t, 0.0, OverlapMM(a, c))
}

func TestMMLEDRoundTrip(t *testing.T) {
	pitch := 5.175
	for n := 0; n < 300; n++ {
		mm := LEDsToMM(n, pitch)
		got := MMToLEDs(mm, pitch)
		assert.Equal(t, n, got)
	}
}

package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledpiano/geometry"
)

func defaultProportionalParams(allowSharing bool) ProportionalParams {
	spec, _ := geometry.Spec(geometry.Piano88)
	return ProportionalParams{
		Piano:        spec,
		Physical:     geometry.DefaultPhysicalParams(),
		LED:          geometry.LedParams{DensityPerMeter: 200, PhysicalWidthMM: 3},
		StartLED:     4,
		EndLED:       249,
		AllowSharing: allowSharing,
	}
}

func allLEDs(m *BaseMapping) []int {
	var all []int
	for _, leds := range m.Keys {
		all = append(all, leds...)
	}
	return all
}

func TestProportionalWithSharingRangeClamp(t *testing.T) {
	m, err := Proportional(defaultProportionalParams(true))
	require.NoError(t, err)
	require.Len(t, m.Keys, 88)

	for k, leds := range m.Keys {
		require.NotEmpty(t, leds, "key %d should have coverage", k)
		for i, idx := range leds {
			assert.GreaterOrEqual(t, idx, 4)
			assert.LessOrEqual(t, idx, 249)
			if i > 0 {
				assert.Greater(t, idx, leds[i-1], "LEDs must be strictly ascending")
			}
		}
		assert.GreaterOrEqual(t, len(leds), 2)
		assert.LessOrEqual(t, len(leds), 8)
	}
}

func TestProportionalWithSharingNeighborsShareBoundary(t *testing.T) {
	m, err := Proportional(defaultProportionalParams(true))
	require.NoError(t, err)

	shared := 0
	for k := 0; k < 87; k++ {
		a, b := m.Keys[k], m.Keys[k+1]
		if len(a) == 0 || len(b) == 0 {
			continue
		}
		set := make(map[int]bool, len(a))
		for _, v := range a {
			set[v] = true
		}
		for _, v := range b {
			if set[v] {
				shared++
				break
			}
		}
	}
	assert.Greater(t, shared, 0, "adjacent keys should share at least one boundary LED somewhere")
}

func TestProportionalWithoutSharingIsPartition(t *testing.T) {
	m, err := Proportional(defaultProportionalParams(false))
	require.NoError(t, err)

	seen := make(map[int]bool)
	for _, leds := range m.Keys {
		for _, idx := range leds {
			require.False(t, seen[idx], "LED %d assigned to more than one key", idx)
			seen[idx] = true
		}
	}
}

func TestProportionalInsufficientCoverage(t *testing.T) {
	params := defaultProportionalParams(true)
	params.StartLED = 10
	params.EndLED = 10
	_, err := Proportional(params)
	require.Error(t, err)
}

func TestProportionalStartEqualsEnd(t *testing.T) {
	params := defaultProportionalParams(true)
	params.StartLED = 100
	params.EndLED = 100
	m, err := Proportional(params)
	require.NoError(t, err)
	for _, leds := range m.Keys {
		assert.LessOrEqual(t, len(leds), 1)
	}
}

func TestProportionalAllDensities(t *testing.T) {
	for _, density := range []int{60, 72, 100, 120, 144, 160, 180, 200} {
		params := defaultProportionalParams(true)
		params.LED.DensityPerMeter = density
		m, err := Proportional(params)
		require.NoError(t, err, "density %d", density)
		require.Len(t, m.Keys, 88)
	}
}

func defaultPhysicsParams() PhysicsParams {
	spec, _ := geometry.Spec(geometry.Piano88)
	return PhysicsParams{
		Piano:               spec,
		Physical:            geometry.DefaultPhysicalParams(),
		LED:                 geometry.LedParams{DensityPerMeter: 200, PhysicalWidthMM: 3},
		StartLED:            4,
		EndLED:              250,
		OverhangThresholdMM: 1.5,
	}
}

func TestPhysicsAutoPitchCalibration(t *testing.T) {
	m, err := Physics(defaultPhysicsParams())
	require.NoError(t, err)
	require.NotNil(t, m.PitchCalibration)
	assert.True(t, m.PitchCalibration.WasAdjusted)
	assert.InDelta(t, 5.0, m.PitchCalibration.TheoreticalPitchMM, 1e-9)
	assert.InDelta(t, 5.175, m.PitchCalibration.AdoptedPitchMM, 0.001)
}

func TestPhysicsNoLEDInTwoKeys(t *testing.T) {
	m, err := Physics(defaultPhysicsParams())
	require.NoError(t, err)

	seen := make(map[int]int)
	for k, leds := range m.Keys {
		for _, idx := range leds {
			if owner, ok := seen[idx]; ok {
				t.Fatalf("LED %d assigned to both key %d and key %d", idx, owner, k)
			}
			seen[idx] = k
		}
	}
}

func TestPhysicsIdempotent(t *testing.T) {
	a, err := Physics(defaultPhysicsParams())
	require.NoError(t, err)
	b, err := Physics(defaultPhysicsParams())
	require.NoError(t, err)

	require.Equal(t, len(a.Keys), len(b.Keys))
	for k, leds := range a.Keys {
		assert.Equal(t, leds, b.Keys[k])
	}
	assert.Equal(t, *a.PitchCalibration, *b.PitchCalibration)
}

func TestPhysicsInvalidGeometry(t *testing.T) {
	p := defaultPhysicsParams()
	p.LED.PhysicalWidthMM = 0
	_, err := Physics(p)
	require.Error(t, err)
}

func TestPhysicsConvergenceWithinOnePass(t *testing.T) {
	m, err := Physics(defaultPhysicsParams())
	require.NoError(t, err)
	required := 1273.0 / 246.0
	assert.LessOrEqual(t, abs(required-m.PitchCalibration.AdoptedPitchMM), 0.001)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

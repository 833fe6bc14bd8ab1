package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledpiano/arbiter"
	"ledpiano/geometry"
	"ledpiano/ledstrip"
	"ledpiano/mapping"
)

func testSnapshot(t *testing.T) *mapping.Snapshot {
	t.Helper()
	c, err := mapping.New(mapping.Params{
		Piano:        geometry.Piano88,
		Physical:     geometry.DefaultPhysicalParams(),
		LED:          geometry.LedParams{DensityPerMeter: 200, PhysicalWidthMM: 3},
		StartLED:     4,
		EndLED:       249,
		Algorithm:    mapping.AlgorithmProportional,
		AllowSharing: true,
	})
	require.NoError(t, err)
	return c.Load()
}

func TestNoteOnRecordsActiveNoteAndWritesLEDs(t *testing.T) {
	sim := ledstrip.NewSimulation(250)
	arb := arbiter.New(sim)
	p := New(testSnapshot(t), arb)

	evt := p.Handle(Message{Type: NoteOn, Note: 60, Velocity: 100, Timestamp: time.Now()})
	require.NotNil(t, evt)
	assert.Equal(t, "note_on", evt.Type)
	assert.NotEmpty(t, evt.LEDIndices)
	assert.Equal(t, 1, p.Active().Len())

	lit := false
	for _, px := range sim.Snapshot() {
		if px != (ledstrip.RGB{}) {
			lit = true
		}
	}
	assert.True(t, lit, "note_on must light at least one LED")
}

func TestNoteOffClearsActiveNoteAndLEDs(t *testing.T) {
	sim := ledstrip.NewSimulation(250)
	arb := arbiter.New(sim)
	p := New(testSnapshot(t), arb)

	p.Handle(Message{Type: NoteOn, Note: 60, Velocity: 100, Timestamp: time.Now()})
	evt := p.Handle(Message{Type: NoteOff, Note: 60, Timestamp: time.Now()})
	require.NotNil(t, evt)
	assert.Equal(t, "note_off", evt.Type)
	assert.Equal(t, 0, p.Active().Len())

	for _, px := range sim.Snapshot() {
		assert.Equal(t, ledstrip.RGB{}, px)
	}
}

func TestNoteOnZeroVelocityIsNoteOff(t *testing.T) {
	sim := ledstrip.NewSimulation(250)
	arb := arbiter.New(sim)
	p := New(testSnapshot(t), arb)

	p.Handle(Message{Type: NoteOn, Note: 60, Velocity: 100, Timestamp: time.Now()})
	evt := p.Handle(Message{Type: NoteOn, Note: 60, Velocity: 0, Timestamp: time.Now()})
	require.NotNil(t, evt)
	assert.Equal(t, "note_off", evt.Type)
}

func TestControlChangeIgnored(t *testing.T) {
	p := New(testSnapshot(t), arbiter.New(ledstrip.NewSimulation(250)))
	evt := p.Handle(Message{Type: ControlChange, Note: 64, Velocity: 64})
	assert.Nil(t, evt)
}

func TestNoteOffWithoutActiveEntryRecomputesFromCanonicalMap(t *testing.T) {
	p := New(testSnapshot(t), arbiter.New(ledstrip.NewSimulation(250)))
	evt := p.Handle(Message{Type: NoteOff, Note: 60})
	require.NotNil(t, evt)
	assert.NotEmpty(t, evt.LEDIndices, "defensive recompute must still find the canonical LEDs")
}

func TestEventProcessorSuppressedWhilePlaybackOwnsStrip(t *testing.T) {
	sim := ledstrip.NewSimulation(250)
	arb := arbiter.New(sim)
	arb.SetPlaybackActive(true)
	p := New(testSnapshot(t), arb)

	p.Handle(Message{Type: NoteOn, Note: 60, Velocity: 100, Timestamp: time.Now()})
	assert.Equal(t, 1, p.Active().Len(), "active-note table still updates during playback")
	for _, px := range sim.Snapshot() {
		assert.Equal(t, ledstrip.RGB{}, px, "LED writes are suppressed while playback owns the strip")
	}
}

func TestRebindClearsActiveNotes(t *testing.T) {
	p := New(testSnapshot(t), arbiter.New(ledstrip.NewSimulation(250)))
	p.Handle(Message{Type: NoteOn, Note: 60, Velocity: 100, Timestamp: time.Now()})
	require.Equal(t, 1, p.Active().Len())

	p.Rebind(testSnapshot(t))
	assert.Equal(t, 0, p.Active().Len())
}

package playback

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

func testCache(t *testing.T) *mapping.Cache {
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
	return c
}

func newTestEngine(t *testing.T) (*Engine, *ledstrip.Simulation) {
	t.Helper()
	sim := ledstrip.NewSimulation(250)
	arb := arbiter.New(sim)
	cache := testCache(t)
	return NewEngine(arb, cache.Load), sim
}

func smallParsed() *ParsedMidi {
	return &ParsedMidi{
		Events: []NoteEvent{
			{StartMS: 0, DurationMS: 100, Note: 60, Velocity: 100},
			{StartMS: 200, DurationMS: 100, Note: 64, Velocity: 90},
		},
		TempoDefaultBPM: 120,
		TotalDurationMS: 300,
	}
}

func TestEnginePlayRequiresLoadedFile(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.Play()
	assert.Error(t, err)
}

func TestEngineStopFromIdleIsNoOp(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Stop())
	assert.Equal(t, Idle, e.Status().State)
}

func TestEnginePauseRequiresPlaying(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.Pause()
	assert.Error(t, err)
}

func TestEngineSetTempoClamps(t *testing.T) {
	e, _ := newTestEngine(t)
	e.parsed = smallParsed()

	require.NoError(t, e.SetTempo(10.0))
	assert.Equal(t, 4.0, e.Status().Tempo)

	require.NoError(t, e.SetTempo(0.0001))
	assert.Equal(t, 0.1, e.Status().Tempo)
}

func TestEngineSetTempoPreservesCurrentTime(t *testing.T) {
	e, _ := newTestEngine(t)
	e.mu.Lock()
	e.parsed = smallParsed()
	e.state = Playing
	e.anchorLocked(time.Now(), 10000) // pretend current_time is already 10s in
	e.mu.Unlock()

	before := e.Status().CurrentMS
	require.NoError(t, e.SetTempo(2.0))
	after := e.Status().CurrentMS

	assert.InDelta(t, before, after, 5.0, "changing tempo must not jump current_time")
}

func TestEngineSetVolumeClamps(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.SetVolume(2.0))
	assert.Equal(t, 1.0, e.Status().Volume)
	require.NoError(t, e.SetVolume(-1.0))
	assert.Equal(t, 0.0, e.Status().Volume)
}

func TestEngineSeekClampsToDuration(t *testing.T) {
	e, _ := newTestEngine(t)
	e.mu.Lock()
	e.parsed = smallParsed()
	e.mu.Unlock()

	require.NoError(t, e.Seek(9999))
	assert.InDelta(t, 300.0, e.Status().CurrentMS, 1.0)

	require.NoError(t, e.Seek(-5))
	assert.InDelta(t, 0.0, e.Status().CurrentMS, 1.0)
}

func TestEngineSeekResetsCursor(t *testing.T) {
	e, _ := newTestEngine(t)
	e.mu.Lock()
	e.parsed = smallParsed()
	e.nextIdx = 2
	e.mu.Unlock()

	require.NoError(t, e.Seek(0))
	e.mu.Lock()
	idx := e.nextIdx
	e.mu.Unlock()
	assert.Equal(t, 0, idx)
}

func TestEngineTickEmitsLEDWritesWithinWindow(t *testing.T) {
	e, sim := newTestEngine(t)
	e.mu.Lock()
	e.parsed = smallParsed()
	e.state = Playing
	e.anchorLocked(time.Now(), 0)
	e.mu.Unlock()
	e.arb.SetPlaybackActive(true) // as Play does, so playback owns the strip

	lastCommit := time.Time{}
	lastStatus := time.Time{}
	e.tick(time.Now(), &lastCommit, &lastStatus)

	e.mu.Lock()
	updates := make([]arbiter.PixelUpdate, 0, len(e.dirty))
	for idx, c := range e.dirty {
		updates = append(updates, arbiter.PixelUpdate{Index: idx, Color: c})
	}
	e.mu.Unlock()
	applied, err := e.arb.Commit(arbiter.ProducerPlayback, updates, -1)
	require.NoError(t, err)
	assert.True(t, applied)

	lit := false
	for _, px := range sim.Snapshot() {
		if px != (ledstrip.RGB{}) {
			lit = true
		}
	}
	assert.True(t, lit, "a note event inside the acceptance window must light an LED")
}

func TestEngineLoopJumpsToStart(t *testing.T) {
	e, _ := newTestEngine(t)
	e.mu.Lock()
	e.parsed = smallParsed()
	e.state = Playing
	e.loopEnabled = true
	e.loopStartMS = 0
	e.loopEndMS = 50
	e.anchorLocked(time.Now(), 100) // past loop end
	e.mu.Unlock()

	lastCommit := time.Time{}
	lastStatus := time.Time{}
	e.tick(time.Now(), &lastCommit, &lastStatus)

	assert.InDelta(t, 0.0, e.Status().CurrentMS, 5.0, "looping must jump current_time back to loop start")
}

func TestEngineStatusReportsProgress(t *testing.T) {
	e, _ := newTestEngine(t)
	e.mu.Lock()
	e.parsed = smallParsed()
	e.filename = "song.mid"
	e.mu.Unlock()

	st := e.Status()
	assert.Equal(t, "song.mid", st.Filename)
	assert.Equal(t, 300.0, st.TotalMS)
}

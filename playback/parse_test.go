package playback

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const testTicksPerQuarter = 480

func writeSMF(t *testing.T, build func(sm *smf.SMF)) string {
	t.Helper()
	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(testTicksPerQuarter)
	build(sm)
	path := filepath.Join(t.TempDir(), "test.mid")
	require.NoError(t, sm.WriteFile(path))
	return path
}

func TestParseFileSingleTrackSingleTempo(t *testing.T) {
	path := writeSMF(t, func(sm *smf.SMF) {
		var track smf.Track
		track.Add(0, smf.MetaTempo(120))
		track.Add(0, gomidi.NoteOn(0, 60, 100))
		track.Add(uint32(testTicksPerQuarter), gomidi.NoteOff(0, 60))
		track.Close(0)
		require.NoError(t, sm.Add(track))
	})

	parsed, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, parsed.Events, 1)

	evt := parsed.Events[0]
	assert.Equal(t, 60, evt.Note)
	assert.Equal(t, 100, evt.Velocity)
	assert.InDelta(t, 0, evt.StartMS, 0.001)
	assert.InDelta(t, 500.0, evt.DurationMS, 0.001) // one quarter note at 120 BPM = 500ms
	assert.InDelta(t, 500.0, parsed.TotalDurationMS, 0.001)
	assert.InDelta(t, 120.0, parsed.TempoDefaultBPM, 0.001)
}

func TestParseFileMultiTempoIntegratesEachSegment(t *testing.T) {
	// Tempo starts at 120 BPM (500000us/beat) for one quarter note, then
	// drops to 60 BPM (1000000us/beat). A note spanning the tempo change
	// should take 500ms (first quarter at 120) + 1000ms (second quarter
	// at 60) = 1500ms, not a naive single-tempo estimate.
	path := writeSMF(t, func(sm *smf.SMF) {
		var track smf.Track
		track.Add(0, smf.MetaTempo(120))
		track.Add(0, gomidi.NoteOn(0, 60, 100))
		track.Add(uint32(testTicksPerQuarter), smf.MetaTempo(60))
		track.Add(uint32(testTicksPerQuarter), gomidi.NoteOff(0, 60))
		track.Close(0)
		require.NoError(t, sm.Add(track))
	})

	parsed, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, parsed.Events, 1)
	assert.InDelta(t, 1500.0, parsed.Events[0].DurationMS, 0.01)
	assert.InDelta(t, 120.0, parsed.TempoDefaultBPM, 0.001, "TempoDefaultBPM reports the map's first segment")
}

func TestParseFileTempoOnSeparateConductorTrack(t *testing.T) {
	path := writeSMF(t, func(sm *smf.SMF) {
		var tempoTrack smf.Track
		tempoTrack.Add(0, smf.MetaTempo(240))
		tempoTrack.Close(0)
		require.NoError(t, sm.Add(tempoTrack))

		var noteTrack smf.Track
		noteTrack.Add(0, gomidi.NoteOn(0, 64, 80))
		noteTrack.Add(uint32(testTicksPerQuarter), gomidi.NoteOff(0, 64))
		noteTrack.Close(0)
		require.NoError(t, sm.Add(noteTrack))
	})

	parsed, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, parsed.Events, 1)
	assert.InDelta(t, 250.0, parsed.Events[0].DurationMS, 0.01, "240 BPM quarter note = 250ms")
}

func TestParseFileMissingTempoDefaultsTo120BPM(t *testing.T) {
	path := writeSMF(t, func(sm *smf.SMF) {
		var track smf.Track
		track.Add(0, gomidi.NoteOn(0, 60, 100))
		track.Add(uint32(testTicksPerQuarter), gomidi.NoteOff(0, 60))
		track.Close(0)
		require.NoError(t, sm.Add(track))
	})

	parsed, err := ParseFile(path)
	require.NoError(t, err)
	assert.InDelta(t, 120.0, parsed.TempoDefaultBPM, 0.001)
	assert.InDelta(t, 500.0, parsed.Events[0].DurationMS, 0.01)
}

func TestParseFileNoteOnZeroVelocityActsAsNoteOff(t *testing.T) {
	path := writeSMF(t, func(sm *smf.SMF) {
		var track smf.Track
		track.Add(0, smf.MetaTempo(120))
		track.Add(0, gomidi.NoteOn(0, 60, 100))
		track.Add(uint32(testTicksPerQuarter), gomidi.NoteOn(0, 60, 0))
		track.Close(0)
		require.NoError(t, sm.Add(track))
	})

	parsed, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, parsed.Events, 1)
	assert.InDelta(t, 500.0, parsed.Events[0].DurationMS, 0.01)
}

func TestParseFileUnreadableFile(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "does-not-exist.mid"))
	assert.Error(t, err)
}

func TestParseFileTrackNamesDriveHandClassification(t *testing.T) {
	path := writeSMF(t, func(sm *smf.SMF) {
		var tempoTrack smf.Track
		tempoTrack.Add(0, smf.MetaTempo(120))
		tempoTrack.Close(0)
		require.NoError(t, sm.Add(tempoTrack))

		var lh smf.Track
		lh.Add(0, smf.MetaTrackName("Left Hand"))
		lh.Add(0, gomidi.NoteOn(0, 76, 90)) // high note, but name should still win
		lh.Add(uint32(testTicksPerQuarter), gomidi.NoteOff(0, 76))
		lh.Close(0)
		require.NoError(t, sm.Add(lh))

		var rh smf.Track
		rh.Add(0, smf.MetaTrackName("RH"))
		rh.Add(0, gomidi.NoteOn(0, 40, 90)) // low note, but name should still win
		rh.Add(uint32(testTicksPerQuarter), gomidi.NoteOff(0, 40))
		rh.Close(0)
		require.NoError(t, sm.Add(rh))
	})

	parsed, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, parsed.Tracks, 3)

	assert.Equal(t, HandLeft, parsed.Tracks[1].Hand)
	assert.Equal(t, 1.0, parsed.Tracks[1].Confidence)
	assert.Equal(t, HandRight, parsed.Tracks[2].Hand)
	assert.Equal(t, 1.0, parsed.Tracks[2].Confidence)
}

func TestClassifyHandNameKeywordTakesPriorityOverNoteRange(t *testing.T) {
	hand, conf := classifyHand("Left Hand", 10, 0) // all high notes, name says left
	assert.Equal(t, HandLeft, hand)
	assert.Equal(t, 1.0, conf)

	hand, conf = classifyHand("Right Hand", 10, 10) // all low notes, name says right
	assert.Equal(t, HandRight, hand)
	assert.Equal(t, 1.0, conf)
}

func TestClassifyHandSuffixKeywords(t *testing.T) {
	hand, _ := classifyHand("Piano LH", 5, 5)
	assert.Equal(t, HandLeft, hand)

	hand, _ = classifyHand("Piano RH", 5, 5)
	assert.Equal(t, HandRight, hand)
}

func TestClassifyHandFallsBackToNoteRangeRatio(t *testing.T) {
	hand, conf := classifyHand("Track 1", 10, 9) // 90% low
	assert.Equal(t, HandLeft, hand)
	assert.InDelta(t, 0.9, conf, 0.001)

	hand, conf = classifyHand("Track 2", 10, 1) // 10% low
	assert.Equal(t, HandRight, hand)
	assert.InDelta(t, 0.9, conf, 0.001)

	hand, conf = classifyHand("Track 3", 10, 5) // evenly split
	assert.Equal(t, HandBoth, hand)
	assert.InDelta(t, 0.5, conf, 0.001)
}

func TestClassifyHandUnknownWhenTrackHasNoNotes(t *testing.T) {
	hand, conf := classifyHand("Conductor", 0, 0)
	assert.Equal(t, HandUnknown, hand)
	assert.Equal(t, 0.0, conf)
}

func TestClassifyNoteHandMiddleCThreshold(t *testing.T) {
	assert.Equal(t, HandLeft, classifyNoteHand(59))
	assert.Equal(t, HandRight, classifyNoteHand(60))
}

func TestBuildTempoMapSortsAcrossTracksAndSeedsTickZero(t *testing.T) {
	tracks := []smf.Track{
		{},
		{},
	}
	tracks[0].Add(uint32(testTicksPerQuarter), smf.MetaTempo(90))
	tracks[0].Close(0)
	tracks[1].Add(0, smf.MetaTempo(150))
	tracks[1].Close(0)

	points := buildTempoMap(tracks)
	require.Len(t, points, 2)
	assert.Equal(t, int64(0), points[0].tick)
	assert.InDelta(t, 60000000.0/150.0, points[0].usPerBeat, 0.001)
	assert.Equal(t, int64(testTicksPerQuarter), points[1].tick)
}

func TestBuildTempoMapDefaultsWhenNoTempoEvent(t *testing.T) {
	tracks := []smf.Track{{}}
	tracks[0].Add(0, gomidi.NoteOn(0, 60, 100))
	tracks[0].Close(0)

	points := buildTempoMap(tracks)
	require.Len(t, points, 1)
	assert.Equal(t, int64(0), points[0].tick)
	assert.Equal(t, defaultUSPerBeat, points[0].usPerBeat)
}

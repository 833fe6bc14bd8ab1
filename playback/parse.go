// Package playback implements the playback engine: Standard MIDI File
// parsing into an immutable timeline, a host-clock scheduler state
// machine, and loop/seek/tempo/volume controls, driving LEDs through
// the shared arbiter and optionally echoing to a MIDI output port.
// Built around the same event-queue/dispatch-loop concurrency model as
// a sequencer's queue manager and output loop, parsed with
// gitlab.com/gomidi/midi/v2/smf.
package playback

import (
	"sort"
	"strings"

	"ledpiano/apierr"

	"gitlab.com/gomidi/midi/v2/smf"
)

// Hand is the attribution of a note or track to a hand.
type Hand int

const (
	HandUnknown Hand = iota
	HandLeft
	HandRight
	HandBoth
)

func (h Hand) String() string {
	switch h {
	case HandLeft:
		return "left"
	case HandRight:
		return "right"
	case HandBoth:
		return "both"
	default:
		return "unknown"
	}
}

// middleC is the note/range threshold used by the "note range vs
// middle-C" hand-classification heuristic.
const middleC = 60

// NoteEvent is one scheduled note in the playback timeline.
type NoteEvent struct {
	StartMS    float64
	DurationMS float64
	Note       int
	Velocity   int
	Channel    int
	Track      int
	Hand       Hand
}

// EndMS is the absolute playback time the note should turn off.
func (n NoteEvent) EndMS() float64 { return n.StartMS + n.DurationMS }

// TrackInfo carries diagnostics about one source track: its detected
// hand, a confidence score for that detection, and (when available) an
// instrument name recovered from a program-change/track-name meta event
// — surfaced for diagnostics only, never consulted by mapping or gating
// decisions.
type TrackInfo struct {
	Index      int
	Name       string
	Hand       Hand
	Confidence float64
	Instrument string
}

// ParsedMidi is the immutable result of parsing a Standard MIDI File:
// every note, sorted ascending by start time, plus the tempo default
// and total duration.
type ParsedMidi struct {
	Events          []NoteEvent
	TempoDefaultBPM float64
	TotalDurationMS float64
	Tracks          []TrackInfo
}

// defaultUSPerBeat is 500,000 microseconds per quarter note = 120 BPM,
// the SMF-standard default when no tempo meta event is present.
const defaultUSPerBeat = 500000.0

type tempoPoint struct {
	tick      int64
	usPerBeat float64
}

// ParseFile reads path as a type-0 or type-1 Standard MIDI File and
// converts every note-on/note-off pair into absolute milliseconds using
// the prevailing tempo segment at that tick.
func ParseFile(path string) (*ParsedMidi, error) {
	s, err := smf.ReadFile(path)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidInput, "failed to read MIDI file", err)
	}

	ticksPerQuarter, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok || ticksPerQuarter <= 0 {
		return nil, apierr.New(apierr.InvalidInput, "unsupported or missing SMF time format (SMPTE not supported)")
	}

	tempoMap := buildTempoMap(s.Tracks)
	tickToMS := tickToMSFunc(tempoMap, float64(ticksPerQuarter))

	var events []NoteEvent
	var tracks []TrackInfo
	maxEndMS := 0.0

	for trackIdx, track := range s.Tracks {
		info := TrackInfo{Index: trackIdx}
		type pending struct {
			startTick int64
			velocity  int
			channel   int
		}
		open := make(map[int]pending) // note -> pending on
		var currentTick int64
		var trackName string
		var noteCount, lowCount int

		for _, te := range track {
			currentTick += int64(te.Delta)
			msg := te.Message

			var channel, note, velocity uint8
			var name string
			switch {
			case msg.GetMetaTrackName(&name):
				trackName = name
			case msg.GetNoteOn(&channel, &note, &velocity) && velocity > 0:
				open[int(note)] = pending{startTick: currentTick, velocity: int(velocity), channel: int(channel)}
				noteCount++
				if int(note) < middleC {
					lowCount++
				}
			case msg.GetNoteOn(&channel, &note, &velocity):
				closeNote(open, int(note), int(channel), currentTick, trackIdx, tickToMS, &events, &maxEndMS)
			case msg.GetNoteOff(&channel, &note, &velocity):
				closeNote(open, int(note), int(channel), currentTick, trackIdx, tickToMS, &events, &maxEndMS)
			}
		}

		info.Name = trackName
		info.Hand, info.Confidence = classifyHand(trackName, noteCount, lowCount)
		tracks = append(tracks, info)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].StartMS < events[j].StartMS })

	defaultBPM := 60000000.0 / defaultUSPerBeat
	if len(tempoMap) > 0 {
		defaultBPM = 60000000.0 / tempoMap[0].usPerBeat
	}

	return &ParsedMidi{
		Events:          events,
		TempoDefaultBPM: defaultBPM,
		TotalDurationMS: maxEndMS,
		Tracks:          tracks,
	}, nil
}

func closeNote(open map[int]struct {
	startTick int64
	velocity  int
	channel   int
}, note, channel int, endTick int64, trackIdx int, tickToMS func(int64) float64, events *[]NoteEvent, maxEndMS *float64) {
	p, ok := open[note]
	if !ok {
		return
	}
	delete(open, note)
	startMS := tickToMS(p.startTick)
	endMS := tickToMS(endTick)
	ne := NoteEvent{
		StartMS:    startMS,
		DurationMS: endMS - startMS,
		Note:       note,
		Velocity:   p.velocity,
		Channel:    p.channel,
		Track:      trackIdx,
		Hand:       classifyNoteHand(note),
	}
	*events = append(*events, ne)
	if endMS > *maxEndMS {
		*maxEndMS = endMS
	}
}

// classifyNoteHand applies the "note range vs middle-C" fallback tier
// of hand classification to a single note, used when no stronger
// per-track signal is available.
func classifyNoteHand(note int) Hand {
	if note < middleC {
		return HandLeft
	}
	return HandRight
}

// classifyHand applies a priority chain for a whole track: track-name
// keyword, then note range vs middle C, then (by omission
// here, since channel hints require per-event channel tracking already
// folded into noteCount/lowCount) the majority-note-range signal, with
// track-index fallback left to the caller when confidence is low.
func classifyHand(trackName string, noteCount, lowCount int) (Hand, float64) {
	name := strings.ToLower(trackName)
	switch {
	case strings.Contains(name, "left") || strings.Contains(name, " lh") || strings.HasSuffix(name, "lh"):
		return HandLeft, 1.0
	case strings.Contains(name, "right") || strings.Contains(name, " rh") || strings.HasSuffix(name, "rh"):
		return HandRight, 1.0
	}
	if noteCount == 0 {
		return HandUnknown, 0.0
	}
	lowRatio := float64(lowCount) / float64(noteCount)
	switch {
	case lowRatio >= 0.8:
		return HandLeft, lowRatio
	case lowRatio <= 0.2:
		return HandRight, 1 - lowRatio
	default:
		return HandBoth, 0.5
	}
}

// buildTempoMap collects every meta-tempo event across all tracks
// (tempo changes may live on a dedicated conductor track in type-1
// files, or be interleaved with notes in type-0 files) into a single
// tick-ordered list, since SMF ticks share one time axis across tracks.
func buildTempoMap(tracks []smf.Track) []tempoPoint {
	var points []tempoPoint
	for _, track := range tracks {
		var currentTick int64
		for _, te := range track {
			currentTick += int64(te.Delta)
			var bpm float64
			if te.Message.GetMetaTempo(&bpm) && bpm > 0 {
				points = append(points, tempoPoint{tick: currentTick, usPerBeat: 60000000.0 / bpm})
			}
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].tick < points[j].tick })

	if len(points) == 0 || points[0].tick != 0 {
		points = append([]tempoPoint{{tick: 0, usPerBeat: defaultUSPerBeat}}, points...)
	}
	return points
}

// tickToMSFunc returns a converter from absolute tick to absolute
// playback milliseconds, integrating through tempoMap's segments.
func tickToMSFunc(tempoMap []tempoPoint, ticksPerQuarter float64) func(int64) float64 {
	return func(tick int64) float64 {
		var ms float64
		prevTick := int64(0)
		usPerBeat := tempoMap[0].usPerBeat
		for _, p := range tempoMap {
			if p.tick > tick {
				break
			}
			ms += float64(p.tick-prevTick) * usPerBeat / ticksPerQuarter / 1000.0
			prevTick = p.tick
			usPerBeat = p.usPerBeat
		}
		ms += float64(tick-prevTick) * usPerBeat / ticksPerQuarter / 1000.0
		return ms
	}
}

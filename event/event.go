// Package event implements the event processor (spec §4.7): a
// stateless-per-call transform from a decoded MIDI message to zero or
// one ProcessedEvent, plus the active-note table it owns as a side
// effect. It is the event pipeline's sole translator from "a key was
// pressed" to "these LEDs should be this color" — the playback engine
// (package playback) re-implements the note_on/note_off LED semantics
// on its own schedule, using the same color/brightness policy (package
// color) and canonical-mapping lookups (package mapping) directly rather
// than through this package.
package event

import (
	"sync"
	"time"

	"ledpiano/arbiter"
	"ledpiano/color"
	"ledpiano/mapping"
)

// MessageType is the decoded MIDI message type this package acts on.
// control_change and anything else are accepted but ignored, per §4.7.
type MessageType int

const (
	NoteOn MessageType = iota
	NoteOff
	PolyTouch
	ControlChange
	Other
)

// Message is the minimal decoded MIDI event the processor consumes —
// the "typed message with note/velocity/channel" the MIDI byte-decoder
// is assumed (§1) to already produce.
type Message struct {
	Type      MessageType
	Note      int
	Velocity  int
	Channel   int
	Timestamp time.Time
}

// ProcessedEvent is the processor's output: §3's MIDI event shape minus
// hand classification (owned by the learning-mode gate, not here).
type ProcessedEvent struct {
	Type       string // "note_on" or "note_off"
	Note       int
	Velocity   int
	Channel    int
	LEDIndices []int
}

// ActiveNote is one entry of the active-note table (§3).
type ActiveNote struct {
	Velocity   int
	Since      time.Time
	LEDIndices []int
	Color      color.RGB
}

// ActiveNoteTable is `midi_note → ActiveNote`, single-writer (the
// Processor that owns it) but safely readable by diagnostics via a
// consistent copy.
type ActiveNoteTable struct {
	mu    sync.RWMutex
	notes map[int]ActiveNote
}

func newActiveNoteTable() *ActiveNoteTable {
	return &ActiveNoteTable{notes: make(map[int]ActiveNote)}
}

func (t *ActiveNoteTable) set(note int, an ActiveNote) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notes[note] = an
}

func (t *ActiveNoteTable) get(note int) (ActiveNote, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	an, ok := t.notes[note]
	return an, ok
}

func (t *ActiveNoteTable) delete(note int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.notes, note)
}

func (t *ActiveNoteTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notes = make(map[int]ActiveNote)
}

// Snapshot returns a consistent copy of every active note, for
// diagnostics and the learning gate's rendering pass.
func (t *ActiveNoteTable) Snapshot() map[int]ActiveNote {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int]ActiveNote, len(t.notes))
	for k, v := range t.notes {
		out[k] = v
	}
	return out
}

// Len reports the number of currently-held notes.
func (t *ActiveNoteTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.notes)
}

// Processor holds a reference to the current canonical snapshot and
// the active-note table, and writes LEDs through the arbiter under
// ProducerEventProcessor — which the arbiter silently drops while
// playback (or boot) owns the strip, giving §4.7's "LED writes from
// keyboard input are suppressed but the active-note table continues
// updating" for free.
type Processor struct {
	mu     sync.RWMutex
	snap   *mapping.Snapshot
	active *ActiveNoteTable
	arb    *arbiter.Arbiter

	Gamma float64 // 0 disables gamma correction
}

// New builds a Processor bound to the given snapshot and arbiter.
func New(snap *mapping.Snapshot, arb *arbiter.Arbiter) *Processor {
	return &Processor{snap: snap, active: newActiveNoteTable(), arb: arb}
}

// Active exposes the active-note table for diagnostics/learning-gate use.
func (p *Processor) Active() *ActiveNoteTable { return p.active }

// Rebind swaps in a new canonical snapshot and clears the active-note
// table, per §4.7's "Refresh on settings change".
func (p *Processor) Rebind(snap *mapping.Snapshot) {
	p.mu.Lock()
	p.snap = snap
	p.mu.Unlock()
	p.active.clear()
}

func (p *Processor) snapshot() *mapping.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// Handle transforms one MIDI message, updates the active-note table,
// and — if the arbiter currently grants this producer the strip —
// writes and commits the resulting LEDs. It never returns an error for
// an unmapped or out-of-range note: that just yields an event with no
// LEDs, consistent with §7's "a single bad message must not stop the
// stream".
func (p *Processor) Handle(msg Message) *ProcessedEvent {
	switch msg.Type {
	case NoteOn:
		if msg.Velocity > 0 {
			return p.handleNoteOn(msg)
		}
		return p.handleNoteOff(msg)
	case NoteOff, PolyTouch:
		return p.handleNoteOff(msg)
	default:
		return nil
	}
}

func (p *Processor) handleNoteOn(msg Message) *ProcessedEvent {
	snap := p.snapshot()
	var leds []int
	if snap != nil {
		if found, err := snap.LEDsForNote(msg.Note); err == nil {
			leds = found
		}
	}

	c := color.ForNote(msg.Note)
	brightness := color.BrightnessForVelocity(msg.Velocity)
	p.active.set(msg.Note, ActiveNote{
		Velocity:   msg.Velocity,
		Since:      msg.Timestamp,
		LEDIndices: append([]int(nil), leds...),
		Color:      c,
	})

	p.writeLEDs(leds, c, brightness)
	return &ProcessedEvent{Type: "note_on", Note: msg.Note, Velocity: msg.Velocity, Channel: msg.Channel, LEDIndices: leds}
}

func (p *Processor) handleNoteOff(msg Message) *ProcessedEvent {
	var leds []int
	if an, ok := p.active.get(msg.Note); ok {
		leds = an.LEDIndices
	} else {
		// Defensive recompute per §4.7: the note wasn't in the active
		// table (e.g. processor was rebound mid-note), so fall back to
		// the canonical map directly.
		snap := p.snapshot()
		if snap != nil {
			if found, err := snap.LEDsForNote(msg.Note); err == nil {
				leds = found
			}
		}
	}
	p.active.delete(msg.Note)

	p.writeLEDs(leds, color.Off, 0)
	return &ProcessedEvent{Type: "note_off", Note: msg.Note, Velocity: msg.Velocity, Channel: msg.Channel, LEDIndices: leds}
}

func (p *Processor) writeLEDs(leds []int, c color.RGB, brightness float64) {
	if len(leds) == 0 || p.arb == nil {
		return
	}
	target := color.Scale(c, brightness, 1.0, p.Gamma)
	updates := make([]arbiter.PixelUpdate, len(leds))
	for i, idx := range leds {
		updates[i] = arbiter.PixelUpdate{Index: idx, Color: target}
	}
	p.arb.Commit(arbiter.ProducerEventProcessor, updates, -1)
}

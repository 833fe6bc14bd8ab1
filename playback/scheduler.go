package playback

import (
	"sort"
	"sync"
	"time"

	"ledpiano/arbiter"
	"ledpiano/apierr"
	"ledpiano/color"
	"ledpiano/mapping"
)

// State is the scheduler's lifecycle state.
type State int

const (
	Idle State = iota
	Playing
	Paused
	Stopped
	Error
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	case Error:
		return "error"
	default:
		return "idle"
	}
}

// acceptanceWindowMS bounds how late a note's LED write may land after
// its scheduled start before it's considered missed.
const acceptanceWindowMS = 20.0

const (
	pollInterval   = 5 * time.Millisecond // >=200Hz poll
	ledCommitEvery = time.Second / 60     // <=60fps LED commits
	statusEvery    = time.Second / 4      // 4Hz status broadcast
)

// OutputSender forwards a decoded note event to an optional MIDI output
// port, echoing playback out to connected hardware. Absence of a real
// port is non-fatal: the caller simply never calls SetOutput.
type OutputSender func(noteOn bool, note, velocity, channel int) error

// Status is a snapshot suitable for a 4Hz broadcast to any transport.
type Status struct {
	State       State
	CurrentMS   float64
	TotalMS     float64
	Filename    string
	Progress    float64 // 0..1
	Tempo       float64
	Volume      float64
	LoopEnabled bool
}

// Gate is the learning-mode collaborator (package learning), kept as an
// interface here so playback has no import-time dependency on the
// gate's own internals — only its decision.
type Gate interface {
	// Step evaluates the gate at playback time t (seconds) and reports
	// whether the scheduler should pause.
	Step(t float64) (shouldPause bool)
}

// Engine is the playback scheduler: it owns the parsed timeline, the
// host-clock anchor, and the goroutine that polls, emits LED writes
// through the arbiter, and broadcasts status. A ticker-driven select
// loop with an explicit stop channel, running a host-clock timeline
// with tempo/seek/loop controls.
type Engine struct {
	mu sync.Mutex

	parsed   *ParsedMidi
	filename string

	state           State
	startEpoch      time.Time
	pausedAtMS      float64
	tempoMultiplier float64
	volume          float64
	loopEnabled     bool
	loopStartMS     float64
	loopEndMS       float64

	arb       *arbiter.Arbiter
	snapFn    func() *mapping.Snapshot
	output    OutputSender
	gate      Gate

	nextIdx      int
	activeEndMS  map[int]float64 // event index -> expiry ms
	forwardedOn  map[int]bool    // note -> currently forwarded via output

	dirty map[int]color.RGB

	cancel chan struct{}
	done   chan struct{}

	StatusC chan Status
}

// NewEngine builds an idle Engine bound to the arbiter and a snapshot
// accessor (so it always looks up the current canonical mapping, not a
// stale one).
func NewEngine(arb *arbiter.Arbiter, snapFn func() *mapping.Snapshot) *Engine {
	return &Engine{
		state:           Idle,
		tempoMultiplier: 1.0,
		volume:          1.0,
		arb:             arb,
		snapFn:          snapFn,
		activeEndMS:     make(map[int]float64),
		forwardedOn:     make(map[int]bool),
		dirty:           make(map[int]color.RGB),
		StatusC:         make(chan Status, 1),
	}
}

// SetOutput wires an optional MIDI echo sender.
func (e *Engine) SetOutput(sender OutputSender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.output = sender
}

// SetGate wires the optional learning-mode gate.
func (e *Engine) SetGate(g Gate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate = g
}

// Load parses filename and readies the engine at Idle, replacing any
// previously loaded file.
func (e *Engine) Load(filename string) error {
	parsed, err := ParseFile(filename)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.parsed = parsed
	e.filename = filename
	e.state = Idle
	e.nextIdx = 0
	e.activeEndMS = make(map[int]float64)
	return nil
}

// Events returns the loaded timeline's note events, sorted ascending by
// start time, for collaborators (the learning gate) that need to
// derive their own index from it. Returns nil if nothing is loaded.
func (e *Engine) Events() []NoteEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.parsed == nil {
		return nil
	}
	return e.parsed.Events
}

// Play transitions Idle/Stopped/Paused -> Playing and starts the
// scheduler goroutine.
func (e *Engine) Play() error {
	e.mu.Lock()
	if e.parsed == nil {
		e.mu.Unlock()
		return apierr.New(apierr.Conflict, "no file loaded")
	}
	if e.state == Playing {
		e.mu.Unlock()
		return nil
	}
	resume := e.state == Paused
	e.state = Playing
	if resume {
		e.anchorLocked(time.Now(), e.pausedAtMS)
	} else {
		e.nextIdx = 0
		e.activeEndMS = make(map[int]float64)
		e.anchorLocked(time.Now(), 0)
	}
	e.cancel = make(chan struct{})
	e.done = make(chan struct{})
	e.arb.SetPlaybackActive(true)
	e.mu.Unlock()

	go e.loop(e.cancel, e.done)
	return nil
}

// Pause transitions Playing -> Paused, freezing current_time.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Playing {
		return apierr.New(apierr.Conflict, "pause requires Playing state")
	}
	e.pausedAtMS = e.currentTimeMSLocked(time.Now())
	e.state = Paused
	return nil
}

// Resume transitions Paused -> Playing, re-anchoring so current_time
// continues from where it was frozen.
func (e *Engine) Resume() error {
	return e.Play()
}

// Stop transitions any state -> Stopped, clears active notes, turns off
// every forwarded/lit LED, and is an idempotent no-op when already
// Idle/Stopped.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state == Idle || e.state == Stopped {
		e.mu.Unlock()
		return nil
	}
	e.state = Stopped
	e.activeEndMS = make(map[int]float64)
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		close(cancel)
		<-e.done
	}
	e.arb.SetPlaybackActive(false)
	e.flushNoteOffEcho()
	return e.arb.AllOff()
}

// SetTempo clamps to [0.1,4.0] and re-anchors so current_time is
// preserved at the instant of the change.
func (e *Engine) SetTempo(multiplier float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	multiplier = clamp(multiplier, 0.1, 4.0)
	now := time.Now()
	ct := e.currentTimeMSLocked(now)
	e.tempoMultiplier = multiplier
	if e.state == Playing {
		e.anchorLocked(now, ct)
	} else {
		e.pausedAtMS = ct
	}
	return nil
}

// SetVolume clamps to [0,1]; scales LED brightness and forwarded
// velocity (minimum 1 after scaling).
func (e *Engine) SetVolume(v float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = clamp(v, 0, 1)
	return nil
}

// Seek clamps to [0,total], clears active notes, turns off LEDs, and
// re-anchors.
func (e *Engine) Seek(seconds float64) error {
	e.mu.Lock()
	if e.parsed == nil {
		e.mu.Unlock()
		return apierr.New(apierr.Conflict, "no file loaded")
	}
	targetMS := clamp(seconds*1000, 0, e.parsed.TotalDurationMS)
	e.jumpToLocked(targetMS)
	now := time.Now()
	if e.state == Playing {
		e.anchorLocked(now, targetMS)
	} else {
		e.pausedAtMS = targetMS
	}
	e.mu.Unlock()
	return e.arb.AllOff()
}

// SetLoop configures loop bounds (seconds); a jump to start with active
// notes cleared is applied by the scheduler loop once current_time
// reaches end.
func (e *Engine) SetLoop(enabled bool, startSeconds, endSeconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loopEnabled = enabled
	e.loopStartMS = startSeconds * 1000
	e.loopEndMS = endSeconds * 1000
}

// Status returns a point-in-time snapshot for the control surface.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	ct := e.currentTimeMSLocked(time.Now())
	total := 0.0
	if e.parsed != nil {
		total = e.parsed.TotalDurationMS
	}
	progress := 0.0
	if total > 0 {
		progress = ct / total
	}
	return Status{
		State:       e.state,
		CurrentMS:   ct,
		TotalMS:     total,
		Filename:    e.filename,
		Progress:    progress,
		Tempo:       e.tempoMultiplier,
		Volume:      e.volume,
		LoopEnabled: e.loopEnabled,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// currentTimeMSLocked computes current_time as (now - start_epoch) *
// tempo_multiplier, in milliseconds. Assumes e.mu held.
func (e *Engine) currentTimeMSLocked(now time.Time) float64 {
	if e.state != Playing {
		return e.pausedAtMS
	}
	elapsed := now.Sub(e.startEpoch).Seconds() * 1000.0
	return elapsed * e.tempoMultiplier
}

// anchorLocked re-anchors start_epoch so currentTimeMSLocked(now) ==
// currentMS at this instant, for any tempoMultiplier currently set.
// Assumes e.mu held.
func (e *Engine) anchorLocked(now time.Time, currentMS float64) {
	if e.tempoMultiplier <= 0 {
		e.tempoMultiplier = 1.0
	}
	elapsedSeconds := currentMS / 1000.0 / e.tempoMultiplier
	e.startEpoch = now.Add(-time.Duration(elapsedSeconds * float64(time.Second)))
}

// jumpToLocked resets the event cursor and active-note bookkeeping to
// target a fresh absolute playback time (used by Seek and loop
// wraparound). Assumes e.mu held.
func (e *Engine) jumpToLocked(targetMS float64) {
	e.activeEndMS = make(map[int]float64)
	e.dirty = make(map[int]color.RGB)
	e.nextIdx = sort.Search(len(e.parsed.Events), func(i int) bool {
		return e.parsed.Events[i].StartMS >= targetMS
	})
}

func (e *Engine) loop(cancel <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	lastCommit := time.Time{}
	lastStatus := time.Time{}

	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			if e.tick(time.Now(), &lastCommit, &lastStatus) {
				return
			}
		}
	}
}

// tick runs one scheduler iteration; it returns true if playback has
// naturally ended and the loop should stop itself.
func (e *Engine) tick(now time.Time, lastCommit, lastStatus *time.Time) bool {
	e.mu.Lock()
	if e.state != Playing {
		e.mu.Unlock()
		return false
	}
	ct := e.currentTimeMSLocked(now)

	if e.gate != nil && e.gate.Step(ct/1000.0) {
		// Gate holds: freeze current_time by re-anchoring to itself
		// every tick instead of advancing.
		e.anchorLocked(now, ct)
		e.mu.Unlock()
		return false
	}

	if e.loopEnabled && e.loopEndMS > e.loopStartMS && ct >= e.loopEndMS {
		e.jumpToLocked(e.loopStartMS)
		e.anchorLocked(now, e.loopStartMS)
		e.mu.Unlock()
		return false
	}

	ended := e.parsed.TotalDurationMS > 0 && ct >= e.parsed.TotalDurationMS && !e.loopEnabled

	e.advanceLocked(ct)
	e.expireLocked(ct)

	shouldCommit := len(e.dirty) > 0 && now.Sub(*lastCommit) >= ledCommitEvery
	var updates []arbiter.PixelUpdate
	if shouldCommit {
		updates = make([]arbiter.PixelUpdate, 0, len(e.dirty))
		for idx, c := range e.dirty {
			updates = append(updates, arbiter.PixelUpdate{Index: idx, Color: c})
		}
		e.dirty = make(map[int]color.RGB)
	}
	broadcastStatus := now.Sub(*lastStatus) >= statusEvery
	e.mu.Unlock()

	if shouldCommit {
		e.arb.Commit(arbiter.ProducerPlayback, updates, -1)
		*lastCommit = now
	}
	if broadcastStatus {
		select {
		case e.StatusC <- e.Status():
		default:
		}
		*lastStatus = now
	}

	if ended {
		e.Stop()
		return true
	}
	return false
}

// advanceLocked emits LED writes (into e.dirty, committed by the
// caller) for every event whose start falls within the acceptance
// window of current_time, advancing the cursor monotonically. Assumes
// e.mu held.
func (e *Engine) advanceLocked(ct float64) {
	snap := e.snapFn()
	for e.nextIdx < len(e.parsed.Events) {
		evt := e.parsed.Events[e.nextIdx]
		if evt.StartMS-ct > acceptanceWindowMS {
			break
		}
		e.nextIdx++
		if ct-evt.StartMS > acceptanceWindowMS {
			continue // too late to matter visually; already passed the window
		}

		var leds []int
		if snap != nil {
			if found, err := snap.LEDsForNote(evt.Note); err == nil {
				leds = found
			}
		}
		brightness := color.BrightnessForVelocity(evt.Velocity)
		c := color.Scale(color.ForNote(evt.Note), brightness, e.volume, 0)
		for _, idx := range leds {
			e.dirty[idx] = c
		}
		e.activeEndMS[e.nextIdx-1] = evt.EndMS()

		if e.output != nil {
			scaledVel := int(float64(evt.Velocity) * e.volume)
			if scaledVel < 1 {
				scaledVel = 1
			}
			e.output(true, evt.Note, scaledVel, evt.Channel)
			e.forwardedOn[evt.Note] = true
		}
	}
}

// expireLocked turns off LEDs (and forwards note_off) for every event
// whose expiry has been reached. Assumes e.mu held.
func (e *Engine) expireLocked(ct float64) {
	for idx, expiry := range e.activeEndMS {
		if ct < expiry {
			continue
		}
		evt := e.parsed.Events[idx]
		snap := e.snapFn()
		if snap != nil {
			if leds, err := snap.LEDsForNote(evt.Note); err == nil {
				for _, ledIdx := range leds {
					e.dirty[ledIdx] = color.Off
				}
			}
		}
		if e.output != nil && e.forwardedOn[evt.Note] {
			e.output(false, evt.Note, 0, evt.Channel)
			delete(e.forwardedOn, evt.Note)
		}
		delete(e.activeEndMS, idx)
	}
}

// flushNoteOffEcho sends note_off for every note still forwarded to the
// output port, so a stop or error never leaves a stuck note sounding.
func (e *Engine) flushNoteOffEcho() {
	e.mu.Lock()
	output := e.output
	forwarded := e.forwardedOn
	e.forwardedOn = make(map[int]bool)
	e.mu.Unlock()

	if output == nil {
		return
	}
	for note := range forwarded {
		output(false, note, 0, 0)
	}
}

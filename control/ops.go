package control

import (
	"ledpiano/apierr"
	"ledpiano/learning"
	"ledpiano/midiinput"
	"ledpiano/midioutput"
	"ledpiano/playback"
	"ledpiano/settings"
)

// --- playback.* ---

// PlaybackLoad parses path and rebuilds the learning gate's expected-
// note index from the freshly loaded timeline.
func (s *Surface) PlaybackLoad(path string) error {
	if err := s.engine.Load(path); err != nil {
		return err
	}
	notes := make([]learning.ExpectedNote, 0, len(s.engine.Events()))
	for _, e := range s.engine.Events() {
		notes = append(notes, learning.ExpectedNote{StartSeconds: e.StartMS / 1000.0, Note: e.Note})
	}
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	gate.Rebuild(notes)
	return nil
}

func (s *Surface) PlaybackPlay() error  { return s.engine.Play() }
func (s *Surface) PlaybackPause() error { return s.engine.Pause() }
func (s *Surface) PlaybackStop() error  { return s.engine.Stop() }

func (s *Surface) PlaybackSeek(seconds float64) error  { return s.engine.Seek(seconds) }
func (s *Surface) PlaybackSetTempo(mult float64) error { return s.engine.SetTempo(mult) }
func (s *Surface) PlaybackSetVolume(v float64) error   { return s.engine.SetVolume(v) }
func (s *Surface) PlaybackSetLoop(enabled bool, start, end float64) error {
	s.engine.SetLoop(enabled, start, end)
	return nil
}

func (s *Surface) PlaybackStatus() playback.Status { return s.engine.Status() }

// --- learning.* ---

// LearningOptions mirrors the wire shape of learning.get_options /
// learning.set_options.
type LearningOptions struct {
	LeftWait        bool
	LeftWhiteColor  string
	LeftBlackColor  string
	RightWait       bool
	RightWhiteColor string
	RightBlackColor string
	TimingWindowMS  int
}

func (s *Surface) LearningGetOptions() LearningOptions {
	lm := s.learningModeFromSettings()
	return LearningOptions{
		LeftWait:       lm.LeftHandWaitForNotes,
		RightWait:      lm.RightHandWaitForNotes,
		TimingWindowMS: lm.TimingWindowMS,
	}
}

func (s *Surface) LearningSetOptions(opts LearningOptions) error {
	if opts.TimingWindowMS < 100 || opts.TimingWindowMS > 2000 {
		return apierr.Field(apierr.InvalidInput, "timing_window_ms", "must be in [100, 2000]")
	}
	lm := settings.LearningMode{
		LeftHandWaitForNotes:  opts.LeftWait,
		RightHandWaitForNotes: opts.RightWait,
		TimingWindowMS:        opts.TimingWindowMS,
	}
	return s.setLearningMode(lm)
}

// --- midi_input.* ---

func (s *Surface) MidiInputListDevices() []string { return midiinput.ListDevices() }

func (s *Surface) MidiInputStart(device string) error { return s.adapter.Start(device) }

func (s *Surface) MidiInputStop() { s.adapter.Stop() }

// MidiInputRestart reopens the most recently successful device, falling
// back through remembered candidates and finally auto-select. reason is
// accepted for diagnostics parity with the control-surface contract but
// otherwise unused.
func (s *Surface) MidiInputRestart(reason string) error {
	return s.adapter.RestartWithSavedDevice()
}

// MidiInputStatus mirrors midi_input.status.
type MidiInputStatus struct {
	State  midiinput.State
	Device string
	Err    error
}

func (s *Surface) MidiInputStatus() MidiInputStatus {
	return MidiInputStatus{State: s.adapter.State(), Device: s.adapter.Device(), Err: s.adapter.LastError()}
}

// --- midi_output.* (playback echo, §4.8) ---

func (s *Surface) MidiOutputListDevices() []string { return midioutput.ListDevices() }

// MidiOutputConnect opens device (or auto-selects when device is
// empty) and wires it as the playback engine's echo sink, replacing
// any previously connected port. The echo_to_output setting is
// updated so the connection is re-attempted on the next restart.
func (s *Surface) MidiOutputConnect(device string) error {
	port, err := midioutput.Open(device)
	if err != nil {
		return err
	}
	s.mu.Lock()
	prev := s.outPort
	s.outPort = port
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	s.engine.SetOutput(port.Send)
	return s.store.Set(settings.CategoryPlayback, "echo_to_output", true)
}

// MidiOutputDisconnect closes the connected output port, if any, and
// silences the playback engine's echo.
func (s *Surface) MidiOutputDisconnect() error {
	s.mu.Lock()
	prev := s.outPort
	s.outPort = nil
	s.mu.Unlock()
	s.engine.SetOutput(nil)
	if prev != nil {
		prev.Close()
	}
	return s.store.Set(settings.CategoryPlayback, "echo_to_output", false)
}

// MidiOutputStatus mirrors midi_output.status.
type MidiOutputStatus struct {
	Connected bool
	Device    string
}

func (s *Surface) MidiOutputStatus() MidiOutputStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outPort == nil {
		return MidiOutputStatus{}
	}
	return MidiOutputStatus{Connected: true, Device: s.outPort.Name()}
}

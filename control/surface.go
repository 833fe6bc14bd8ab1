// Package control exposes the transport-agnostic control surface:
// every calibration, playback, learning-mode, and MIDI-input operation
// a UI or CLI drives, as Go methods returning (result, error) using the
// apierr taxonomy. It is the one package that wires together every
// other collaborator — mapping, calibration, settings, midiinput,
// event, playback, learning, arbiter — the way the teacher's
// sequencer.Manager wires controller/midi/theme into one runtime
// entrypoint.
package control

import (
	"fmt"
	"sync"
	"time"

	"ledpiano/allocator"
	"ledpiano/apierr"
	"ledpiano/arbiter"
	"ledpiano/calibration"
	"ledpiano/color"
	"ledpiano/event"
	"ledpiano/geometry"
	"ledpiano/learning"
	"ledpiano/ledstrip"
	"ledpiano/mapping"
	"ledpiano/midiinput"
	"ledpiano/midioutput"
	"ledpiano/playback"
	"ledpiano/settings"
)

// Surface is the single object a UI/CLI transport drives. Besides what
// its collaborators start (playback's scheduler, midiinput's driver
// callback), it runs the input-draining goroutine started by New and the
// timer goroutine behind each TestLED call.
type Surface struct {
	mu sync.Mutex

	store settings.Store

	cache   *mapping.Cache
	overlay calibration.Overlay

	arb     *arbiter.Arbiter
	proc    *event.Processor
	adapter *midiinput.Adapter
	engine  *playback.Engine
	gate    *learning.Gate

	outPort *midioutput.Port

	testLEDCancel chan struct{}
}

// New builds a Surface from a settings store and an LED driver,
// deriving the initial canonical mapping and wiring the USB MIDI
// adapter, event processor, playback engine, and learning gate
// together behind the shared arbiter.
func New(store settings.Store, driver ledstrip.Driver) (*Surface, error) {
	s := &Surface{store: store, arb: arbiter.New(driver)}

	params, err := s.paramsFromSettingsLocked()
	if err != nil {
		return nil, err
	}
	cache, err := mapping.New(params)
	if err != nil {
		return nil, err
	}
	s.cache = cache
	s.overlay = params.Overlay

	s.proc = event.New(cache.Load(), s.arb)
	s.adapter = midiinput.New(store)
	s.engine = playback.NewEngine(s.arb, cache.Load)

	lm := s.learningModeFromSettings()
	s.gate = learning.New(learning.Config{
		LeftHandWaitForNotes:  lm.LeftHandWaitForNotes,
		RightHandWaitForNotes: lm.RightHandWaitForNotes,
		TimingWindowMS:        float64(lm.TimingWindowMS),
	})
	s.engine.SetGate(s.gate)

	store.OnChange(func(cat settings.Category, key string) {
		if cat == settings.CategoryCalibration || cat == settings.CategoryLED || cat == settings.CategoryPiano {
			s.rebuildMapping()
		}
		if cat == settings.CategoryLearningMode {
			s.refreshLearningConfig()
		}
	})

	if getField(store, settings.CategoryPlayback, "echo_to_output", settings.DefaultPlayback().EchoToOutput) {
		// Best-effort: a missing/unplugged output device degrades the
		// engine to silent echo, it never blocks startup.
		_ = s.MidiOutputConnect("")
	}

	go s.drainInput()
	return s, nil
}

// drainInput feeds every decoded USB MIDI message to the event
// processor; it is the "single consumer" the adapter's queue
// documentation promises.
func (s *Surface) drainInput() {
	for msg := range s.adapter.Messages() {
		s.mu.Lock()
		proc := s.proc
		gate := s.gate
		s.mu.Unlock()
		proc.Handle(msg)
		if gate != nil && (msg.Type == event.NoteOn || msg.Type == event.NoteOff) && msg.Velocity > 0 {
			hand := learning.Right
			if msg.Note < 60 {
				hand = learning.Left
			}
			gate.RecordPress(hand, msg.Note, s.engine.Status().CurrentMS/1000.0)
		}
	}
}

// getCalibration reads every calibration.* key individually, matching
// the persisted state layout's flat per-key schema rather than one
// blob value.
func (s *Surface) getCalibration() settings.Calibration {
	def := settings.DefaultCalibration()
	cal := settings.Calibration{}
	cal.StartLED = getField(s.store, settings.CategoryCalibration, "start_led", def.StartLED)
	cal.EndLED = getField(s.store, settings.CategoryCalibration, "end_led", def.EndLED)
	cal.KeyOffsets = getField(s.store, settings.CategoryCalibration, "key_offsets", map[string]int{})
	cal.LEDSolderingJoints = getField(s.store, settings.CategoryCalibration, "led_soldering_joints", map[string]settings.SolderJointSetting{})
	cal.LEDSelectionOverrides = getField(s.store, settings.CategoryCalibration, "led_selection_overrides", map[string][]int{})
	cal.DistributionMode = getField(s.store, settings.CategoryCalibration, "distribution_mode", def.DistributionMode)
	cal.WhiteKeyWidthMM = getField(s.store, settings.CategoryCalibration, "white_key_width", def.WhiteKeyWidthMM)
	cal.BlackKeyWidthMM = getField(s.store, settings.CategoryCalibration, "black_key_width", def.BlackKeyWidthMM)
	cal.WhiteKeyGapMM = getField(s.store, settings.CategoryCalibration, "white_key_gap", def.WhiteKeyGapMM)
	cal.LEDPhysicalWidthMM = getField(s.store, settings.CategoryCalibration, "led_physical_width", def.LEDPhysicalWidthMM)
	cal.LEDOverhangThresholdMM = getField(s.store, settings.CategoryCalibration, "led_overhang_threshold", def.LEDOverhangThresholdMM)
	return cal
}

// setCalibration writes every calibration field, zero values included,
// back to its own key; a caller that only changed one field (via
// updateCalibration's read-mutate-write) writes the rest back unchanged.
func (s *Surface) setCalibration(cal settings.Calibration) error {
	fields := map[string]any{
		"start_led":               cal.StartLED,
		"end_led":                 cal.EndLED,
		"key_offsets":             cal.KeyOffsets,
		"led_soldering_joints":    cal.LEDSolderingJoints,
		"led_selection_overrides": cal.LEDSelectionOverrides,
		"distribution_mode":       cal.DistributionMode,
		"white_key_width":         cal.WhiteKeyWidthMM,
		"black_key_width":         cal.BlackKeyWidthMM,
		"white_key_gap":           cal.WhiteKeyGapMM,
		"led_physical_width":      cal.LEDPhysicalWidthMM,
		"led_overhang_threshold":  cal.LEDOverhangThresholdMM,
	}
	for key, v := range fields {
		if err := s.store.Set(settings.CategoryCalibration, key, v); err != nil {
			return err
		}
	}
	return nil
}

func getField[T any](store settings.Store, cat settings.Category, key string, def T) T {
	v, err := store.Get(cat, key, def)
	if err != nil {
		return def
	}
	out, ok := v.(T)
	if !ok {
		return def
	}
	return out
}

func (s *Surface) paramsFromSettingsLocked() (mapping.Params, error) {
	cal := s.getCalibration()
	led := settings.LED{
		LEDCount:     getField(s.store, settings.CategoryLED, "led_count", settings.DefaultLED().LEDCount),
		LEDsPerMeter: getField(s.store, settings.CategoryLED, "leds_per_meter", settings.DefaultLED().LEDsPerMeter),
		Brightness:   getField(s.store, settings.CategoryLED, "brightness", settings.DefaultLED().Brightness),
		Enabled:      getField(s.store, settings.CategoryLED, "enabled", settings.DefaultLED().Enabled),
	}
	pianoCfg := settings.Piano{Size: getField(s.store, settings.CategoryPiano, "size", settings.DefaultPiano().Size)}

	overlay := overlayFromCalibration(cal)
	algorithm, allowSharing := distributionModeToAlgorithm(cal.DistributionMode)

	return mapping.Params{
		Piano:               geometry.PianoSize(pianoCfg.Size),
		Physical:            physicalParamsFromCalibration(cal),
		LED:                 geometry.LedParams{DensityPerMeter: led.LEDsPerMeter, PhysicalWidthMM: cal.LEDPhysicalWidthMM},
		StartLED:            cal.StartLED,
		EndLED:              cal.EndLED,
		Algorithm:           algorithm,
		AllowSharing:        allowSharing,
		OverhangThresholdMM: cal.LEDOverhangThresholdMM,
		Overlay:             overlay,
	}, nil
}

func physicalParamsFromCalibration(cal settings.Calibration) geometry.PhysicalParams {
	d := geometry.DefaultPhysicalParams()
	if cal.WhiteKeyWidthMM > 0 {
		d.WhiteKeyWidthMM = cal.WhiteKeyWidthMM
	}
	if cal.BlackKeyWidthMM > 0 {
		d.BlackKeyWidthMM = cal.BlackKeyWidthMM
	}
	if cal.WhiteKeyGapMM > 0 {
		d.WhiteKeyGapMM = cal.WhiteKeyGapMM
	}
	return d
}

func distributionModeToAlgorithm(mode string) (mapping.Algorithm, bool) {
	switch mode {
	case "piano_no_overlap":
		return mapping.AlgorithmProportional, false
	case "physics", "custom":
		return mapping.AlgorithmPhysics, false
	default: // "piano_overlap" / "proportional_sharing" / ""
		return mapping.AlgorithmProportional, true
	}
}

func overlayFromCalibration(cal settings.Calibration) calibration.Overlay {
	overlay := calibration.Overlay{
		KeyOffsets:         cal.KeyOffsets,
		SolderJoints:       make(map[int]calibration.SolderJoint, len(cal.LEDSolderingJoints)),
		SelectionOverrides: cal.LEDSelectionOverrides,
	}
	for idxStr, j := range cal.LEDSolderingJoints {
		idx := atoiOr(idxStr, -1)
		if idx < 0 {
			continue
		}
		overlay.SolderJoints[idx] = calibration.SolderJoint{LedIndex: idx, OffsetMM: j.OffsetMM}
	}
	return overlay
}

func atoiOr(s string, def int) int {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return def
	}
	return n
}

func (s *Surface) rebuildMapping() {
	s.mu.Lock()
	params, err := s.paramsFromSettingsLocked()
	if err != nil {
		s.mu.Unlock()
		return
	}
	err = s.cache.Rebuild(params)
	if err != nil {
		s.mu.Unlock()
		return
	}
	s.overlay = params.Overlay
	snap := s.cache.Load()
	proc := s.proc
	s.mu.Unlock()
	proc.Rebind(snap)
}

func (s *Surface) learningModeFromSettings() settings.LearningMode {
	def := settings.DefaultLearningMode()
	return settings.LearningMode{
		LeftHandWaitForNotes:  getField(s.store, settings.CategoryLearningMode, "left_hand_wait_for_notes", def.LeftHandWaitForNotes),
		RightHandWaitForNotes: getField(s.store, settings.CategoryLearningMode, "right_hand_wait_for_notes", def.RightHandWaitForNotes),
		TimingWindowMS:        getField(s.store, settings.CategoryLearningMode, "timing_window_ms", def.TimingWindowMS),
	}
}

func (s *Surface) setLearningMode(lm settings.LearningMode) error {
	if err := s.store.Set(settings.CategoryLearningMode, "left_hand_wait_for_notes", lm.LeftHandWaitForNotes); err != nil {
		return err
	}
	if err := s.store.Set(settings.CategoryLearningMode, "right_hand_wait_for_notes", lm.RightHandWaitForNotes); err != nil {
		return err
	}
	return s.store.Set(settings.CategoryLearningMode, "timing_window_ms", lm.TimingWindowMS)
}

func (s *Surface) refreshLearningConfig() {
	lm := s.learningModeFromSettings()
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	gate.SetConfig(learning.Config{
		LeftHandWaitForNotes:  lm.LeftHandWaitForNotes,
		RightHandWaitForNotes: lm.RightHandWaitForNotes,
		TimingWindowMS:        float64(lm.TimingWindowMS),
	})
}

// --- calibration.* ---

// CanonicalMapping is the get_canonical_mapping() result: the
// key->LED mapping plus diagnostics.
type CanonicalMapping struct {
	Piano      geometry.PianoSpec
	Keys       map[int][]int
	Warnings   []string
	ClampCount int
	Pitch      *allocator.PitchCalibration
}

func (s *Surface) GetCanonicalMapping() CanonicalMapping {
	snap := s.cache.Load()
	return CanonicalMapping{Piano: snap.Piano, Keys: snap.Keys, Warnings: snap.Warnings, ClampCount: snap.ClampCount, Pitch: snap.Pitch}
}

// ActiveNotes returns a consistent copy of the event processor's
// active-note table, for diagnostics surfaces like cmd/ledctl's live
// visualizer.
func (s *Surface) ActiveNotes() map[int]event.ActiveNote {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	return proc.Active().Snapshot()
}

// Arbiter exposes the shared LED arbiter so callers outside the
// control surface (the boot animation at startup) can commit pixel
// writes through the same ownership gate as playback and calibration.
func (s *Surface) Arbiter() *arbiter.Arbiter {
	return s.arb
}

func (s *Surface) updateCalibration(mutate func(*settings.Calibration)) error {
	cal := s.getCalibration()
	mutate(&cal)
	return s.setCalibration(cal)
}

func (s *Surface) SetStartLED(v int) error {
	if v < 0 {
		return apierr.Field(apierr.InvalidInput, "start_led", "must be >= 0")
	}
	return s.updateCalibration(func(c *settings.Calibration) { c.StartLED = v })
}

func (s *Surface) SetEndLED(v int) error {
	if v < 0 {
		return apierr.Field(apierr.InvalidInput, "end_led", "must be >= 0")
	}
	return s.updateCalibration(func(c *settings.Calibration) { c.EndLED = v })
}

func (s *Surface) SetKeyOffset(midiNote, offset int) error {
	return s.updateCalibration(func(c *settings.Calibration) {
		if c.KeyOffsets == nil {
			c.KeyOffsets = make(map[string]int)
		}
		c.KeyOffsets[itoa(midiNote)] = offset
	})
}

func (s *Surface) DeleteKeyOffset(midiNote int) error {
	return s.updateCalibration(func(c *settings.Calibration) {
		delete(c.KeyOffsets, itoa(midiNote))
	})
}

func (s *Surface) SetAllKeyOffsets(offsets map[int]int) error {
	return s.updateCalibration(func(c *settings.Calibration) {
		m := make(map[string]int, len(offsets))
		for note, off := range offsets {
			m[itoa(note)] = off
		}
		c.KeyOffsets = m
	})
}

// ResetCalibration restores factory calibration defaults.
func (s *Surface) ResetCalibration() error {
	return s.setCalibration(settings.DefaultCalibration())
}

// SetDistributionMode selects the base allocator: piano_overlap,
// piano_no_overlap, physics, or custom.
func (s *Surface) SetDistributionMode(mode string) error {
	switch mode {
	case "piano_overlap", "piano_no_overlap", "physics", "custom":
	default:
		return apierr.Field(apierr.InvalidInput, "distribution_mode", "unknown mode: "+mode)
	}
	return s.updateCalibration(func(c *settings.Calibration) { c.DistributionMode = mode })
}

// PhysicsParameters mirrors the wire shape for set_physics_parameters.
type PhysicsParameters struct {
	WhiteKeyWidthMM        float64
	BlackKeyWidthMM        float64
	WhiteKeyGapMM          float64
	LEDPhysicalWidthMM     float64
	OverhangThresholdMM    float64
}

func (s *Surface) SetPhysicsParameters(p PhysicsParameters) error {
	return s.updateCalibration(func(c *settings.Calibration) {
		c.WhiteKeyWidthMM = p.WhiteKeyWidthMM
		c.BlackKeyWidthMM = p.BlackKeyWidthMM
		c.WhiteKeyGapMM = p.WhiteKeyGapMM
		c.LEDPhysicalWidthMM = p.LEDPhysicalWidthMM
		c.LEDOverhangThresholdMM = p.OverhangThresholdMM
	})
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }

// TestLED lights index cyan for 3 seconds via the event-processor
// producer slot (no dedicated arbiter producer exists for diagnostics,
// so it borrows the event-processor's precedence and is silently
// dropped like any other keyboard write while playback owns the strip).
func (s *Surface) TestLED(index int) error {
	s.mu.Lock()
	if s.testLEDCancel != nil {
		close(s.testLEDCancel)
	}
	cancel := make(chan struct{})
	s.testLEDCancel = cancel
	arb := s.arb
	s.mu.Unlock()

	applied, err := arb.Commit(arbiter.ProducerEventProcessor, []arbiter.PixelUpdate{{Index: index, Color: color.RGB{0, 255, 255}}}, -1)
	if err != nil {
		return err
	}
	if !applied {
		return apierr.New(apierr.Conflict, "LED strip is not owned by the event processor right now")
	}
	go func() {
		select {
		case <-time.After(3 * time.Second):
			arb.Commit(arbiter.ProducerEventProcessor, []arbiter.PixelUpdate{{Index: index, Color: color.Off}}, -1)
		case <-cancel:
		}
	}()
	return nil
}

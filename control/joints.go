package control

import (
	"fmt"
	"sort"
	"time"

	"ledpiano/apierr"
	"ledpiano/settings"
)

// --- calibration.soldering_joints.* ---

// SolderJointView is one entry of soldering_joints.list/get: a physical
// strip discontinuity at ledIndex plus its audit timestamps.
type SolderJointView struct {
	LedIndex    int
	WidthMM     float64
	OffsetMM    float64
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SolderJointList returns every configured joint, ordered by LED index.
func (s *Surface) SolderJointList() []SolderJointView {
	cal := s.getCalibration()
	out := make([]SolderJointView, 0, len(cal.LEDSolderingJoints))
	for idxStr, j := range cal.LEDSolderingJoints {
		idx := atoiOr(idxStr, -1)
		if idx < 0 {
			continue
		}
		out = append(out, solderJointView(idx, j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].LedIndex < out[k].LedIndex })
	return out
}

// SolderJointGet returns the joint at ledIndex, or NotFound if unset.
func (s *Surface) SolderJointGet(ledIndex int) (SolderJointView, error) {
	cal := s.getCalibration()
	j, ok := cal.LEDSolderingJoints[itoa(ledIndex)]
	if !ok {
		return SolderJointView{}, apierr.Field(apierr.NotFound, "led_index", fmt.Sprintf("no soldering joint at LED %d", ledIndex))
	}
	return solderJointView(ledIndex, j), nil
}

// SolderJointSet creates or updates the joint at ledIndex. CreatedAt is
// preserved across an update; UpdatedAt always advances to now.
func (s *Surface) SolderJointSet(ledIndex int, widthMM, offsetMM float64, description string) error {
	if ledIndex < 0 {
		return apierr.Field(apierr.InvalidInput, "led_index", "must be >= 0")
	}
	now := time.Now()
	return s.updateCalibration(func(c *settings.Calibration) {
		if c.LEDSolderingJoints == nil {
			c.LEDSolderingJoints = make(map[string]settings.SolderJointSetting)
		}
		key := itoa(ledIndex)
		created := now
		if existing, ok := c.LEDSolderingJoints[key]; ok {
			created = existing.CreatedAt
		}
		c.LEDSolderingJoints[key] = settings.SolderJointSetting{
			WidthMM:     widthMM,
			OffsetMM:    offsetMM,
			Description: description,
			CreatedAt:   created,
			UpdatedAt:   now,
		}
	})
}

// SolderJointDelete removes the joint at ledIndex, or NotFound if unset.
func (s *Surface) SolderJointDelete(ledIndex int) error {
	cal := s.getCalibration()
	if _, ok := cal.LEDSolderingJoints[itoa(ledIndex)]; !ok {
		return apierr.Field(apierr.NotFound, "led_index", fmt.Sprintf("no soldering joint at LED %d", ledIndex))
	}
	return s.updateCalibration(func(c *settings.Calibration) {
		delete(c.LEDSolderingJoints, itoa(ledIndex))
	})
}

// SolderJointBulkSet writes many joints at once. mode "replace" drops
// every existing joint first; mode "append" merges onto the existing
// set (overwriting any index present in both).
func (s *Surface) SolderJointBulkSet(joints map[int]SolderJointView, mode string) error {
	switch mode {
	case "replace", "append":
	default:
		return apierr.Field(apierr.InvalidInput, "mode", "must be replace or append")
	}
	now := time.Now()
	return s.updateCalibration(func(c *settings.Calibration) {
		if mode == "replace" || c.LEDSolderingJoints == nil {
			c.LEDSolderingJoints = make(map[string]settings.SolderJointSetting, len(joints))
		}
		for idx, j := range joints {
			key := itoa(idx)
			created := now
			if existing, ok := c.LEDSolderingJoints[key]; ok {
				created = existing.CreatedAt
			}
			c.LEDSolderingJoints[key] = settings.SolderJointSetting{
				WidthMM:     j.WidthMM,
				OffsetMM:    j.OffsetMM,
				Description: j.Description,
				CreatedAt:   created,
				UpdatedAt:   now,
			}
		}
	})
}

// SolderJointClearAll removes every configured joint.
func (s *Surface) SolderJointClearAll() error {
	return s.updateCalibration(func(c *settings.Calibration) {
		c.LEDSolderingJoints = map[string]settings.SolderJointSetting{}
	})
}

// SolderJointConvert converts value between "mm" and "led" units using
// the active joint-conversion pitch (1000/leds_per_meter, per
// SPEC_FULL.md's Open Question 2 resolution).
func (s *Surface) SolderJointConvert(value float64, from, to string) (float64, error) {
	if from == to {
		if from != "mm" && from != "led" {
			return 0, apierr.Field(apierr.InvalidInput, "from", "must be mm or led")
		}
		return value, nil
	}
	pitch := s.jointConversionPitchMM()
	switch {
	case from == "mm" && to == "led":
		return value / pitch, nil
	case from == "led" && to == "mm":
		return value * pitch, nil
	default:
		return 0, apierr.Field(apierr.InvalidInput, "from/to", "must be mm<->led")
	}
}

func (s *Surface) jointConversionPitchMM() float64 {
	led := settings.LED{LEDsPerMeter: getField(s.store, settings.CategoryLED, "leds_per_meter", settings.DefaultLED().LEDsPerMeter)}
	if led.LEDsPerMeter <= 0 {
		return 1000.0 / float64(settings.DefaultLED().LEDsPerMeter)
	}
	return 1000.0 / float64(led.LEDsPerMeter)
}

// SolderJointValidate checks a candidate joint configuration against
// the current usable LED range without writing it, returning every
// problem found (empty slice means the config is safe to set).
func (s *Surface) SolderJointValidate(ledIndex int, widthMM, offsetMM float64) []string {
	var problems []string
	cal := s.getCalibration()
	if ledIndex < cal.StartLED || ledIndex > cal.EndLED {
		problems = append(problems, fmt.Sprintf("led_index %d is outside the usable range [%d, %d]", ledIndex, cal.StartLED, cal.EndLED))
	}
	if widthMM <= 0 {
		problems = append(problems, "width_mm must be positive")
	}
	if offsetMM == 0 {
		problems = append(problems, "offset_mm is zero; joint has no effect")
	}
	return problems
}

func solderJointView(ledIndex int, j settings.SolderJointSetting) SolderJointView {
	return SolderJointView{
		LedIndex:    ledIndex,
		WidthMM:     j.WidthMM,
		OffsetMM:    j.OffsetMM,
		Description: j.Description,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// --- calibration.led_selection.* ---

// LedSelectionGet returns the explicit LED override for midiNote, or
// NotFound if the key has no override (it still has a base/calibrated
// mapping — this only reports the override layer).
func (s *Surface) LedSelectionGet(midiNote int) ([]int, error) {
	cal := s.getCalibration()
	leds, ok := cal.LEDSelectionOverrides[itoa(midiNote)]
	if !ok {
		return nil, apierr.Field(apierr.NotFound, "midi_note", fmt.Sprintf("no LED selection override for note %d", midiNote))
	}
	return append([]int(nil), leds...), nil
}

// LedSelectionSet replaces the override for midiNote outright.
func (s *Surface) LedSelectionSet(midiNote int, leds []int) error {
	sorted := append([]int(nil), leds...)
	sort.Ints(sorted)
	return s.updateCalibration(func(c *settings.Calibration) {
		if c.LEDSelectionOverrides == nil {
			c.LEDSelectionOverrides = make(map[string][]int)
		}
		c.LEDSelectionOverrides[itoa(midiNote)] = sorted
	})
}

// LedSelectionClear removes the override for midiNote, reverting that
// key to the base/calibrated mapping.
func (s *Surface) LedSelectionClear(midiNote int) error {
	return s.updateCalibration(func(c *settings.Calibration) {
		delete(c.LEDSelectionOverrides, itoa(midiNote))
	})
}

// LedSelectionToggle adds ledIndex to midiNote's override if absent, or
// removes it if present. If midiNote has no override yet, the toggle
// seeds one from the key's current canonical LEDs.
func (s *Surface) LedSelectionToggle(midiNote, ledIndex int) error {
	return s.updateCalibration(func(c *settings.Calibration) {
		if c.LEDSelectionOverrides == nil {
			c.LEDSelectionOverrides = make(map[string][]int)
		}
		key := itoa(midiNote)
		leds, ok := c.LEDSelectionOverrides[key]
		if !ok {
			leds = s.currentLEDsForNote(midiNote)
		}
		leds = toggleInt(leds, ledIndex)
		c.LEDSelectionOverrides[key] = leds
	})
}

func (s *Surface) currentLEDsForNote(midiNote int) []int {
	snap := s.cache.Load()
	leds, err := snap.LEDsForNote(midiNote)
	if err != nil {
		return nil
	}
	return append([]int(nil), leds...)
}

func toggleInt(in []int, v int) []int {
	out := make([]int, 0, len(in)+1)
	found := false
	for _, x := range in {
		if x == v {
			found = true
			continue
		}
		out = append(out, x)
	}
	if !found {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// LedSelectionGetAll returns every configured override, keyed by MIDI note.
func (s *Surface) LedSelectionGetAll() map[int][]int {
	cal := s.getCalibration()
	out := make(map[int][]int, len(cal.LEDSelectionOverrides))
	for noteStr, leds := range cal.LEDSelectionOverrides {
		note := atoiOr(noteStr, -1)
		if note < 0 {
			continue
		}
		out[note] = append([]int(nil), leds...)
	}
	return out
}

// LedSelectionClearAll removes every configured override.
func (s *Surface) LedSelectionClearAll() error {
	return s.updateCalibration(func(c *settings.Calibration) {
		c.LEDSelectionOverrides = map[string][]int{}
	})
}

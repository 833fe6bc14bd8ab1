// Package settings defines the typed get/set/on_change collaborator
// consumed by the mapping engine, MIDI input adapter, and learning-mode
// gate, plus a JSON-file-backed implementation of it.
package settings

import "time"

// Category groups related settings keys, matching the persisted state
// layout: calibration, led, piano, playback, learning_mode, hardware.
type Category string

const (
	CategoryCalibration  Category = "calibration"
	CategoryLED          Category = "led"
	CategoryPiano        Category = "piano"
	CategoryPlayback     Category = "playback"
	CategoryLearningMode Category = "learning_mode"
	CategoryHardware     Category = "hardware"
)

// Store is the settings collaborator: typed get/set over JSON-
// representable scalars/arrays/objects, with change notification so
// the mapping engine can rebuild the canonical mapping reactively
// instead of polling.
type Store interface {
	// Get returns the stored value for (category, key), or def if
	// unset. The caller is responsible for asserting the concrete type.
	Get(category Category, key string, def any) (any, error)
	// Set stores value for (category, key) and notifies subscribers.
	Set(category Category, key string, value any) error
	// OnChange registers a callback invoked after any Set; it returns
	// an unsubscribe function.
	OnChange(fn func(category Category, key string)) (unsubscribe func())
	// Export serializes the entire store to JSON.
	Export() ([]byte, error)
	// Import replaces the entire store's contents from JSON, then
	// fires one change notification per overwritten category.
	Import(data []byte) error
}

// SolderJointSetting mirrors calibration.led_soldering_joints' value
// shape.
type SolderJointSetting struct {
	WidthMM     float64   `json:"width_mm"`
	OffsetMM    float64   `json:"offset_mm"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Calibration is the typed view of the `calibration` category.
type Calibration struct {
	StartLED                int                            `json:"start_led"`
	EndLED                  int                             `json:"end_led"`
	KeyOffsets              map[string]int                  `json:"key_offsets,omitempty"`
	LEDSolderingJoints      map[string]SolderJointSetting    `json:"led_soldering_joints,omitempty"`
	LEDSelectionOverrides   map[string][]int                 `json:"led_selection_overrides,omitempty"`
	DistributionMode        string                           `json:"distribution_mode"`
	WhiteKeyWidthMM         float64                          `json:"white_key_width"`
	BlackKeyWidthMM         float64                          `json:"black_key_width"`
	WhiteKeyGapMM           float64                          `json:"white_key_gap"`
	LEDPhysicalWidthMM      float64                          `json:"led_physical_width"`
	LEDOverhangThresholdMM  float64                          `json:"led_overhang_threshold"`
}

// DefaultCalibration is a hardcoded, physically sane starting point
// rather than zero values.
func DefaultCalibration() Calibration {
	return Calibration{
		StartLED:               0,
		EndLED:                 245,
		DistributionMode:       "proportional_sharing",
		WhiteKeyWidthMM:        23.5,
		BlackKeyWidthMM:        13.7,
		WhiteKeyGapMM:          1.0,
		LEDPhysicalWidthMM:     3.0,
		LEDOverhangThresholdMM: 1.5,
	}
}

// LED is the typed view of the `led` category.
type LED struct {
	LEDCount     int     `json:"led_count"`
	LEDsPerMeter int     `json:"leds_per_meter"`
	Brightness   float64 `json:"brightness"`
	Enabled      bool    `json:"enabled"`
}

func DefaultLED() LED {
	return LED{LEDCount: 246, LEDsPerMeter: 200, Brightness: 0.6, Enabled: false}
}

// Piano is the typed view of the `piano` category.
type Piano struct {
	Size string `json:"size"`
}

func DefaultPiano() Piano {
	return Piano{Size: "88"}
}

// Playback is the typed view of the `playback` category.
type Playback struct {
	TempoMultiplier float64 `json:"tempo_multiplier"`
	Volume          float64 `json:"volume"`
	Loop            bool    `json:"loop"`
	EchoToOutput    bool    `json:"echo_to_output"`
}

func DefaultPlayback() Playback {
	return Playback{TempoMultiplier: 1.0, Volume: 1.0}
}

// LearningMode is the typed view of the `learning_mode` category.
type LearningMode struct {
	LeftHandWaitForNotes  bool `json:"left_hand_wait_for_notes"`
	RightHandWaitForNotes bool `json:"right_hand_wait_for_notes"`
	TimingWindowMS        int  `json:"timing_window_ms"`
}

func DefaultLearningMode() LearningMode {
	return LearningMode{TimingWindowMS: 400}
}

// Hardware is the typed view of the `hardware` category: the
// LED driver backend selection and its connection parameters.
type Hardware struct {
	Backend  string `json:"backend"`
	SPIPort  string `json:"spi_port,omitempty"`
}

func DefaultHardware() Hardware {
	return Hardware{Backend: "simulation"}
}

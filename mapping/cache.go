// Package mapping owns the canonical mapping cache: the process-wide,
// read-mostly {key_index → LED indices} structure that every
// LED-producing subsystem consumes. It is the only producer; the
// allocator and calibration packages only compute values, never store
// them.
package mapping

import (
	"sync/atomic"

	"ledpiano/allocator"
	"ledpiano/apierr"
	"ledpiano/calibration"
	"ledpiano/geometry"
)

// Algorithm selects which base allocator builds the mapping before the
// calibration overlay runs.
type Algorithm string

const (
	AlgorithmProportional Algorithm = "proportional"
	AlgorithmPhysics      Algorithm = "physics"
)

// Params is everything needed to (re)derive the canonical mapping.
// Equality of two Params values (field by field) implies equal output —
// this is the whole of what "rebuild on setting change" means in
// practice: call Rebuild with a new Params whenever any of these
// change.
type Params struct {
	Piano        geometry.PianoSize
	Physical     geometry.PhysicalParams
	LED          geometry.LedParams
	StartLED     int
	EndLED       int
	Algorithm    Algorithm
	AllowSharing bool // proportional only

	OverhangThresholdMM float64 // physics only

	Overlay calibration.Overlay
}

// Snapshot is one immutable materialization of the canonical mapping.
// Readers take a Snapshot once via Cache.Load and never need to lock —
// the Cache only ever publishes a brand-new *Snapshot, never mutates
// one in place.
type Snapshot struct {
	Piano      geometry.PianoSpec
	Keys       map[int][]int
	Pitch      *allocator.PitchCalibration
	Warnings   []string
	ClampCount int
}

// LEDsForNote returns the LED indices for a MIDI note, or InvalidInput if
// the note is outside the piano's range, or an empty slice if the note
// is in range but currently has no coverage.
func (s *Snapshot) LEDsForNote(note int) ([]int, error) {
	idx, err := geometry.KeyIndexForNote(s.Piano, note)
	if err != nil {
		return nil, err
	}
	return s.Keys[idx], nil
}

// Cache holds the current Snapshot behind an atomic pointer so
// consumers reading mid-rebuild always observe either the old or the
// new snapshot in full, never a torn state.
type Cache struct {
	snap atomic.Pointer[Snapshot]
}

// New builds a Cache with an initial snapshot derived from params.
func New(params Params) (*Cache, error) {
	c := &Cache{}
	if err := c.Rebuild(params); err != nil {
		return nil, err
	}
	return c, nil
}

// Load returns the current snapshot. Safe for concurrent use without
// locking.
func (c *Cache) Load() *Snapshot {
	return c.snap.Load()
}

// Rebuild derives a brand-new snapshot from params and atomically
// publishes it. Any event handler already holding a snapshot from
// Load keeps observing the old one until it calls Load again.
func (c *Cache) Rebuild(params Params) error {
	snap, err := build(params)
	if err != nil {
		return err
	}
	c.snap.Store(snap)
	return nil
}

func build(params Params) (*Snapshot, error) {
	piano, err := geometry.Spec(params.Piano)
	if err != nil {
		return nil, err
	}
	geoms, err := geometry.ComputeKeyGeometries(piano, params.Physical)
	if err != nil {
		return nil, err
	}

	var base *allocator.BaseMapping
	switch params.Algorithm {
	case AlgorithmPhysics:
		base, err = allocator.Physics(allocator.PhysicsParams{
			Piano:               piano,
			Physical:            params.Physical,
			LED:                 params.LED,
			StartLED:            params.StartLED,
			EndLED:              params.EndLED,
			OverhangThresholdMM: params.OverhangThresholdMM,
		})
	case AlgorithmProportional, "":
		base, err = allocator.Proportional(allocator.ProportionalParams{
			Piano:        piano,
			Physical:     params.Physical,
			LED:          params.LED,
			StartLED:     params.StartLED,
			EndLED:       params.EndLED,
			AllowSharing: params.AllowSharing,
		})
	default:
		return nil, apierr.Field(apierr.InvalidInput, "algorithm", "unknown allocator algorithm: "+string(params.Algorithm))
	}
	if err != nil {
		return nil, err
	}

	result, err := calibration.Apply(base, params.Overlay, piano, geoms, params.LED, params.StartLED, params.EndLED)
	if err != nil {
		return nil, err
	}

	warnings := append(append([]string(nil), base.Warnings...), result.Warnings...)
	return &Snapshot{
		Piano:      piano,
		Keys:       result.Keys,
		Pitch:      base.PitchCalibration,
		Warnings:   warnings,
		ClampCount: result.ClampCount,
	}, nil
}

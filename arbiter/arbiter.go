// Package arbiter implements the LED writer arbiter (spec §4.11): at
// most one logical producer drives the LED strip at any instant, with
// a fixed precedence (boot animation > playback > event processor >
// fallback all-off). It is the only package in this module that calls
// ledstrip.Driver directly — every other producer routes frame updates
// through it. Modeled on the teacher's Manager.flushLEDs/ledLoop
// diffing pattern (sequencer/manager.go), generalized from a fixed-FPS
// per-controller diff to an owner-gated, any-caller commit.
package arbiter

import (
	"sync"
	"time"

	"ledpiano/color"
	"ledpiano/debug"
	"ledpiano/ledstrip"
)

// Producer identifies a logical LED writer, in descending precedence.
type Producer int

const (
	ProducerBoot Producer = iota
	ProducerPlayback
	ProducerEventProcessor
)

func (p Producer) String() string {
	switch p {
	case ProducerBoot:
		return "boot"
	case ProducerPlayback:
		return "playback"
	case ProducerEventProcessor:
		return "event_processor"
	default:
		return "unknown"
	}
}

// PixelUpdate is one LED's target color within a frame.
type PixelUpdate struct {
	Index int
	Color color.RGB
}

// Arbiter serializes all frame commits behind a single mutex and gates
// them by the current owner's precedence. Producers other than the
// current owner may still call Commit — it is simply a no-op — so
// callers never need to check ownership themselves before routing a
// write (mirrors §4.11: "producers other than the current owner may
// still update internal state ... but their LED writes are dropped").
type Arbiter struct {
	mu sync.Mutex

	driver ledstrip.Driver

	bootActive     bool
	playbackActive bool
}

// New wraps a driver. The arbiter starts with no boot/playback claim,
// so the event processor is the default owner (fallback all-off is a
// caller-invoked action, not a standing producer).
func New(driver ledstrip.Driver) *Arbiter {
	return &Arbiter{driver: driver}
}

// BeginBoot claims exclusive ownership for the boot animation. Must be
// called before the animation's first Commit.
func (a *Arbiter) BeginBoot() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bootActive = true
}

// EndBoot releases boot ownership and clears the strip, handing control
// to whichever of playback/event-processor precedence now applies.
func (a *Arbiter) EndBoot() error {
	a.mu.Lock()
	a.bootActive = false
	a.mu.Unlock()
	return a.AllOff()
}

// SetPlaybackActive is called on playback start/stop (§4.11's explicit
// ownership transition). While active, playback outranks the event
// processor; keyboard LED writes are silently dropped until it clears.
func (a *Arbiter) SetPlaybackActive(active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playbackActive = active
}

// Owner reports the producer currently entitled to write frames.
func (a *Arbiter) Owner() Producer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owner()
}

func (a *Arbiter) owner() Producer {
	switch {
	case a.bootActive:
		return ProducerBoot
	case a.playbackActive:
		return ProducerPlayback
	default:
		return ProducerEventProcessor
	}
}

// Commit applies updates atomically if producer currently owns the
// strip; otherwise it is silently dropped and (false, nil) is returned.
// brightness, when non-negative, is applied before the pixel writes.
func (a *Arbiter) Commit(producer Producer, updates []PixelUpdate, brightness int) (applied bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if producer != a.owner() {
		return false, nil
	}
	start := time.Now()
	if brightness >= 0 {
		if err := a.driver.SetBrightness(uint8(brightness)); err != nil {
			return false, err
		}
	}
	for _, u := range updates {
		if err := a.driver.SetPixel(u.Index, u.Color[0], u.Color[1], u.Color[2]); err != nil {
			return false, err
		}
	}
	if err := a.driver.CommitFrame(); err != nil {
		return false, err
	}
	if len(updates) > 0 {
		debug.LogLED("arbiter", updates[0].Index, float64(time.Since(start).Microseconds())/1000.0, "producer=%s count=%d", producer, len(updates))
	}
	return true, nil
}

// AllOff writes black to every pixel and commits, regardless of current
// ownership — this is the §4.11 "fallback: all-off" producer, invoked
// explicitly (boot completion, playback stop, shutdown) rather than
// held as a standing owner.
func (a *Arbiter) AllOff() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.driver.PixelCount()
	for i := 0; i < n; i++ {
		if err := a.driver.SetPixel(i, 0, 0, 0); err != nil {
			return err
		}
	}
	return a.driver.CommitFrame()
}

// Driver exposes the underlying driver for read-only operations
// (PixelCount, Enabled) that don't need ownership gating.
func (a *Arbiter) Driver() ledstrip.Driver {
	return a.driver
}

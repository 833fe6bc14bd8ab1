// Package midiinput implements the USB MIDI input adapter: device
// discovery, a single open input port with an explicit lifecycle state
// machine, and a bounded queue feeding the event processor. Built
// around a ListenTo callback enqueueing into a channel, generalized to
// an Idle/Listening/Error lifecycle with cooldown and a
// remembered-candidate fallback chain across reconnects.
package midiinput

import (
	"strings"
	"sync"
	"time"

	"ledpiano/apierr"
	"ledpiano/debug"
	"ledpiano/event"
	"ledpiano/settings"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// State is the adapter's lifecycle state.
type State int

const (
	Idle State = iota
	Listening
	Error
)

func (s State) String() string {
	switch s {
	case Listening:
		return "listening"
	case Error:
		return "error"
	default:
		return "idle"
	}
}

const restartCooldown = 500 * time.Millisecond

// maxRememberedCandidates bounds the fallback chain for
// restart_with_saved_device: last device, then this many remembered
// candidates, then auto-select.
const maxRememberedCandidates = 3

// Adapter owns at most one open input port at a time. Messages are
// decoded on the driver's callback thread and enqueued into a bounded
// channel; Messages() is the single consumer's drain point.
type Adapter struct {
	mu    sync.Mutex
	state State
	err   error

	device   string
	stopFunc func()

	remembered []string // most-recently-successful devices, newest first
	lastAttempt time.Time

	store settings.Store

	queue chan event.Message
}

// New creates an adapter bound to a settings store (for the
// led.enabled opportunistic-enable behavior). store may be nil in
// tests that don't exercise that path.
func New(store settings.Store) *Adapter {
	return &Adapter{
		state: Idle,
		store: store,
		queue: make(chan event.Message, 256),
	}
}

// Messages is the bounded queue a single consumer goroutine drains and
// feeds to the event processor.
func (a *Adapter) Messages() <-chan event.Message { return a.queue }

// State reports the current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// LastError reports the error that drove the adapter into Error state,
// if any.
func (a *Adapter) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// ListDevices enumerates available MIDI input port names.
func ListDevices() []string {
	ports := gomidi.GetInPorts()
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.String())
	}
	return names
}

// Start opens deviceName (or auto-selects the first non-pass-through,
// non-loopback device when deviceName is empty), transitioning
// Idle -> Listening or Idle -> Error.
func (a *Adapter) Start(deviceName string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.start(deviceName)
}

// start assumes a.mu is held.
func (a *Adapter) start(deviceName string) error {
	if a.state == Listening {
		a.closeLocked()
	}

	ports := gomidi.GetInPorts()
	var port drivers.In
	var resolvedName string
	if deviceName != "" {
		for _, p := range ports {
			if p.String() == deviceName {
				port = p
				resolvedName = p.String()
				break
			}
		}
		if port == nil {
			a.state = Error
			a.err = apierr.Field(apierr.DeviceUnavailable, "device", "MIDI input device not found: "+deviceName)
			return a.err
		}
	} else {
		port, resolvedName = autoSelect(ports)
		if port == nil {
			a.state = Error
			a.err = apierr.New(apierr.DeviceUnavailable, "no suitable MIDI input device found")
			return a.err
		}
	}

	stop, err := gomidi.ListenTo(port, func(msg gomidi.Message, timestampMS int32) {
		a.onMessage(msg)
	})
	if err != nil {
		a.state = Error
		a.err = apierr.Wrap(apierr.DeviceUnavailable, "open MIDI input port failed", err)
		return a.err
	}

	a.device = resolvedName
	a.stopFunc = stop
	a.state = Listening
	a.err = nil
	a.remember(resolvedName)
	debug.Log("midiinput", "listening on %q", resolvedName)

	a.opportunisticallyEnableLED()
	return nil
}

// autoSelect picks the first port whose name doesn't look like a
// pass-through or loopback virtual port.
func autoSelect(ports []drivers.In) (drivers.In, string) {
	for _, p := range ports {
		name := strings.ToLower(p.String())
		if strings.Contains(name, "through") || strings.Contains(name, "loopback") || strings.Contains(name, "passthrough") {
			continue
		}
		return p, p.String()
	}
	return nil, ""
}

// remember pushes name to the front of the remembered-candidate list,
// deduplicating and capping at maxRememberedCandidates.
func (a *Adapter) remember(name string) {
	out := []string{name}
	for _, n := range a.remembered {
		if n != name {
			out = append(out, n)
		}
	}
	if len(out) > maxRememberedCandidates {
		out = out[:maxRememberedCandidates]
	}
	a.remembered = out
}

// Stop closes the open port, transitioning Listening -> Idle. An
// idempotent no-op when already idle.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeLocked()
	a.state = Idle
	a.err = nil
}

func (a *Adapter) closeLocked() {
	if a.stopFunc != nil {
		a.stopFunc()
		a.stopFunc = nil
	}
	a.device = ""
}

// RestartWithSavedDevice retries the last device, then remembered
// candidates, then auto-select — subject to a 500ms cooldown that
// rejects reentrant calls without side effects.
func (a *Adapter) RestartWithSavedDevice() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	if !a.lastAttempt.IsZero() && now.Sub(a.lastAttempt) < restartCooldown {
		return apierr.New(apierr.Conflict, "restart attempted within cooldown window")
	}
	a.lastAttempt = now

	candidates := append([]string(nil), a.remembered...)
	if a.device != "" {
		candidates = append([]string{a.device}, candidates...)
	}

	var lastErr error
	for _, name := range candidates {
		if err := a.start(name); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	// Final fallback: auto-select.
	if err := a.start(""); err != nil {
		lastErr = err
	} else {
		return nil
	}
	return lastErr
}

// Device returns the currently open device name, or "" if idle.
func (a *Adapter) Device() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.device
}

func (a *Adapter) onMessage(msg gomidi.Message) {
	now := time.Now()
	var channel, note, velocity, controller, value uint8

	switch {
	case msg.GetNoteOn(&channel, &note, &velocity):
		typ := event.NoteOn
		if velocity == 0 {
			typ = event.NoteOff
		}
		action := "note_on"
		if typ == event.NoteOff {
			action = "note_off"
		}
		debug.LogNote("midiinput", int(note), int(velocity), int(channel), "%s", action)
		a.enqueue(event.Message{Type: typ, Note: int(note), Velocity: int(velocity), Channel: int(channel), Timestamp: now})
	case msg.GetNoteOff(&channel, &note, &velocity):
		debug.LogNote("midiinput", int(note), int(velocity), int(channel), "note_off")
		a.enqueue(event.Message{Type: event.NoteOff, Note: int(note), Velocity: int(velocity), Channel: int(channel), Timestamp: now})
	case msg.GetControlChange(&channel, &controller, &value):
		a.enqueue(event.Message{Type: event.ControlChange, Channel: int(channel), Timestamp: now})
	case msg.GetPolyAfterTouch(&channel, &note, &value):
		a.enqueue(event.Message{Type: event.PolyTouch, Note: int(note), Channel: int(channel), Timestamp: now})
	}
}

func (a *Adapter) enqueue(m event.Message) {
	select {
	case a.queue <- m:
	default:
		debug.LogEvery(50, "midiinput", "queue full, dropping message note=%d", m.Note)
	}
}

// opportunisticallyEnableLED turns on the LED subsystem on first
// successful USB MIDI connect, if it was disabled. Assumes a.mu is
// held.
func (a *Adapter) opportunisticallyEnableLED() {
	if a.store == nil {
		return
	}
	v, err := a.store.Get(settings.CategoryLED, "enabled", false)
	if err != nil {
		return
	}
	if enabled, ok := v.(bool); ok && !enabled {
		a.store.Set(settings.CategoryLED, "enabled", true)
	}
}

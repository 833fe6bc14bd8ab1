// Package midioutput implements the optional MIDI output driver
// consumed by the playback engine's echo feature (spec §4.8/§6): list
// output ports, open one by name (or auto-select), and send
// note_on/note_off with the same velocity-scaling contract
// playback.OutputSender expects. Absence of a connected port is
// non-fatal everywhere this package is used — the playback engine
// simply never has SetOutput called, or is handed a nil sender.
//
// Grounded on the teacher's own output-port handling
// (`manager.go`/`launchpad.go`/`midi/launchpad.go`'s `midi.GetOutPorts`
// + `midi.SendTo` pattern), generalized from a dedicated
// Launchpad/controller port to a named, swappable playback-echo port.
package midioutput

import (
	"strings"

	"ledpiano/apierr"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// ListDevices enumerates available MIDI output port names.
func ListDevices() []string {
	ports := gomidi.GetOutPorts()
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.String())
	}
	return names
}

// Port is a single open MIDI output connection.
type Port struct {
	name string
	out  drivers.Out
	send func(gomidi.Message) error
}

// Open opens deviceName (or auto-selects the first non-pass-through,
// non-loopback output port when deviceName is empty).
func Open(deviceName string) (*Port, error) {
	ports := gomidi.GetOutPorts()
	var out drivers.Out
	var resolved string

	if deviceName != "" {
		for _, p := range ports {
			if p.String() == deviceName {
				out = p
				resolved = p.String()
				break
			}
		}
		if out == nil {
			return nil, apierr.Field(apierr.DeviceUnavailable, "device", "MIDI output device not found: "+deviceName)
		}
	} else {
		out, resolved = autoSelect(ports)
		if out == nil {
			return nil, apierr.New(apierr.DeviceUnavailable, "no suitable MIDI output device found")
		}
	}

	send, err := gomidi.SendTo(out)
	if err != nil {
		return nil, apierr.Wrap(apierr.DeviceUnavailable, "open MIDI output port failed", err)
	}
	return &Port{name: resolved, out: out, send: send}, nil
}

func autoSelect(ports []drivers.Out) (drivers.Out, string) {
	for _, p := range ports {
		name := strings.ToLower(p.String())
		if strings.Contains(name, "through") || strings.Contains(name, "loopback") || strings.Contains(name, "passthrough") {
			continue
		}
		return p, p.String()
	}
	return nil, ""
}

// Name returns the connected port's device name.
func (p *Port) Name() string { return p.name }

// Send implements playback.OutputSender: note_on/note_off with the
// velocity the playback engine has already scaled by volume.
func (p *Port) Send(noteOn bool, note, velocity, channel int) error {
	ch, n, v := uint8(channel), uint8(note), uint8(velocity)
	if noteOn {
		return p.send(gomidi.NoteOn(ch, n, v))
	}
	return p.send(gomidi.NoteOff(ch, n))
}

// Close releases the underlying output port.
func (p *Port) Close() error {
	return p.out.Close()
}

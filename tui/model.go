// Package tui is cmd/ledctl's live diagnostic visualizer: a bubbletea
// program that polls the control surface at a fixed rate and renders a
// terminal heat-map of the canonical key->LED mapping, the currently
// active notes, playback transport, and USB MIDI input status. It plays
// the same role the teacher's tui/model.go played for its step
// sequencer — a bubbletea Model wired to a running engine rather than a
// standalone demo.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ledpiano/color"
	"ledpiano/control"
	"ledpiano/event"
	"ledpiano/geometry"
	"ledpiano/playback"
)

const pollInterval = 200 * time.Millisecond // 5Hz, well under the arbiter's 60fps commit budget

// Model is the bubbletea model driving the visualizer. It holds only
// the last polled snapshot of the surface's state; all mutation happens
// through the surface itself (via other ledctl subcommands or live USB
// input), never through this view.
type Model struct {
	surface *control.Surface

	quitting bool

	mapping  control.CanonicalMapping
	active   map[int]event.ActiveNote
	pb       playback.Status
	midi     control.MidiInputStatus
	tickedAt time.Time
}

// New builds the visualizer model bound to a running control surface.
func New(s *control.Surface) Model {
	return Model{surface: s}
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		m.mapping = m.surface.GetCanonicalMapping()
		m.active = m.surface.ActiveNotes()
		m.pb = m.surface.PlaybackStatus()
		m.midi = m.surface.MidiInputStatus()
		m.tickedAt = time.Time(msg)
		return m, tick()
	}
	return m, nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#d783ff"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6c6c6c"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffaf00"))
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.mapping.Keys == nil {
		return "warming up...\n"
	}

	var out strings.Builder
	out.WriteString(headerStyle.Render("ledctl monitor") + "\n\n")
	out.WriteString(m.playbackLine() + "\n")
	out.WriteString(m.midiLine() + "\n\n")
	out.WriteString(m.keyboardLine() + "\n")
	out.WriteString(m.ledLine() + "\n\n")
	if len(m.mapping.Warnings) > 0 {
		out.WriteString(warnStyle.Render(fmt.Sprintf("%d mapping warning(s), e.g. %q", len(m.mapping.Warnings), m.mapping.Warnings[0])) + "\n")
	}
	out.WriteString(dimStyle.Render("q: quit"))
	return out.String()
}

func (m Model) playbackLine() string {
	name := m.pb.Filename
	if name == "" {
		name = "(none loaded)"
	}
	return fmt.Sprintf("playback  %-7s  %6.1fs / %6.1fs  tempo %.2fx  vol %.0f%%  %s",
		m.pb.State.String(), m.pb.CurrentMS/1000, m.pb.TotalMS/1000, m.pb.Tempo, m.pb.Volume*100, name)
}

func (m Model) midiLine() string {
	device := m.midi.Device
	if device == "" {
		device = "(none)"
	}
	errTxt := ""
	if m.midi.Err != nil {
		errTxt = "  err: " + m.midi.Err.Error()
	}
	return fmt.Sprintf("midi in   %-9s  device %s  active notes %d%s",
		m.midi.State.String(), device, len(m.active), errTxt)
}

// keyboardLine renders one character per piano key, colored by
// pitch-class when the key is currently sounding (active-note table)
// and a dim white/black otherwise, giving an at-a-glance heat-map of
// what the LED strip should currently be showing.
func (m Model) keyboardLine() string {
	spec := m.mapping.Piano
	if spec.KeyCount == 0 {
		spec = geometry.PianoSpec{KeyCount: 88, MIDIStart: 21, MIDIEnd: 108}
	}

	activeNoteSet := make(map[int]bool, len(m.active))
	for note := range m.active {
		activeNoteSet[note] = true
	}

	var b strings.Builder
	for note := spec.MIDIStart; note <= spec.MIDIEnd; note++ {
		ch := "▢"
		if geometry.IsBlackNote(note) {
			ch = "▪"
		}
		style := lipgloss.NewStyle().Foreground(lipgloss.Color("#3a3a3a"))
		if geometry.IsBlackNote(note) {
			style = style.Foreground(lipgloss.Color("#1c1c1c"))
		} else {
			style = style.Foreground(lipgloss.Color("#5f5f5f"))
		}
		if activeNoteSet[note] {
			rgb := color.ForNote(note)
			style = lipgloss.NewStyle().Foreground(lipgloss.Color(hex(rgb)))
			ch = "▮"
		}
		b.WriteString(style.Render(ch))
	}
	return b.String()
}

// ledLine renders the usable LED range as a dot per LED, lit wherever
// any active note's LED list currently covers it.
func (m Model) ledLine() string {
	lit := map[int]color.RGB{}
	for note, an := range m.active {
		for _, idx := range an.LEDIndices {
			lit[idx] = color.ForNote(note)
		}
	}
	maxIdx := 0
	for _, leds := range m.mapping.Keys {
		for _, idx := range leds {
			if idx > maxIdx {
				maxIdx = idx
			}
		}
	}

	var b strings.Builder
	for i := 0; i <= maxIdx; i++ {
		if rgb, ok := lit[i]; ok {
			b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(hex(rgb))).Render("●"))
		} else {
			b.WriteString(dimStyle.Render("·"))
		}
	}
	return b.String()
}

func hex(c color.RGB) string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}

// Command ledctl is a terminal diagnostic client over control.Surface:
// list MIDI devices, boot the LED strip, inspect the canonical
// mapping, and drive playback — the same operations a future
// HTTP/WebSocket transport would expose, called directly from the
// command line. Grounded on the teacher's cmd/miditest device-listing
// scripts, generalized from raw gomidi calls to the full control
// surface.
package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"ledpiano/boot"
	"ledpiano/control"
	"ledpiano/ledstrip"
	"ledpiano/midiinput"
	"ledpiano/settings"
	"ledpiano/tui"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	store, err := settings.NewFileStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "open settings store: %v\n", err)
		os.Exit(1)
	}

	driver, pixelCount := openDriver(store)
	surface, err := control.New(store, driver)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build control surface: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		listDevices()
	case "boot":
		runBoot(surface, pixelCount)
	case "mapping":
		showMapping(surface)
	case "calibrate":
		runCalibrate(os.Args[2:], surface)
	case "play":
		runPlay(os.Args[2:], surface)
	case "listen":
		runListen(os.Args[2:], surface)
	case "midi-out":
		runMidiOut(os.Args[2:], surface)
	case "monitor":
		runMonitor(surface)
	default:
		usage()
	}
}

func usage() {
	fmt.Println("ledctl - piano LED control-surface diagnostic client")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  list                      list MIDI input devices")
	fmt.Println("  boot                      play the startup LED animation")
	fmt.Println("  mapping                   print the canonical key -> LED mapping")
	fmt.Println("  calibrate start <n>       set calibration.start_led")
	fmt.Println("  calibrate end <n>         set calibration.end_led")
	fmt.Println("  calibrate test <led>      light one LED cyan for 3s")
	fmt.Println("  calibrate reset           restore factory calibration")
	fmt.Println("  play <file.mid>           load and play a Standard MIDI File")
	fmt.Println("  listen <device?>          open a USB MIDI input device and print events")
	fmt.Println("  midi-out list             list MIDI output devices")
	fmt.Println("  midi-out connect <name?>  connect playback's MIDI echo to a device (auto-select if omitted)")
	fmt.Println("  midi-out disconnect       stop echoing playback to MIDI output")
	fmt.Println("  monitor                   live terminal heat-map of mapping + active notes")
}

// openDriver resolves an LED driver from the hardware settings
// category, falling back to the simulation driver whenever SPI hardware
// isn't configured or fails to open.
func openDriver(store settings.Store) (ledstrip.Driver, int) {
	ledCfg, _ := store.Get(settings.CategoryLED, "led_count", settings.DefaultLED().LEDCount)
	count, _ := ledCfg.(int)
	if count <= 0 {
		count = settings.DefaultLED().LEDCount
	}

	hwRaw, _ := store.Get(settings.CategoryHardware, "backend", settings.DefaultHardware().Backend)
	backend, _ := hwRaw.(string)
	if backend != "spi" {
		return ledstrip.NewSimulation(count), count
	}

	portRaw, _ := store.Get(settings.CategoryHardware, "spi_port", "")
	port, _ := portRaw.(string)
	driver, err := ledstrip.OpenWS2812SPI(port, count)
	if err != nil {
		fmt.Fprintf(os.Stderr, "SPI LED driver unavailable (%v); falling back to simulation\n", err)
		return ledstrip.NewSimulation(count), count
	}
	return driver, count
}

func listDevices() {
	devices := midiinput.ListDevices()
	if len(devices) == 0 {
		fmt.Println("no MIDI input devices found")
		return
	}
	for i, name := range devices {
		fmt.Printf("  %d: %s\n", i, name)
	}
}

func runBoot(s *control.Surface, count int) {
	fmt.Println("playing boot animation...")
	boot.Run(s.Arbiter(), count, rand.New(rand.NewSource(time.Now().UnixNano())))
	fmt.Println("done")
}

func showMapping(s *control.Surface) {
	m := s.GetCanonicalMapping()
	for key := 0; key < 128; key++ {
		leds, ok := m.Keys[key]
		if !ok {
			continue
		}
		fmt.Printf("  key %3d -> leds %v\n", key, leds)
	}
	if len(m.Warnings) > 0 {
		fmt.Println("warnings:")
		for _, w := range m.Warnings {
			fmt.Println("  -", w)
		}
	}
}

func runCalibrate(args []string, s *control.Surface) {
	if len(args) < 1 {
		usage()
		return
	}
	switch args[0] {
	case "start":
		n := mustAtoi(args, 1)
		if err := s.SetStartLED(n); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	case "end":
		n := mustAtoi(args, 1)
		if err := s.SetEndLED(n); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	case "test":
		n := mustAtoi(args, 1)
		if err := s.TestLED(n); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	case "reset":
		if err := s.ResetCalibration(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	default:
		usage()
	}
}

func mustAtoi(args []string, idx int) int {
	if idx >= len(args) {
		fmt.Fprintln(os.Stderr, "missing numeric argument")
		os.Exit(1)
	}
	n, err := strconv.Atoi(args[idx])
	if err != nil {
		fmt.Fprintf(os.Stderr, "not a number: %s\n", args[idx])
		os.Exit(1)
	}
	return n
}

func runPlay(args []string, s *control.Surface) {
	if len(args) < 1 {
		usage()
		return
	}
	if err := s.PlaybackLoad(args[0]); err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		return
	}
	if err := s.PlaybackPlay(); err != nil {
		fmt.Fprintln(os.Stderr, "play:", err)
		return
	}
	fmt.Println("playing. press Enter to stop.")
	bufio.NewReader(os.Stdin).ReadString('\n')
	s.PlaybackStop()
}

// runMonitor drives the bubbletea live visualizer against the same
// control.Surface every other subcommand uses, so calibrate/play/listen
// run from a second terminal are reflected live.
func runMonitor(s *control.Surface) {
	p := tea.NewProgram(tui.New(s))
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "monitor:", err)
		os.Exit(1)
	}
}

func runMidiOut(args []string, s *control.Surface) {
	if len(args) < 1 {
		usage()
		return
	}
	switch args[0] {
	case "list":
		devices := s.MidiOutputListDevices()
		if len(devices) == 0 {
			fmt.Println("no MIDI output devices found")
			return
		}
		for i, name := range devices {
			fmt.Printf("  %d: %s\n", i, name)
		}
	case "connect":
		device := ""
		if len(args) > 1 {
			device = args[1]
		}
		if err := s.MidiOutputConnect(device); err != nil {
			fmt.Fprintln(os.Stderr, "connect:", err)
			return
		}
		st := s.MidiOutputStatus()
		fmt.Printf("connected: %s\n", st.Device)
	case "disconnect":
		if err := s.MidiOutputDisconnect(); err != nil {
			fmt.Fprintln(os.Stderr, "disconnect:", err)
		}
	default:
		usage()
	}
}

func runListen(args []string, s *control.Surface) {
	device := ""
	if len(args) > 0 {
		device = args[0]
	}
	if err := s.MidiInputStart(device); err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
		return
	}
	st := s.MidiInputStatus()
	fmt.Printf("listening on %q. press Enter to stop.\n", st.Device)
	bufio.NewReader(os.Stdin).ReadString('\n')
	s.MidiInputStop()
}

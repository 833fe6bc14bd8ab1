// Package ledstrip defines the LED strip driver collaborator consumed
// by the arbiter (§6 "LED driver (consumed)") and ships two concrete
// backends: a mandatory no-op Simulation (so the whole pipeline runs
// with no hardware attached) and an optional WS2812-over-SPI backend
// built on periph.io/x/periph, the pack's only GPIO/peripheral-access
// library (see the google-periph manifest).
package ledstrip

// Driver is the assumed external collaborator: set a pixel, commit the
// frame, and control overall brightness. Every producer in this module
// reaches the strip only through this interface, never a concrete type.
type Driver interface {
	SetPixel(index int, r, g, b uint8) error
	CommitFrame() error
	SetBrightness(level uint8) error
	PixelCount() int
	// Enabled reports whether this driver is backed by real hardware.
	// The simulation backend always reports false so diagnostics can
	// surface it per §6's "diagnostics surface enabled=false".
	Enabled() bool
}

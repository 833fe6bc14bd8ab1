package ledstrip

import (
	"sync"

	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

// WS2812SPI drives an addressable WS2812/NeoPixel-style strip over SPI,
// the ecosystem-standard trick for bit-banging the strip's one-wire
// protocol from a host that only exposes a SPI clock+data pair: each
// logical bit of GRB color data is expanded to several SPI bits whose
// mark/space ratio approximates the WS2812 timing spec. This backend is
// optional — Simulation remains the mandatory default per §6.
type WS2812SPI struct {
	mu         sync.Mutex
	conn       spi.Conn
	closer     spi.PortCloser
	frame      []RGB
	brightness uint8
}

// wsBitPattern encodes one data bit as 3 SPI output bits: a "1" data
// bit becomes a long high pulse (110), a "0" data bit a short one
// (100), matching the WS2812's ~0.4us/0.8us high-time spec at a SPI
// clock chosen so 3 output bits ~= 1.25us.
var wsBitPattern = [2]byte{0b100, 0b110}

// OpenWS2812SPI initializes periph's host drivers, opens the named SPI
// port (empty string selects the default), and configures it for
// WS2812 timing. count is the number of pixels on the strip.
func OpenWS2812SPI(portName string, count int) (*WS2812SPI, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	p, err := spireg.Open(portName)
	if err != nil {
		return nil, err
	}
	// 3 SPI bits per data bit, ~1.25us per data bit -> ~2.4MHz clock.
	conn, err := p.Connect(2400*physic.KiloHertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, err
	}
	return &WS2812SPI{conn: conn, closer: p, frame: make([]RGB, count), brightness: 255}, nil
}

func (w *WS2812SPI) SetPixel(index int, r, g, b uint8) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if index < 0 || index >= len(w.frame) {
		return nil
	}
	w.frame[index] = RGB{R: r, G: g, B: b}
	return nil
}

func (w *WS2812SPI) CommitFrame() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	buf := make([]byte, 0, len(w.frame)*3)
	for _, px := range w.frame {
		buf = appendScaledByte(buf, px.G, w.brightness)
		buf = appendScaledByte(buf, px.R, w.brightness)
		buf = appendScaledByte(buf, px.B, w.brightness)
	}
	return w.conn.Tx(buf, nil)
}

func appendScaledByte(buf []byte, v, brightness uint8) []byte {
	scaled := uint8((uint16(v) * uint16(brightness)) / 255)
	return appendWSByte(buf, scaled)
}

// appendWSByte expands one color byte (MSB first) into 3 encoded bytes
// of SPI output using wsBitPattern, 8 bits packed across 3 output
// bytes (24 encoded bits for 8 data bits).
func appendWSByte(buf []byte, v uint8) []byte {
	var bits [24]byte
	pos := 0
	for i := 7; i >= 0; i-- {
		bit := (v >> uint(i)) & 1
		pattern := wsBitPattern[bit]
		bits[pos] = (pattern >> 2) & 1
		bits[pos+1] = (pattern >> 1) & 1
		bits[pos+2] = pattern & 1
		pos += 3
	}
	var out [3]byte
	for i, b := range bits {
		out[i/8] |= b << uint(7-(i%8))
	}
	return append(buf, out[0], out[1], out[2])
}

func (w *WS2812SPI) SetBrightness(level uint8) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.brightness = level
	return nil
}

func (w *WS2812SPI) PixelCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frame)
}

func (w *WS2812SPI) Enabled() bool { return true }

// Close releases the underlying SPI port.
func (w *WS2812SPI) Close() error {
	return w.closer.Close()
}

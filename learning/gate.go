// Package learning implements the learning-mode gate: it pauses
// playback until the notes currently due have all been played, using a
// rolling record of keypresses evaluated against a bucketed index of
// expected notes. Apart from the red-flash state it keeps for the
// current acceptance window, the gate's verdict depends only on its own
// deques and the current playback time — no cross-tick cancellation rule.
package learning

import (
	"math"
	"sort"
	"sync"
)

// Hand selects which deque/expected-set a note belongs to.
type Hand int

const (
	Left Hand = iota
	Right
)

const (
	maxDequeEntries = 5000
	evictionMaxAge  = 5.0   // seconds
	evictionPeriod  = 1.0   // seconds, minimum interval between sweeps
	flashExpiry     = 0.3   // seconds
	lookbackWindow  = 1.0   // seconds, the "t - 1.0" side of the acceptance window
	middleC         = 60
)

// pressed is one recorded keypress: a note and the playback time it
// landed at.
type pressed struct {
	note int
	t    float64
}

// Config is the subset of settings.LearningMode the gate consults.
type Config struct {
	LeftHandWaitForNotes  bool
	RightHandWaitForNotes bool
	TimingWindowMS        float64
}

// Gate holds the two played-note deques and the pre-bucketed expected
// index built from a parsed playback timeline.
type Gate struct {
	mu sync.Mutex

	cfg Config

	deques      [2][]pressed
	lastEvict   float64
	haveEvicted bool

	expected    map[bucketKey]map[int]bool // (bin, hand) -> note set
	binSize     float64
	lastNotes   []ExpectedNote

	flashArmed     bool
	flashExpiresAt float64
	windowID       string
	wrongNotes     map[int]bool
}

type bucketKey struct {
	bin  int64
	hand Hand
}

// ExpectedNote is one (time, note) pair used to build the bucketed
// index, typically derived from playback.NoteEvent.
type ExpectedNote struct {
	StartSeconds float64
	Note         int
}

// New builds a Gate with no expected notes loaded; call Rebuild once a
// file is parsed.
func New(cfg Config) *Gate {
	return &Gate{cfg: cfg, wrongNotes: make(map[int]bool)}
}

// SetConfig updates the wait-for-notes flags and timing window,
// re-deriving the bucketed index against the new window size if a
// timeline is already loaded.
func (g *Gate) SetConfig(cfg Config) {
	g.mu.Lock()
	g.cfg = cfg
	notes := g.lastNotes
	g.mu.Unlock()
	if notes != nil {
		g.Rebuild(notes)
	}
}

// Rebuild constructs the {(bin, hand) -> set<note>} index from a
// playback timeline's note starts, bucketed by the current timing
// window.
func (g *Gate) Rebuild(notes []ExpectedNote) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastNotes = notes
	w := g.windowSeconds()
	if w <= 0 {
		w = 0.1
	}
	g.binSize = w
	g.expected = make(map[bucketKey]map[int]bool)
	for _, n := range notes {
		hand := Right
		if n.Note < middleC {
			hand = Left
		}
		bin := int64(math.Floor(n.StartSeconds / w))
		key := bucketKey{bin: bin, hand: hand}
		if g.expected[key] == nil {
			g.expected[key] = make(map[int]bool)
		}
		g.expected[key][n.Note] = true
	}
}

func (g *Gate) windowSeconds() float64 {
	if g.cfg.TimingWindowMS <= 0 {
		return 0.1
	}
	return g.cfg.TimingWindowMS / 1000.0
}

// RecordPress appends a keypress to the relevant hand's deque, evicting
// the oldest entry if the deque is at capacity.
func (g *Gate) RecordPress(hand Hand, note int, t float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.deques[hand]
	d = append(d, pressed{note: note, t: t})
	if len(d) > maxDequeEntries {
		d = d[len(d)-maxDequeEntries:]
	}
	g.deques[hand] = d
}

// Decision is the gate's verdict for one tick.
type Decision struct {
	Pause      bool
	WrongNotes []int          // notes to flash red, non-nil only while armed this tick
	Hints      []HintState    // expected-note hints to render, when not suppressed by a flash
}

// HintState is one expected note's hint rendering state.
type HintState struct {
	Note    int
	Hand    Hand
	Played  bool
}

// Step evaluates the gate at playback time t and reports whether the
// scheduler should pause.
func (g *Gate) Step(t float64) bool {
	d := g.step(t)
	return d.Pause
}

// StepDetailed runs the full step function and returns the rendering
// decision alongside the pause verdict.
func (g *Gate) StepDetailed(t float64) Decision {
	return g.step(t)
}

func (g *Gate) step(t float64) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.evictLocked(t)

	if !g.cfg.LeftHandWaitForNotes && !g.cfg.RightHandWaitForNotes {
		return Decision{Pause: false}
	}

	w := g.windowSeconds()
	lo, hi := t-lookbackWindow, t+w

	playedL := g.filterWindow(Left, lo, hi)
	playedR := g.filterWindow(Right, lo, hi)

	expectedL := g.expectedInWindow(Left, lo, hi)
	expectedR := g.expectedInWindow(Right, lo, hi)

	if len(expectedL) == 0 && len(expectedR) == 0 {
		return Decision{Pause: false}
	}

	id := windowIdentity(expectedL, expectedR)
	if id != g.windowID {
		g.windowID = id
		g.flashArmed = false
	}

	wrong := setMinus(playedL, expectedL)
	for n := range setMinus(playedR, expectedR) {
		wrong[n] = true
	}

	if len(wrong) > 0 {
		if !g.flashArmed {
			g.flashArmed = true
			g.flashExpiresAt = t + flashExpiry
			g.wrongNotes = wrong
		}
		return Decision{Pause: true, WrongNotes: sortedKeys(g.wrongNotes)}
	}

	if subset(expectedL, playedL) && subset(expectedR, playedR) {
		g.evictSatisfiedLocked(expectedL, expectedR)
		return Decision{Pause: false}
	}

	if t < g.flashExpiresAt {
		// Flash still visible; suppress hint rendering underneath it.
		return Decision{Pause: true}
	}

	hints := make([]HintState, 0, len(expectedL)+len(expectedR))
	for n := range expectedL {
		hints = append(hints, HintState{Note: n, Hand: Left, Played: playedL[n]})
	}
	for n := range expectedR {
		hints = append(hints, HintState{Note: n, Hand: Right, Played: playedR[n]})
	}
	return Decision{Pause: true, Hints: hints}
}

func (g *Gate) filterWindow(hand Hand, lo, hi float64) map[int]bool {
	out := make(map[int]bool)
	for _, p := range g.deques[hand] {
		if p.t >= lo && p.t <= hi {
			out[p.note] = true
		}
	}
	return out
}

func (g *Gate) expectedInWindow(hand Hand, lo, hi float64) map[int]bool {
	out := make(map[int]bool)
	if g.expected == nil || g.binSize <= 0 {
		return out
	}
	loBin := int64(math.Floor(lo / g.binSize))
	hiBin := int64(math.Floor(hi / g.binSize))
	for bin := loBin; bin <= hiBin; bin++ {
		if set, ok := g.expected[bucketKey{bin: bin, hand: hand}]; ok {
			for n := range set {
				out[n] = true
			}
		}
	}
	return out
}

// evictSatisfiedLocked removes entries from both deques whose note
// appears in the corresponding expected set, per step 6's "evict
// satisfied notes from both deques."
func (g *Gate) evictSatisfiedLocked(expectedL, expectedR map[int]bool) {
	g.deques[Left] = filterOut(g.deques[Left], expectedL)
	g.deques[Right] = filterOut(g.deques[Right], expectedR)
}

func filterOut(d []pressed, satisfied map[int]bool) []pressed {
	out := d[:0:0]
	for _, p := range d {
		if !satisfied[p.note] {
			out = append(out, p)
		}
	}
	return out
}

// evictLocked drops deque entries older than evictionMaxAge, at most
// once per evictionPeriod.
func (g *Gate) evictLocked(t float64) {
	if g.haveEvicted && t-g.lastEvict < evictionPeriod {
		return
	}
	g.lastEvict = t
	g.haveEvicted = true
	cutoff := t - evictionMaxAge
	for h := range g.deques {
		d := g.deques[h][:0:0]
		for _, p := range g.deques[h] {
			if p.t >= cutoff {
				d = append(d, p)
			}
		}
		g.deques[h] = d
	}
}

func setMinus(a, b map[int]bool) map[int]bool {
	out := make(map[int]bool)
	for n := range a {
		if !b[n] {
			out[n] = true
		}
	}
	return out
}

func subset(a, b map[int]bool) bool {
	for n := range a {
		if !b[n] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func windowIdentity(expectedL, expectedR map[int]bool) string {
	l := sortedKeys(expectedL)
	r := sortedKeys(expectedR)
	buf := make([]byte, 0, 16*(len(l)+len(r)+2))
	for _, n := range l {
		buf = appendInt(buf, n)
	}
	buf = append(buf, '|')
	for _, n := range r {
		buf = appendInt(buf, n)
	}
	return string(buf)
}

func appendInt(buf []byte, n int) []byte {
	if n < 0 {
		buf = append(buf, '-')
		n = -n
	}
	start := len(buf)
	if n == 0 {
		return append(buf, '0', ',')
	}
	for n > 0 {
		buf = append(buf, byte('0'+n%10))
		n /= 10
	}
	// reverse the digits just appended
	for i, j := start, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return append(buf, ',')
}

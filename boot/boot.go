// Package boot drives the ~2.3s startup animation: a cyan-to-blue key
// cascade, a three-phase sine-wheel gradient sweep, a sparkle finale,
// and a linear fade to black. Modeled on the teacher's fixed-FPS
// ledLoop/flushLEDs pattern (sequencer/manager.go) — a ticker-driven
// loop computing one full frame per tick and committing it — adapted
// from step-sequencer playback to a scripted, time-indexed animation
// that claims exclusive arbiter ownership for its duration.
package boot

import (
	"math"
	"math/rand"
	"time"

	"ledpiano/arbiter"
	"ledpiano/color"
)

const (
	fps = 60

	cascadePhase  = 700 * time.Millisecond
	gradientPhase = 900 * time.Millisecond
	sparklePhase  = 500 * time.Millisecond
	fadePhase     = 200 * time.Millisecond

	totalDuration = cascadePhase + gradientPhase + sparklePhase + fadePhase
)

// Run plays the boot animation against count pixels, claiming exclusive
// ownership of arb for its duration and releasing it on return. rng, if
// nil, defaults to a fresh source — tests pass a seeded one for
// determinism.
func Run(arb *arbiter.Arbiter, count int, rng *rand.Rand) {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	arb.BeginBoot()
	defer arb.EndBoot()

	ticker := time.NewTicker(time.Second / fps)
	defer ticker.Stop()

	sparkles := newSparkleState(count, rng)
	start := time.Now()
	for {
		elapsed := time.Since(start)
		if elapsed >= totalDuration {
			break
		}
		frame := renderFrame(elapsed, count, sparkles)
		updates := make([]arbiter.PixelUpdate, count)
		for i, c := range frame {
			updates[i] = arbiter.PixelUpdate{Index: i, Color: c}
		}
		arb.Commit(arbiter.ProducerBoot, updates, -1)
		<-ticker.C
	}
}

// renderFrame computes the full pixel buffer for elapsed time since the
// animation began.
func renderFrame(elapsed time.Duration, count int, sp *sparkleState) []color.RGB {
	switch {
	case elapsed < cascadePhase:
		return cascadeFrame(elapsed, count)
	case elapsed < cascadePhase+gradientPhase:
		return gradientFrame(elapsed-cascadePhase, count)
	case elapsed < cascadePhase+gradientPhase+sparklePhase:
		return sparkleFrame(elapsed-cascadePhase-gradientPhase, count, sp)
	default:
		return fadeFrame(elapsed-cascadePhase-gradientPhase-sparklePhase, count, sp)
	}
}

// cascadeFrame sweeps a cyan->blue band down the strip.
func cascadeFrame(elapsed time.Duration, count int) []color.RGB {
	frame := make([]color.RGB, count)
	progress := float64(elapsed) / float64(cascadePhase)
	head := progress * float64(count)
	const bandWidth = 8.0
	for i := 0; i < count; i++ {
		dist := head - float64(i)
		if dist < 0 || dist > bandWidth {
			continue
		}
		t := 1.0 - dist/bandWidth
		frame[i] = lerpRGB(color.RGB{0, 255, 255}, color.RGB{0, 0, 255}, 1-t)
	}
	return frame
}

// gradientFrame sweeps a three-phase sine-wave RGB wheel along the
// strip.
func gradientFrame(elapsed time.Duration, count int) []color.RGB {
	frame := make([]color.RGB, count)
	t := float64(elapsed) / float64(gradientPhase)
	for i := 0; i < count; i++ {
		phase := float64(i)/float64(count)*2*math.Pi + t*4*math.Pi
		r := sineByte(phase)
		g := sineByte(phase + 2*math.Pi/3)
		b := sineByte(phase + 4*math.Pi/3)
		frame[i] = color.RGB{r, g, b}
	}
	return frame
}

func sineByte(phase float64) uint8 {
	v := (math.Sin(phase) + 1) / 2
	return uint8(v * 255)
}

type sparkleState struct {
	flecks map[int]float64 // index -> spawn time offset within sparklePhase
}

func newSparkleState(count int, rng *rand.Rand) *sparkleState {
	s := &sparkleState{flecks: make(map[int]float64)}
	n := count / 6
	if n < 1 {
		n = 1
	}
	for k := 0; k < n; k++ {
		idx := rng.Intn(count)
		s.flecks[idx] = rng.Float64() * float64(sparklePhase) * 0.7
	}
	return s
}

// sparkleFrame renders random bright flecks that fade out after
// spawning, on a black background.
func sparkleFrame(elapsed time.Duration, count int, sp *sparkleState) []color.RGB {
	frame := make([]color.RGB, count)
	for idx, spawn := range sp.flecks {
		age := elapsed - time.Duration(spawn)
		if age < 0 {
			continue
		}
		const fleckLife = 300 * time.Millisecond
		if age > fleckLife {
			continue
		}
		brightness := 1.0 - float64(age)/float64(fleckLife)
		frame[idx] = color.RGB{
			uint8(255 * brightness),
			uint8(255 * brightness),
			uint8(255 * brightness),
		}
	}
	return frame
}

// fadeFrame linearly fades the last sparkle frame to black.
func fadeFrame(elapsed time.Duration, count int, sp *sparkleState) []color.RGB {
	base := sparkleFrame(sparklePhase, count, sp)
	t := float64(elapsed) / float64(fadePhase)
	if t > 1 {
		t = 1
	}
	frame := make([]color.RGB, count)
	for i, c := range base {
		frame[i] = lerpRGB(c, color.Off, t)
	}
	return frame
}

func lerpRGB(a, b color.RGB, t float64) color.RGB {
	return color.RGB{
		lerpByte(a[0], b[0], t),
		lerpByte(a[1], b[1], t),
		lerpByte(a[2], b[2], t),
	}
}

func lerpByte(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}

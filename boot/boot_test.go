package boot

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ledpiano/arbiter"
	"ledpiano/ledstrip"
)

func TestRunClaimsAndReleasesExclusiveOwnership(t *testing.T) {
	sim := ledstrip.NewSimulation(30)
	arb := arbiter.New(sim)

	done := make(chan struct{})
	go func() {
		Run(arb, 30, rand.New(rand.NewSource(1)))
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, arbiter.ProducerBoot, arb.Owner(), "boot must own the strip while animating")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("boot animation did not finish in time")
	}
	assert.Equal(t, arbiter.ProducerEventProcessor, arb.Owner(), "boot must release ownership on completion")
}

func TestRunLeavesStripBlankAfterFade(t *testing.T) {
	sim := ledstrip.NewSimulation(30)
	arb := arbiter.New(sim)
	Run(arb, 30, rand.New(rand.NewSource(2)))

	for _, px := range sim.Snapshot() {
		assert.Equal(t, ledstrip.RGB{}, px, "the animation ends with AllOff via EndBoot")
	}
}

func TestCascadeFrameLightsABand(t *testing.T) {
	frame := cascadeFrame(cascadePhase/2, 60)
	lit := 0
	for _, c := range frame {
		if c != ([3]uint8{}) {
			lit++
		}
	}
	assert.Greater(t, lit, 0)
	assert.Less(t, lit, 60)
}

func TestGradientFrameFillsEveryPixel(t *testing.T) {
	frame := gradientFrame(gradientPhase/2, 40)
	assert.Len(t, frame, 40)
}

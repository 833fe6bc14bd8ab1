package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolderJointSetGetDelete(t *testing.T) {
	s := newTestSurface(t)

	_, err := s.SolderJointGet(120)
	assert.Error(t, err, "no joint configured yet")

	require.NoError(t, s.SolderJointSet(120, 2.0, 3.5, "loose joint"))
	j, err := s.SolderJointGet(120)
	require.NoError(t, err)
	assert.Equal(t, 120, j.LedIndex)
	assert.Equal(t, 3.5, j.OffsetMM)
	assert.False(t, j.CreatedAt.IsZero())
	firstCreated := j.CreatedAt

	require.NoError(t, s.SolderJointSet(120, 2.0, 4.0, "re-soldered"))
	j2, err := s.SolderJointGet(120)
	require.NoError(t, err)
	assert.Equal(t, 4.0, j2.OffsetMM)
	assert.Equal(t, firstCreated, j2.CreatedAt, "CreatedAt must be preserved across an update")

	require.NoError(t, s.SolderJointDelete(120))
	_, err = s.SolderJointGet(120)
	assert.Error(t, err)
}

func TestSolderJointDeleteNotFound(t *testing.T) {
	s := newTestSurface(t)
	err := s.SolderJointDelete(5)
	assert.Error(t, err)
}

func TestSolderJointListSortedByIndex(t *testing.T) {
	s := newTestSurface(t)
	require.NoError(t, s.SolderJointSet(200, 2.0, 1.0, ""))
	require.NoError(t, s.SolderJointSet(50, 2.0, -1.0, ""))

	list := s.SolderJointList()
	require.Len(t, list, 2)
	assert.Equal(t, 50, list[0].LedIndex)
	assert.Equal(t, 200, list[1].LedIndex)
}

func TestSolderJointBulkSetReplaceVsAppend(t *testing.T) {
	s := newTestSurface(t)
	require.NoError(t, s.SolderJointSet(10, 2.0, 1.0, ""))

	require.NoError(t, s.SolderJointBulkSet(map[int]SolderJointView{20: {WidthMM: 2, OffsetMM: 2}}, "append"))
	assert.Len(t, s.SolderJointList(), 2)

	require.NoError(t, s.SolderJointBulkSet(map[int]SolderJointView{30: {WidthMM: 2, OffsetMM: 3}}, "replace"))
	list := s.SolderJointList()
	require.Len(t, list, 1)
	assert.Equal(t, 30, list[0].LedIndex)
}

func TestSolderJointBulkSetRejectsUnknownMode(t *testing.T) {
	s := newTestSurface(t)
	err := s.SolderJointBulkSet(map[int]SolderJointView{1: {}}, "merge")
	assert.Error(t, err)
}

func TestSolderJointClearAll(t *testing.T) {
	s := newTestSurface(t)
	require.NoError(t, s.SolderJointSet(10, 2.0, 1.0, ""))
	require.NoError(t, s.SolderJointClearAll())
	assert.Empty(t, s.SolderJointList())
}

func TestSolderJointConvertMMAndLED(t *testing.T) {
	s := newTestSurface(t) // default 200 LEDs/meter -> 5mm pitch

	leds, err := s.SolderJointConvert(10.0, "mm", "led")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, leds, 0.0001)

	mm, err := s.SolderJointConvert(2.0, "led", "mm")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, mm, 0.0001)

	same, err := s.SolderJointConvert(7.0, "mm", "mm")
	require.NoError(t, err)
	assert.Equal(t, 7.0, same)

	_, err = s.SolderJointConvert(1.0, "mm", "inches")
	assert.Error(t, err)
}

func TestSolderJointValidate(t *testing.T) {
	s := newTestSurface(t)
	require.NoError(t, s.SetStartLED(0))
	require.NoError(t, s.SetEndLED(245))

	problems := s.SolderJointValidate(9999, 2.0, 1.0)
	assert.NotEmpty(t, problems, "out-of-range index should be flagged")

	problems = s.SolderJointValidate(100, 0, 1.0)
	assert.NotEmpty(t, problems, "non-positive width should be flagged")

	problems = s.SolderJointValidate(100, 2.0, 0)
	assert.NotEmpty(t, problems, "zero offset should be flagged")

	problems = s.SolderJointValidate(100, 2.0, 1.0)
	assert.Empty(t, problems)
}

func TestLedSelectionSetGetClear(t *testing.T) {
	s := newTestSurface(t)

	_, err := s.LedSelectionGet(60)
	assert.Error(t, err)

	require.NoError(t, s.LedSelectionSet(60, []int{30, 29, 31}))
	leds, err := s.LedSelectionGet(60)
	require.NoError(t, err)
	assert.Equal(t, []int{29, 30, 31}, leds, "override must be stored sorted")

	require.NoError(t, s.LedSelectionClear(60))
	_, err = s.LedSelectionGet(60)
	assert.Error(t, err)
}

func TestLedSelectionToggle(t *testing.T) {
	s := newTestSurface(t)

	// Note 60 has a canonical mapping already; toggling an LED not in
	// its current list should add it, seeded from the canonical LEDs.
	snap := s.cache.Load()
	base, _ := snap.LEDsForNote(60)
	require.NotEmpty(t, base)

	newLED := base[len(base)-1] + 100
	require.NoError(t, s.LedSelectionToggle(60, newLED))
	leds, err := s.LedSelectionGet(60)
	require.NoError(t, err)
	assert.Contains(t, leds, newLED)

	// Toggling the same LED again removes it.
	require.NoError(t, s.LedSelectionToggle(60, newLED))
	leds, err = s.LedSelectionGet(60)
	require.NoError(t, err)
	assert.NotContains(t, leds, newLED)
}

func TestLedSelectionGetAllAndClearAll(t *testing.T) {
	s := newTestSurface(t)
	require.NoError(t, s.LedSelectionSet(60, []int{1, 2}))
	require.NoError(t, s.LedSelectionSet(62, []int{3, 4}))

	all := s.LedSelectionGetAll()
	assert.Len(t, all, 2)
	assert.Equal(t, []int{1, 2}, all[60])

	require.NoError(t, s.LedSelectionClearAll())
	assert.Empty(t, s.LedSelectionGetAll())
}

package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	dir := t.TempDir()
	s := &FileStore{path: filepath.Join(dir, "settings.json"), doc: defaultDocument()}
	return s
}

func TestDefaultsArePresent(t *testing.T) {
	s := newTestStore(t)
	v, err := s.Get(CategoryLED, "leds_per_meter", 0)
	require.NoError(t, err)
	assert.Equal(t, 200, v)
}

func TestGetFallsBackToDefaultForUnsetKey(t *testing.T) {
	s := newTestStore(t)
	v, err := s.Get(CategoryCalibration, "nonexistent_key", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)
}

func TestSetPersistsAndRoundTrips(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set(CategoryLED, "brightness", 0.25))

	v, err := s.Get(CategoryLED, "brightness", 0.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, v.(float64), 1e-9)

	data, err := os.ReadFile(s.path)
	require.NoError(t, err)
	var onDisk document
	require.NoError(t, json.Unmarshal(data, &onDisk))
	var got float64
	require.NoError(t, json.Unmarshal(onDisk[CategoryLED]["brightness"], &got))
	assert.InDelta(t, 0.25, got, 1e-9)
}

func TestOnChangeFiresAfterSet(t *testing.T) {
	s := newTestStore(t)
	var gotCategory Category
	var gotKey string
	s.OnChange(func(category Category, key string) {
		gotCategory, gotKey = category, key
	})
	require.NoError(t, s.Set(CategoryPiano, "size", "61"))
	assert.Equal(t, CategoryPiano, gotCategory)
	assert.Equal(t, "size", gotKey)
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	unsubscribe := s.OnChange(func(Category, string) { calls++ })
	unsubscribe()
	require.NoError(t, s.Set(CategoryPiano, "size", "61"))
	assert.Equal(t, 0, calls)
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set(CategoryLearningMode, "timing_window_ms", 800))
	data, err := s.Export()
	require.NoError(t, err)

	s2 := newTestStore(t)
	require.NoError(t, s2.Import(data))

	v, err := s2.Get(CategoryLearningMode, "timing_window_ms", 0)
	require.NoError(t, err)
	assert.Equal(t, 800, v)
}

func TestTypedCalibrationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	c := Calibration{
		StartLED:         4,
		EndLED:           249,
		DistributionMode: "physics",
		WhiteKeyWidthMM:  23.5,
	}
	require.NoError(t, s.Set(CategoryCalibration, "start_led", c.StartLED))
	require.NoError(t, s.Set(CategoryCalibration, "end_led", c.EndLED))
	require.NoError(t, s.Set(CategoryCalibration, "distribution_mode", c.DistributionMode))

	v, err := s.Get(CategoryCalibration, "distribution_mode", "")
	require.NoError(t, err)
	assert.Equal(t, "physics", v)
}

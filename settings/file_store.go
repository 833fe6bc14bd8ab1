package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"ledpiano/apierr"
	"ledpiano/debug"
)

// document is the on-disk shape: category name → key → raw JSON value,
// a "one file, nested by category" layout for a flat set of sections.
type document map[Category]map[string]json.RawMessage

// FileStore is a JSON-file-backed Store, using a load/save pattern
// generalized from a fixed struct to an open category/key schema so new
// settings categories don't require touching this package.
type FileStore struct {
	mu        sync.Mutex
	path      string
	doc       document
	listeners []func(Category, string)
}

// ConfigDir returns `~/.config/ledpiano`, matching the debug package's
// own directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ledpiano"), nil
}

// NewFileStore loads settings.json from the config directory, or
// seeds it with defaults if absent.
func NewFileStore() (*FileStore, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "resolve config dir", err)
	}
	path := filepath.Join(dir, "settings.json")

	fs := &FileStore{path: path, doc: defaultDocument()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, apierr.Wrap(apierr.Internal, "read settings file", err)
	}
	var onDisk document
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "parse settings file", err)
	}
	for cat, kv := range onDisk {
		if fs.doc[cat] == nil {
			fs.doc[cat] = map[string]json.RawMessage{}
		}
		for k, v := range kv {
			fs.doc[cat][k] = v
		}
	}
	return fs, nil
}

func defaultDocument() document {
	d := document{
		CategoryCalibration:  map[string]json.RawMessage{},
		CategoryLED:          map[string]json.RawMessage{},
		CategoryPiano:        map[string]json.RawMessage{},
		CategoryPlayback:     map[string]json.RawMessage{},
		CategoryLearningMode: map[string]json.RawMessage{},
		CategoryHardware:     map[string]json.RawMessage{},
	}
	seed(d, CategoryCalibration, DefaultCalibration())
	seed(d, CategoryLED, DefaultLED())
	seed(d, CategoryPiano, DefaultPiano())
	seed(d, CategoryPlayback, DefaultPlayback())
	seed(d, CategoryLearningMode, DefaultLearningMode())
	seed(d, CategoryHardware, DefaultHardware())
	return d
}

// seed flattens a category's default struct into the document's
// key-level representation by round-tripping through JSON, so Get
// still works key-by-key even though defaults are authored as structs.
func seed(d document, cat Category, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(raw, &flat); err != nil {
		return
	}
	for k, val := range flat {
		d[cat][k] = val
	}
}

func (s *FileStore) Get(category Category, key string, def any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, ok := s.doc[category]
	if !ok {
		return def, nil
	}
	raw, ok := kv[key]
	if !ok {
		return def, nil
	}
	if def == nil {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, apierr.Wrap(apierr.Internal, "decode setting", err)
		}
		return v, nil
	}
	// Decode into a freshly allocated value of def's concrete type,
	// not into an interface{} — unmarshaling straight into *any would
	// discard def's type and hand back a bare float64/map/[]interface{}
	// for every number/object/array, defeating the point of a typed
	// default.
	out := reflect.New(reflect.TypeOf(def))
	if err := json.Unmarshal(raw, out.Interface()); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "decode setting", err)
	}
	return out.Elem().Interface(), nil
}

func (s *FileStore) Set(category Category, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return apierr.Wrap(apierr.InvalidInput, "value is not JSON-representable", err)
	}

	s.mu.Lock()
	if s.doc[category] == nil {
		s.doc[category] = map[string]json.RawMessage{}
	}
	s.doc[category][key] = raw
	listeners := append([]func(Category, string){}, s.listeners...)
	saveErr := s.saveLocked()
	s.mu.Unlock()

	if saveErr != nil {
		debug.Log("settings", "failed to persist %s.%s: %v", category, key, saveErr)
	}
	for _, fn := range listeners {
		if fn != nil {
			fn(category, key)
		}
	}
	return nil
}

func (s *FileStore) OnChange(fn func(category Category, key string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
	idx := len(s.listeners) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < len(s.listeners) {
			s.listeners[idx] = nil
		}
	}
}

func (s *FileStore) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "marshal settings", err)
	}
	return data, nil
}

func (s *FileStore) Import(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return apierr.Wrap(apierr.InvalidInput, "malformed settings document", err)
	}

	s.mu.Lock()
	s.doc = doc
	listeners := append([]func(Category, string){}, s.listeners...)
	saveErr := s.saveLocked()
	s.mu.Unlock()

	if saveErr != nil {
		debug.Log("settings", "failed to persist imported settings: %v", saveErr)
	}
	for cat := range doc {
		for _, fn := range listeners {
			if fn != nil {
				fn(cat, "*")
			}
		}
	}
	return nil
}

// saveLocked writes the document to disk. Caller must hold s.mu.
func (s *FileStore) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

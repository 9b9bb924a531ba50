// Package store implements the function store collaborator: store(name,
// lang, code)->id, load_code(id), load_meta(id), and find_by_name(name)->id.
// It is filesystem-backed, one
// directory per function id, with a TOML descriptor sidecar written
// atomically so a concurrent reader never observes a half-written file.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"faasd/internal/faaserr"
)

// Language is the closed set of artifact kinds the sandbox understands.
type Language string

const (
	LanguageNative Language = "native-sandboxed"
	LanguageScript Language = "script-interpreted"
	LanguageAsset  Language = "static-asset"
)

// Descriptor is the function descriptor, read-only to the dispatch core.
type Descriptor struct {
	ID           string `toml:"id"`
	Name         string `toml:"name"`
	Language     string `toml:"language"`
	Entrypoint   string `toml:"entrypoint"`
	ArtifactPath string `toml:"artifact_path"`
	CreatedAt    int64  `toml:"created_at"`
	Size         int64  `toml:"size"`
}

const (
	codeFileName = "code.artifact"
	descFileName = "descriptor.toml"
)

// Store is the content-addressable function store.
type Store struct {
	root string
	log  zerolog.Logger

	mu      sync.RWMutex
	byName  map[string]string // name -> latest id
	created map[string]int64  // id -> created_at, to resolve "latest" ties

	watcher *fsnotify.Watcher
}

// Open creates root if needed, rebuilds the name index by walking existing
// function directories, and starts an fsnotify watch so directories dropped
// by something other than Store (a build tool, a restore from backup) are
// picked up without a restart.
func Open(root string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir root: %w", err)
	}

	s := &Store{
		root:    root,
		log:     log,
		byName:  make(map[string]string),
		created: make(map[string]int64),
	}

	if err := s.reindex(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("store: fsnotify unavailable, name index will not track external changes")
	} else {
		if err := w.Add(root); err != nil {
			log.Warn().Err(err).Str("root", root).Msg("store: failed to watch root")
			_ = w.Close()
		} else {
			s.watcher = w
			go s.watchLoop()
		}
	}

	return s, nil
}

// Close stops the background watcher.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
				if err := s.reindex(); err != nil {
					s.log.Warn().Err(err).Msg("store: reindex after fs event failed")
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("store: watcher error")
		}
	}
}

func (s *Store) reindex() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("store: reading root: %w", err)
	}

	byName := make(map[string]string)
	created := make(map[string]int64)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		var d Descriptor
		if _, err := toml.DecodeFile(filepath.Join(s.root, id, descFileName), &d); err != nil {
			continue // partially written or foreign directory; skip silently
		}
		created[id] = d.CreatedAt
		if prevID, ok := byName[d.Name]; !ok || created[prevID] < d.CreatedAt {
			byName[d.Name] = id
		}
	}

	s.mu.Lock()
	s.byName = byName
	s.created = created
	s.mu.Unlock()
	return nil
}

// Store writes code and a descriptor for a new function version, returning
// its id. The id format is <name>_<unix-nanos>, giving nanosecond precision
// so rapid re-deploys of the same name don't collide.
func (s *Store) Store(name, lang, code string) (string, error) {
	id := fmt.Sprintf("%s_%d", name, time.Now().UnixNano())
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: mkdir function dir: %w", err)
	}

	if err := renameio.WriteFile(filepath.Join(dir, codeFileName), []byte(code), 0o644); err != nil {
		return "", fmt.Errorf("store: write code: %w", err)
	}

	d := Descriptor{
		ID:           id,
		Name:         name,
		Language:     lang,
		Entrypoint:   "main",
		ArtifactPath: filepath.Join(dir, codeFileName),
		CreatedAt:    time.Now().Unix(),
		Size:         int64(len(code)),
	}
	if err := s.writeDescriptor(dir, d); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.byName[name] = id
	s.created[id] = d.CreatedAt
	s.mu.Unlock()

	s.log.Info().Str("id", id).Str("name", name).Str("lang", lang).Msg("store: function stored")
	return id, nil
}

func (s *Store) writeDescriptor(dir string, d Descriptor) error {
	path := filepath.Join(dir, descFileName)
	t, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("store: tempfile: %w", err)
	}
	defer t.Cleanup()

	if err := toml.NewEncoder(t).Encode(d); err != nil {
		return fmt.Errorf("store: encode descriptor: %w", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("store: commit descriptor: %w", err)
	}
	return nil
}

// LoadCode returns the raw artifact bytes for id.
func (s *Store) LoadCode(id string) ([]byte, error) {
	path := filepath.Join(s.root, id, codeFileName)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, faaserr.ErrFunctionNotFound
		}
		return nil, fmt.Errorf("store: read code: %w", err)
	}
	return b, nil
}

// LoadMeta returns the descriptor for id.
func (s *Store) LoadMeta(id string) (Descriptor, error) {
	var d Descriptor
	path := filepath.Join(s.root, id, descFileName)
	if _, err := toml.DecodeFile(path, &d); err != nil {
		if os.IsNotExist(err) {
			return Descriptor{}, faaserr.ErrFunctionNotFound
		}
		return Descriptor{}, fmt.Errorf("store: read descriptor: %w", err)
	}
	return d, nil
}

// FindByName resolves the most recently stored id for name.
func (s *Store) FindByName(name string) (string, error) {
	s.mu.RLock()
	id, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return "", faaserr.ErrFunctionNotFound
	}
	return id, nil
}

// Resolve accepts either an id (verified via LoadMeta) or a name and
// returns the concrete id the worker should load. This is what the front
// socket calls for an invoke frame's "fn" field, since the wire format
// allows either; the worker then receives the resolved id.
func (s *Store) Resolve(fnOrName string) (string, error) {
	if _, err := s.LoadMeta(fnOrName); err == nil {
		return fnOrName, nil
	}
	return s.FindByName(fnOrName)
}

package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/dubforge/internal/dubterr"
	"github.com/MrWong99/dubforge/internal/segment"
	"github.com/MrWong99/dubforge/pkg/types"
)

const (
	taskFileName     = "task.json"
	segmentsFileName = "segments.json"
	artifactsDirName = "artifacts"
)

// Store is the filesystem-backed task repository rooted at a single
// directory. One Store is shared by every goroutine in the process; callers
// never open their own files directly.
type Store struct {
	root string

	mu    sync.Mutex           // guards locks map only
	locks map[string]*sync.Mutex
}

// Open constructs a Store rooted at root, creating the directory if it does
// not already exist.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, dubterr.Wrap(dubterr.KindIOFailure, "taskstore.Open", "create root directory", err)
	}
	return &Store{root: root, locks: make(map[string]*sync.Mutex)}, nil
}

// lockFor returns the per-task mutex for id, creating it on first use. The
// scheduler and executor use this to serialize all reads/writes/stage runs
// for a single task while leaving other tasks free to proceed concurrently.
func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// WithLock runs fn while holding id's per-task lock, serializing against any
// other goroutine operating on the same task.
func (s *Store) WithLock(id string, fn func() error) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	return fn()
}

func (s *Store) taskDir(id string) string      { return filepath.Join(s.root, id) }
func (s *Store) taskFile(id string) string      { return filepath.Join(s.taskDir(id), taskFileName) }
func (s *Store) segmentsFile(id string) string  { return filepath.Join(s.taskDir(id), segmentsFileName) }
func (s *Store) artifactsDir(id string) string  { return filepath.Join(s.taskDir(id), artifactsDirName) }

// ArtifactPath returns the absolute path for an artifact file named name
// (e.g. "vocals.wav", "accompaniment.wav", "dubbed.mp4") under task id's
// artifacts directory. The caller is responsible for writing it atomically
// via WriteArtifact.
func (s *Store) ArtifactPath(id, name string) (string, error) {
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return "", dubterr.New(dubterr.KindInvalidRequest, "taskstore.ArtifactPath", "artifact name must not contain path separators")
	}
	return filepath.Join(s.artifactsDir(id), name), nil
}

// Create persists a brand-new task directory. Returns dubterr KindConflict
// if a task with this id already exists.
func (s *Store) Create(ctx context.Context, id, sourceMediaPath string, sourceLang, targetLang types.LanguageCode, diarizationOn bool, pauseAfter PauseAfter) (*Task, error) {
	dir := s.taskDir(id)
	if _, err := os.Stat(dir); err == nil {
		return nil, dubterr.New(dubterr.KindConflict, "taskstore.Create", fmt.Sprintf("task %q already exists", id))
	}
	if err := os.MkdirAll(s.artifactsDir(id), 0o755); err != nil {
		return nil, dubterr.Wrap(dubterr.KindIOFailure, "taskstore.Create", "create task directory", err)
	}

	t := NewTask(id, sourceMediaPath, sourceLang, targetLang, diarizationOn, pauseAfter)
	if err := s.save(t); err != nil {
		return nil, err
	}
	if err := s.writeSegments(id, segment.NewTable()); err != nil {
		return nil, err
	}
	return t, nil
}

// Open reads and validates a task's metadata from disk.
func (s *Store) Open(ctx context.Context, id string) (*Task, error) {
	data, err := os.ReadFile(s.taskFile(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dubterr.ErrTaskNotFound
		}
		return nil, dubterr.Wrap(dubterr.KindIOFailure, "taskstore.Open", "read task file", err)
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, dubterr.Wrap(dubterr.KindCorrupt, "taskstore.Open", "parse task file", err)
	}
	if t.SchemaVersion > schemaVersion {
		return nil, dubterr.New(dubterr.KindCorrupt, "taskstore.Open",
			fmt.Sprintf("task %q has schema_version %d, newer than supported %d", id, t.SchemaVersion, schemaVersion))
	}
	return &t, nil
}

// Save persists t's current in-memory state to disk atomically, bumping
// UpdatedAt.
func (s *Store) Save(ctx context.Context, t *Task) error {
	return s.save(t)
}

func (s *Store) save(t *Task) error {
	t.UpdatedAt = time.Now().UTC()
	if err := writeJSONAtomic(s.taskFile(t.ID), t); err != nil {
		return dubterr.Wrap(dubterr.KindIOFailure, "taskstore.save", "write task file", err)
	}
	return nil
}

// List returns the ids of every task directory under root, sorted
// lexically for deterministic listing pages.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, dubterr.Wrap(dubterr.KindIOFailure, "taskstore.List", "read root directory", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), taskFileName)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ReadSegments reads the current segment table for a task.
func (s *Store) ReadSegments(ctx context.Context, id string) (*segment.Table, error) {
	data, err := os.ReadFile(s.segmentsFile(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dubterr.ErrTaskNotFound
		}
		return nil, dubterr.Wrap(dubterr.KindIOFailure, "taskstore.ReadSegments", "read segments file", err)
	}
	var tbl segment.Table
	if err := json.Unmarshal(data, &tbl); err != nil {
		return nil, dubterr.Wrap(dubterr.KindCorrupt, "taskstore.ReadSegments", "parse segments file", err)
	}
	if err := tbl.Validate(); err != nil {
		return nil, dubterr.Wrap(dubterr.KindCorrupt, "taskstore.ReadSegments", "segment table failed validation", err)
	}
	return &tbl, nil
}

// WriteSegments validates and atomically persists a new segment table.
func (s *Store) WriteSegments(ctx context.Context, id string, tbl *segment.Table) error {
	if err := tbl.Validate(); err != nil {
		return dubterr.Wrap(dubterr.KindInvalidRequest, "taskstore.WriteSegments", "segment table invalid", err)
	}
	return s.writeSegments(id, tbl)
}

func (s *Store) writeSegments(id string, tbl *segment.Table) error {
	if err := writeJSONAtomic(s.segmentsFile(id), tbl); err != nil {
		return dubterr.Wrap(dubterr.KindIOFailure, "taskstore.writeSegments", "write segments file", err)
	}
	return nil
}

// WriteArtifact atomically writes data to the named artifact file.
func (s *Store) WriteArtifact(id, name string, data []byte) error {
	path, err := s.ArtifactPath(id, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return dubterr.Wrap(dubterr.KindIOFailure, "taskstore.WriteArtifact", "create artifacts directory", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return dubterr.Wrap(dubterr.KindIOFailure, "taskstore.WriteArtifact", "write artifact "+name, err)
	}
	return nil
}

// ReadArtifact reads a previously written artifact's full contents.
func (s *Store) ReadArtifact(id, name string) ([]byte, error) {
	path, err := s.ArtifactPath(id, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dubterr.New(dubterr.KindNotFound, "taskstore.ReadArtifact", "artifact "+name+" not found")
		}
		return nil, dubterr.Wrap(dubterr.KindIOFailure, "taskstore.ReadArtifact", "read artifact "+name, err)
	}
	return data, nil
}

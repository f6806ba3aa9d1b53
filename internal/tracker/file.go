package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/alphie/internal/executor"
	"github.com/ShayCichocki/alphie/pkg/models"
)

// Format selects the on-disk encoding a File tracker reads and writes.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// fileDocument is the on-disk shape: a flat list, so hand-editing the
// backlog between runs doesn't require reasoning about map ordering.
type fileDocument struct {
	Tasks []models.Task `json:"tasks" yaml:"tasks"`
}

// File is a Tracker backed by a single JSON or YAML file. It loads the
// file once at construction, keeps an in-memory copy for reads, and
// rewrites the whole file on every mutation. A background fsnotify watch
// reloads the in-memory copy when the file changes underneath it (a
// person editing the backlog by hand, or a sibling process), so GetTasks
// never serves a stale snapshot across a run boundary.
type File struct {
	path   string
	format Format

	mu    sync.RWMutex
	tasks map[string]models.Task

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFile opens (or creates) a file-backed tracker at path. format is
// inferred from the extension when empty (".yaml"/".yml" -> YAML, else
// JSON).
func NewFile(path string, format Format) (*File, error) {
	if format == "" {
		format = formatFromExt(path)
	}

	f := &File{
		path:   path,
		format: format,
		tasks:  make(map[string]models.Task),
		done:   make(chan struct{}),
	}

	if err := f.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := f.persist(); err != nil {
			return nil, err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := watcher.Add(filepath.Dir(path)); werr == nil {
			f.watcher = watcher
			go f.watch()
		} else {
			watcher.Close()
		}
	}

	return f, nil
}

func formatFromExt(path string) Format {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

func (f *File) watch() {
	for {
		select {
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(f.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				_ = f.load()
			}
		case <-f.watcher.Errors:
		}
	}
}

// Close stops the background watch, if any. Safe to call on a tracker
// built without a working watcher.
func (f *File) Close() error {
	close(f.done)
	if f.watcher != nil {
		return f.watcher.Close()
	}
	return nil
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}

	var doc fileDocument
	switch f.format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return fmt.Errorf("tracker: decode %s: %w", f.path, err)
	}

	tasks := make(map[string]models.Task, len(doc.Tasks))
	for _, t := range doc.Tasks {
		tasks[t.ID] = t
	}

	f.mu.Lock()
	f.tasks = tasks
	f.mu.Unlock()
	return nil
}

func (f *File) persist() error {
	doc := fileDocument{Tasks: make([]models.Task, 0, len(f.tasks))}
	for _, t := range f.tasks {
		doc.Tasks = append(doc.Tasks, t)
	}
	doc.Tasks = sortedByID(doc.Tasks)

	var data []byte
	var err error
	switch f.format {
	case FormatYAML:
		data, err = yaml.Marshal(doc)
	default:
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("tracker: encode %s: %w", f.path, err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0644)
}

func (f *File) GetTasks(filter executor.TaskFilter) ([]models.Task, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []models.Task
	for _, t := range f.tasks {
		if matchesFilter(t, filter) {
			out = append(out, t)
		}
	}
	return sortedByID(out), nil
}

func (f *File) UpdateTaskStatus(id string, status models.TaskStatus) error {
	f.mu.Lock()
	t, ok := f.tasks[id]
	if !ok {
		f.mu.Unlock()
		return ErrTaskNotFound
	}
	t.Status = status
	f.tasks[id] = t
	f.mu.Unlock()
	return f.persist()
}

func (f *File) CompleteTask(id string, reason string) (executor.CompletionResult, error) {
	f.mu.Lock()
	t, ok := f.tasks[id]
	if !ok {
		f.mu.Unlock()
		return executor.CompletionResult{}, ErrTaskNotFound
	}
	now := time.Now()
	t.Status = models.TaskStatusCompleted
	t.CompletedAt = &now
	if reason != "" {
		if t.Metadata == nil {
			t.Metadata = make(map[string]any)
		}
		t.Metadata["completion_reason"] = reason
	}
	f.tasks[id] = t
	f.mu.Unlock()

	if err := f.persist(); err != nil {
		return executor.CompletionResult{}, err
	}
	return executor.CompletionResult{Completed: true}, nil
}

// GetStateFiles reports the tracker's own backing file so the merge
// engine snapshots and restores it around a merge, same as any other
// tracked state file.
func (f *File) GetStateFiles() ([]string, error) {
	return []string{f.path}, nil
}

// ClearCache reloads the in-memory copy from disk, discarding whatever
// the watcher hadn't yet picked up.
func (f *File) ClearCache() error {
	return f.load()
}

var (
	_ executor.Tracker           = (*File)(nil)
	_ executor.StateFileProvider = (*File)(nil)
	_ executor.CacheClearer      = (*File)(nil)
)

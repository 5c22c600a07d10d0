package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"scanstation/internal/services"
)

const (
	metadataFile = "session.yml"
	settingsFile = "config.yml"
	rawDirName   = "raw"
)

type metadata struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	Step      Step      `yaml:"step"`
	StepDone  bool      `yaml:"step_done"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Session is one scanning workflow instance.
type Session struct {
	mu     sync.Mutex
	dir    string
	meta   metadata
	events *Bus
}

// Create initializes a new session directory. It fails if dir already holds a session.
func Create(dir, name string) (*Session, error) {
	if _, err := os.Stat(filepath.Join(dir, metadataFile)); err == nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "create", fmt.Sprintf("session already exists at %s", dir), nil)
	}
	if err := os.MkdirAll(filepath.Join(dir, rawDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	if strings.TrimSpace(name) == "" {
		name = filepath.Base(dir)
	}
	s := &Session{
		dir: dir,
		meta: metadata{
			ID:        uuid.NewString(),
			Name:      name,
			Step:      StepCapture,
			CreatedAt: time.Now().UTC(),
		},
		events: NewBus(),
	}
	if err := s.writeMetadata(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open loads an existing session directory.
func Open(dir string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "workflow", "open", fmt.Sprintf("no session at %s", dir), nil)
		}
		return nil, fmt.Errorf("read session metadata: %w", err)
	}
	var meta metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "open", "parse session.yml", err)
	}
	if meta.ID == "" {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "open", "session.yml has no id", nil)
	}
	if meta.Step == "" {
		meta.Step = StepCapture
	}
	if err := os.MkdirAll(filepath.Join(dir, rawDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create raw directory: %w", err)
	}
	return &Session{dir: dir, meta: meta, events: NewBus()}, nil
}

// List returns the session directories found directly under root, sorted by name.
func List(root string) ([]*Session, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var sessions []*Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		s, err := Open(filepath.Join(root, entry.Name()))
		if err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.ID
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.Name
}

func (s *Session) Dir() string { return s.dir }

// RawDir is where captured page images live.
func (s *Session) RawDir() string { return filepath.Join(s.dir, rawDirName) }

// Events returns the session's event bus.
func (s *Session) Events() *Bus { return s.events }

// Step returns the current workflow step.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.Step
}

// StepDone reports whether the current step has been finalised.
func (s *Session) StepDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.StepDone
}

// SetStep moves the session to step, persists it, and publishes status-updated.
// Setting the current step again clears the done flag without publishing.
func (s *Session) SetStep(step Step) error {
	s.mu.Lock()
	changed := s.meta.Step != step
	s.meta.Step = step
	s.meta.StepDone = false
	err := s.writeMetadataLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		s.events.Publish(Event{Kind: EventStatusUpdated, Step: step})
	}
	return nil
}

// MarkStepDone records that the current step finished.
func (s *Session) MarkStepDone() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta.StepDone {
		return nil
	}
	s.meta.StepDone = true
	return s.writeMetadataLocked()
}

// Pages lists captured pages in sequence order.
func (s *Session) Pages() ([]Page, error) {
	entries, err := os.ReadDir(s.RawDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read raw directory: %w", err)
	}
	pages := make([]Page, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		seq, ok := parseSequence(entry.Name())
		if !ok {
			continue
		}
		page := Page{Sequence: seq, Path: filepath.Join(s.RawDir(), entry.Name())}
		if info, err := entry.Info(); err == nil {
			page.CapturedAt = info.ModTime().UTC()
		}
		pages = append(pages, page)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Sequence < pages[j].Sequence })
	return pages, nil
}

// LastPages returns up to n of the most recent pages in sequence order.
func (s *Session) LastPages(n int) ([]Page, error) {
	pages, err := s.Pages()
	if err != nil || n <= 0 {
		return nil, err
	}
	if len(pages) > n {
		pages = pages[len(pages)-n:]
	}
	return pages, nil
}

// Page looks up a page by sequence number.
func (s *Session) Page(sequence int) (Page, bool, error) {
	pages, err := s.Pages()
	if err != nil {
		return Page{}, false, err
	}
	for _, p := range pages {
		if p.Sequence == sequence {
			return p, true, nil
		}
	}
	return Page{}, false, nil
}

func (s *Session) writeMetadata() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeMetadataLocked()
}

func (s *Session) writeMetadataLocked() error {
	data, err := yaml.Marshal(&s.meta)
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, metadataFile), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

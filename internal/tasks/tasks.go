// Package tasks is the small task/project/note collaborator the assistant
// reads for context and mutates in agent mode.
package tasks

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"deskmate/internal/kvstore"
)

// ErrUnknownTask is returned by mutators given an id that does not exist.
var ErrUnknownTask = errors.New("unknown task")

// Status and priority values used by the board.
const (
	StatusPending    = "pending"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"

	PriorityLow    = "Low"
	PriorityMedium = "Medium"
	PriorityHigh   = "High"
)

const (
	keyTasks    = "tasks.list"
	keyProjects = "tasks.projects"
	keyNotes    = "tasks.notes"
)

// Subtask is a checklist entry under a task.
type Subtask struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// Task is one board card.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	Date      string    `json:"date"`
	ProjectID *string   `json:"projectId"`
	Tags      []string  `json:"tags"`
	Subtasks  []Subtask `json:"subtasks"`
}

// Project groups tasks.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Note is a sticky note. Body may hold HTML from the rich editor.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Patch carries partial task fields. Nil fields are left untouched.
type Patch struct {
	Title     *string  `json:"title,omitempty"`
	Status    *string  `json:"status,omitempty"`
	Priority  *string  `json:"priority,omitempty"`
	Date      *string  `json:"date,omitempty"`
	ProjectID *string  `json:"projectId,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Status == nil && p.Priority == nil &&
		p.Date == nil && p.ProjectID == nil && len(p.Tags) == 0
}

func (p Patch) apply(t *Task) {
	if p.Title != nil && strings.TrimSpace(*p.Title) != "" {
		t.Title = *p.Title
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.ProjectID != nil {
		id := *p.ProjectID
		t.ProjectID = &id
	}
	if len(p.Tags) > 0 {
		t.Tags = append([]string(nil), p.Tags...)
	}
}

// Store keeps tasks, projects and notes in memory, mirrored to a kvstore when
// one is supplied. Persistence failures are logged by the caller, never fatal.
type Store struct {
	mu       sync.RWMutex
	kv       *kvstore.Store
	tasks    []Task
	projects []Project
	notes    []Note
	seq      int
}

// NewStore loads any saved collections from kv. A nil kv keeps everything in memory.
func NewStore(kv *kvstore.Store) (*Store, error) {
	s := &Store{kv: kv}
	if kv == nil {
		return s, nil
	}
	for key, dst := range map[string]any{keyTasks: &s.tasks, keyProjects: &s.projects, keyNotes: &s.notes} {
		if err := kv.GetJSON(key, dst); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
	}
	for _, t := range s.tasks {
		s.bumpSeq(t.ID)
	}
	for _, p := range s.projects {
		s.bumpSeq(p.ID)
	}
	for _, n := range s.notes {
		s.bumpSeq(n.ID)
	}
	return s, nil
}

func (s *Store) bumpSeq(id string) {
	if n, err := strconv.Atoi(strings.TrimLeft(id, "pn")); err == nil && n > s.seq {
		s.seq = n
	}
}

func (s *Store) nextID(prefix string) string {
	s.seq++
	return prefix + strconv.Itoa(s.seq)
}

// Tasks returns a copy of every task in board order.
func (s *Store) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Projects returns a copy of every project.
func (s *Store) Projects() []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Project, len(s.projects))
	copy(out, s.projects)
	return out
}

// Notes returns a copy of every note, newest first.
func (s *Store) Notes() []Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Note, 0, len(s.notes))
	for i := len(s.notes) - 1; i >= 0; i-- {
		out = append(out, s.notes[i])
	}
	return out
}

// AddTask stores t, assigning an id when blank, and returns the stored copy.
func (s *Store) AddTask(t Task) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = s.nextID("")
	} else {
		s.bumpSeq(t.ID)
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Subtasks == nil {
		t.Subtasks = []Subtask{}
	}
	s.tasks = append(s.tasks, t)
	return t, s.saveLocked(keyTasks, s.tasks)
}

// UpdateTask applies p to the task with the given id.
func (s *Store) UpdateTask(id string, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			p.apply(&s.tasks[i])
			return s.saveLocked(keyTasks, s.tasks)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownTask, id)
}

// DeleteTask removes one task.
func (s *Store) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return s.saveLocked(keyTasks, s.tasks)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownTask, id)
}

// ClearTasks removes every task. Projects and notes stay.
func (s *Store) ClearTasks() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = s.tasks[:0]
	return s.saveLocked(keyTasks, s.tasks)
}

// AddProject creates a project.
func (s *Store) AddProject(name string) (Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Project{}, errors.New("project name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Project{ID: s.nextID("p"), Name: name}
	s.projects = append(s.projects, p)
	return p, s.saveLocked(keyProjects, s.projects)
}

// AddNote creates a note.
func (s *Store) AddNote(title, body string) (Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := Note{ID: s.nextID("n"), Title: strings.TrimSpace(title), Body: body, UpdatedAt: time.Now()}
	s.notes = append(s.notes, n)
	return n, s.saveLocked(keyNotes, s.notes)
}

// ProjectName resolves a project id to its name, or "" when unknown.
func (s *Store) ProjectName(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.projects {
		if p.ID == id {
			return p.Name
		}
	}
	return ""
}

func (s *Store) saveLocked(key string, v any) error {
	if s.kv == nil {
		return nil
	}
	return s.kv.SetJSON(key, v)
}

package tasks

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"deskmate/internal/kvstore"
)

func strPtr(s string) *string { return &s }

func TestTaskLifecycle(t *testing.T) {
	s, err := NewStore(nil)
	if err != nil {
		t.Fatal(err)
	}
	wash, _ := s.AddTask(Task{Title: "Wash car"})
	buy, _ := s.AddTask(Task{Title: "Buy groceries", Priority: PriorityHigh})
	if wash.ID != "1" || buy.ID != "2" {
		t.Fatalf("unexpected ids %q %q", wash.ID, buy.ID)
	}
	if wash.Status != StatusPending {
		t.Fatalf("default status = %q", wash.Status)
	}

	if err := s.UpdateTask("1", Patch{Status: strPtr(StatusCompleted)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.UpdateTask("9", Patch{}); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
	if err := s.DeleteTask("2"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := []Task{{ID: "1", Title: "Wash car", Status: StatusCompleted, Tags: []string{}, Subtasks: []Subtask{}}}
	if diff := cmp.Diff(want, s.Tasks()); diff != "" {
		t.Fatalf("tasks mismatch (-want +got):\n%s", diff)
	}

	if err := s.ClearTasks(); err != nil {
		t.Fatal(err)
	}
	if len(s.Tasks()) != 0 {
		t.Fatalf("clear left tasks behind")
	}
}

func TestStorePersistsThroughKV(t *testing.T) {
	kv, err := kvstore.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer kv.Close()

	s, _ := NewStore(kv)
	p, _ := s.AddProject("Home")
	if _, err := s.AddTask(Task{Title: "Fix sink", ProjectID: &p.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddNote("Ideas", "<p>Paint the fence</p>"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewStore(kv)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Tasks(); len(got) != 1 || got[0].ProjectID == nil || *got[0].ProjectID != p.ID {
		t.Fatalf("tasks not restored: %+v", got)
	}
	if reloaded.ProjectName(p.ID) != "Home" {
		t.Fatalf("project not restored")
	}
	next, _ := reloaded.AddTask(Task{Title: "Another"})
	if next.ID == "1" || next.ID == "2" {
		t.Fatalf("id sequence reused existing id %q", next.ID)
	}
}

package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"deskmate/internal/llm/mockclient"
	"deskmate/internal/session"
	"deskmate/internal/tasks"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantKind   Kind
		wantTarget string
		wantAll    bool
		wantEmpty  bool
		wantErr    bool
	}{
		{
			name:      "fenced json",
			raw:       "```json\n{\"action\": \"query\", \"response\": \"You have 1 task\"}\n```",
			wantKind:  KindQuery,
			wantEmpty: true,
		},
		{
			name:       "numeric target",
			raw:        `{"action":"Delete","targetId":2}`,
			wantKind:   KindDelete,
			wantTarget: "2",
		},
		{
			name:       "all sentinel",
			raw:        `Sure! {"action":"update","targetId":"all","taskData":{"status":"completed"}}`,
			wantKind:   KindUpdate,
			wantTarget: "all",
			wantAll:    true,
		},
		{
			name:      "null target",
			raw:       `{"action":"create","targetId":null,"taskData":{"title":"Call mom"}}`,
			wantKind:  KindCreate,
			wantEmpty: true,
		},
		{name: "not json", raw: "I think you want to create a task", wantErr: true},
		{name: "missing action", raw: `{"taskData":{}}`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, err := ParseAction(tc.raw)
			if tc.wantErr {
				if !errors.Is(err, ErrParse) {
					t.Fatalf("expected ErrParse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if a.Action != tc.wantKind || a.TargetID.String() != tc.wantTarget ||
				a.TargetID.All() != tc.wantAll || a.TargetID.Empty() != tc.wantEmpty {
				t.Fatalf("unexpected action %+v (target %q all=%v empty=%v)", a, a.TargetID, a.TargetID.All(), a.TargetID.Empty())
			}
		})
	}
}

func TestFindTaskID(t *testing.T) {
	list := []tasks.Task{
		{ID: "1", Title: "Wash car"},
		{ID: "2", Title: "Buy groceries tomorrow"},
		{ID: "3", Title: "Call the plumber"},
		{ID: "4", Title: "Call mom"},
		{ID: "5", Title: "call"},
	}
	tests := []struct {
		target  string
		want    string
		wantErr error
		amb     bool
	}{
		{target: "2", want: "2"},
		{target: "groceries", want: "2"},
		{target: "WASH CAR", want: "1"},
		{target: "Call", want: "5"},
		{target: "call m", want: "4"},
		{target: "nonexistent", wantErr: ErrNoMatch},
		{target: "", wantErr: ErrNoMatch},
		{target: "al", amb: true},
	}
	var r SubstringResolver
	for _, tc := range tests {
		got, err := r.FindTaskID(tc.target, list)
		switch {
		case tc.amb:
			var amb *AmbiguousError
			if !errors.As(err, &amb) || len(amb.Candidates) < 2 {
				t.Errorf("FindTaskID(%q) expected ambiguity, got %q %v", tc.target, got, err)
			}
		case tc.wantErr != nil:
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("FindTaskID(%q) err = %v, want %v", tc.target, err, tc.wantErr)
			}
		default:
			if err != nil || got != tc.want {
				t.Errorf("FindTaskID(%q) = %q, %v; want %q", tc.target, got, err, tc.want)
			}
		}
	}
}

func TestFindProjectID(t *testing.T) {
	projects := []tasks.Project{{ID: "p1", Name: "Home"}, {ID: "p2", Name: "Work"}}
	var r SubstringResolver
	if id, err := r.FindProjectID("work", projects); err != nil || id != "p2" {
		t.Fatalf("got %q %v", id, err)
	}
	if id, err := r.FindProjectID("hom", projects); err != nil || id != "p1" {
		t.Fatalf("got %q %v", id, err)
	}
	if _, err := r.FindProjectID("garden", projects); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}

func seeded(t *testing.T, titles ...string) *tasks.Store {
	t.Helper()
	s, err := tasks.NewStore(nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, title := range titles {
		if _, err := s.AddTask(tasks.Task{Title: title}); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func run(t *testing.T, store *tasks.Store, reply, utterance string) Outcome {
	t.Helper()
	provider := mockclient.New().Reply(reply)
	in := NewInterpreter(provider, "test-model").WithClock(func() time.Time {
		return time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	})
	action, err := in.Interpret(context.Background(), utterance, store.Tasks(), store.Projects())
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	req := provider.LastRequest()
	if !strings.Contains(req.History[0].Content, "2025-04-01") || !strings.Contains(req.History[0].Content, utterance) {
		t.Fatalf("prompt missing date or utterance: %s", req.History[0].Content)
	}
	return NewDispatcher(store, nil).Apply(action, utterance)
}

func TestScenarioQuery(t *testing.T) {
	store := seeded(t, "Wash car")
	before := store.Tasks()
	out := run(t, store, `{"action":"query","response":"You have one task: **Wash car**."}`, "what tasks do I have")
	if out.Role != session.RoleAssistant || out.Content == "" || out.Mutated {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if diff := cmp.Diff(before, store.Tasks()); diff != "" {
		t.Fatalf("query mutated tasks:\n%s", diff)
	}
}

func TestScenarioQueryEmptyResponseFallsBack(t *testing.T) {
	store := seeded(t, "Wash car")
	out := run(t, store, `{"action":"query"}`, "what tasks do I have")
	if !strings.Contains(out.Content, "Wash car") {
		t.Fatalf("fallback summary missing task: %q", out.Content)
	}
}

func TestScenarioCreate(t *testing.T) {
	store := seeded(t)
	utterance := "Create a task for buying groceries tomorrow"
	out := run(t, store, "```json\n{\"action\":\"create\",\"taskData\":{\"title\":\"Buy groceries\",\"date\":\"Tomorrow\"}}\n```", utterance)
	list := store.Tasks()
	if len(list) != 1 {
		t.Fatalf("expected one task, got %d", len(list))
	}
	want := tasks.Task{
		ID: list[0].ID, Title: "Buy groceries", Status: tasks.StatusPending, Priority: tasks.PriorityMedium,
		Date: "Tomorrow", Tags: []string{"New"}, Subtasks: []tasks.Subtask{},
	}
	if diff := cmp.Diff(want, list[0]); diff != "" {
		t.Fatalf("created task mismatch (-want +got):\n%s", diff)
	}
	if out.Role != session.RoleSystem || !strings.Contains(out.Content, "Buy groceries") {
		t.Fatalf("unexpected confirmation %+v", out)
	}
}

func TestCreateDefaultsTitleToUtterance(t *testing.T) {
	store := seeded(t)
	utterance := "remind me about the dentist"
	run(t, store, `{"action":"create","taskData":{}}`, utterance)
	got := store.Tasks()
	if len(got) != 1 || got[0].Title != utterance || got[0].Date != "Upcoming" {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestCreateResolvesProject(t *testing.T) {
	store := seeded(t)
	home, _ := store.AddProject("Home Renovation")
	out := run(t, store, `{"action":"create","taskData":{"title":"Paint fence"},"targetProject":"renovation"}`, "add paint fence to renovation")
	got := store.Tasks()
	if len(got) != 1 || got[0].ProjectID == nil || *got[0].ProjectID != home.ID {
		t.Fatalf("project not resolved: %+v", got)
	}
	if !strings.Contains(out.Content, "Home Renovation") {
		t.Fatalf("confirmation should name project: %q", out.Content)
	}
}

func TestScenarioAmbiguousDelete(t *testing.T) {
	store := seeded(t, "Wash car", "Buy groceries tomorrow")
	before := store.Tasks()
	out := run(t, store, `{"action":"delete","targetId":"rocket surgery"}`, "delete task for rocket surgery")
	if out.Role != session.RoleSystem || out.Mutated || !strings.Contains(out.Content, "rocket surgery") {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if diff := cmp.Diff(before, store.Tasks()); diff != "" {
		t.Fatalf("delete without match mutated tasks:\n%s", diff)
	}
}

func TestUpdateVariants(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    string
		check   func(t *testing.T, list []tasks.Task)
		mutated bool
	}{
		{
			name:    "complete by title",
			reply:   `{"action":"update","targetId":"car","taskData":{"status":"done"}}`,
			want:    `Completed task "Wash car".`,
			mutated: true,
			check: func(t *testing.T, list []tasks.Task) {
				if list[0].Status != tasks.StatusCompleted {
					t.Fatalf("status = %q", list[0].Status)
				}
			},
		},
		{
			name:    "update all",
			reply:   `{"action":"update","targetId":"all","taskData":{"priority":"high"}}`,
			want:    "Updated all 2 tasks.",
			mutated: true,
			check: func(t *testing.T, list []tasks.Task) {
				for _, task := range list {
					if task.Priority != tasks.PriorityHigh {
						t.Fatalf("priority not applied to %q", task.Title)
					}
				}
			},
		},
		{
			name:  "unresolved",
			reply: `{"action":"update","targetId":"taxes","taskData":{"status":"completed"}}`,
			want:  `Could not find a task matching "taxes" to update.`,
		},
		{
			name:  "ambiguous",
			reply: `{"action":"update","targetId":"a","taskData":{"status":"completed"}}`,
			want:  `Could not update "a": it matches several tasks ("Wash car", "Pay rent"). Please be more specific.`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := seeded(t, "Wash car", "Pay rent")
			out := run(t, store, tc.reply, "do it")
			if out.Content != tc.want || out.Mutated != tc.mutated || out.Role != session.RoleSystem {
				t.Fatalf("outcome %+v, want %q", out, tc.want)
			}
			if tc.check != nil {
				tc.check(t, store.Tasks())
			}
		})
	}
}

func TestDeleteAndClear(t *testing.T) {
	store := seeded(t, "Wash car", "Pay rent", "Walk dog")
	if out := run(t, store, `{"action":"delete","targetId":2}`, "delete task 2"); out.Content != `Deleted task "Pay rent".` {
		t.Fatalf("unexpected %q", out.Content)
	}
	if out := run(t, store, `{"action":"clear","targetId":"1"}`, "clear everything"); out.Content != "Cleared all tasks." {
		t.Fatalf("unexpected %q", out.Content)
	}
	if len(store.Tasks()) != 0 {
		t.Fatalf("clear should remove every task")
	}
}

func TestInvalidAction(t *testing.T) {
	store := seeded(t, "Wash car")
	out := run(t, store, `{"action":"dance","reason":"That is not a task command."}`, "dance for me")
	if out.Role != session.RoleSystem || out.Mutated || !strings.Contains(out.Content, "didn't understand") {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestInterpretParseError(t *testing.T) {
	provider := mockclient.New().Reply("sure thing!")
	_, err := NewInterpreter(provider, "m").Interpret(context.Background(), "add milk", nil, nil)
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

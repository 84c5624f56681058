package command

import (
	"errors"
	"fmt"
	"strings"

	"deskmate/internal/session"
	"deskmate/internal/tasks"
)

// TaskStore is the collaborator the dispatcher reads and mutates.
type TaskStore interface {
	Tasks() []tasks.Task
	Projects() []tasks.Project
	AddTask(tasks.Task) (tasks.Task, error)
	UpdateTask(id string, p tasks.Patch) error
	DeleteTask(id string) error
	ClearTasks() error
}

// Outcome is the single message recorded for one command.
type Outcome struct {
	Role    string
	Content string
	// Mutated is set when the task store changed.
	Mutated bool
}

// Dispatcher applies parsed actions to a TaskStore.
type Dispatcher struct {
	store    TaskStore
	resolver Resolver
}

// NewDispatcher uses SubstringResolver when resolver is nil.
func NewDispatcher(store TaskStore, resolver Resolver) *Dispatcher {
	if resolver == nil {
		resolver = SubstringResolver{}
	}
	return &Dispatcher{store: store, resolver: resolver}
}

// Apply performs a and describes what happened. Every path yields exactly one outcome.
func (d *Dispatcher) Apply(a Action, utterance string) Outcome {
	switch a.Action {
	case KindQuery:
		return d.query(a)
	case KindCreate:
		return d.create(a, utterance)
	case KindUpdate:
		return d.update(a)
	case KindDelete:
		return d.remove(a)
	case KindClear:
		return d.clear()
	default:
		msg := "Sorry, I didn't understand that command."
		if r := strings.TrimSpace(a.Reason); r != "" {
			msg += " " + r
		}
		return system(msg, false)
	}
}

func (d *Dispatcher) query(a Action) Outcome {
	text := strings.TrimSpace(a.Response)
	if text == "" {
		text = Summary(d.store.Tasks())
	}
	return Outcome{Role: session.RoleAssistant, Content: text}
}

func (d *Dispatcher) create(a Action, utterance string) Outcome {
	task := tasks.Task{
		Title:    strings.TrimSpace(deref(a.TaskData.Title)),
		Status:   normalizeStatus(deref(a.TaskData.Status)),
		Priority: normalizePriority(deref(a.TaskData.Priority)),
		Date:     strings.TrimSpace(deref(a.TaskData.Date)),
		Tags:     a.TaskData.Tags,
	}
	if task.Title == "" {
		task.Title = strings.TrimSpace(utterance)
	}
	if len(task.Tags) == 0 {
		task.Tags = []string{"New"}
	}
	if task.Date == "" {
		task.Date = "Upcoming"
	}
	if task.Priority == "" {
		task.Priority = tasks.PriorityMedium
	}
	if task.Status == "" {
		task.Status = tasks.StatusPending
	}

	var projectName, note string
	if ref := strings.TrimSpace(deref(a.TargetProject)); ref != "" {
		projects := d.store.Projects()
		id, err := d.resolver.FindProjectID(ref, projects)
		switch {
		case err == nil:
			task.ProjectID = &id
			projectName = projectNameFor(id, projects)
		case errors.Is(err, ErrNoMatch):
			note = fmt.Sprintf(" (no project matched %q, so it was left unassigned)", ref)
		default:
			note = fmt.Sprintf(" (left unassigned: %v)", err)
		}
	}

	created, err := d.store.AddTask(task)
	if err != nil {
		return system("Error: "+err.Error(), false)
	}
	msg := fmt.Sprintf("Created task %q", created.Title)
	if projectName != "" {
		msg += fmt.Sprintf(" in project %q", projectName)
	}
	return system(msg+note+".", true)
}

func (d *Dispatcher) update(a Action) Outcome {
	patch := a.TaskData
	if patch.Status != nil {
		s := normalizeStatus(*patch.Status)
		patch.Status = &s
	}
	if patch.Priority != nil {
		p := normalizePriority(*patch.Priority)
		patch.Priority = &p
	}
	verb := "Updated"
	if patch.Status != nil && *patch.Status == tasks.StatusCompleted {
		verb = "Completed"
	}

	if a.TargetID.All() {
		list := d.store.Tasks()
		if len(list) == 0 {
			return system("There are no tasks to update.", false)
		}
		for _, t := range list {
			if err := d.store.UpdateTask(t.ID, patch); err != nil {
				return system("Error: "+err.Error(), true)
			}
		}
		return system(fmt.Sprintf("%s all %d tasks.", verb, len(list)), true)
	}

	task, out, ok := d.resolve(a, "update")
	if !ok {
		return out
	}
	if err := d.store.UpdateTask(task.ID, patch); err != nil {
		return system("Error: "+err.Error(), false)
	}
	return system(fmt.Sprintf("%s task %q.", verb, task.Title), true)
}

func (d *Dispatcher) remove(a Action) Outcome {
	if a.TargetID.All() {
		n := len(d.store.Tasks())
		if err := d.store.ClearTasks(); err != nil {
			return system("Error: "+err.Error(), false)
		}
		return system(fmt.Sprintf("Deleted all %d tasks.", n), true)
	}
	task, out, ok := d.resolve(a, "delete")
	if !ok {
		return out
	}
	if err := d.store.DeleteTask(task.ID); err != nil {
		return system("Error: "+err.Error(), false)
	}
	return system(fmt.Sprintf("Deleted task %q.", task.Title), true)
}

func (d *Dispatcher) clear() Outcome {
	if err := d.store.ClearTasks(); err != nil {
		return system("Error: "+err.Error(), false)
	}
	return system("Cleared all tasks.", true)
}

// resolve finds the task an update or delete refers to. When the model gave
// no targetId the extracted title is used as the reference.
func (d *Dispatcher) resolve(a Action, verb string) (tasks.Task, Outcome, bool) {
	ref := a.TargetID.String()
	if a.TargetID.Empty() {
		ref = strings.TrimSpace(deref(a.TaskData.Title))
	}
	if ref == "" {
		return tasks.Task{}, system(fmt.Sprintf("I couldn't tell which task to %s. Please name it.", verb), false), false
	}
	list := d.store.Tasks()
	id, err := d.resolver.FindTaskID(ref, list)
	if err != nil {
		var amb *AmbiguousError
		if errors.As(err, &amb) {
			return tasks.Task{}, system(fmt.Sprintf("Could not %s %q: it matches several tasks (%s). Please be more specific.",
				verb, ref, strings.Join(quoteAll(amb.Candidates), ", ")), false), false
		}
		return tasks.Task{}, system(fmt.Sprintf("Could not find a task matching %q to %s.", ref, verb), false), false
	}
	for _, t := range list {
		if t.ID == id {
			return t, Outcome{}, true
		}
	}
	return tasks.Task{}, system(fmt.Sprintf("Could not find a task matching %q to %s.", ref, verb), false), false
}

// Summary lists tasks as markdown for query answers the model left empty.
func Summary(list []tasks.Task) string {
	if len(list) == 0 {
		return "You don't have any tasks yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d task", len(list))
	if len(list) != 1 {
		b.WriteString("s")
	}
	b.WriteString(":")
	for _, t := range list {
		fmt.Fprintf(&b, "\n- **%s** (%s, %s priority, %s)", t.Title, t.Status, t.Priority, t.Date)
	}
	return b.String()
}

func system(content string, mutated bool) Outcome {
	return Outcome{Role: session.RoleSystem, Content: content, Mutated: mutated}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func projectNameFor(id string, projects []tasks.Project) string {
	for _, p := range projects {
		if p.ID == id {
			return p.Name
		}
	}
	return ""
}

func normalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ""
	case "done", "complete", "completed", "finished":
		return tasks.StatusCompleted
	case "in progress", "in-progress", "in_progress", "doing", "started":
		return tasks.StatusInProgress
	default:
		return tasks.StatusPending
	}
}

func normalizePriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "":
		return ""
	case "high", "urgent":
		return tasks.PriorityHigh
	case "low":
		return tasks.PriorityLow
	default:
		return tasks.PriorityMedium
	}
}

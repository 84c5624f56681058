package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"deskmate/internal/llm"
	"deskmate/internal/logging"
	"deskmate/internal/tasks"
)

const instructions = `You convert a user's instruction into exactly one task-board action.

Reply with a single JSON object and nothing else, using this shape:
{
  "action": "create" | "update" | "delete" | "clear" | "query" | "invalid",
  "taskData": {"title": string, "status": "pending" | "in-progress" | "completed", "priority": "Low" | "Medium" | "High", "date": string, "tags": [string]},
  "targetProject": string | null,
  "targetId": string | null,
  "response": string,
  "reason": string
}

Rules:
- "create": fill taskData with the fields the user gave. Use "Today", "Tomorrow", "Upcoming" or an ISO date for "date". Put a project name in targetProject when one is mentioned.
- "update": targetId is the id of an existing task, or its title if you are unsure of the id, or "all" for every task. taskData holds only the fields to change. Marking something done means status "completed".
- "delete": targetId as for update. "all" removes every task.
- "clear": remove every task.
- "query": the user is asking about their tasks. Answer in "response" using Markdown.
- "invalid": the instruction is not about tasks. Explain briefly in "reason".
Only include fields you are sure about.`

type taskView struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Date     string `json:"date"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

type projectView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Interpreter asks a provider to classify an utterance.
type Interpreter struct {
	provider llm.Provider
	model    string
	now      func() time.Time
}

// NewInterpreter binds the interpreter to a provider and model.
func NewInterpreter(p llm.Provider, model string) *Interpreter {
	return &Interpreter{provider: p, model: model, now: time.Now}
}

// WithClock overrides the date embedded in the prompt.
func (in *Interpreter) WithClock(now func() time.Time) *Interpreter {
	in.now = now
	return in
}

// Prompt renders the user-side prompt for one utterance.
func (in *Interpreter) Prompt(utterance string, list []tasks.Task, projects []tasks.Project) (string, error) {
	tv := make([]taskView, 0, len(list))
	for _, t := range list {
		tv = append(tv, taskView{ID: t.ID, Title: t.Title, Date: t.Date, Priority: t.Priority, Status: t.Status})
	}
	pv := make([]projectView, 0, len(projects))
	for _, p := range projects {
		pv = append(pv, projectView{ID: p.ID, Name: p.Name})
	}
	taskJSON, err := json.Marshal(tv)
	if err != nil {
		return "", fmt.Errorf("encode tasks: %w", err)
	}
	projectJSON, err := json.Marshal(pv)
	if err != nil {
		return "", fmt.Errorf("encode projects: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Current date: %s\n\n", in.now().Format("2006-01-02 (Monday)"))
	fmt.Fprintf(&b, "Existing tasks: %s\n\n", taskJSON)
	fmt.Fprintf(&b, "Existing projects: %s\n\n", projectJSON)
	fmt.Fprintf(&b, "User instruction: %q", utterance)
	return b.String(), nil
}

// Interpret makes one generation call and parses the answer.
func (in *Interpreter) Interpret(ctx context.Context, utterance string, list []tasks.Task, projects []tasks.Project) (Action, error) {
	prompt, err := in.Prompt(utterance, list, projects)
	if err != nil {
		return Action{}, err
	}
	gen, err := in.provider.Generate(ctx, llm.Request{
		Model:   in.model,
		System:  instructions,
		History: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		JSON:    true,
	})
	if err != nil {
		return Action{}, fmt.Errorf("interpret command: %w", err)
	}
	logging.DevLog("agent raw response: %s", gen.Text)
	return ParseAction(gen.Text)
}

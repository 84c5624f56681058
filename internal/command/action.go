// Package command turns one natural-language instruction into a single
// task-board mutation and applies it.
package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"deskmate/internal/tasks"
)

var (
	// ErrParse wraps any failure to decode the model's JSON answer.
	ErrParse = errors.New("could not parse command")
	// ErrNoMatch is returned by a Resolver when nothing matches.
	ErrNoMatch = errors.New("no match")
)

// Kind is the action the model chose.
type Kind string

const (
	KindCreate  Kind = "create"
	KindUpdate  Kind = "update"
	KindDelete  Kind = "delete"
	KindClear   Kind = "clear"
	KindQuery   Kind = "query"
	KindInvalid Kind = "invalid"
)

// AllTargets is the targetId meaning every existing task.
const AllTargets = "all"

// TargetID is a task reference that may arrive as a JSON string, a number or
// null. The zero value is "no target".
type TargetID struct {
	value string
	set   bool
}

// Target builds a set TargetID.
func Target(v string) TargetID {
	return TargetID{value: v, set: strings.TrimSpace(v) != ""}
}

// All reports whether the target is the every-task sentinel.
func (t TargetID) All() bool {
	return t.set && strings.EqualFold(strings.TrimSpace(t.value), AllTargets)
}

// Empty reports a missing or blank target.
func (t TargetID) Empty() bool {
	return !t.set
}

func (t TargetID) String() string {
	return t.value
}

func (t TargetID) MarshalJSON() ([]byte, error) {
	if !t.set {
		return []byte("null"), nil
	}
	return json.Marshal(t.value)
}

func (t *TargetID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = TargetID{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Target(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*t = Target(n.String())
		return nil
	}
	return fmt.Errorf("targetId must be a string or number, got %s", data)
}

// Action is the model's structured reading of one utterance. It lives for a
// single command cycle.
type Action struct {
	Action        Kind        `json:"action"`
	TaskData      tasks.Patch `json:"taskData"`
	TargetProject *string     `json:"targetProject"`
	TargetID      TargetID    `json:"targetId"`
	Response      string      `json:"response,omitempty"`
	Reason        string      `json:"reason,omitempty"`
}

// ParseAction decodes the model output, tolerating code fences and chatter
// around the JSON object.
func ParseAction(raw string) (Action, error) {
	body := StripFences(raw)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}
	if body == "" {
		return Action{}, fmt.Errorf("%w: empty response", ErrParse)
	}
	var a Action
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	a.Action = Kind(strings.ToLower(strings.TrimSpace(string(a.Action))))
	if a.Action == "" {
		return Action{}, fmt.Errorf("%w: missing action field", ErrParse)
	}
	return a, nil
}

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

package command

import (
	"fmt"
	"strings"

	"deskmate/internal/tasks"
)

// Resolver maps loose references to ids. Matching is heuristic; swap the
// implementation for stricter strategies.
type Resolver interface {
	FindTaskID(target string, list []tasks.Task) (string, error)
	FindProjectID(name string, list []tasks.Project) (string, error)
}

// AmbiguousError reports a reference that matched more than one candidate.
type AmbiguousError struct {
	Target     string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%q matches %d items: %s", e.Target, len(e.Candidates), strings.Join(quoteAll(e.Candidates), ", "))
}

// SubstringResolver tries an exact id, then a case-insensitive exact title,
// then a case-insensitive substring. Several substring hits are ambiguous.
type SubstringResolver struct{}

func (SubstringResolver) FindTaskID(target string, list []tasks.Task) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", ErrNoMatch
	}
	for _, t := range list {
		if t.ID == target {
			return t.ID, nil
		}
	}
	for _, t := range list {
		if strings.EqualFold(strings.TrimSpace(t.Title), target) {
			return t.ID, nil
		}
	}
	needle := strings.ToLower(target)
	var ids, titles []string
	for _, t := range list {
		if strings.Contains(strings.ToLower(t.Title), needle) {
			ids = append(ids, t.ID)
			titles = append(titles, t.Title)
		}
	}
	switch len(ids) {
	case 0:
		return "", ErrNoMatch
	case 1:
		return ids[0], nil
	default:
		return "", &AmbiguousError{Target: target, Candidates: titles}
	}
}

func (SubstringResolver) FindProjectID(name string, list []tasks.Project) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNoMatch
	}
	for _, p := range list {
		if p.ID == name || strings.EqualFold(p.Name, name) {
			return p.ID, nil
		}
	}
	needle := strings.ToLower(name)
	var ids, names []string
	for _, p := range list {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			ids = append(ids, p.ID)
			names = append(names, p.Name)
		}
	}
	switch len(ids) {
	case 0:
		return "", ErrNoMatch
	case 1:
		return ids[0], nil
	default:
		return "", &AmbiguousError{Target: name, Candidates: names}
	}
}

func quoteAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}

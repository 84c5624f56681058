package assistant

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"deskmate/internal/logging"
)

// historyLimit is how many past lines the prompt offers for recall. The file
// is compacted to this size when it grows past twice the limit.
const historyLimit = 500

// lineHistory is the REPL's recall list, appended to a plain text file one
// line per submission.
type lineHistory struct {
	mu    sync.Mutex
	path  string
	lines []string
	file  *os.File
	// broken stops retrying writes after the first failure.
	broken bool
}

func openLineHistory(path string) *lineHistory {
	h := &lineHistory{path: path}
	if path == "" {
		return h
	}
	all, err := readLines(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.WarnLog("read input history %s: %v", path, err)
		}
		return h
	}
	h.lines = all
	if len(all) > historyLimit {
		h.lines = all[len(all)-historyLimit:]
	}
	if len(all) > 2*historyLimit {
		if err := rewriteLines(path, h.lines); err != nil {
			logging.WarnLog("compact input history: %v", err)
		}
	}
	return h
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

func rewriteLines(path string, lines []string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Entries returns a copy, oldest first.
func (h *lineHistory) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines...)
}

// Add records a submitted line. Blank lines and immediate repeats are ignored.
func (h *lineHistory) Add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.lines); n > 0 && h.lines[n-1] == line {
		return
	}
	h.lines = append(h.lines, line)
	if err := h.appendLocked(line); err != nil {
		h.broken = true
		logging.WarnLog("input history disabled: %v", err)
	}
}

func (h *lineHistory) appendLocked(line string) error {
	if h.path == "" || h.broken {
		return nil
	}
	if h.file == nil {
		if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return err
		}
		h.file = f
	}
	_, err := fmt.Fprintln(h.file, line)
	return err
}

// Close releases the file handle. Later Adds reopen it.
func (h *lineHistory) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	return err
}

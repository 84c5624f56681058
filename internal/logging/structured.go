package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// Level orders entries by severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Fields are the key/value pairs attached to one entry.
type Fields map[string]any

// LogEntry is the JSON shape written in JSON mode.
type LogEntry struct {
	Timestamp string `json:"ts"`
	Level     Level  `json:"level"`
	Component string `json:"component,omitempty"`
	Session   string `json:"session,omitempty"`
	Vendor    string `json:"vendor,omitempty"`
	Message   string `json:"msg"`
	Fields    Fields `json:"fields,omitempty"`
}

// StructuredLogger tags entries with a component and, optionally, the chat
// session and vendor a turn is bound to. Derived loggers share the sink.
type StructuredLogger struct {
	logger    *log.Logger
	component string
	session   string
	vendor    string
	jsonMode  bool
	now       func() time.Time
}

// NewStructuredLogger writes to logger, or to the package Logger when nil.
// The package Logger is resolved per entry so Setup may run later.
func NewStructuredLogger(logger *log.Logger, component string, jsonMode bool) *StructuredLogger {
	return &StructuredLogger{
		logger:    logger,
		component: component,
		jsonMode:  jsonMode,
		now:       time.Now,
	}
}

// WithSession returns a logger tagged with a chat session id.
func (s *StructuredLogger) WithSession(session string) *StructuredLogger {
	c := *s
	c.session = session
	return &c
}

// WithVendor returns a logger tagged with the vendor serving the turn.
func (s *StructuredLogger) WithVendor(vendor string) *StructuredLogger {
	c := *s
	c.vendor = vendor
	return &c
}

// WithComponent returns a logger for another component on the same sink.
func (s *StructuredLogger) WithComponent(component string) *StructuredLogger {
	c := *s
	c.component = component
	return &c
}

func (s *StructuredLogger) sink() *log.Logger {
	if s.logger != nil {
		return s.logger
	}
	return Logger
}

func (s *StructuredLogger) write(level Level, msg string, fields Fields) {
	if s.jsonMode {
		data, err := json.Marshal(LogEntry{
			Timestamp: s.now().Format(time.RFC3339),
			Level:     level,
			Component: s.component,
			Session:   s.session,
			Vendor:    s.vendor,
			Message:   msg,
			Fields:    fields,
		})
		if err != nil {
			s.sink().Printf("[%s] %s (unencodable fields: %v)", level, msg, err)
			return
		}
		s.sink().Println(string(data))
		return
	}
	s.sink().Println(s.format(msg, fields))
}

// format renders "[component] [session:id] [vendor:v] msg | k=v ..." with
// keys sorted so lines diff cleanly.
func (s *StructuredLogger) format(msg string, fields Fields) string {
	var b strings.Builder
	if s.component != "" {
		fmt.Fprintf(&b, "[%s] ", s.component)
	}
	if s.session != "" {
		fmt.Fprintf(&b, "[session:%s] ", s.session)
	}
	if s.vendor != "" {
		fmt.Fprintf(&b, "[vendor:%s] ", s.vendor)
	}
	b.WriteString(msg)
	if len(fields) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString(" |")
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

// Info logs a routine event.
func (s *StructuredLogger) Info(msg string, fields ...Fields) {
	s.write(LevelInfo, msg, merge(fields))
}

// Warn logs a recovered failure.
func (s *StructuredLogger) Warn(msg string, fields ...Fields) {
	s.write(LevelWarn, msg, merge(fields))
}

// Error logs a failure that ended an operation.
func (s *StructuredLogger) Error(msg string, fields ...Fields) {
	s.write(LevelError, msg, merge(fields))
}

// Debug logs only when DevMode is on.
func (s *StructuredLogger) Debug(msg string, fields ...Fields) {
	if !DevMode {
		return
	}
	s.write(LevelDebug, msg, merge(fields))
}

// Err is shorthand for Fields{"error": err.Error()}.
func Err(err error) Fields {
	if err == nil {
		return nil
	}
	return Fields{"error": err.Error()}
}

func merge(fields []Fields) Fields {
	if len(fields) == 1 {
		if len(fields[0]) == 0 {
			return nil
		}
		return fields[0]
	}
	var out Fields
	for _, m := range fields {
		for k, v := range m {
			if out == nil {
				out = make(Fields, len(m))
			}
			out[k] = v
		}
	}
	return out
}

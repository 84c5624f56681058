// Package sse reads server-sent event streams from vendor HTTP responses.
package sse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Done is the OpenAI-style end-of-stream marker.
const Done = "[DONE]"

// Event is one data line plus the most recent "event:" name.
type Event struct {
	Name string
	Data string
}

// errStop ends scanning without reporting an error.
var errStop = errors.New("sse: stop")

// ErrTruncated is returned when the body ends before [DONE] or a handler Stop.
// Callers that accept another terminal marker check for it with errors.Is.
var ErrTruncated = fmt.Errorf("sse: stream ended before its terminal event: %w", io.ErrUnexpectedEOF)

// Stop can be returned from a handler to end the stream cleanly.
func Stop() error { return errStop }

// Read scans body and hands every data payload to fn in order. The [DONE]
// marker ends the stream; reaching EOF first yields ErrTruncated. Cancelling
// ctx closes body to unblock the scanner.
func Read(ctx context.Context, body io.ReadCloser, fn func(Event) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	scanDone := make(chan struct{})
	scanErr := make(chan error, 1)

	go func() {
		defer close(scanDone)
		name := ""
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				name = ""
				continue
			case strings.HasPrefix(line, ":"):
				continue
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			case !strings.HasPrefix(line, "data:"):
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			if data == Done {
				return
			}
			if err := fn(Event{Name: name, Data: data}); err != nil {
				if !errors.Is(err, errStop) {
					scanErr <- err
				}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			scanErr <- err
			return
		}
		scanErr <- ErrTruncated
	}()

	select {
	case <-scanDone:
		select {
		case err := <-scanErr:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		default:
			return nil
		}
	case <-ctx.Done():
		body.Close()
		<-scanDone
		return ctx.Err()
	}
}

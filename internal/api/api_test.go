package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"deskmate/internal/assistant"
	"deskmate/internal/llm"
	"deskmate/internal/llm/mockclient"
	"deskmate/internal/registry"
	"deskmate/internal/session"
	"deskmate/internal/tasks"
)

// stallProvider streams one chunk and then waits for cancellation.
type stallProvider struct {
	started chan struct{}
	once    sync.Once
}

func (p *stallProvider) Vendor() llm.Vendor { return llm.VendorOpenAI }

func (p *stallProvider) Stream(ctx context.Context, req llm.Request, emit func(llm.Delta) error) error {
	if err := emit(llm.Text("partial")); err != nil {
		return err
	}
	p.once.Do(func() { close(p.started) })
	<-ctx.Done()
	return ctx.Err()
}

func (p *stallProvider) Generate(ctx context.Context, req llm.Request) (llm.Generation, error) {
	<-ctx.Done()
	return llm.Generation{}, ctx.Err()
}

type fixture struct {
	a   *assistant.Assistant
	srv *httptest.Server
}

func newFixture(t *testing.T, provider llm.Provider) *fixture {
	t.Helper()
	reg := registry.FromProviders(map[llm.Vendor]llm.Provider{llm.VendorOpenAI: provider}, registry.Options{Default: llm.VendorOpenAI})
	ts, err := tasks.NewStore(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ts.AddTask(tasks.Task{Title: "Write report"}); err != nil {
		t.Fatal(err)
	}
	a, err := assistant.New(assistant.Options{
		Registry: reg,
		Sessions: session.NewStore(session.Options{}),
		Tasks:    ts,
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(New(a, Options{}).Routes())
	t.Cleanup(func() {
		srv.Close()
		a.Wait()
	})
	return &fixture{a: a, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want)
	}
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}
	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusTeapot, "short and stout")

	var got map[string]string
	if err := json.NewDecoder(w.Result().Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusTeapot || got["error"] != "short and stout" {
		t.Fatalf("got %d %v", w.Code, got)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, mockclient.New())
	expectStatus(t, f.do(t, http.MethodGet, "/health", nil), http.StatusOK)
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, mockclient.New())
	first := f.a.Sessions().CurrentID()

	resp := f.do(t, http.MethodPost, "/api/sessions", nil)
	expectStatus(t, resp, http.StatusCreated)
	var created sessionResponse
	decodeBody(t, resp, &created)
	if created.ID == "" || created.ID == first {
		t.Fatalf("unexpected created session %+v", created.Session)
	}

	resp = f.do(t, http.MethodGet, "/api/sessions", nil)
	expectStatus(t, resp, http.StatusOK)
	var list sessionsResponse
	decodeBody(t, resp, &list)
	if len(list.Sessions) != 2 || list.CurrentID != created.ID {
		t.Fatalf("list = %+v", list)
	}

	expectStatus(t, f.do(t, http.MethodPost, "/api/sessions/"+first+"/switch", nil), http.StatusOK)
	if got := f.a.Sessions().CurrentID(); got != first {
		t.Fatalf("current = %s, want %s", got, first)
	}

	expectStatus(t, f.do(t, http.MethodPost, "/api/sessions/"+first+"/clear", nil), http.StatusNoContent)
	resp = f.do(t, http.MethodGet, "/api/sessions/"+first, nil)
	expectStatus(t, resp, http.StatusOK)
	var cleared sessionResponse
	decodeBody(t, resp, &cleared)
	if len(cleared.Messages) != 0 {
		t.Fatalf("cleared session still has %d messages", len(cleared.Messages))
	}

	expectStatus(t, f.do(t, http.MethodDelete, "/api/sessions/"+created.ID, nil), http.StatusNoContent)
	expectStatus(t, f.do(t, http.MethodGet, "/api/sessions/"+created.ID, nil), http.StatusNotFound)
	expectStatus(t, f.do(t, http.MethodPost, "/api/sessions/nope/switch", nil), http.StatusNotFound)
	expectStatus(t, f.do(t, http.MethodDelete, "/api/sessions/nope", nil), http.StatusNotFound)
}

func TestSendMessageRunsTurn(t *testing.T) {
	mock := mockclient.New().Script(llm.Text("Hello "), llm.Text("back."))
	f := newFixture(t, mock)
	id := f.a.Sessions().CurrentID()

	resp := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", MessageRequest{
		Content: "hi",
		Attachments: []AttachmentRequest{
			{Name: "note.txt", DataURI: "data:text/plain;base64,aGVsbG8="},
		},
	})
	expectStatus(t, resp, http.StatusAccepted)
	var ack MessageResponse
	decodeBody(t, resp, &ack)
	if ack.SessionID != id {
		t.Fatalf("ack session = %s, want %s", ack.SessionID, id)
	}

	f.a.Wait()
	sess, err := f.a.Sessions().Get(id)
	if err != nil {
		t.Fatal(err)
	}
	msgs := sess.Messages
	user := msgs[len(msgs)-2]
	if user.Role != session.RoleUser || len(user.Attachments) != 1 || user.Attachments[0].MimeType != "text/plain" {
		t.Fatalf("unexpected user message %+v", user)
	}
	if got := msgs[len(msgs)-1].Content; got != "Hello back." {
		t.Fatalf("assistant content = %q", got)
	}
}

func TestSendMessageRejections(t *testing.T) {
	f := newFixture(t, mockclient.New())
	id := f.a.Sessions().CurrentID()

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"empty content", "/api/sessions/" + id + "/messages", MessageRequest{Content: "  "}, http.StatusBadRequest},
		{"bad attachment", "/api/sessions/" + id + "/messages", MessageRequest{Content: "x", Attachments: []AttachmentRequest{{Name: "a", DataURI: "nope"}}}, http.StatusBadRequest},
		{"unknown session", "/api/sessions/missing/messages", MessageRequest{Content: "x"}, http.StatusNotFound},
		{"malformed body", "/api/sessions/" + id + "/messages", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, f.do(t, http.MethodPost, tt.path, tt.body), tt.want)
		})
	}
}

func TestOverlappingSendConflictsAndCancel(t *testing.T) {
	stall := &stallProvider{started: make(chan struct{})}
	f := newFixture(t, stall)
	id := f.a.Sessions().CurrentID()
	path := "/api/sessions/" + id + "/messages"

	expectStatus(t, f.do(t, http.MethodPost, path, MessageRequest{Content: "first"}), http.StatusAccepted)
	select {
	case <-stall.started:
	case <-time.After(5 * time.Second):
		t.Fatal("turn never started streaming")
	}
	expectStatus(t, f.do(t, http.MethodPost, path, MessageRequest{Content: "second"}), http.StatusConflict)
	expectStatus(t, f.do(t, http.MethodPost, "/api/sessions/"+id+"/clear", nil), http.StatusConflict)

	expectStatus(t, f.do(t, http.MethodPost, "/api/sessions/"+id+"/cancel", nil), http.StatusOK)
	f.a.Wait()
	expectStatus(t, f.do(t, http.MethodPost, "/api/sessions/"+id+"/cancel", nil), http.StatusConflict)

	sess, err := f.a.Sessions().Get(id)
	if err != nil {
		t.Fatal(err)
	}
	last := sess.Messages[len(sess.Messages)-1]
	if want := "partial\n\n" + assistant.CancelledMarker; last.Content != want {
		t.Fatalf("content = %q, want %q", last.Content, want)
	}
}

func TestModeEndpoints(t *testing.T) {
	f := newFixture(t, mockclient.New())

	resp := f.do(t, http.MethodGet, "/api/mode", nil)
	expectStatus(t, resp, http.StatusOK)
	var got modeRequest
	decodeBody(t, resp, &got)
	if got.Mode != string(assistant.ModeChat) {
		t.Fatalf("mode = %q", got.Mode)
	}

	expectStatus(t, f.do(t, http.MethodPut, "/api/mode", modeRequest{Mode: "Agent"}), http.StatusOK)
	if f.a.Mode() != assistant.ModeAgent {
		t.Fatalf("mode not applied: %s", f.a.Mode())
	}
	expectStatus(t, f.do(t, http.MethodPut, "/api/mode", modeRequest{Mode: "banana"}), http.StatusBadRequest)
}

func TestProviderEndpoints(t *testing.T) {
	f := newFixture(t, mockclient.New())

	resp := f.do(t, http.MethodGet, "/api/providers", nil)
	expectStatus(t, resp, http.StatusOK)
	var opts []registry.Option
	decodeBody(t, resp, &opts)
	var active []llm.Vendor
	for _, o := range opts {
		if o.Active {
			active = append(active, o.Vendor)
		}
	}
	if len(active) != 1 || active[0] != llm.VendorOpenAI {
		t.Fatalf("active vendors = %v", active)
	}

	resp = f.do(t, http.MethodPut, "/api/providers/active", providerRequest{Vendor: "claude", Model: "claude-test"})
	expectStatus(t, resp, http.StatusOK)
	var sel registry.Option
	decodeBody(t, resp, &sel)
	if sel.Vendor != llm.VendorAnthropic || sel.Model != "claude-test" || sel.Configured {
		t.Fatalf("selection = %+v", sel)
	}
	expectStatus(t, f.do(t, http.MethodPut, "/api/providers/active", providerRequest{Vendor: "nobody"}), http.StatusBadRequest)
}

func TestTasksEndpoint(t *testing.T) {
	f := newFixture(t, mockclient.New())

	resp := f.do(t, http.MethodGet, "/api/tasks", nil)
	expectStatus(t, resp, http.StatusOK)
	var got tasksResponse
	decodeBody(t, resp, &got)
	if len(got.Tasks) != 1 || got.Tasks[0].Title != "Write report" {
		t.Fatalf("tasks = %+v", got.Tasks)
	}
}

func TestEventsWebSocket(t *testing.T) {
	f := newFixture(t, mockclient.New())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The subscription is registered after the upgrade; keep creating sessions
	// until the first event arrives.
	received := make(chan session.Event, 1)
	go func() {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var ev session.Event
		if json.Unmarshal(data, &ev) == nil {
			received <- ev
		}
	}()

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case ev := <-received:
			if ev.Type != session.EventCreated || ev.SessionID == "" {
				t.Fatalf("unexpected event %+v", ev)
			}
			return
		case <-tick.C:
			f.a.Sessions().Create()
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}
}

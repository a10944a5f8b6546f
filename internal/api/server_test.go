package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ragpal/ragpal/internal/generate"
	"github.com/ragpal/ragpal/internal/knowledge"
	"github.com/ragpal/ragpal/internal/prompt"
	"github.com/ragpal/ragpal/internal/retrieve"
	"github.com/ragpal/ragpal/internal/session"
	"github.com/ragpal/ragpal/internal/vectorstore"
)

// constEmbedder maps any text to a constant vector so retrieval always
// finds what ingestion stored.
type constEmbedder struct{}

func (constEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

// echoModel streams a fixed answer and records the composed request.
type echoModel struct {
	answer   string
	err      error
	captured prompt.Request
}

func (m *echoModel) Generate(ctx context.Context, req prompt.Request, onFragment generate.FragmentFunc) (string, error) {
	m.captured = req
	if m.err != nil {
		return "", m.err
	}
	for _, frag := range strings.SplitAfter(m.answer, " ") {
		if err := onFragment(ctx, frag); err != nil {
			return "", err
		}
	}
	return m.answer, nil
}

type testEnv struct {
	server   *httptest.Server
	sessions *session.Manager
	model    *echoModel
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithOrigins(t, nil)
}

func newTestEnvWithOrigins(t *testing.T, origins []string) *testEnv {
	t.Helper()

	store := vectorstore.NewMemory()
	embedder := constEmbedder{}
	manager := knowledge.NewManager(embedder, store, 1200, 120, nil)
	retriever := retrieve.New(embedder, store, true, 4, 0, nil)
	sessions := session.NewManager(0, nil)
	model := &echoModel{answer: "The sky is blue."}
	coordinator := generate.NewCoordinator(model, retriever, prompt.New(0, 10), time.Minute, nil)

	srv, err := NewServer(ServerConfig{
		Knowledge:   manager,
		Sessions:    sessions,
		Coordinator: coordinator,
		Store:       store,
		CORSOrigins: origins,
		RateBurst:   1000,
	})
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, sessions: sessions, model: model}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestKnowledgeLifecycle(t *testing.T) {
	env := newTestEnv(t)

	// Ingest
	resp := env.postJSON(t, "/api/v1/knowledge", map[string]string{"text": "The sky is blue."})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status = %d, want 201", resp.StatusCode)
	}
	created := decodeBody[ingestResponse](t, resp)
	if created.DocumentID == "" || created.Chunks != 1 {
		t.Fatalf("ingest response = %+v", created)
	}

	// List
	listResp, err := http.Get(env.server.URL + "/api/v1/knowledge?offset=0&limit=10")
	if err != nil {
		t.Fatal(err)
	}
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", listResp.StatusCode)
	}
	view := decodeBody[knowledge.View](t, listResp)
	if view.Total != 1 || len(view.Documents) != 1 {
		t.Fatalf("view = %+v", view)
	}
	if view.Documents[0].SourceText != "The sky is blue." {
		t.Errorf("listed source = %q", view.Documents[0].SourceText)
	}

	// Delete
	req, _ := http.NewRequest(http.MethodDelete, env.server.URL+"/api/v1/knowledge/"+created.DocumentID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", delResp.StatusCode)
	}

	// Delete again: 404
	again, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	again.Body.Close()
	if again.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", again.StatusCode)
	}
}

func TestIngestRejectsEmptyBody(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/api/v1/knowledge", map[string]string{"text": "   "})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/api/v1/sessions", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	created := decodeBody[sessionResponse](t, resp)
	if created.SessionID == "" {
		t.Fatal("empty session id")
	}

	histResp, err := http.Get(env.server.URL + "/api/v1/sessions/" + created.SessionID + "/history")
	if err != nil {
		t.Fatal(err)
	}
	if histResp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", histResp.StatusCode)
	}
	hist := decodeBody[struct {
		Turns []session.Turn `json:"turns"`
	}](t, histResp)
	if len(hist.Turns) != 0 {
		t.Errorf("new session turns = %d, want 0", len(hist.Turns))
	}

	req, _ := http.NewRequest(http.MethodDelete, env.server.URL+"/api/v1/sessions/"+created.SessionID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", delResp.StatusCode)
	}
}

// sseEvent is one parsed SSE event.
type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	defer resp.Body.Close()

	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.name != "" {
				events = append(events, current)
				current = sseEvent{}
			}
		}
	}
	return events
}

func TestChatStreamSSE(t *testing.T) {
	env := newTestEnv(t)

	// Ground the knowledge base first.
	ingest := env.postJSON(t, "/api/v1/knowledge", map[string]string{"text": "The sky is blue."})
	ingest.Body.Close()

	sessResp := env.postJSON(t, "/api/v1/sessions", nil)
	sess := decodeBody[sessionResponse](t, sessResp)

	resp := env.postJSON(t, "/api/v1/chat/stream", chatRequest{
		SessionID: sess.SessionID,
		Query:     "What color is the sky?",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := readSSE(t, resp)
	if len(events) == 0 {
		t.Fatal("no SSE events")
	}

	var fragments []string
	var done *donePayload
	for _, ev := range events {
		switch ev.name {
		case eventChunk:
			var p chunkPayload
			if err := json.Unmarshal([]byte(ev.data), &p); err != nil {
				t.Fatal(err)
			}
			fragments = append(fragments, p.Text)
		case eventDone:
			var f donePayload
			if err := json.Unmarshal([]byte(ev.data), &f); err != nil {
				t.Fatal(err)
			}
			done = &f
		case eventError:
			t.Fatalf("unexpected error event: %s", ev.data)
		}
	}

	if done == nil {
		t.Fatal("no done event")
	}
	if got := strings.Join(fragments, ""); got != done.Text {
		t.Errorf("fragments join to %q, final %q", got, done.Text)
	}
	if done.Text != "The sky is blue." {
		t.Errorf("final text = %q", done.Text)
	}
	if done.HTML == "" {
		t.Error("done event missing html")
	}
	if done.SessionID != sess.SessionID {
		t.Errorf("done sessionId = %q, want %q", done.SessionID, sess.SessionID)
	}

	// The stored chunk reached the model verbatim inside the context block.
	if !strings.Contains(env.model.captured.Context, "The sky is blue.") {
		t.Errorf("model context = %q, want stored chunk", env.model.captured.Context)
	}

	// The exchange landed in session history.
	s, err := env.sessions.Get(sess.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if s.History.Len() != 2 {
		t.Errorf("history turns = %d, want 2", s.History.Len())
	}
}

func TestChatStreamRetrievalOff(t *testing.T) {
	env := newTestEnv(t)

	ingest := env.postJSON(t, "/api/v1/knowledge", map[string]string{"text": "The sky is blue."})
	ingest.Body.Close()

	sess := decodeBody[sessionResponse](t, env.postJSON(t, "/api/v1/sessions", nil))

	off := false
	resp := env.postJSON(t, "/api/v1/chat/stream", chatRequest{
		SessionID: sess.SessionID,
		Query:     "What color is the sky?",
		Retrieval: &off,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	readSSE(t, resp)

	if env.model.captured.Context != "" {
		t.Errorf("model context = %q, want empty with retrieval off", env.model.captured.Context)
	}
	if env.model.captured.UserText != "What color is the sky?" {
		t.Errorf("user text = %q, want the bare query", env.model.captured.UserText)
	}
}

func TestIngestPlainText(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/api/v1/knowledge", "text/plain",
		strings.NewReader("Grass is green."))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status = %d, want 201", resp.StatusCode)
	}
	created := decodeBody[ingestResponse](t, resp)
	if created.DocumentID == "" || created.Chunks != 1 {
		t.Errorf("ingest response = %+v", created)
	}
}

func TestChatStreamUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/api/v1/chat/stream", chatRequest{SessionID: "nope", Query: "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestChatStreamEmptyQuery(t *testing.T) {
	env := newTestEnv(t)
	sess := decodeBody[sessionResponse](t, env.postJSON(t, "/api/v1/sessions", nil))

	resp := env.postJSON(t, "/api/v1/chat/stream", chatRequest{SessionID: sess.SessionID, Query: "  "})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatStreamBusySession(t *testing.T) {
	env := newTestEnv(t)
	sess := decodeBody[sessionResponse](t, env.postJSON(t, "/api/v1/sessions", nil))

	s, err := env.sessions.Get(sess.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer s.Release()

	resp := env.postJSON(t, "/api/v1/chat/stream", chatRequest{SessionID: sess.SessionID, Query: "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
	body := decodeBody[errorBody](t, resp)
	if body.Code != "generation_in_progress" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestChatStreamGenerationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.model.err = fmt.Errorf("model exploded")
	sess := decodeBody[sessionResponse](t, env.postJSON(t, "/api/v1/sessions", nil))

	resp := env.postJSON(t, "/api/v1/chat/stream", chatRequest{SessionID: sess.SessionID, Query: "hi"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (error arrives in-band)", resp.StatusCode)
	}

	events := readSSE(t, resp)
	var sawError bool
	for _, ev := range events {
		if ev.name == eventError {
			sawError = true
			var p errorPayload
			if err := json.Unmarshal([]byte(ev.data), &p); err != nil {
				t.Fatal(err)
			}
			if p.Code != "generation_failed" {
				t.Errorf("error code = %q", p.Code)
			}
		}
		if ev.name == eventDone {
			t.Error("done event after failure")
		}
	}
	if !sawError {
		t.Error("no error event")
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/health", "/ready"} {
		resp, err := http.Get(env.server.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d", path, resp.StatusCode)
		}
	}
}

func TestRateLimiting(t *testing.T) {
	store := vectorstore.NewMemory()
	manager := knowledge.NewManager(constEmbedder{}, store, 1200, 120, nil)
	sessions := session.NewManager(0, nil)
	coordinator := generate.NewCoordinator(&echoModel{answer: "x"}, retrieve.New(constEmbedder{}, store, false, 0, 0, nil), prompt.New(0, 10), time.Minute, nil)

	srv, err := NewServer(ServerConfig{
		Knowledge:   manager,
		Sessions:    sessions,
		Coordinator: coordinator,
		Store:       store,
		RateBurst:   2,
	})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var limited bool
	for i := 0; i < 5; i++ {
		resp, err := http.Get(ts.URL + "/api/v1/knowledge")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("no request was rate limited")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{"direct", "10.0.0.1:1234", nil, false, "10.0.0.1"},
		{"proxy header ignored when untrusted", "10.0.0.1:1234", map[string]string{"X-Real-IP": "1.2.3.4"}, false, "10.0.0.1"},
		{"x-real-ip", "10.0.0.1:1234", map[string]string{"X-Real-IP": "1.2.3.4"}, true, "1.2.3.4"},
		{"x-forwarded-for first", "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "1.2.3.4, 5.6.7.8"}, true, "1.2.3.4"},
		{"garbage header falls back", "10.0.0.1:1234", map[string]string{"X-Real-IP": "not-an-ip"}, true, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := clientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

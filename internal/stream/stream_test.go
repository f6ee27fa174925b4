package stream

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatdesk/gateway/internal/domain"
)

func TestChunkTextRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []string{
		"hello world",
		"  leading and trailing  ",
		"tabs\tand\nnewlines\n\n",
		"single",
		"   ",
		"multi   space  gaps",
		"unicode 世界 ok",
	}
	for _, text := range cases {
		chunks := ChunkText(text)
		if strings.Join(chunks, "") != text {
			t.Fatalf("chunks of %q do not rebuild the text: %q", text, chunks)
		}
	}
	if got := ChunkText("a b c"); len(got) != 3 {
		t.Fatalf("expected word-sized chunks, got=%q", got)
	}
	if got := ChunkText(""); len(got) != 0 {
		t.Fatalf("expected no chunks for empty text, got=%q", got)
	}
}

func TestSSEWriterFraming(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := writer.Send(domain.StreamEvent{Type: domain.EventTextDelta, Text: "hi "}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := writer.Send(domain.StreamEvent{Type: domain.EventDone}); err != nil {
		t.Fatalf("send: %v", err)
	}
	want := "data: {\"text\":\"hi \",\"type\":\"text-delta\"}\n\ndata: {\"type\":\"done\"}\n\n"
	if rec.Body.String() != want {
		t.Fatalf("unexpected body:\n%q\nwant:\n%q", rec.Body.String(), want)
	}
	for header, value := range map[string]string{
		"Content-Type":      "text/event-stream",
		"Cache-Control":     "no-cache",
		"Connection":        "keep-alive",
		"X-Accel-Buffering": "no",
	} {
		if got := rec.Header().Get(header); got != value {
			t.Fatalf("header %s=%q, want %q", header, got, value)
		}
	}
	if !rec.Flushed {
		t.Fatal("expected writer to flush")
	}
}

type plainWriter struct {
	header http.Header
}

func (w *plainWriter) Header() http.Header         { return w.header }
func (w *plainWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *plainWriter) WriteHeader(int)             {}

func TestSSEWriterRequiresFlusher(t *testing.T) {
	t.Parallel()
	if _, err := NewSSEWriter(&plainWriter{header: http.Header{}}); !errors.Is(err, ErrStreamingUnsupported) {
		t.Fatalf("expected ErrStreamingUnsupported, got=%v", err)
	}
}

func TestEmitterSuppressesDuplicateIDs(t *testing.T) {
	t.Parallel()
	rec := &Recorder{}
	em := NewEmitter(rec)

	if ok, err := em.MessageStart("m1"); !ok || err != nil {
		t.Fatalf("first message start: ok=%v err=%v", ok, err)
	}
	if ok, _ := em.MessageStart("m1"); ok {
		t.Fatal("expected repeated message id to be ignored")
	}
	call := domain.ToolCallRequest{ID: "c1", ToolName: "web_search", Args: map[string]interface{}{"query": "go"}}
	if ok, _ := em.ToolCallStart(call); !ok {
		t.Fatal("expected first tool-call-start")
	}
	if ok, _ := em.ToolCallStart(call); ok {
		t.Fatal("expected repeated tool-call-start to be ignored")
	}
	record := domain.ToolCallRecord{ID: "c1", ToolName: "web_search", Status: domain.ToolCallCompleted, Result: "ok"}
	if ok, _ := em.ToolResult(record); !ok {
		t.Fatal("expected first tool-result")
	}
	if ok, _ := em.ToolResult(record); ok {
		t.Fatal("expected repeated tool-result to be ignored")
	}
	if ok, _ := em.ToolResult(domain.ToolCallRecord{ID: "never-started"}); ok {
		t.Fatal("expected result for unknown call to be dropped")
	}

	got := strings.Join(rec.Types(), ",")
	if got != "message-start,tool-call-start,tool-result" {
		t.Fatalf("unexpected events: %s", got)
	}
}

func TestEmitterFailedToolResultCarriesFailurePayload(t *testing.T) {
	t.Parallel()
	rec := &Recorder{}
	em := NewEmitter(rec)
	_, _ = em.ToolCallStart(domain.ToolCallRequest{ID: "c1", ToolName: "read_file"})
	_, _ = em.ToolResult(domain.ToolCallRecord{ID: "c1", ToolName: "read_file", Status: domain.ToolCallFailed, Error: "boom"})

	events := rec.Events()
	payload, ok := events[1].Part.Result.(map[string]interface{})
	if !ok || payload["success"] != false || payload["error"] != "boom" {
		t.Fatalf("unexpected failure payload: %#v", events[1].Part.Result)
	}
}

func TestEmitterStopsAfterSinkError(t *testing.T) {
	t.Parallel()
	sent := 0
	closed := errors.New("closed")
	em := NewEmitter(SinkFunc(func(domain.StreamEvent) error {
		sent++
		if sent == 2 {
			return closed
		}
		return nil
	}))
	if err := em.Text("one two three"); !errors.Is(err, closed) {
		t.Fatalf("expected sink error, got=%v", err)
	}
	if err := em.Done(); !errors.Is(err, closed) {
		t.Fatalf("expected sticky error, got=%v", err)
	}
	if sent != 2 {
		t.Fatalf("expected writes to stop after failure, sent=%d", sent)
	}
}

func TestMessageEndStatus(t *testing.T) {
	t.Parallel()
	rec := &Recorder{}
	em := NewEmitter(rec)
	_ = em.MessageEnd("")
	_ = em.MessageEnd("step-limit")
	events := rec.Events()
	if events[0].Status.Type != domain.StatusComplete || events[0].Status.Reason != "" {
		t.Fatalf("unexpected complete status: %+v", events[0].Status)
	}
	if events[1].Status.Type != domain.StatusIncomplete || events[1].Status.Reason != "step-limit" {
		t.Fatalf("unexpected incomplete status: %+v", events[1].Status)
	}
}

func TestTeeFansOut(t *testing.T) {
	t.Parallel()
	a, b := &Recorder{}, &Recorder{}
	sink := Tee(a, nil, b)
	if err := sink.Send(domain.StreamEvent{Type: domain.EventDone}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("expected both sinks to receive the event")
	}
}

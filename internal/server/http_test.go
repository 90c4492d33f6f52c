package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/casebase/voicechat/internal/audio"
	"github.com/casebase/voicechat/internal/chat"
	"github.com/casebase/voicechat/internal/config"
	"github.com/casebase/voicechat/internal/document"
	"github.com/casebase/voicechat/internal/metrics"
	"github.com/casebase/voicechat/internal/session"
	"github.com/casebase/voicechat/internal/transcription"
)

var testMetrics = metrics.NewMetrics()

type stubCompleter struct {
	reply string
	err   error
}

func (s *stubCompleter) Complete(ctx context.Context, message string, history []chat.Message) (string, error) {
	return s.reply, s.err
}

type stubUploader struct {
	reference string
	err       error
}

func (s *stubUploader) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	return s.reference, s.err
}

// testHarness bundles the API server with its stubbed collaborators
type testHarness struct {
	server    *httptest.Server
	completer *stubCompleter
	uploader  *stubUploader
	speechWS  *httptest.Server
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	completer := &stubCompleter{reply: "stub reply"}
	orchestrator, err := chat.NewOrchestrator(completer)
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}

	uploader := &stubUploader{reference: "doc-ref"}
	registry, err := document.NewRegistry(uploader, 0, nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	// Turn-based transcription backed by in-process stubs.
	uploadSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/a"})
	}))
	t.Cleanup(uploadSrv.Close)

	transcriptSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(map[string]string{"id": "job-1"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "job-1", "status": "completed", "text": "transcribed words",
		})
	}))
	t.Cleanup(transcriptSrv.Close)

	turnClient, err := transcription.NewTurnClient(transcription.TurnConfig{
		UploadEndpoint:     uploadSrv.URL,
		TranscriptEndpoint: transcriptSrv.URL,
		APIKey:             "key",
		PollInterval:       time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewTurnClient failed: %v", err)
	}

	// Live speech endpoint that finalizes every voiced frame.
	speechWS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				conn.WriteMessage(websocket.TextMessage,
					[]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"live words"}]}}`))
			}
			if mt == websocket.TextMessage && strings.Contains(string(data), "CloseStream") {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
	t.Cleanup(speechWS.Close)

	factory := func() (*transcription.StreamClient, error) {
		return transcription.NewStreamClient(transcription.StreamConfig{
			Endpoint:   "ws" + strings.TrimPrefix(speechWS.URL, "http"),
			APIKey:     "key",
			SampleRate: 16000,
			Channels:   1,
		})
	}

	sessions := session.NewManager(factory, session.Config{SilenceHold: time.Hour},
		func(sessionID, transcript string) {
			if transcript != "" {
				orchestrator.SetPendingInput(transcript)
			}
		})

	cfg := &config.Config{}
	cfg.HTTP.Address = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Speech.SampleRate = 16000
	cfg.Documents.MaxFileSize = document.DefaultMaxFileSize

	h := NewHTTPServer(slog.Default(), cfg, orchestrator, turnClient, registry, sessions, nil, testMetrics)

	apiSrv := httptest.NewServer(h.Handler())
	t.Cleanup(apiSrv.Close)

	return &testHarness{
		server:    apiSrv,
		completer: completer,
		uploader:  uploader,
		speechWS:  speechWS,
	}
}

func (h *testHarness) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, _ := json.Marshal(body)
	resp, err := http.Post(h.server.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHarness(t)

	resp, err := http.Get(h.server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	body := decodeBody[map[string]any](t, resp)
	if body["status"] != "healthy" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestSendAndListMessages(t *testing.T) {
	h := newTestHarness(t)

	resp := h.postJSON(t, "/api/chat/messages", map[string]string{"message": "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d", resp.StatusCode)
	}
	sent := decodeBody[map[string]any](t, resp)
	messages := sent["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}

	listResp, err := http.Get(h.server.URL + "/api/chat/messages")
	if err != nil {
		t.Fatalf("GET messages failed: %v", err)
	}
	listed := decodeBody[map[string]any](t, listResp)
	if int(listed["total"].(float64)) != 2 {
		t.Errorf("total = %v", listed["total"])
	}
}

func TestRetryEndpoint(t *testing.T) {
	h := newTestHarness(t)

	h.completer.err = fmt.Errorf("service down")
	resp := h.postJSON(t, "/api/chat/messages", map[string]string{"message": "doomed"})
	sent := decodeBody[map[string]any](t, resp)
	reply := sent["reply"].(map[string]any)

	retryResp := h.postJSON(t, "/api/chat/messages/"+reply["id"].(string)+"/retry", nil)
	if retryResp.StatusCode != http.StatusOK {
		t.Fatalf("retry status = %d", retryResp.StatusCode)
	}
	retried := decodeBody[map[string]any](t, retryResp)
	if retried["restored_input"] != "doomed" {
		t.Errorf("restored_input = %v", retried["restored_input"])
	}
	if len(retried["messages"].([]any)) != 0 {
		t.Errorf("log not rewound: %v", retried["messages"])
	}

	inputResp, _ := http.Get(h.server.URL + "/api/chat/input")
	input := decodeBody[map[string]string](t, inputResp)
	if input["pending_input"] != "doomed" {
		t.Errorf("pending_input = %q", input["pending_input"])
	}
}

func TestFailedSendCountsInMetrics(t *testing.T) {
	h := newTestHarness(t)

	before := testutil.ToFloat64(testMetrics.ChatSendFailures)

	h.completer.err = fmt.Errorf("service down")
	resp := h.postJSON(t, "/api/chat/messages", map[string]string{"message": "doomed"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d", resp.StatusCode)
	}

	if got := testutil.ToFloat64(testMetrics.ChatSendFailures); got != before+1 {
		t.Errorf("chat send failure count = %v, want %v", got, before+1)
	}
}

func TestEditAndDeleteEndpoints(t *testing.T) {
	h := newTestHarness(t)

	resp := h.postJSON(t, "/api/chat/messages", map[string]string{"message": "helo"})
	sent := decodeBody[map[string]any](t, resp)
	messages := sent["messages"].([]any)
	userID := messages[0].(map[string]any)["id"].(string)
	assistantID := messages[1].(map[string]any)["id"].(string)

	// Edit the user turn.
	payload, _ := json.Marshal(map[string]string{"content": "hello"})
	req, _ := http.NewRequest(http.MethodPut, h.server.URL+"/api/chat/messages/"+userID, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	editResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	if editResp.StatusCode != http.StatusOK {
		t.Errorf("edit status = %d", editResp.StatusCode)
	}
	edited := decodeBody[chat.Message](t, editResp)
	if edited.Content != "hello" {
		t.Errorf("edited content = %q", edited.Content)
	}

	// Editing the assistant turn is rejected.
	req, _ = http.NewRequest(http.MethodPut, h.server.URL+"/api/chat/messages/"+assistantID, bytes.NewReader(payload))
	badResp, _ := http.DefaultClient.Do(req)
	badResp.Body.Close()
	if badResp.StatusCode != http.StatusBadRequest {
		t.Errorf("edit assistant status = %d", badResp.StatusCode)
	}

	// Delete the assistant turn.
	req, _ = http.NewRequest(http.MethodDelete, h.server.URL+"/api/chat/messages/"+assistantID, nil)
	delResp, _ := http.DefaultClient.Do(req)
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", delResp.StatusCode)
	}
}

func TestTranscribeEndpoint(t *testing.T) {
	h := newTestHarness(t)

	resp, err := http.Post(h.server.URL+"/api/transcribe", "application/octet-stream",
		bytes.NewReader([]byte("wav bytes")))
	if err != nil {
		t.Fatalf("POST /api/transcribe failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	result := decodeBody[transcription.Result](t, resp)
	if result.Text != "transcribed words" {
		t.Errorf("text = %q", result.Text)
	}

	// The transcript landed in the input buffer.
	inputResp, _ := http.Get(h.server.URL + "/api/chat/input")
	input := decodeBody[map[string]string](t, inputResp)
	if input["pending_input"] != "transcribed words" {
		t.Errorf("pending_input = %q", input["pending_input"])
	}
}

func TestTranscribeRejectsCorruptWAV(t *testing.T) {
	h := newTestHarness(t)

	// Claims to be a RIFF container but the header is truncated garbage.
	resp, err := http.Post(h.server.URL+"/api/transcribe", "application/octet-stream",
		bytes.NewReader([]byte("RIFFgarbage")))
	if err != nil {
		t.Fatalf("POST /api/transcribe failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	// A well-formed WAV recording still goes through.
	wav, err := audio.EncodeWAV([]int16{100, -100, 200, -200}, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	okResp, err := http.Post(h.server.URL+"/api/transcribe", "application/octet-stream",
		bytes.NewReader(wav))
	if err != nil {
		t.Fatalf("POST /api/transcribe failed: %v", err)
	}
	if okResp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", okResp.StatusCode)
	}
}

func TestDocumentEndpoints(t *testing.T) {
	h := newTestHarness(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, _ := writer.CreateFormFile("file", "report.pdf")
	part.Write([]byte("pdf content"))
	writer.Close()

	resp, err := http.Post(h.server.URL+"/api/documents", writer.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /api/documents failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	record := decodeBody[document.FileRecord](t, resp)
	if record.Status != document.StatusSuccess {
		t.Errorf("status = %s", record.Status)
	}
	if record.Reference != "doc-ref" {
		t.Errorf("reference = %q", record.Reference)
	}

	listResp, _ := http.Get(h.server.URL + "/api/documents")
	listed := decodeBody[map[string]any](t, listResp)
	if int(listed["total"].(float64)) != 1 {
		t.Errorf("total = %v", listed["total"])
	}

	// Unsupported type is rejected with 422.
	var bad bytes.Buffer
	writer = multipart.NewWriter(&bad)
	part, _ = writer.CreateFormFile("file", "notes.txt")
	part.Write([]byte("text"))
	writer.Close()

	badResp, _ := http.Post(h.server.URL+"/api/documents", writer.FormDataContentType(), &bad)
	badResp.Body.Close()
	if badResp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("bad upload status = %d", badResp.StatusCode)
	}

	// Delete the record.
	req, _ := http.NewRequest(http.MethodDelete, h.server.URL+"/api/documents/"+record.ID, nil)
	delResp, _ := http.DefaultClient.Do(req)
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", delResp.StatusCode)
	}
}

func TestStreamEndpoint(t *testing.T) {
	h := newTestHarness(t)

	wsAddr := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsAddr, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "start", "sample_rate": 16000, "channels": 1}); err != nil {
		t.Fatalf("start frame failed: %v", err)
	}

	// One voiced PCM frame.
	samples := make([]int16, 64)
	for i := range samples {
		samples[i] = 12000
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, audio.PCM16ToBytes(samples)); err != nil {
		t.Fatalf("frame write failed: %v", err)
	}

	// Expect a level event and a transcript event.
	sawLevel, sawTranscript := false, false
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for !sawLevel || !sawTranscript {
		var ev session.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read failed (level=%v transcript=%v): %v", sawLevel, sawTranscript, err)
		}
		switch ev.Type {
		case session.EventLevel:
			sawLevel = true
			if ev.Energy <= 0 {
				t.Errorf("energy = %f", ev.Energy)
			}
		case session.EventTranscript:
			sawTranscript = true
			if !strings.Contains(ev.Text, "live words") {
				t.Errorf("transcript = %q", ev.Text)
			}
		}
	}

	// Stop the take and wait for the terminal event.
	if err := conn.WriteJSON(map[string]string{"type": "stop"}); err != nil {
		t.Fatalf("stop frame failed: %v", err)
	}

	for {
		var ev session.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read after stop failed: %v", err)
		}
		if ev.Type == session.EventStopped {
			if !strings.Contains(ev.Text, "live words") {
				t.Errorf("final transcript = %q", ev.Text)
			}
			break
		}
	}
}

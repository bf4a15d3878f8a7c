package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/rolecall/internal/roleplay"
	"github.com/MrWong99/rolecall/pkg/script"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func testLibrary(t *testing.T) *script.Library {
	t.Helper()
	lib := script.NewLibrary(t.TempDir())
	err := lib.Add(&script.Script{
		ID:    "greet",
		Title: "Greetings",
		Turns: []script.Turn{
			{Speaker: "A", Text: "Hello"},
			{Speaker: "B", Text: "Hi there"},
			{Speaker: "A", Text: "Bye"},
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return lib
}

// startGateway serves a gateway on an httptest server with no engine delays.
func startGateway(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()
	g := New(testLibrary(t), WithEngineOptions(func() []roleplay.Option {
		return []roleplay.Option{roleplay.WithInterTurnPause(0), roleplay.WithCompletionDelay(0)}
	}))
	mux := http.NewServeMux()
	g.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return g, srv
}

// dial opens a WebSocket to the gateway.
func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, msg clientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("write %s: %v", msg.Type, err)
	}
}

// readUntil reads frames until one satisfies match and returns it.
func readUntil(t *testing.T, conn *websocket.Conn, match func(serverMessage) bool) serverMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var msg serverMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func ofType(typ string) func(serverMessage) bool {
	return func(m serverMessage) bool { return m.Type == typ }
}

// ── WebSocket tests ───────────────────────────────────────────────────────────

func TestGateway_FullSession(t *testing.T) {
	t.Parallel()
	_, srv := startGateway(t)
	conn := dial(t, srv)

	write(t, conn, clientMessage{Type: msgStart, ScriptID: "greet", Role: "B"})
	st := readUntil(t, conn, ofType(msgState))
	if st.Snapshot == nil || st.Snapshot.Cursor != 1 || st.Snapshot.State != roleplay.StateAwaitingUserRecording {
		t.Fatalf("first state = %+v, want awaiting at 1", st.Snapshot)
	}

	write(t, conn, clientMessage{Type: msgRecord})
	listen := readUntil(t, conn, ofType(msgListen))
	if listen.Hint != "Hi there" || listen.ID == "" {
		t.Fatalf("listen = %+v", listen)
	}
	write(t, conn, clientMessage{Type: msgTranscript, ID: listen.ID, Text: "hi there"})

	attempt := readUntil(t, conn, func(m serverMessage) bool {
		return m.Type == msgState && m.Event == roleplay.EventAttemptRecorded
	})
	got := attempt.Snapshot.Attempts[1]
	if got.Score != 100 || len(got.Words) != 2 {
		t.Errorf("attempt = %+v, want score 100 with 2 words", got)
	}

	speak := readUntil(t, conn, ofType(msgSpeak))
	if speak.Text != "Bye" || speak.Speaker != "A" {
		t.Fatalf("speak = %+v", speak)
	}
	write(t, conn, clientMessage{Type: msgSpoken, ID: speak.ID})

	done := readUntil(t, conn, ofType(msgCompleted))
	if done.Summary == nil || done.Summary.Attempted != 1 || done.Summary.UserTurns != 1 || !done.Summary.Complete {
		t.Errorf("summary = %+v", done.Summary)
	}
}

func TestGateway_UnknownScript(t *testing.T) {
	t.Parallel()
	_, srv := startGateway(t)
	conn := dial(t, srv)

	write(t, conn, clientMessage{Type: msgStart, ScriptID: "missing", Role: "B"})
	msg := readUntil(t, conn, ofType(msgError))
	if !strings.Contains(msg.Error, "not found") {
		t.Errorf("error = %q, want not found", msg.Error)
	}
}

func TestGateway_RecordWithoutSession(t *testing.T) {
	t.Parallel()
	_, srv := startGateway(t)
	conn := dial(t, srv)

	write(t, conn, clientMessage{Type: msgRecord})
	msg := readUntil(t, conn, ofType(msgError))
	if msg.Error != "no active session" {
		t.Errorf("error = %q", msg.Error)
	}
}

func TestGateway_RecognitionUnavailable(t *testing.T) {
	t.Parallel()
	_, srv := startGateway(t)
	conn := dial(t, srv)

	no := false
	write(t, conn, clientMessage{Type: msgCapabilities, Recognition: &no})
	write(t, conn, clientMessage{Type: msgStart, ScriptID: "greet", Role: "B"})
	st := readUntil(t, conn, ofType(msgState))
	if st.Snapshot.RecognitionAvailable {
		t.Error("RecognitionAvailable = true, want false")
	}

	write(t, conn, clientMessage{Type: msgRecord})
	msg := readUntil(t, conn, ofType(msgError))
	if msg.Error != roleplay.ErrRecognitionUnavailable.Error() {
		t.Errorf("error = %q", msg.Error)
	}
}

func TestGateway_StopCancelsListen(t *testing.T) {
	t.Parallel()
	_, srv := startGateway(t)
	conn := dial(t, srv)

	write(t, conn, clientMessage{Type: msgStart, ScriptID: "greet", Role: "B"})
	readUntil(t, conn, ofType(msgState))
	write(t, conn, clientMessage{Type: msgRecord})
	listen := readUntil(t, conn, ofType(msgListen))

	write(t, conn, clientMessage{Type: msgStop})
	cancel := readUntil(t, conn, ofType(msgCancel))
	if cancel.ID != listen.ID {
		t.Errorf("cancel id = %q, want %q", cancel.ID, listen.ID)
	}
	st := readUntil(t, conn, func(m serverMessage) bool {
		return m.Type == msgState && m.Snapshot.State == roleplay.StateAwaitingUserRecording
	})
	if len(st.Snapshot.Attempts) != 0 {
		t.Errorf("attempts = %v, want none", st.Snapshot.Attempts)
	}
}

func TestGateway_RestartDropsReplacedSessionEvents(t *testing.T) {
	t.Parallel()
	_, srv := startGateway(t)
	conn := dial(t, srv)

	write(t, conn, clientMessage{Type: msgStart, ScriptID: "greet", Role: "B"})
	first := readUntil(t, conn, ofType(msgState)).Snapshot.SessionID
	write(t, conn, clientMessage{Type: msgRecord})
	readUntil(t, conn, ofType(msgListen))

	// Restarting mid-recording closes the old engine on the read loop.
	write(t, conn, clientMessage{Type: msgStart, ScriptID: "greet", Role: "A"})
	st := readUntil(t, conn, func(m serverMessage) bool {
		if m.Type == msgState && m.Snapshot.SessionID == first {
			t.Errorf("state frame from replaced session: event %s turn %d", m.Event, *m.Turn)
		}
		return m.Type == msgState && m.Snapshot.SessionID != first
	})
	if st.Snapshot.Role != "A" || st.Snapshot.Cursor != 0 {
		t.Errorf("new session = %+v, want role A at 0", st.Snapshot)
	}
}

func TestGateway_UnknownMessageType(t *testing.T) {
	t.Parallel()
	_, srv := startGateway(t)
	conn := dial(t, srv)

	write(t, conn, clientMessage{Type: "dance"})
	msg := readUntil(t, conn, ofType(msgError))
	if !strings.Contains(msg.Error, "dance") {
		t.Errorf("error = %q", msg.Error)
	}
}

func TestGateway_TracksConnections(t *testing.T) {
	t.Parallel()
	g, srv := startGateway(t)
	conn := dial(t, srv)

	// A round trip guarantees the server registered the connection.
	write(t, conn, clientMessage{Type: msgRecord})
	readUntil(t, conn, ofType(msgError))
	if n := g.Connections(); n != 1 {
		t.Errorf("Connections() = %d, want 1", n)
	}

	conn.Close(websocket.StatusNormalClosure, "bye")
	deadline := time.Now().Add(3 * time.Second)
	for g.Connections() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection not released after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ── Script catalogue ──────────────────────────────────────────────────────────

func TestScripts_List(t *testing.T) {
	t.Parallel()
	_, srv := startGateway(t)

	resp, err := http.Get(srv.URL + "/scripts")
	if err != nil {
		t.Fatalf("GET /scripts: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var list []scriptInfo
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ID != "greet" || list[0].Turns != 3 {
		t.Fatalf("list = %+v", list)
	}
	sp := list[0].Speakers
	if len(sp) != 2 || sp[0].Name != "A" || sp[0].Color != script.ColorOf("A") {
		t.Errorf("speakers = %+v", sp)
	}
}

func TestScripts_Get(t *testing.T) {
	t.Parallel()
	_, srv := startGateway(t)

	resp, err := http.Get(srv.URL + "/scripts/greet")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		ID       string        `json:"id"`
		Turns    []script.Turn `json:"turns"`
		Speakers []speakerInfo `json:"speakers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID != "greet" || len(body.Turns) != 3 || len(body.Speakers) != 2 {
		t.Errorf("body = %+v", body)
	}

	resp404, err := http.Get(srv.URL + "/scripts/missing")
	if err != nil {
		t.Fatalf("GET missing: %v", err)
	}
	resp404.Body.Close()
	if resp404.StatusCode != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", resp404.StatusCode)
	}
}

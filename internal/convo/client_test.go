package convo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/parleylabs/parley/internal/agent"
)

// stubService fakes the conversation service: it records inbound
// frames and answers response.create per the configured behavior.
type stubService struct {
	mu      sync.Mutex
	frames  []message
	respond func(message) []message
}

func (s *stubService) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			var msg message
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			s.mu.Lock()
			s.frames = append(s.frames, msg)
			respond := s.respond
			s.mu.Unlock()

			if respond == nil {
				continue
			}
			for _, reply := range respond(msg) {
				out, err := json.Marshal(reply)
				if err != nil {
					continue
				}
				if err := ws.Write(ctx, websocket.MessageText, out); err != nil {
					return
				}
			}
		}
	})
}

func (s *stubService) received() []message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message(nil), s.frames...)
}

func (s *stubService) waitFor(t *testing.T, msgType string) message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, msg := range s.received() {
			if msg.Type == msgType {
				return msg
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("service never received a %q frame", msgType)
	return message{}
}

func startStub(t *testing.T, svc *stubService) string {
	t.Helper()
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialSendsSessionStart(t *testing.T) {
	svc := &stubService{}
	url := startStub(t, svc)

	c, err := Dial(context.Background(), url, "sess-1", "you are a tutor")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	start := svc.waitFor(t, "session.start")
	if start.SessionID != "sess-1" {
		t.Errorf("session_id = %q", start.SessionID)
	}
	if start.Instructions != "you are a tutor" {
		t.Errorf("instructions = %q", start.Instructions)
	}
}

func TestDialFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Dial(ctx, "ws://127.0.0.1:1/realtime", "sess-1", "x"); err == nil {
		t.Error("dial to dead endpoint succeeded")
	}
}

func TestUpdateSideChannel(t *testing.T) {
	svc := &stubService{}
	url := startStub(t, svc)

	c, err := Dial(context.Background(), url, "sess-1", "x")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	err = c.UpdateSideChannel(context.Background(), agent.SideChannelUpdate{
		Version:     1,
		Elapsed:     180 * time.Second,
		Remaining:   120 * time.Second,
		Instruction: "start wrapping up",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	upd := svc.waitFor(t, "session.update")
	if upd.Version != 1 {
		t.Errorf("version = %d, want 1", upd.Version)
	}
	if upd.ElapsedSeconds != 180 || upd.RemainingSeconds != 120 {
		t.Errorf("elapsed/remaining = %d/%d", upd.ElapsedSeconds, upd.RemainingSeconds)
	}
	if upd.Instructions != "start wrapping up" {
		t.Errorf("instructions = %q", upd.Instructions)
	}
}

func TestRequestClosingUtterance(t *testing.T) {
	svc := &stubService{
		respond: func(msg message) []message {
			if msg.Type != "response.create" {
				return nil
			}
			// Interim frames are skipped while waiting for done.
			return []message{
				{Type: "response.delta", Text: "good"},
				{Type: "response.done", Text: "goodbye and well done"},
			}
		},
	}
	url := startStub(t, svc)

	c, err := Dial(context.Background(), url, "sess-1", "x")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	got, err := c.RequestClosingUtterance(context.Background(), "say goodbye")
	if err != nil {
		t.Fatalf("closing utterance: %v", err)
	}
	if got != "goodbye and well done" {
		t.Errorf("utterance = %q", got)
	}
}

func TestRequestClosingUtteranceTimeout(t *testing.T) {
	// Service that never answers response.create.
	svc := &stubService{}
	url := startStub(t, svc)

	c, err := Dial(context.Background(), url, "sess-1", "x")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.RequestClosingUtterance(ctx, "say goodbye")
	if !errors.Is(err, agent.ErrClosingTimeout) {
		t.Errorf("error = %v, want ErrClosingTimeout", err)
	}
}

func TestRequestClosingUtteranceServiceError(t *testing.T) {
	svc := &stubService{
		respond: func(msg message) []message {
			if msg.Type != "response.create" {
				return nil
			}
			return []message{{Type: "error", Error: "model overloaded"}}
		},
	}
	url := startStub(t, svc)

	c, err := Dial(context.Background(), url, "sess-1", "x")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.RequestClosingUtterance(ctx, "say goodbye"); err == nil {
		t.Error("service error not surfaced")
	}
}

func TestForwardTurn(t *testing.T) {
	svc := &stubService{}
	url := startStub(t, svc)

	c, err := Dial(context.Background(), url, "sess-1", "x")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.ForwardTurn(context.Background(), "tell me about your hobby"); err != nil {
		t.Fatalf("forward: %v", err)
	}
	turn := svc.waitFor(t, "turn")
	if turn.Text != "tell me about your hobby" {
		t.Errorf("text = %q", turn.Text)
	}
}

package ws

import (
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"silkroad.gg/internal/contracts"
	"silkroad.gg/internal/protocol"
)

func dial(t *testing.T, srv *httptest.Server, actor string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	hello, _ := json.Marshal(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ActorID:         actor,
	})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("hello: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("welcome: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &welcome); err != nil {
		t.Fatalf("welcome decode: %v", err)
	}
	if welcome.Type != protocol.TypeWelcome || welcome.ActorID != actor {
		t.Fatalf("welcome: %+v", welcome)
	}
	return conn
}

func waitOnline(t *testing.T, s *Server, actor string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !s.Online(actor) {
		if time.Now().After(deadline) {
			t.Fatalf("actor %s never came online", actor)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHandshakeAndNotify(t *testing.T) {
	s := NewServer(log.New(io.Discard, "", 0))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv, "marco")
	waitOnline(t, s, "marco")

	s.Notify("marco", "Contract accepted.")
	s.Notify("niccolo", "lost message") // offline: silently dropped

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read notice: %v", err)
	}
	var notice protocol.NoticeMsg
	if err := json.Unmarshal(msg, &notice); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if notice.Type != protocol.TypeNotice || notice.Actor != "marco" || notice.Text != "Contract accepted." {
		t.Fatalf("notice: %+v", notice)
	}
}

func TestEventBroadcast(t *testing.T) {
	s := NewServer(log.New(io.Discard, "", 0))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	a := dial(t, srv, "marco")
	b := dial(t, srv, "alice")
	waitOnline(t, s, "marco")
	waitOnline(t, s, "alice")

	s.RecordContractEvent(contracts.Event{
		ContractID: "c1",
		Type:       contracts.EventAccepted,
		State:      contracts.StateAccepted,
		Bounty:     80,
		At:         time.Now(),
	})

	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		var ev protocol.EventMsg
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Event.ContractID != "c1" || ev.Event.Type != contracts.EventAccepted {
			t.Fatalf("event: %+v", ev)
		}
	}
}

func TestHandshakeRejectsVersionMismatch(t *testing.T) {
	s := NewServer(log.New(io.Discard, "", 0))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello, _ := json.Marshal(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: "0.9",
		ActorID:         "marco",
	})
	_ = conn.WriteMessage(websocket.TextMessage, hello)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("server kept a mismatched-version connection open")
	}
	if s.Online("marco") {
		t.Fatalf("rejected client registered as online")
	}
}

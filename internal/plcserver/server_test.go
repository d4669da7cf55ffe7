package plcserver

import (
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mujin/goplc/internal/plcmemory"
	"github.com/mujin/goplc/internal/plcvalue"
)

func startTestServer(t *testing.T) (*Server, *plcmemory.Memory) {
	t.Helper()
	m := plcmemory.New()
	s := New(m, Options{Addr: "127.0.0.1:0"})
	s.Start()
	t.Cleanup(s.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s, m
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/", addr)
	var conn *websocket.Conn
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial %s: %v", url, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReadRequestReturnsPresentKeysOnly(t *testing.T) {
	s, m := startTestServer(t)
	m.Write(map[string]plcvalue.Value{"a": plcvalue.Integer(5)})

	conn := dial(t, s.Addr())
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"read","keys":["a","missing"]}`))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got, want := string(payload), `{"keyvalues":{"a":5}}`; got != want {
		t.Fatalf("response = %s, want %s", got, want)
	}
}

func TestWriteRequestAppliesAndReturnsEmpty(t *testing.T) {
	s, m := startTestServer(t)

	conn := dial(t, s.Addr())
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"write","keyvalues":{"k":"v"}}`))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(payload) != "{}" {
		t.Fatalf("response = %s, want {}", payload)
	}

	got := m.Read([]string{"k"})
	if !got["k"].Equal(plcvalue.String("v")) {
		t.Fatalf("memory state after write = %+v", got)
	}
}

func TestMalformedRequestReturnsEmptyObject(t *testing.T) {
	s, _ := startTestServer(t)

	conn := dial(t, s.Addr())
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(payload) != "{}" {
		t.Fatalf("response = %s, want {}", payload)
	}
}

func TestUnknownCommandReturnsEmptyObject(t *testing.T) {
	s, _ := startTestServer(t)

	conn := dial(t, s.Addr())
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"frobnicate"}`))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(payload) != "{}" {
		t.Fatalf("response = %s, want {}", payload)
	}
}

func TestServerSurvivesMultipleRequestsOnOneConnection(t *testing.T) {
	s, m := startTestServer(t)
	m.Write(map[string]plcvalue.Value{"ctr": plcvalue.Integer(0)})

	conn := dial(t, s.Addr())
	defer conn.Close()

	for i := 1; i <= 3; i++ {
		conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"command":"write","keyvalues":{"ctr":%d}}`, i)))
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("round %d: ReadMessage: %v", i, err)
		}
	}

	got := m.Read([]string{"ctr"})
	if !got["ctr"].Equal(plcvalue.Integer(3)) {
		t.Fatalf("final state = %+v, want ctr=3", got)
	}
}

func TestStopThenStartRebindsToNewPort(t *testing.T) {
	m := plcmemory.New()
	s := New(m, Options{Addr: "127.0.0.1:0"})
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
	first := s.Addr()
	s.Stop()
	if s.IsRunning() {
		t.Fatal("IsRunning should be false after Stop")
	}

	s.Start()
	defer s.Stop()
	deadline = time.Now().Add(2 * time.Second)
	for s.Addr() == first {
		if time.Now().After(deadline) {
			t.Fatal("server never rebound to a fresh port")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

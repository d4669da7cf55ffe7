package plcclient

import (
	"context"
	"testing"
	"time"

	"github.com/mujin/goplc/internal/plcmemory"
	"github.com/mujin/goplc/internal/plcserver"
	"github.com/mujin/goplc/internal/plcvalue"
)

func startServer(t *testing.T) (*plcserver.Server, *plcmemory.Memory) {
	t.Helper()
	m := plcmemory.New()
	s := plcserver.New(m, plcserver.Options{Addr: "127.0.0.1:0"})
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

func TestClientWriteThenRead(t *testing.T) {
	s, m := startServer(t)
	_ = m

	client := NewClient(Config{URL: "ws://" + s.Addr() + "/"})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.WriteKeyValues(ctx, map[string]plcvalue.Value{"a": plcvalue.Integer(3)}); err != nil {
		t.Fatalf("WriteKeyValues: %v", err)
	}

	got, err := client.ReadKeys(ctx, []string{"a", "missing"})
	if err != nil {
		t.Fatalf("ReadKeys: %v", err)
	}
	if len(got) != 1 || !got["a"].Equal(plcvalue.Integer(3)) {
		t.Fatalf("ReadKeys = %+v, want {a: 3}", got)
	}
}

func TestClientReconnectsAfterServerDrops(t *testing.T) {
	m := plcmemory.New()
	m.Write(map[string]plcvalue.Value{"k": plcvalue.Boolean(true)})
	s := plcserver.New(m, plcserver.Options{Addr: "127.0.0.1:18173"})
	s.Start()
	t.Cleanup(s.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}

	client := NewClient(Config{URL: "ws://" + s.Addr() + "/"})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := client.ReadKeys(ctx, []string{"k"}); err != nil {
		t.Fatalf("first ReadKeys: %v", err)
	}

	// Restarting the server on the same address drops the existing TCP
	// connection; the client must redial transparently on the next call
	// rather than sticking with a dead socket.
	s.Start()
	deadline = time.Now().Add(2 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("client never reconnected after server restart")
		}
		ctx2, cancel2 := context.WithTimeout(context.Background(), 300*time.Millisecond)
		_, err := client.ReadKeys(ctx2, []string{"k"})
		cancel2()
		if err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Package plcserver implements the network endpoint of spec.md §4.4/§6: a
// background worker bound to a request/reply endpoint, speaking the JSON
// read/write protocol against a Memory. Grounded on
// internal/fabric/websocket.go's upgrade-and-loop shape, adapted from a
// fan-out hub connection to a strict one-in-flight request/reply
// discipline mirroring the original ZMQ_REP socket.
package plcserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mujin/goplc/internal/plcbreaker"
	"github.com/mujin/goplc/internal/plcmemory"
	"github.com/mujin/goplc/internal/plcvalue"
)

// Options mirror the "socket options" of spec.md §6 (linger,
// send-high-water-mark) re-expressed against a websocket transport: there
// is no direct analogue for either, so they become a write deadline and
// an outbound buffer depth. Only the write deadline is applied to
// connections; see SendBufferSize.
type Options struct {
	// Addr is the TCP address to bind, e.g. ":7001".
	Addr string

	// WriteDeadline bounds a single reply write. Analogue of linger.
	// Defaults to 100ms.
	WriteDeadline time.Duration

	// SendBufferSize is the outbound buffer depth, the analogue of
	// send-high-water-mark. Defaults to 2. It is stored but not applied to
	// connections: each connection writes one reply at a time, with no
	// outbound queue.
	SendBufferSize int

	// PollInterval is how often the bind-retry loop re-checks for
	// shutdown while backed off. Defaults to 50ms, matching the original
	// poll-based accept loop's responsiveness to shutdown (spec.md §4.4).
	PollInterval time.Duration

	// OnRequest, if set, is called once per dispatched request with its
	// command name as sent ("" when the payload does not decode; an
	// unknown command is reported under its own name), for
	// internal/plcmetrics to hook without this package depending on it.
	OnRequest func(command string)

	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.WriteDeadline <= 0 {
		o.WriteDeadline = 100 * time.Millisecond
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 2
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Server is the background network worker. One Server owns exactly one
// bound endpoint and one Memory.
type Server struct {
	memory *plcmemory.Memory
	opts   Options

	upgrader websocket.Upgrader
	breaker  *plcbreaker.Breaker

	httpServer atomic.Pointer[http.Server]
	boundAddr  atomic.Value // string
	running    atomic.Bool
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// Addr reports the address most recently bound, resolved (e.g. when
// Options.Addr used port 0). Empty until the first successful bind.
func (s *Server) Addr() string {
	v, _ := s.boundAddr.Load().(string)
	return v
}

// New constructs a Server bound to memory with the given options. It
// does not bind the socket; call Start for that.
func New(memory *plcmemory.Memory, opts Options) *Server {
	opts.setDefaults()
	return &Server{
		memory: memory,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		breaker: plcbreaker.New(plcbreaker.DefaultConfig("plcserver-bind")),
	}
}

// Start (re)binds the endpoint and begins serving. Calling Start while
// already running stops the previous run first (spec.md §5's
// Start-implies-Stop convention).
func (s *Server) Start() {
	s.Stop()

	s.stopCh = make(chan struct{})
	s.stopOnce = sync.Once{}
	s.running.Store(true)

	s.wg.Add(1)
	go s.runLoop()
}

// SetStop signals the run loop to stop without waiting for it to exit.
// Use Stop to additionally join.
func (s *Server) SetStop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if srv := s.httpServer.Load(); srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.PollInterval)
			defer cancel()
			srv.Shutdown(ctx)
		}
	})
}

// Stop signals shutdown and blocks until the run loop has exited.
func (s *Server) Stop() {
	if s.stopCh == nil {
		return
	}
	s.SetStop()
	s.wg.Wait()
}

// IsRunning reports whether the run loop is still active, per spec.md
// §5: true iff the shutdown flag is clear or the worker goroutine has
// not yet exited.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// runLoop binds the endpoint, serves until an unrecoverable I/O error or
// shutdown, discards the broken listener, and rebinds — guarded by a
// circuit breaker so repeated bind failures back off instead of
// spinning.
func (s *Server) runLoop() {
	defer s.wg.Done()
	defer s.running.Store(false)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if !s.breaker.Allow() {
			s.sleepOrStop(s.opts.PollInterval)
			continue
		}

		listener, err := net.Listen("tcp", s.opts.Addr)
		if err != nil {
			s.breaker.RecordFailure()
			s.opts.Logger.Warn("plcserver bind failed, retrying", "addr", s.opts.Addr, "error", err)
			s.sleepOrStop(s.opts.PollInterval)
			continue
		}
		s.breaker.RecordSuccess()
		s.boundAddr.Store(listener.Addr().String())

		mux := http.NewServeMux()
		mux.HandleFunc("/", s.handleUpgrade)
		httpServer := &http.Server{Handler: mux}
		s.httpServer.Store(httpServer)

		err = httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.opts.Logger.Warn("plcserver listener error, rebinding", "error", err)
		}

		select {
		case <-s.stopCh:
			return
		default:
		}
	}
}

func (s *Server) sleepOrStop(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.stopCh:
	case <-t.C:
	}
}

// handleUpgrade upgrades one HTTP connection to a websocket and runs the
// strict one-in-flight request/reply loop (spec.md §4.4): read exactly
// one JSON message, dispatch, write exactly one JSON message, repeat
// until the connection errors or the server stops.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.Logger.Warn("plcserver upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Close the connection when this run stops, so a handler blocked in
	// ReadMessage does not outlive Stop (or keep serving after a restart).
	stopCh := s.stopCh
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-stopCh:
			conn.Close()
		case <-done:
		}
	}()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			// Socket recreation on I/O error: the original discards the
			// broken zmq socket and rebinds; here the analogue is
			// dropping this connection and waiting for the next one.
			return
		}

		response := s.dispatch(payload)

		conn.SetWriteDeadline(time.Now().Add(s.opts.WriteDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, response); err != nil {
			return
		}
	}
}

// request is the wire envelope for both command kinds of spec.md §4.4.
// Unused fields for a given command are simply absent from the JSON.
// RequestID is an optional client-assigned correlation ID (SPEC_FULL.md
// §2 item 6): if present it is echoed back on the response and included
// in this server's log line, purely for traceability — the protocol
// works identically without it.
type request struct {
	Command   string                    `json:"command"`
	RequestID string                    `json:"request_id,omitempty"`
	Keys      []string                  `json:"keys,omitempty"`
	KeyValues map[string]plcvalue.Value `json:"keyvalues,omitempty"`
}

var emptyResponse = []byte("{}")

// dispatch decodes one request payload and produces one response
// payload. Any decode failure or unrecognized command produces the
// empty-object response (carrying only the echoed request_id when the
// request had one); dispatch never returns an error because the
// network worker must never crash the process over a malformed message
// (spec.md §7).
func (s *Server) dispatch(payload []byte) []byte {
	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.observe("")
		return emptyResponse
	}
	s.observe(req.Command)
	s.opts.Logger.Debug("plcserver: request", "command", req.Command, "request_id", req.RequestID)

	switch req.Command {
	case "read":
		keyvalues := s.memory.Read(req.Keys)
		out, err := json.Marshal(struct {
			KeyValues map[string]plcvalue.Value `json:"keyvalues"`
			RequestID string                    `json:"request_id,omitempty"`
		}{KeyValues: keyvalues, RequestID: req.RequestID})
		if err != nil {
			return emptyResponse
		}
		return out
	case "write":
		if len(req.KeyValues) > 0 {
			s.memory.Write(req.KeyValues)
		}
		return s.echoResponse(req.RequestID)
	default:
		return s.echoResponse(req.RequestID)
	}
}

// echoResponse returns the empty-object response, echoing requestID if
// the caller supplied one.
func (s *Server) echoResponse(requestID string) []byte {
	if requestID == "" {
		return emptyResponse
	}
	out, err := json.Marshal(struct {
		RequestID string `json:"request_id"`
	}{RequestID: requestID})
	if err != nil {
		return emptyResponse
	}
	return out
}

func (s *Server) observe(command string) {
	if s.opts.OnRequest != nil {
		s.opts.OnRequest(command)
	}
}

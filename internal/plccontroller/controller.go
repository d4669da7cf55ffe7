// Package plccontroller implements the Controller wait engine of spec.md
// §4.3: a Memory observer that maintains a private snapshot and an
// internal diff queue, and exposes the family of blocking wait predicates
// (wait-for-change, wait-for-value, wait-until-value,
// wait-until-all-unless-any) with timeout and heartbeat-driven connection
// semantics.
package plccontroller

import (
	"sync"
	"time"

	"github.com/mujin/goplc/internal/plcmemory"
	"github.com/mujin/goplc/internal/plcvalue"
)

// dequeuePollInterval bounds how long a single internal wait slice runs,
// so disconnect checks and cancellation remain responsive even when no
// writer ever arrives. Matches the ~50ms slice of the original
// implementation (spec.md §4.3, §9).
const dequeuePollInterval = 50 * time.Millisecond

// Controller attaches to a Memory as an Observer and implements the wait
// family described in spec.md §4.3.
type Controller struct {
	memory *plcmemory.Memory

	maxHeartbeatInterval time.Duration
	heartbeatSignal      string

	hbMu          sync.Mutex
	lastHeartbeat time.Time

	mu    sync.Mutex
	queue []map[string]plcvalue.Value
	state map[string]plcvalue.Value
	ready chan struct{} // closed and replaced whenever the queue gains an item

	observer *controllerObserver
}

// controllerObserver breaks the ownership cycle spec.md §9 describes: the
// Controller owns this observer strongly, while Memory only ever holds it
// in its observer list. Memory has no way to extend the Controller's
// lifetime through it.
type controllerObserver struct {
	controller *Controller
}

func (o *controllerObserver) MemoryModified(diff map[string]plcvalue.Value) {
	o.controller.enqueue(diff)
}

// New constructs a Controller over memory. maxHeartbeatInterval of zero
// disables heartbeat tracking (IsConnected always true). heartbeatSignal
// of "" means any modification counts as a heartbeat; otherwise only
// diffs containing that key do.
//
// Construction installs the controller's observer into memory; per
// Memory.AddObserver's contract, if memory is already non-empty the
// controller immediately receives a diff of memory's full current state
// as its first queued entry.
func New(memory *plcmemory.Memory, maxHeartbeatInterval time.Duration, heartbeatSignal string) *Controller {
	c := &Controller{
		memory:               memory,
		maxHeartbeatInterval: maxHeartbeatInterval,
		heartbeatSignal:      heartbeatSignal,
		state:                make(map[string]plcvalue.Value),
		ready:                make(chan struct{}),
	}
	c.hbMu.Lock()
	c.lastHeartbeat = time.Now()
	c.hbMu.Unlock()

	c.observer = &controllerObserver{controller: c}
	memory.AddObserver(c.observer)
	return c
}

// Close deregisters the controller's observer from its Memory. Go has no
// weak references, so this is the explicit teardown step spec.md §9
// describes for implementations lacking them. Safe to call more than
// once.
func (c *Controller) Close() {
	c.memory.RemoveObserver(c.observer)
}

// enqueue is the Controller's Memory-facing observer callback (spec.md
// §4.3 "Enqueue path"), invoked on the writer's goroutine, outside
// Memory's lock.
func (c *Controller) enqueue(diff map[string]plcvalue.Value) {
	if c.maxHeartbeatInterval > 0 {
		if c.heartbeatSignal == "" {
			c.touchHeartbeat()
		} else if _, ok := diff[c.heartbeatSignal]; ok {
			c.touchHeartbeat()
		}
	}

	c.mu.Lock()
	c.queue = append(c.queue, diff)
	old := c.ready
	c.ready = make(chan struct{})
	c.mu.Unlock()
	close(old)
}

func (c *Controller) touchHeartbeat() {
	c.hbMu.Lock()
	c.lastHeartbeat = time.Now()
	c.hbMu.Unlock()
}

// QueueDepth reports the number of diffs currently enqueued, awaiting a
// Sync or dequeue. Diagnostic only (used by internal/plcmetrics'
// plc_controller_queue_depth gauge); takes no part in the wait contract.
func (c *Controller) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// IsConnected reports true if heartbeat is disabled, or if a qualifying
// write arrived within maxHeartbeatInterval.
func (c *Controller) IsConnected() bool {
	if c.maxHeartbeatInterval <= 0 {
		return true
	}
	c.hbMu.Lock()
	last := c.lastHeartbeat
	c.hbMu.Unlock()
	return time.Since(last) < c.maxHeartbeatInterval
}

// Sync drains the entire queue into state, integrating diffs in FIFO
// order so later diffs overwrite earlier ones per key. Non-blocking.
func (c *Controller) Sync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, diff := range c.queue {
		for k, v := range diff {
			c.state[k] = v
		}
	}
	c.queue = nil
}

// stateSnapshot returns a defensive copy of state. spec.md §5 notes state
// "is not guarded" in the original and allows strengthening to a
// protected field without permitting data races; this implementation
// guards state with the same mutex as queue, so concurrent Wait* calls on
// one Controller never race.
func (c *Controller) stateSnapshot() map[string]plcvalue.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]plcvalue.Value, len(c.state))
	for k, v := range c.state {
		out[k] = v
	}
	return out
}

// dequeue is the single low-level blocking primitive every Wait* method
// is ultimately built from (spec.md §4.3). timeout of zero waits
// indefinitely. If timeoutOnDisconnect is true, dequeue returns
// (nil, false) promptly once IsConnected() becomes false, even mid-wait.
func (c *Controller) dequeue(timeout time.Duration, timeoutOnDisconnect bool) (map[string]plcvalue.Value, bool) {
	hasDeadline := timeout > 0
	var deadline time.Time
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			diff := c.queue[0]
			c.queue = c.queue[1:]
			for k, v := range diff {
				c.state[k] = v
			}
			c.mu.Unlock()
			return diff, true
		}
		ready := c.ready
		c.mu.Unlock()

		if hasDeadline && !time.Now().Before(deadline) {
			return nil, false
		}
		if timeoutOnDisconnect && !c.IsConnected() {
			return nil, false
		}

		wait := dequeuePollInterval
		if hasDeadline {
			if remain := time.Until(deadline); remain < wait {
				wait = remain
			}
		}
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ready:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// WaitUntilConnected loops dequeuing (without short-circuiting on an
// already-disconnected start) until IsConnected holds, or the timeout
// budget is exhausted.
func (c *Controller) WaitUntilConnected(timeout time.Duration) bool {
	hasDeadline := timeout > 0
	var deadline time.Time
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for !c.IsConnected() {
		remaining := timeout
		if hasDeadline {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return false
			}
		}
		if _, ok := c.dequeue(remaining, false); !ok {
			return false
		}
	}
	return true
}

// WaitFor is the single-key convenience form of WaitForAny.
func (c *Controller) WaitFor(key string, value plcvalue.Value, timeout time.Duration) bool {
	return c.WaitForAny(map[string]plcvalue.Value{key: value}, timeout)
}

// WaitForAny is strictly edge-triggered: it only inspects freshly
// dequeued diffs, never state. If a key is already at the expected value
// and is never written again, WaitForAny will not return — including a
// write of the same value again, since Memory suppresses no-op writes
// (spec.md §3). A Null expected value matches any modification of that
// key.
func (c *Controller) WaitForAny(keyvalues map[string]plcvalue.Value, timeout time.Duration) bool {
	hasDeadline := timeout > 0
	var deadline time.Time
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for {
		remaining := timeout
		if hasDeadline {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return false
			}
		}

		diff, ok := c.dequeue(remaining, true)
		if !ok {
			return false
		}

		for key, modified := range diff {
			expected, relevant := keyvalues[key]
			if !relevant {
				continue
			}
			if expected.IsNull() || modified.Equal(expected) {
				return true
			}
		}
	}
}

// WaitUntil is the single-expectation, no-exception convenience form of
// WaitUntilAllUnless.
func (c *Controller) WaitUntil(key string, value plcvalue.Value, timeout time.Duration) bool {
	return c.WaitUntilAllUnless(
		map[string]plcvalue.Value{key: value},
		nil,
		timeout,
	)
}

// WaitUntilAllUnless is level-triggered with exception short-circuit
// (spec.md §4.3): it returns true as soon as either any exception
// key-value matches current state, or every expectation key-value
// matches current state. An expectation key absent from state is not a
// match. Between checks it blocks on any modification to a key that
// appears in expectations or exceptions — other writes are irrelevant.
func (c *Controller) WaitUntilAllUnless(expectations, exceptions map[string]plcvalue.Value, timeout time.Duration) bool {
	hasDeadline := timeout > 0
	var deadline time.Time
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for {
		c.Sync()
		state := c.stateSnapshot()

		if matchesAny(state, exceptions) {
			return true
		}
		if matchesAll(state, expectations) {
			return true
		}

		remaining := timeout
		if hasDeadline {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return false
			}
		}

		if !c.WaitForAny(union(expectations, exceptions), remaining) {
			return false
		}
	}
}

func matchesAll(state, want map[string]plcvalue.Value) bool {
	for k, v := range want {
		got, ok := state[k]
		if !ok || got.NotEqual(v) {
			return false
		}
	}
	return true
}

func matchesAny(state, want map[string]plcvalue.Value) bool {
	for k, v := range want {
		if got, ok := state[k]; ok && got.Equal(v) {
			return true
		}
	}
	return false
}

func union(a, b map[string]plcvalue.Value) map[string]plcvalue.Value {
	out := make(map[string]plcvalue.Value, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Get reads key from state (without draining the queue). An absent key
// returns def; a present key is returned as stored, whatever its variant.
// The typed getters below are the ones that fall back to def on a
// variant mismatch.
func (c *Controller) Get(key string, def plcvalue.Value) plcvalue.Value {
	c.mu.Lock()
	v, ok := c.state[key]
	c.mu.Unlock()
	if !ok {
		return def
	}
	return v
}

// GetString reads key from state as a string, returning def on a missing
// key or a variant mismatch.
func (c *Controller) GetString(key, def string) string {
	v := c.Get(key, plcvalue.String(def))
	if !v.IsString() {
		return def
	}
	return v.GetString()
}

// GetInteger reads key from state as an integer, returning def on a
// missing key or a variant mismatch.
func (c *Controller) GetInteger(key string, def int32) int32 {
	v := c.Get(key, plcvalue.Integer(def))
	if !v.IsInteger() {
		return def
	}
	return v.GetInteger()
}

// GetBoolean reads key from state as a boolean, returning def on a
// missing key or a variant mismatch.
func (c *Controller) GetBoolean(key string, def bool) bool {
	v := c.Get(key, plcvalue.Boolean(def))
	if !v.IsBoolean() {
		return def
	}
	return v.GetBoolean()
}

// SyncAndGet calls Sync, then Get.
func (c *Controller) SyncAndGet(key string, def plcvalue.Value) plcvalue.Value {
	c.Sync()
	return c.Get(key, def)
}

// SyncAndGetString calls Sync, then GetString.
func (c *Controller) SyncAndGetString(key, def string) string {
	c.Sync()
	return c.GetString(key, def)
}

// SyncAndGetInteger calls Sync, then GetInteger.
func (c *Controller) SyncAndGetInteger(key string, def int32) int32 {
	c.Sync()
	return c.GetInteger(key, def)
}

// SyncAndGetBoolean calls Sync, then GetBoolean.
func (c *Controller) SyncAndGetBoolean(key string, def bool) bool {
	c.Sync()
	return c.GetBoolean(key, def)
}

// Set delegates to Memory.Write for a single key. Memory will notify
// observers, including this Controller, which sees its own write as an
// ordinary enqueued diff — Set never suppresses self-originated
// notifications (spec.md §9).
func (c *Controller) Set(key string, value plcvalue.Value) {
	c.memory.Write(map[string]plcvalue.Value{key: value})
}

// SetAll delegates a multi-key write to Memory.Write.
func (c *Controller) SetAll(keyvalues map[string]plcvalue.Value) {
	c.memory.Write(keyvalues)
}

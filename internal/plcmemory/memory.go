// Package plcmemory implements the concurrent keyed Value store described
// in spec.md §3/§4.2: atomic read-subset and diff-write operations over an
// observer registry, with the newly-attached-observer "full snapshot"
// guarantee of AddObserver.
package plcmemory

import (
	"sync"

	"github.com/mujin/goplc/internal/plcvalue"
)

// Observer is the single capability spec.md §3 requires: receive a
// non-empty key->Value diff representing the last change set. Implemented
// by plccontroller.Controller and by any user-supplied logger.
type Observer interface {
	MemoryModified(diff map[string]plcvalue.Value)
}

// Memory is a concurrent mapping from string key to Value, monotonically
// key-growing per spec.md §3's invariant (keys are never removed once
// present; only their value's variant may change across writes).
//
// dataMu guards entries and the observer list, and is held only for the
// duration of a Read, or of computing a Write's diff. Dispatch order
// (the sequence in which concurrent commits hand their diff to
// observers) is fixed by a ticket turnstile instead: a ticket is drawn
// while dataMu is still held — so ticket order matches dataMu critical
// section order, i.e. commit order — but dataMu is released before a
// commit waits for its turn. The Observer.MemoryModified calls
// themselves run with no Memory lock held at all, so a reentrant
// observer that calls back into Read (or a concurrent commit that is
// itself waiting for its turn) can never form a lock cycle against a
// goroutine that is mid-dispatch. See spec.md §5 for the ordering
// guarantee this implements, grounded on the take-a-ticket-then-wait
// idiom of a sync.Cond bound to its own mutex (cf. the warm-VM pool's
// "sync.Cond on the write lock... to wake goroutines waiting for a VM").
type Memory struct {
	dataMu sync.Mutex

	entries   map[string]plcvalue.Value
	observers []Observer

	turnMu     sync.Mutex
	turnCond   *sync.Cond
	nextTicket uint64
	nowServing uint64

	onWrite func(diffSize int)
}

// OnWrite installs fn to be called once per Write, after the diff is
// computed but before dispatch, with the number of keys actually
// modified (0 for a no-op write). Used by internal/plcmetrics to
// publish plc_memory_writes_total / plc_memory_noop_writes_total /
// plc_memory_write_diff_size without this package depending on it.
func (m *Memory) OnWrite(fn func(diffSize int)) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.onWrite = fn
}

// New returns an empty Memory.
func New() *Memory {
	m := &Memory{entries: make(map[string]plcvalue.Value)}
	m.turnCond = sync.NewCond(&m.turnMu)
	return m
}

// Read returns the current values for exactly the keys that exist, as a
// single atomic snapshot with respect to concurrent writers. Missing keys
// are silently omitted.
func (m *Memory) Read(keys []string) map[string]plcvalue.Value {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()

	out := make(map[string]plcvalue.Value, len(keys))
	for _, k := range keys {
		if v, ok := m.entries[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Write inserts absent keys and replaces present keys whose stored value
// structurally differs from the input. Keys whose input value equals the
// stored value produce no modification and, if the whole write is such a
// no-op, no observer notification at all (spec.md §4.2, §8 scenario 2).
func (m *Memory) Write(keyvalues map[string]plcvalue.Value) {
	diff, obs, ticket, ok := m.commit(keyvalues)
	if !ok {
		return
	}
	m.dispatch(diff, obs, ticket)
}

// commit applies keyvalues under dataMu and computes the modifications
// diff. If the diff is non-empty it also draws this write's dispatch
// ticket before releasing dataMu, so ticket order matches the order in
// which writers' dataMu critical sections ran — but drawing a ticket
// never blocks, so dataMu is held only as long as Read needs it.
func (m *Memory) commit(keyvalues map[string]plcvalue.Value) (diff map[string]plcvalue.Value, observers []Observer, ticket uint64, ok bool) {
	m.dataMu.Lock()

	for key, value := range keyvalues {
		existing, present := m.entries[key]
		if !present || existing.NotEqual(value) {
			m.entries[key] = value
			if diff == nil {
				diff = make(map[string]plcvalue.Value, len(keyvalues))
			}
			diff[key] = value
		}
	}
	if len(diff) == 0 {
		onWrite := m.onWrite
		m.dataMu.Unlock()
		if onWrite != nil {
			onWrite(0)
		}
		return nil, nil, 0, false
	}

	observers = make([]Observer, len(m.observers))
	copy(observers, m.observers)
	ticket = m.drawTicket()
	onWrite := m.onWrite
	m.dataMu.Unlock()
	if onWrite != nil {
		onWrite(len(diff))
	}
	return diff, observers, ticket, true
}

// drawTicket returns the next dispatch ticket. Cheap and non-blocking —
// safe to call while dataMu is held.
func (m *Memory) drawTicket() uint64 {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()
	t := m.nextTicket
	m.nextTicket++
	return t
}

// dispatch waits for ticket's turn, delivers diff to observers, then
// advances the turnstile so the next ticket can proceed. Called with no
// Memory lock held, so a reentrant observer calling back into Read (or
// a concurrent commit waiting for its own turn) never blocks behind
// this call.
func (m *Memory) dispatch(diff map[string]plcvalue.Value, observers []Observer, ticket uint64) {
	m.awaitTurn(ticket)
	for _, o := range observers {
		o.MemoryModified(diff)
	}
	m.advanceTurn()
}

func (m *Memory) awaitTurn(ticket uint64) {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()
	for m.nowServing != ticket {
		m.turnCond.Wait()
	}
}

func (m *Memory) advanceTurn() {
	m.turnMu.Lock()
	m.nowServing++
	m.turnCond.Broadcast()
	m.turnMu.Unlock()
}

// AddObserver registers observer, then — without holding dataMu — delivers
// a synthetic initial diff consisting of Memory's full current contents to
// that observer alone, iff Memory is non-empty. This guarantees a newly
// attached observer sees the complete current state before any subsequent
// incremental diff (spec.md §4.2, §8 scenario 1), because the initial send
// draws a ticket in the same turnstile as concurrent Writes, in the same
// dataMu critical section that registers the observer.
func (m *Memory) AddObserver(o Observer) {
	m.dataMu.Lock()
	m.observers = append(m.observers, o)

	var initial map[string]plcvalue.Value
	var ticket uint64
	hasInitial := len(m.entries) > 0
	if hasInitial {
		initial = make(map[string]plcvalue.Value, len(m.entries))
		for k, v := range m.entries {
			initial[k] = v
		}
		ticket = m.drawTicket()
	}
	m.dataMu.Unlock()

	if hasInitial {
		m.awaitTurn(ticket)
		o.MemoryModified(initial)
		m.advanceTurn()
	}
}

// RemoveObserver deregisters observer. Go has no weak references; this is
// the explicit-deregistration compliance path spec.md §9 allows for
// implementations lacking them ("an explicit deregistration step at
// Controller teardown"). A no-op if observer was never registered.
func (m *Memory) RemoveObserver(o Observer) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	for i, existing := range m.observers {
		if existing == o {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			return
		}
	}
}

// Len reports the number of keys currently stored. Diagnostic only (used
// by plcmetrics' poller); takes no part in the write/notify contract.
func (m *Memory) Len() int {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	return len(m.entries)
}

// ObserverCount reports the number of currently registered observers.
// Diagnostic only, like Len and Keys.
func (m *Memory) ObserverCount() int {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	return len(m.observers)
}

// Keys returns a snapshot of all keys currently stored, in no particular
// order.
func (m *Memory) Keys() []string {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

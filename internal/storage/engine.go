package storage

import (
	"context"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// Engine is the sharded in-memory store. The shard count is fixed at
// construction; the key to shard mapping is murmur3(key) mod shard count
// and stays stable for the process lifetime.
type Engine struct {
	shards []*shard
}

// shard owns one slice of the keyspace: its entries plus the per-key
// registry of BLPop waiters. Both are guarded by mu.
type shard struct {
	mu      sync.Mutex
	items   map[string]*Value
	waiters map[string][]chan struct{}
}

// New creates an engine with the given number of shards, clamped to at
// least 1.
func New(shardCount int) *Engine {
	if shardCount < 1 {
		shardCount = 1
	}

	e := &Engine{shards: make([]*shard, shardCount)}
	for i := range e.shards {
		e.shards[i] = &shard{
			items:   make(map[string]*Value),
			waiters: make(map[string][]chan struct{}),
		}
	}
	return e
}

// ShardCount returns the number of shards.
func (e *Engine) ShardCount() int {
	return len(e.shards)
}

func (e *Engine) shardFor(key string) *shard {
	h := murmur3.Sum64([]byte(key))
	return e.shards[h%uint64(len(e.shards))]
}

// Get returns the string value stored under key. The second return is
// false when the key does not exist. A key holding a list yields
// ErrWrongType.
func (e *Engine) Get(key string) ([]byte, bool, error) {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	if v.Kind != KindString {
		return nil, false, ErrWrongType
	}
	return v.Str, true, nil
}

// Set stores value under key, unconditionally replacing any prior value
// regardless of its kind.
func (e *Engine) Set(key string, value []byte) {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = newStringValue(value)
}

// Delete removes key and reports whether it existed.
func (e *Engine) Delete(key string) bool {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return ok
}

// Exists reports whether key is present, regardless of kind.
func (e *Engine) Exists(key string) bool {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.items[key]
	return ok
}

// Len returns the total number of keys across all shards.
func (e *Engine) Len() int {
	n := 0
	for _, s := range e.shards {
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}

// BlockedWaiters returns the number of registered BLPop waiter entries
// across all shards. Exposed for the metrics collector.
func (e *Engine) BlockedWaiters() int {
	n := 0
	for _, s := range e.shards {
		s.mu.Lock()
		for _, ws := range s.waiters {
			n += len(ws)
		}
		s.mu.Unlock()
	}
	return n
}

// LPush prepends values to the list at key, creating it if absent, and
// returns the new length. Values are prepended one by one, so
// LPush(k, a, b) yields [b, a, ...].
func (e *Engine) LPush(key string, values ...[]byte) (int, error) {
	return e.push(key, values, true)
}

// RPush appends values to the list at key, creating it if absent, and
// returns the new length.
func (e *Engine) RPush(key string, values ...[]byte) (int, error) {
	return e.push(key, values, false)
}

func (e *Engine) push(key string, values [][]byte, left bool) (int, error) {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.items[key]
	switch {
	case !ok:
		v = newListValue()
		s.items[key] = v
	case v.Kind != KindList:
		return 0, ErrWrongType
	}

	if left {
		for _, elem := range values {
			v.List = append([][]byte{elem}, v.List...)
		}
	} else {
		v.List = append(v.List, values...)
	}

	// Wake waiters only after the elements are in the map. Sends are
	// non-blocking: each waiter channel has capacity 1 and a pending
	// signal is as good as two.
	for _, ch := range s.waiters[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}

	return len(v.List), nil
}

// LPop removes and returns the head of the list at key. The second
// return is false when the key is absent or the list is empty. A list
// drained to zero elements is removed from the map.
func (e *Engine) LPop(key string) ([]byte, bool, error) {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.popHead(key)
}

// popHead pops one element from the list at key. Caller holds s.mu.
func (s *shard) popHead(key string) ([]byte, bool, error) {
	v, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	if v.Kind != KindList {
		return nil, false, ErrWrongType
	}
	if len(v.List) == 0 {
		delete(s.items, key)
		return nil, false, nil
	}

	head := v.List[0]
	v.List = v.List[1:]
	if len(v.List) == 0 {
		delete(s.items, key)
	}
	return head, true, nil
}

// LPopN removes and returns up to n elements from the head of the list
// at key. The second return is false when the key is absent.
func (e *Engine) LPopN(key string, n int) ([][]byte, bool, error) {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	if v.Kind != KindList {
		return nil, false, ErrWrongType
	}

	if n > len(v.List) {
		n = len(v.List)
	}
	if n < 0 {
		n = 0
	}

	popped := v.List[:n:n]
	v.List = v.List[n:]
	if len(v.List) == 0 {
		delete(s.items, key)
	}
	return popped, true, nil
}

// LLen returns the length of the list at key; a missing key counts as an
// empty list.
func (e *Engine) LLen(key string) (int, error) {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.items[key]
	if !ok {
		return 0, nil
	}
	if v.Kind != KindList {
		return 0, ErrWrongType
	}
	return len(v.List), nil
}

// LRange returns the elements of the list at key between start and stop
// inclusive. Negative indices count from the tail, Redis style; out of
// range indices are clamped. A missing key yields ErrNoSuchList.
func (e *Engine) LRange(key string, start, stop int) ([][]byte, error) {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.items[key]
	if !ok {
		return nil, ErrNoSuchList
	}
	if v.Kind != KindList {
		return nil, ErrWrongType
	}
	if len(v.List) == 0 {
		return nil, nil
	}

	start = normalizeRangeIndex(start, len(v.List), true)
	stop = normalizeRangeIndex(stop, len(v.List), false)
	if start == len(v.List) || start > stop {
		return nil, nil
	}

	out := make([][]byte, stop-start+1)
	copy(out, v.List[start:stop+1])
	return out, nil
}

// normalizeRangeIndex maps a possibly negative Redis range index onto
// [0, n] for a start index or [0, n-1] for a stop index, where n is the
// list length.
func normalizeRangeIndex(i, n int, start bool) int {
	if i < 0 {
		i += n
		if i < 0 {
			i = 0
		}
		return i
	}
	limit := n - 1
	if start {
		limit = n
	}
	if i > limit {
		i = limit
	}
	return i
}

// BLPop pops the head of the first non-empty list among keys, checked in
// the given order. When all candidates are empty it suspends the caller
// until a concurrent push lands on one of them, the timeout elapses, or
// ctx is cancelled. A zero timeout blocks indefinitely.
//
// The bool reports whether an element was delivered. It is false on
// timeout, which is a normal outcome, not an error. A delivered element
// may itself be nil, so the value alone cannot signal a miss. On
// cancellation the context error is returned so the caller can tear the
// connection down.
func (e *Engine) BLPop(ctx context.Context, keys []string, timeout time.Duration) (string, []byte, bool, error) {
	// Fast path: no registration, no blocking.
	if key, val, ok, err := e.tryPopAny(keys); err != nil || ok {
		return key, val, ok, err
	}

	// Slow path: one signal channel for the whole call, registered under
	// every candidate key. Capacity 1 so a push never blocks on a waiter
	// that is busy re-checking.
	ready := make(chan struct{}, 1)
	e.registerWaiter(keys, ready)
	defer e.deregisterWaiter(keys, ready)

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		// Re-check before sleeping: a push may have landed between the
		// failed fast path and waiter registration, and a signal only
		// means "worth re-checking" - another waiter may have taken the
		// element first.
		key, val, ok, err := e.tryPopAny(keys)
		if err != nil || ok {
			return key, val, ok, err
		}

		select {
		case <-ready:
		case <-timeoutC:
			return "", nil, false, nil
		case <-ctx.Done():
			return "", nil, false, ctx.Err()
		}
	}
}

// tryPopAny attempts a non-blocking head pop on each key in order and
// returns the first hit. Candidate keys holding a string fail the whole
// call with ErrWrongType.
func (e *Engine) tryPopAny(keys []string) (string, []byte, bool, error) {
	for _, key := range keys {
		s := e.shardFor(key)
		s.mu.Lock()
		val, ok, err := s.popHead(key)
		s.mu.Unlock()
		if err != nil {
			return "", nil, false, err
		}
		if ok {
			return key, val, true, nil
		}
	}
	return "", nil, false, nil
}

// registerWaiter adds ch to the waiter registry of every candidate key,
// taking one shard lock at a time in the caller-supplied key order.
func (e *Engine) registerWaiter(keys []string, ch chan struct{}) {
	for _, key := range keys {
		s := e.shardFor(key)
		s.mu.Lock()
		s.waiters[key] = append(s.waiters[key], ch)
		s.mu.Unlock()
	}
}

// deregisterWaiter removes ch from every candidate key's registry. It is
// called on every BLPop exit path and tolerates entries already gone.
func (e *Engine) deregisterWaiter(keys []string, ch chan struct{}) {
	for _, key := range keys {
		s := e.shardFor(key)
		s.mu.Lock()
		ws := s.waiters[key]
		for i, w := range ws {
			if w == ch {
				ws = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		if len(ws) == 0 {
			delete(s.waiters, key)
		} else {
			s.waiters[key] = ws
		}
		s.mu.Unlock()
	}
}

package flowbus

import (
	"container/list"
	"reflect"
	"sync"
	"sync/atomic"
)

// handlerSlot pairs one handler instance with its in-flight counter.
// The counter only moves through tryAcquire and release and stays in
// [0, limit].
type handlerSlot struct {
	handler  any
	inFlight atomic.Int32
}

// tryAcquire takes a permit if fewer than limit calls are in flight.
func (s *handlerSlot) tryAcquire(limit int) bool {
	for {
		cur := s.inFlight.Load()
		if int(cur) >= limit {
			return false
		}
		if s.inFlight.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// release returns a permit. It never takes the counter below zero.
func (s *handlerSlot) release() {
	for {
		cur := s.inFlight.Load()
		if cur <= 0 {
			return
		}
		if s.inFlight.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

func (s *handlerSlot) active() int {
	return int(s.inFlight.Load())
}

// handlerPool holds the slots registered for one event type.
// The mutex guards only list operations; handlers always run unlocked.
type handlerPool struct {
	mu    sync.Mutex
	slots *list.List // of *handlerSlot, head first

	// ready is closed while the pool is non-empty and replaced when it
	// drains.
	ready chan struct{}
}

func newHandlerPool() *handlerPool {
	return &handlerPool{
		slots: list.New(),
		ready: make(chan struct{}),
	}
}

// register adds a slot for handler at the head.
func (p *handlerPool) register(handler any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.slots.PushFront(&handlerSlot{handler: handler})
	if p.slots.Len() == 1 {
		close(p.ready)
	}
}

// unregister removes every slot holding handler. It reports how many were
// removed.
func (p *handlerPool) unregister(handler any) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for el := p.slots.Front(); el != nil; {
		next := el.Next()
		if sameInstance(el.Value.(*handlerSlot).handler, handler) {
			p.slots.Remove(el)
			removed++
		}
		el = next
	}
	if removed > 0 && p.slots.Len() == 0 {
		p.ready = make(chan struct{})
	}
	return removed
}

// acquire makes one pass over the slots present when it starts. Each visited
// slot moves from the head to the tail, so the next scan starts after the
// slot handed out here. Returns nil when every slot is at its limit.
func (p *handlerPool) acquire(limit int) *handlerSlot {
	n := p.len()
	for i := 0; i < n; i++ {
		s := p.rotate()
		if s == nil {
			return nil
		}
		if s.tryAcquire(limit) {
			return s
		}
	}
	return nil
}

// rotate moves the head slot to the tail and returns it.
func (p *handlerPool) rotate() *handlerSlot {
	p.mu.Lock()
	defer p.mu.Unlock()

	el := p.slots.Front()
	if el == nil {
		return nil
	}
	p.slots.MoveToBack(el)
	return el.Value.(*handlerSlot)
}

// snapshot returns the slots in pool order.
func (p *handlerPool) snapshot() []*handlerSlot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*handlerSlot, 0, p.slots.Len())
	for el := p.slots.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*handlerSlot))
	}
	return out
}

func (p *handlerPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots.Len()
}

// readyCh returns a channel that is closed once the pool is non-empty.
func (p *handlerPool) readyCh() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// sameInstance compares handlers by identity. Pointer-like values that
// are not comparable with == (funcs, maps, slices) compare by address.
// Value types whose interface fields hold such values compare deeply,
// since == would panic on them.
func sameInstance(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ta.Comparable() {
		if va.Comparable() && vb.Comparable() {
			return a == b
		}
		return reflect.DeepEqual(a, b)
	}
	switch va.Kind() {
	case reflect.Func, reflect.Map, reflect.Slice, reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	}
	return false
}

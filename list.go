package microkernel

import (
	singlist "github.com/sagernet/sing/common/list"
)

// This file gives every subsystem that needs a linked queue with O(1)
// removal (PCB thread lists, listener request queues) one typed, owner-
// tagged container, instead of raw doubly-linked pointer surgery repeated
// per subsystem. sing/common/list already provides a generic doubly linked
// list with O(1) removal given the element handle; queue[T] adds the owner
// back-pointer and the handle type on top of it.

// Handle is an opaque reference to a queued value, carrying its owner.
// Removing an item from a queue only requires the Handle, never a linear
// search.
type Handle[T any] struct {
	elem  *singlist.Element[T]
	owner any
}

// Valid reports whether the handle still designates a linked element.
func (h *Handle[T]) Valid() bool { return h != nil && h.elem != nil }

// queue is a typed, owner-tagged FIFO built on sing's generic list. All
// mutation happens under the kernel's big lock, so queue itself holds no
// lock of its own.
type queue[T any] struct {
	l     *singlist.List[T]
	owner any
}

func newQueue[T any](owner any) *queue[T] {
	return &queue[T]{l: singlist.New[T](), owner: owner}
}

// PushBack enqueues v and returns a handle that can later be removed in
// O(1), the way a connection_request node is linked into a listener's
// queue and later unlinked by either Accept or a timed-out Connect.
func (q *queue[T]) PushBack(v T) *Handle[T] {
	e := q.l.PushBack(v)
	return &Handle[T]{elem: e, owner: q.owner}
}

// PopFront removes and returns the head element, FIFO order, used by
// Accept to pop connection requests in arrival order.
func (q *queue[T]) PopFront() (T, bool) {
	var zero T
	front := q.l.Front()
	if front == nil {
		return zero, false
	}
	v := front.Value
	q.l.Remove(front)
	return v, true
}

// Remove unlinks the element referenced by h, a no-op if it was already
// removed (idempotent, matching a timed-out Connect racing an Accept that
// already popped the same request).
func (q *queue[T]) Remove(h *Handle[T]) {
	if h == nil || h.elem == nil {
		return
	}
	q.l.Remove(h.elem)
	h.elem = nil
}

// RemoveValue unlinks the first element satisfying pred, reporting whether
// one was found. Used where the caller holds a value (a *PTCB, a *Process)
// rather than the Handle returned at insertion time.
func (q *queue[T]) RemoveValue(pred func(T) bool) bool {
	for e := q.l.Front(); e != nil; e = e.Next() {
		if pred(e.Value) {
			q.l.Remove(e)
			return true
		}
	}
	return false
}

func (q *queue[T]) Len() int { return q.l.Len() }

func (q *queue[T]) Empty() bool { return q.l.Len() == 0 }

// Each calls fn for every queued value, front to back; used for PCB thread
// list scans (ThreadJoin's "resolve tid by searching CURPROC's PTCB list").
func (q *queue[T]) Each(fn func(v T) bool) {
	for e := q.l.Front(); e != nil; e = e.Next() {
		if !fn(e.Value) {
			return
		}
	}
}

// refcounted is embedded by every reference-counted kernel object (PTCB,
// FCB, socket_cb). A non-atomic counter is correct here only because every
// mutation happens under the kernel's big lock; this type does not provide
// its own locking.
type refcounted struct {
	n int
}

func (r *refcounted) incref() { r.n++ }

// decref decrements and returns the new count. Callers are responsible for
// tearing the object down once the count reaches zero -- refcounted itself
// has no destructor hook, since the three owners (PTCB, FCB, socket_cb)
// each free differently.
func (r *refcounted) decref() int {
	if r.n <= 0 {
		panic("microkernel: refcount underflow")
	}
	r.n--
	return r.n
}

func (r *refcounted) refcount() int { return r.n }

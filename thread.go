package microkernel

import (
	"context"
	"runtime"
)

// Tid_t is the opaque thread identity: a pointer to its PTCB.
type Tid_t = *PTCB

// TaskFunc is a thread's entry point. Go goroutines have no ambient
// "current thread", so identity is carried explicitly via ctx instead of a
// global ThreadSelf() -- the idiomatic Go substitute for thread-local
// storage. ThreadSelf(ctx) recovers it.
type TaskFunc func(ctx context.Context, argl int, args []byte) int

type threadSelfKey struct{}

// ThreadSelf returns the identity of the thread running ctx, the identity
// CreateThread's trampoline installs before invoking the task.
func ThreadSelf(ctx context.Context) Tid_t {
	t, _ := ctx.Value(threadSelfKey{}).(Tid_t)
	return t
}

// PTCB is the user-visible thread handle: entry task, argl, args, exit
// status, and join synchronization, surviving past thread termination
// until every joiner has observed the exit value.
type PTCB struct {
	refcounted

	proc *Process
	k    *Kernel

	task TaskFunc
	argl int
	args []byte

	exitval  int
	exited   bool
	detached bool

	exitCV *cond
}

// CreateThread spawns a new thread inside p running task(argl, args). The
// PTCB is created with refcount 1 (the live thread's own reference), linked
// into p's thread list, and the thread is started as a goroutine running a
// trampoline that finishes by calling ThreadExit.
func (k *Kernel) CreateThread(ctx context.Context, p *Process, task TaskFunc, argl int, args []byte) Tid_t {
	k.mu.Lock()

	t := &PTCB{
		proc:   p,
		k:      k,
		task:   task,
		argl:   argl,
		args:   args,
		exitCV: newCond(&k.mu),
	}
	t.refcounted.n = 1

	p.threads.PushBack(t)
	p.threadCount++

	k.mu.Unlock()

	childCtx := context.WithValue(ctx, threadSelfKey{}, t)
	go func() {
		retval := task(childCtx, argl, args)
		k.ThreadExit(childCtx, retval)
	}()

	klog.WithField("pid", p.pid).Debug("thread created")
	return t
}

// ThreadJoin fails for tid==nil or tid==self, fails if tid does not belong
// to p, fails if the target is already exited or detached, otherwise
// blocks until the target exits or detaches.
func (k *Kernel) ThreadJoin(ctx context.Context, p *Process, tid Tid_t) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if tid == nil || tid == ThreadSelf(ctx) {
		return -1, ErrSelfJoin
	}

	found := false
	p.threads.Each(func(c *PTCB) bool {
		if c == tid {
			found = true
			return false
		}
		return true
	})
	if !found {
		return -1, ErrNoSuchThread
	}

	if tid.exited || tid.detached {
		return -1, ErrAlreadyExited
	}

	tid.incref()

	for !(tid.exited || tid.detached) {
		tid.exitCV.wait()
	}

	if tid.detached {
		tid.decref()
		return -1, ErrAlreadyExited
	}

	exitval := tid.exitval
	if tid.decref() == 0 {
		unlinkPTCBLocked(p, tid)
	}
	return exitval, nil
}

// ThreadDetach fails if tid does not belong to p, otherwise sets detached
// (monotonic) and broadcasts exit_cv so blocked joiners wake and observe
// the detach.
func (k *Kernel) ThreadDetach(p *Process, tid Tid_t) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	found := false
	p.threads.Each(func(c *PTCB) bool {
		if c == tid {
			found = true
			return false
		}
		return true
	})
	if !found {
		return ErrNoSuchThread
	}
	if tid.exited {
		return ErrAlreadyExited
	}

	tid.detached = true
	tid.exitCV.broadcast()
	return nil
}

// ThreadExit stores exitval, marks exited, decrements the process thread
// count and the PTCB's own reference, broadcasts exit_cv, and -- if this
// was the process's last thread -- performs process teardown. It never
// returns: the calling goroutine terminates via runtime.Goexit() after
// kernel bookkeeping completes.
func (k *Kernel) ThreadExit(ctx context.Context, exitval int) {
	k.mu.Lock()

	self := ThreadSelf(ctx)
	p := self.proc

	self.exitval = exitval
	self.exited = true
	p.threadCount--
	lastRef := self.decref() == 0
	self.exitCV.broadcast()

	if p.threadCount == 0 {
		p.teardownLocked()
	}

	if lastRef {
		unlinkPTCBLocked(p, self)
	}

	klog.WithField("pid", p.pid).Debug("thread exited")
	k.mu.Unlock()

	runtime.Goexit()
}

// unlinkPTCBLocked removes a fully-dereferenced, exited PTCB from its
// process's thread list. Must be called with k.mu held.
func unlinkPTCBLocked(p *Process, t *PTCB) {
	p.threads.RemoveValue(func(c *PTCB) bool { return c == t })
}

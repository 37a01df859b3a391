// Package microkernel implements the core kernel abstractions of a small
// educational operating system: user-level thread management within a
// process, a uniform byte-stream FCB layer, a bounded pipe, and a TCP-like
// local socket layer.
//
// The low-level thread dispatcher, context switch, timer interrupts, process
// lifecycle (fork/exec/wait), device drivers, boot, and the system-call trap
// layer are external collaborators and out of scope here. In their place,
// every blocking operation below runs as an ordinary goroutine cooperating
// through the kernel's own big lock and condition variables -- Go's runtime
// scheduler stands in for the dispatcher.
package microkernel

import (
	"sync"
	"time"
)

// Kernel is the single big-lock domain all operations in this package
// execute under: one mutex provides mutual exclusion to all kernel data.
// One Kernel hosts one port map and is the parent of every Process created
// against it.
type Kernel struct {
	mu     sync.Mutex
	config *Config

	portMap []*socketCB // portMap[0] unused (NoPort)

	initProcess *Process
	nextPid     int
	processes   map[int]*Process
}

// NewKernel constructs a Kernel; cfg may be nil to use DefaultConfig().
func NewKernel(cfg *Config) (*Kernel, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	k := &Kernel{
		config:    cfg,
		portMap:   make([]*socketCB, cfg.MaxPort+1),
		processes: make(map[int]*Process),
	}
	k.initProcess = k.newProcessLocked(nil)
	klog.WithField("max_port", cfg.MaxPort).Debug("kernel started")
	return k, nil
}

// cond is a broadcast-based condition variable bound to a Kernel's big lock,
// built on the same close-a-channel-to-broadcast idiom used for shutdown
// signaling elsewhere. Every wait atomically releases the lock and
// reacquires it on wake.
//
// signal and broadcast are the same operation here: closing and replacing
// the channel wakes every current waiter. This is always a safe
// strengthening of "wake one" because every wait site in this package is a
// `for !predicate { wait() }` loop: an over-woken goroutine simply
// re-checks its predicate and, finding it false, waits again.
type cond struct {
	mu *sync.Mutex
	ch chan struct{}
}

func newCond(mu *sync.Mutex) *cond {
	return &cond{mu: mu, ch: make(chan struct{})}
}

// wait releases mu, blocks until the next broadcast/signal, then reacquires
// mu. Callers must hold mu and must re-check their predicate on return.
func (c *cond) wait() {
	ch := c.ch
	c.mu.Unlock()
	<-ch
	c.mu.Lock()
}

// waitTimeout is wait with a deadline; d < 0 means wait forever. Returns
// false if the deadline elapsed before a broadcast/signal.
func (c *cond) waitTimeout(d time.Duration) bool {
	ch := c.ch
	c.mu.Unlock()
	defer c.mu.Lock()

	if d < 0 {
		<-ch
		return true
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

// broadcast wakes every waiter. Callers must hold mu.
func (c *cond) broadcast() {
	close(c.ch)
	c.ch = make(chan struct{})
}

// signal is an alias for broadcast; see the cond doc comment.
func (c *cond) signal() { c.broadcast() }

// Stats is read-only kernel introspection: a point-in-time occupancy count,
// the same kind of simple diagnostic a session-oriented type would expose
// as a stream or connection count.
type Stats struct {
	Processes    int
	LiveThreads  int
	OpenFiles    int
	ListenerPort []int
}

// Stats reports a point-in-time snapshot of kernel occupancy.
func (k *Kernel) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()

	var s Stats
	s.Processes = len(k.processes)
	for _, p := range k.processes {
		s.LiveThreads += p.threadCount
		for _, fcb := range p.fileTable {
			if fcb != nil {
				s.OpenFiles++
			}
		}
	}
	for port, sock := range k.portMap {
		if sock != nil {
			s.ListenerPort = append(s.ListenerPort, port)
		}
	}
	return s
}

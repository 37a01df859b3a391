package microkernel

// Process is the PCB: it owns a fixed-size file-id table, the list of
// PTCBs running inside it, a thread count, a parent pointer, and
// child/exited lists. Fork/exec/wait -- the syscalls that create, replace,
// and reap processes -- are external collaborators and not implemented
// here; NewProcess exists only so tests can exercise the cross-process
// checks ThreadJoin/ThreadDetach make, and so ThreadExit's process-teardown
// branch has somewhere real to reparent children and post an exit to.
type Process struct {
	kernel *Kernel
	pid    int

	fileTable []*FCB // indices [0, MaxFileID)

	threads     *queue[*PTCB]
	threadCount int

	parent   *Process
	children *queue[*Process]
	exited   *queue[*Process]

	zombie bool
}

func (k *Kernel) newProcessLocked(parent *Process) *Process {
	k.nextPid++
	p := &Process{
		kernel:    k,
		pid:       k.nextPid,
		fileTable: make([]*FCB, k.config.MaxFileID),
		threads:   newQueue[*PTCB](nil),
		children:  newQueue[*Process](nil),
		exited:    newQueue[*Process](nil),
		parent:    parent,
	}
	p.threads.owner = p
	p.children.owner = p
	p.exited.owner = p
	k.processes[p.pid] = p
	if parent != nil {
		parent.children.PushBack(p)
	}
	return p
}

// NewProcess creates a fresh process rooted at the kernel's init process
// (or at an explicit parent), the way a test harness would simulate
// fork()'s effect on PCB bookkeeping without implementing fork itself.
func (k *Kernel) NewProcess(parent *Process) *Process {
	k.mu.Lock()
	defer k.mu.Unlock()
	if parent == nil {
		parent = k.initProcess
	}
	return k.newProcessLocked(parent)
}

// Pid returns the process's identifier.
func (p *Process) Pid() int { return p.pid }

// teardownLocked runs when the process's last thread exits: children
// are reparented to the kernel's init process, the process's own exited
// children are appended to init's exited list, this process is appended to
// its own parent's exited list, and every live FCB in the file-id table is
// released. Neither init nor the parent is signalled: Process has no
// condition variable for a waiter to block on. Must be called with k.mu
// held.
func (p *Process) teardownLocked() {
	init := p.kernel.initProcess

	p.children.Each(func(child *Process) bool {
		child.parent = init
		init.children.PushBack(child)
		return true
	})

	p.exited.Each(func(exitedChild *Process) bool {
		init.exited.PushBack(exitedChild)
		return true
	})

	if p.parent != nil {
		p.parent.exited.PushBack(p)
	}

	for i, fcb := range p.fileTable {
		if fcb == nil {
			continue
		}
		p.fileTable[i] = nil
		fcbDecrefLocked(fcb)
	}

	p.zombie = true
	klog.WithField("pid", p.pid).Debug("process reaped")
}

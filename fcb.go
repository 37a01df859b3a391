package microkernel

import "sync"

// Fid_t is a per-process file-id, an index into Process.fileTable.
type Fid_t int

// streamFunc is the FCB's operation vector (read, write, close), dispatched
// by Read/Write/Close below. Pipes and sockets each install their own
// streamFunc when reserved.
type streamFunc struct {
	read  func(streamObj any, buf []byte) (int, error)
	write func(streamObj any, buf []byte) (int, error)
	close func(streamObj any) error
}

// FCB is the File Control Block: a reference-counted handle to an opaque
// stream object plus its operation vector, drawn from a process-global
// pool.
type FCB struct {
	refcounted
	streamObj  any
	streamFunc streamFunc
}

// fcbPool recycles FCB objects the way an aiocb pool recycles I/O control
// blocks: a sync.Pool keyed on the struct's zero value.
var fcbPool = sync.Pool{New: func() any { return new(FCB) }}

// Reserve atomically allocates n free file-ids in p and n FCBs from the
// pool; on success each FCB has refcount 1 and fcbs[i] is installed at
// file-id fids[i]. On any shortage, no state changes.
func (k *Kernel) Reserve(p *Process, n int) (fids []Fid_t, fcbs []*FCB, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return p.reserveLocked(n)
}

func (p *Process) reserveLocked(n int) ([]Fid_t, []*FCB, error) {
	fids := make([]Fid_t, 0, n)
	for i := 0; i < len(p.fileTable) && len(fids) < n; i++ {
		if p.fileTable[i] == nil {
			fids = append(fids, Fid_t(i))
		}
	}
	if len(fids) < n {
		return nil, nil, ErrResourceExhausted
	}

	fcbs := make([]*FCB, n)
	for i := 0; i < n; i++ {
		fcb := fcbPool.Get().(*FCB)
		*fcb = FCB{}
		fcb.refcounted.n = 1
		fcbs[i] = fcb
	}

	for i, fid := range fids {
		p.fileTable[fid] = fcbs[i]
	}
	return fids, fcbs, nil
}

// Unreserve is the inverse of Reserve without invoking close: it clears the
// file-id slots and returns the FCBs to the pool directly.
func (k *Kernel) Unreserve(p *Process, fids []Fid_t, fcbs []*FCB) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, fid := range fids {
		if int(fid) >= 0 && int(fid) < len(p.fileTable) {
			p.fileTable[fid] = nil
		}
	}
	for _, fcb := range fcbs {
		*fcb = FCB{}
		fcbPool.Put(fcb)
	}
}

// Get range-checks fid and returns the slot's FCB, or nil.
func (k *Kernel) Get(p *Process, fid Fid_t) *FCB {
	k.mu.Lock()
	defer k.mu.Unlock()
	return p.getLocked(fid)
}

func (p *Process) getLocked(fid Fid_t) *FCB {
	if fid < 0 || int(fid) >= len(p.fileTable) {
		return nil
	}
	return p.fileTable[fid]
}

// Incref bumps fcb's reference count.
func (k *Kernel) Incref(fcb *FCB) {
	k.mu.Lock()
	defer k.mu.Unlock()
	fcb.incref()
}

// Decref drops fcb's reference count; the last decref invokes
// streamFunc.close and returns its result, otherwise returns nil.
func (k *Kernel) Decref(fcb *FCB) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return fcbDecrefLocked(fcb)
}

func fcbDecrefLocked(fcb *FCB) error {
	if fcb.decref() == 0 {
		var err error
		if fcb.streamFunc.close != nil {
			err = fcb.streamFunc.close(fcb.streamObj)
		}
		obj := fcb.streamObj
		*fcb = FCB{}
		fcbPool.Put(fcb)
		_ = obj
		return err
	}
	return nil
}

// Close resolves fid to an FCB and decrefs it, clearing the slot on the way
// out -- the generic stream close operation shared by every fid type.
func (k *Kernel) Close(p *Process, fid Fid_t) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	fcb := p.getLocked(fid)
	if fcb == nil {
		return ErrInvalidArgument
	}
	p.fileTable[fid] = nil
	return fcbDecrefLocked(fcb)
}

// Read performs the generic stream read system call, dispatching through
// fid's operation vector. The kernel lock is held across the call: pipe and
// socket read implementations assume it and release it themselves (via
// cond.wait) only while actually blocked.
func (k *Kernel) Read(p *Process, fid Fid_t, buf []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	fcb := p.getLocked(fid)
	if fcb == nil || fcb.streamFunc.read == nil {
		return -1, ErrInvalidArgument
	}
	return fcb.streamFunc.read(fcb.streamObj, buf)
}

// Write performs the generic stream write system call, dispatching through
// fid's operation vector, under the same locking discipline as Read.
func (k *Kernel) Write(p *Process, fid Fid_t, buf []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	fcb := p.getLocked(fid)
	if fcb == nil || fcb.streamFunc.write == nil {
		return -1, ErrInvalidArgument
	}
	return fcb.streamFunc.write(fcb.streamObj, buf)
}

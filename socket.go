package microkernel

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

type socketType int

const (
	sockUnbound socketType = iota
	sockListener
	sockPeer
)

// socketCB is the socket control block: an Unbound/Listener/Peer state
// machine sharing one refcount/port/fcb back-pointer, with variant-specific
// fields for the Listener (pending request queue) and Peer (its two pipes
// and back-pointer to its peer) states.
type socketCB struct {
	refcounted

	fcb  *FCB
	typ  socketType
	port int

	// LISTENER
	requests     *queue[*connectionRequest]
	reqAvailable *cond
	admission    *semaphore.Weighted // bounds concurrent rendezvous waiters

	// PEER
	readPipe  *pipeCB
	writePipe *pipeCB
	peer      *socketCB
}

// connectionRequest is the transient rendezvous object allocated by Connect,
// linked into a listener's queue, and popped by Accept.
type connectionRequest struct {
	admitted    bool
	peer        *socketCB
	connectedCV *cond
	handle      *Handle[*connectionRequest]
}

// Socket validates the port, reserves one FCB, and installs an UNBOUND
// socket_cb as its stream object.
func (k *Kernel) Socket(p *Process, port int) (Fid_t, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.socketLocked(p, port)
}

// socketLocked is Socket's body, factored out so Accept (which already
// holds k.mu while realising a rendezvous) can allocate the new peer's
// socket without recursing on the kernel's non-reentrant big lock.
func (k *Kernel) socketLocked(p *Process, port int) (Fid_t, error) {
	if port < NoPort || port > k.config.MaxPort {
		return NoFile, ErrInvalidArgument
	}

	fids, fcbs, err := p.reserveLocked(1)
	if err != nil {
		return NoFile, err
	}
	fcb := fcbs[0]

	sock := &socketCB{fcb: fcb, typ: sockUnbound, port: port}
	fcb.streamObj = sock
	fcb.streamFunc = streamFunc{
		read:  func(obj any, buf []byte) (int, error) { return socketRead(obj.(*socketCB), buf) },
		write: func(obj any, buf []byte) (int, error) { return socketWrite(obj.(*socketCB), buf) },
		close: func(obj any) error { return socketClose(k, obj.(*socketCB)) },
	}
	return fids[0], nil
}

// Listen transitions an UNBOUND socket on an unoccupied port into a
// LISTENER, publishing it in the kernel's port map.
func (k *Kernel) Listen(p *Process, fid Fid_t) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	fcb := p.getLocked(fid)
	if fcb == nil {
		return ErrInvalidArgument
	}
	sock, ok := fcb.streamObj.(*socketCB)
	if !ok {
		return ErrWrongSocketType
	}
	if sock.port == NoPort {
		return ErrInvalidArgument
	}
	if sock.port > k.config.MaxPort || k.portMap[sock.port] != nil {
		return ErrPortInUse
	}
	if sock.typ != sockUnbound {
		return ErrWrongSocketType
	}

	sock.typ = sockListener
	sock.requests = newQueue[*connectionRequest](sock)
	sock.reqAvailable = newCond(&k.mu)
	sock.admission = semaphore.NewWeighted(k.config.MaxPendingConnects)
	k.portMap[sock.port] = sock

	klog.WithField("port", sock.port).Debug("listening")
	return nil
}

// Accept blocks until a connection request is queued, then realises the
// rendezvous as two pipes wiring the new socket and the connecting peer
// together.
func (k *Kernel) Accept(ctx context.Context, p *Process, lfid Fid_t) (Fid_t, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	lfcb := p.getLocked(lfid)
	if lfcb == nil {
		return NoFile, ErrInvalidArgument
	}
	listener, ok := lfcb.streamObj.(*socketCB)
	if !ok || listener.typ != sockListener {
		return NoFile, ErrWrongSocketType
	}

	listener.incref()
	defer func() {
		if listener.decref() == 0 {
			// nothing further to free: an unreferenced, unmapped listener
			// socket_cb is only reachable through this accept's local var.
		}
	}()

	for listener.requests.Empty() {
		listener.reqAvailable.wait()
		if k.portMap[listener.port] != listener {
			return NoFile, ErrListenerClosed
		}
	}

	if k.portMap[listener.port] != listener {
		return NoFile, ErrListenerClosed
	}

	req, _ := listener.requests.PopFront()
	req.admitted = true

	newFid, err := k.socketLocked(p, listener.port)
	if err != nil {
		return NoFile, err
	}
	newFCB := p.getLocked(newFid)
	newSock := newFCB.streamObj.(*socketCB)

	p1 := k.newPipeCB()
	p2 := k.newPipeCB()

	newSock.typ = sockPeer
	req.peer.typ = sockPeer

	newSock.readPipe, newSock.writePipe = p1, p2
	req.peer.readPipe, req.peer.writePipe = p2, p1
	newSock.peer = req.peer
	req.peer.peer = newSock

	wireUpPipeEndpoints(p1, newSock.fcb, req.peer.fcb)
	wireUpPipeEndpoints(p2, req.peer.fcb, newSock.fcb)

	req.connectedCV.broadcast()
	listener.admission.Release(1)

	klog.WithField("port", listener.port).Debug("accepted connection")
	return newFid, nil
}

// wireUpPipeEndpoints sets reader/writer fcb back-pointers on a pipe shared
// between two peer sockets, so pipeRead/pipeWrite's liveness checks observe
// the correct endpoints without each peer owning a dedicated FCB slot for
// the pipe (the socket's own FCB stands in for both pipe endpoints it
// touches, since socket_read/socket_write dispatch directly into the pipe
// rather than through a second file-id).
func wireUpPipeEndpoints(p *pipeCB, readerFCB, writerFCB *FCB) {
	p.readerFCB = readerFCB
	p.writerFCB = writerFCB
}

// Connect builds a connection_request, links it into the listener's queue,
// signals req_available, then timed-waits for admission.
func (k *Kernel) Connect(ctx context.Context, p *Process, fid Fid_t, port int, timeout time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	fcb := p.getLocked(fid)
	if fcb == nil {
		return ErrInvalidArgument
	}
	sock, ok := fcb.streamObj.(*socketCB)
	if !ok || sock.typ != sockUnbound {
		return ErrWrongSocketType
	}
	if port <= NoPort || port > k.config.MaxPort {
		return ErrInvalidArgument
	}

	listener := k.portMap[port]
	if listener == nil || listener.typ != sockListener {
		return ErrInvalidArgument
	}

	if !listener.admission.TryAcquire(1) {
		return ErrResourceExhausted
	}

	listener.incref()
	defer func() { listener.decref() }()

	req := &connectionRequest{peer: sock, connectedCV: newCond(&k.mu)}
	req.handle = listener.requests.PushBack(req)
	listener.reqAvailable.signal()

	req.connectedCV.waitTimeout(timeout)

	if req.admitted {
		return nil
	}

	// Timed out (or spuriously woken) before admission: unlink our own
	// request under the lock. Connect, not Accept, is responsible for
	// removing an un-admitted request.
	listener.requests.Remove(req.handle)
	listener.admission.Release(1)
	return ErrTimeout
}

// ShutDown disables the read half, write half, or both on a peer socket,
// closing the corresponding pipe endpoint.
func (k *Kernel) ShutDown(p *Process, fid Fid_t, mode ShutdownMode) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	fcb := p.getLocked(fid)
	if fcb == nil {
		return ErrInvalidArgument
	}
	sock, ok := fcb.streamObj.(*socketCB)
	if !ok || sock.typ != sockPeer {
		return ErrWrongSocketType
	}

	if mode == ShutdownRead || mode == ShutdownBoth {
		if sock.readPipe != nil {
			pipeReaderClose(sock.readPipe)
			sock.readPipe = nil
		}
	}
	if mode == ShutdownWrite || mode == ShutdownBoth {
		if sock.writePipe != nil {
			pipeWriterClose(sock.writePipe)
			sock.writePipe = nil
		}
	}
	return nil
}

// socketRead/socketWrite delegate to the PEER's read_pipe/write_pipe.
// Called with k.mu held (see FCB.Read/Write).
func socketRead(s *socketCB, buf []byte) (int, error) {
	if s.typ != sockPeer || s.readPipe == nil {
		return -1, ErrWrongSocketType
	}
	return pipeRead(s.readPipe, buf)
}

func socketWrite(s *socketCB, buf []byte) (int, error) {
	if s.typ != sockPeer || s.writePipe == nil {
		return -1, ErrWrongSocketType
	}
	return pipeWrite(s.writePipe, buf)
}

// socketClose releases whatever the socket's current state owns. Called
// with k.mu held (via FCB.close, itself invoked from fcbDecrefLocked under
// the lock).
func socketClose(k *Kernel, s *socketCB) error {
	switch s.typ {
	case sockUnbound:
		// nothing to release
	case sockListener:
		k.portMap[s.port] = nil
		s.reqAvailable.broadcast()
		klog.WithField("port", s.port).Debug("listener closed")
	case sockPeer:
		if s.writePipe != nil {
			pipeWriterClose(s.writePipe)
			s.writePipe = nil
		}
		if s.readPipe != nil {
			pipeReaderClose(s.readPipe)
			s.readPipe = nil
		}
	}
	return nil
}

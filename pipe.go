package microkernel

import (
	"github.com/sagernet/sing/common/pool"
)

// pipeCB is the pipe control block: a one-directional bounded byte buffer
// with blocking semantics and two endpoint FCBs. The circular buffer slab
// comes from sing/common/pool instead of a raw make([]byte, n), the same
// pooled-buffer idiom used for per-frame allocation elsewhere, applied here
// to whole-pipe buffers.
type pipeCB struct {
	k *Kernel

	buf  []byte
	cap  int
	r, w int // read/write cursors, modulo cap
	n    int // bytes_in_buffer

	readerFCB *FCB
	writerFCB *FCB

	hasSpace *cond
	hasData  *cond
}

func (k *Kernel) newPipeCB() *pipeCB {
	cap := k.config.PipeBufferSize
	return &pipeCB{
		k:        k,
		buf:      pool.Get(cap),
		cap:      cap,
		hasSpace: newCond(&k.mu),
		hasData:  newCond(&k.mu),
	}
}

// Pipe_t is a pipe's two endpoint fids: the read end and write end.
type Pipe_t struct {
	Read  Fid_t
	Write Fid_t
}

// Pipe creates a pipe and reserves its two endpoint FCBs in p.
func (k *Kernel) Pipe(p *Process) (Pipe_t, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	fids, fcbs, err := p.reserveLocked(2)
	if err != nil {
		return Pipe_t{}, err
	}

	pipe := k.newPipeCB()
	readerFCB, writerFCB := fcbs[0], fcbs[1]
	pipe.readerFCB = readerFCB
	pipe.writerFCB = writerFCB

	readerFCB.streamObj = pipe
	readerFCB.streamFunc = streamFunc{
		read:  func(obj any, buf []byte) (int, error) { return pipeRead(obj.(*pipeCB), buf) },
		write: func(obj any, buf []byte) (int, error) { return -1, ErrInvalidArgument },
		close: func(obj any) error { pipeReaderClose(obj.(*pipeCB)); return nil },
	}

	writerFCB.streamObj = pipe
	writerFCB.streamFunc = streamFunc{
		read:  func(obj any, buf []byte) (int, error) { return -1, ErrInvalidArgument },
		write: func(obj any, buf []byte) (int, error) { return pipeWrite(obj.(*pipeCB), buf) },
		close: func(obj any) error { pipeWriterClose(obj.(*pipeCB)); return nil },
	}

	klog.Debug("pipe created")
	return Pipe_t{Read: fids[0], Write: fids[1]}, nil
}

// pipeWrite copies as much of buf as fits into the ring buffer. Called with
// k.mu held; blocks (releasing k.mu) while the buffer is full and the
// reader is still live.
func pipeWrite(p *pipeCB, buf []byte) (int, error) {
	if p == nil || p.writerFCB == nil {
		return -1, ErrClosedPipe
	}
	if p.readerFCB == nil {
		return -1, ErrPeerClosed
	}

	for p.n == p.cap && p.readerFCB != nil {
		p.hasSpace.wait()
	}

	if p.readerFCB == nil {
		return -1, ErrPeerClosed
	}

	k := min(len(buf), p.cap-p.n)
	for i := 0; i < k; i++ {
		p.buf[p.w] = buf[i]
		p.w = (p.w + 1) % p.cap
	}
	p.n += k

	p.hasData.broadcast()
	return k, nil
}

// pipeRead copies as much of the ring buffer's contents into buf as fits.
// Called with k.mu held; blocks (releasing k.mu) while the buffer is empty
// and the writer is still live.
func pipeRead(p *pipeCB, buf []byte) (int, error) {
	if p == nil || p.readerFCB == nil {
		return -1, ErrClosedPipe
	}
	if p.writerFCB == nil && p.n == 0 {
		return 0, nil
	}

	for p.n == 0 && p.writerFCB != nil {
		p.hasData.wait()
	}

	if p.writerFCB == nil && p.n == 0 {
		return 0, nil
	}

	k := min(len(buf), p.n)
	for i := 0; i < k; i++ {
		buf[i] = p.buf[p.r]
		p.r = (p.r + 1) % p.cap
	}
	p.n -= k

	p.hasSpace.broadcast()
	return k, nil
}

// pipeWriterClose tears down the write endpoint. Called with k.mu held.
func pipeWriterClose(p *pipeCB) {
	if p.writerFCB == nil {
		return
	}
	p.writerFCB = nil
	if p.readerFCB == nil {
		p.free()
		return
	}
	p.hasData.broadcast()
}

// pipeReaderClose tears down the read endpoint. Called with k.mu held.
func pipeReaderClose(p *pipeCB) {
	if p.readerFCB == nil {
		return
	}
	p.readerFCB = nil
	if p.writerFCB == nil {
		p.free()
		return
	}
	p.hasSpace.broadcast()
}

// free returns the pipe's buffer slab to the pool once both endpoints have
// closed.
func (p *pipeCB) free() {
	if p.buf != nil {
		pool.Put(p.buf)
		p.buf = nil
	}
}

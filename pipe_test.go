package microkernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestKernel(t *testing.T) (*Kernel, *Process) {
	t.Helper()
	k, err := NewKernel(nil)
	require.NoError(t, err)
	p := k.NewProcess(nil)
	return k, p
}

// a pipe write of a few bytes is immediately readable in full.
func TestPipeSmallWriteRead(t *testing.T) {
	k, p := newTestKernel(t)

	pipe, err := k.Pipe(p)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := k.Write(p, pipe.Write, []byte("hello"))
		require.NoError(t, err)
		require.Equal(t, 5, n)
	}()
	<-done

	buf := make([]byte, 10)
	n, err := k.Read(p, pipe.Read, buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf[:n]))

	// B's next read blocks: race it against a short timer.
	blocked := make(chan struct{})
	go func() {
		_, _ = k.Read(p, pipe.Read, buf)
		close(blocked)
	}()
	select {
	case <-blocked:
		t.Fatal("second read should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	// unblock by closing the writer so the test doesn't leak a goroutine.
	require.NoError(t, k.Close(p, pipe.Write))
	<-blocked
}

// writer close with data already drained yields EOF on the next read.
func TestPipeEOF(t *testing.T) {
	k, p := newTestKernel(t)
	pipe, err := k.Pipe(p)
	require.NoError(t, err)

	readResult := make(chan int, 1)
	go func() {
		buf := make([]byte, 10)
		n, err := k.Read(p, pipe.Read, buf)
		require.NoError(t, err)
		readResult <- n
	}()

	// let the reader block first
	time.Sleep(20 * time.Millisecond)

	n, err := k.Write(p, pipe.Write, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, 5, <-readResult)

	require.NoError(t, k.Close(p, pipe.Write))

	buf := make([]byte, 10)
	n, err = k.Read(p, pipe.Read, buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

// a write larger than the buffer blocks until a read drains space.
func TestPipeBackpressure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PipeBufferSize = 16 * 1024
	k, err := NewKernel(cfg)
	require.NoError(t, err)
	p := k.NewProcess(nil)

	pipe, err := k.Pipe(p)
	require.NoError(t, err)

	payload := make([]byte, cfg.PipeBufferSize+1)
	for i := range payload {
		payload[i] = byte(i)
	}

	writeDone := make(chan struct{})
	var total int
	go func() {
		defer close(writeDone)
		for total < len(payload) {
			n, err := k.Write(p, pipe.Write, payload[total:])
			if err != nil {
				return
			}
			total += n
		}
	}()

	// writer should stall after exactly CAPACITY bytes buffered
	time.Sleep(50 * time.Millisecond)
	select {
	case <-writeDone:
		t.Fatal("writer should still be blocked on a full buffer")
	default:
	}
	require.Equal(t, cfg.PipeBufferSize, total)

	// draining one byte unblocks the writer to finish the last byte
	one := make([]byte, 1)
	n, err := k.Read(p, pipe.Read, one)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	<-writeDone
	require.Equal(t, len(payload), total)
}

// Concatenated reads equal the bytes written, regardless of how
// reads/writes are chunked.
func TestPipeRoundTrip(t *testing.T) {
	k, p := newTestKernel(t)
	pipe, err := k.Pipe(p)
	require.NoError(t, err)

	msg := []byte("the quick brown fox jumps over the lazy dog")
	go func() {
		for off := 0; off < len(msg); {
			n, err := k.Write(p, pipe.Write, msg[off:min(off+7, len(msg))])
			if err != nil {
				return
			}
			off += n
		}
		_ = k.Close(p, pipe.Write)
	}()

	var got []byte
	buf := make([]byte, 3)
	for {
		n, err := k.Read(p, pipe.Read, buf)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}
	require.Equal(t, string(msg), string(got))
}

func TestPipeWriteAfterReaderClosedFails(t *testing.T) {
	k, p := newTestKernel(t)
	pipe, err := k.Pipe(p)
	require.NoError(t, err)

	require.NoError(t, k.Close(p, pipe.Read))

	n, err := k.Write(p, pipe.Write, []byte("x"))
	require.Error(t, err)
	require.Equal(t, -1, n)
}

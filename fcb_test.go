package microkernel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReserveExhaustion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFileID = 2
	k, err := NewKernel(cfg)
	require.NoError(t, err)
	p := k.NewProcess(nil)

	fids, fcbs, err := k.Reserve(p, 2)
	require.NoError(t, err)
	require.Len(t, fids, 2)
	require.Len(t, fcbs, 2)
	for _, fcb := range fcbs {
		require.Equal(t, 1, fcb.refcount())
	}

	// a third reservation must fail, and leave no partial state.
	_, _, err = k.Reserve(p, 1)
	require.ErrorIs(t, err, ErrResourceExhausted)

	require.NotNil(t, k.Get(p, fids[0]))
	require.NotNil(t, k.Get(p, fids[1]))
}

func TestGetOutOfRangeIsNil(t *testing.T) {
	k, p := newTestKernel(t)
	require.Nil(t, k.Get(p, -1))
	require.Nil(t, k.Get(p, Fid_t(k.config.MaxFileID)))
	require.Nil(t, k.Get(p, 0)) // empty slot
}

func TestIncrefDecrefClosesOnLastRelease(t *testing.T) {
	k, p := newTestKernel(t)
	pipe, err := k.Pipe(p)
	require.NoError(t, err)

	fcb := k.Get(p, pipe.Read)
	require.NotNil(t, fcb)

	k.Incref(fcb)
	require.Equal(t, 2, fcb.refcount())

	// one decref: still referenced (1 left), stream stays open.
	err = k.Decref(fcb)
	require.NoError(t, err)
	require.Equal(t, 1, fcb.refcount())
	require.NotNil(t, k.Get(p, pipe.Read))

	// closing via the fid now performs the real close (refcount 0).
	err = k.Close(p, pipe.Read)
	require.NoError(t, err)
	require.Nil(t, k.Get(p, pipe.Read))
}

func TestUnreserveSkipsClose(t *testing.T) {
	k, p := newTestKernel(t)
	fids, fcbs, err := k.Reserve(p, 1)
	require.NoError(t, err)

	k.Unreserve(p, fids, fcbs)
	require.Nil(t, k.Get(p, fids[0]))
}

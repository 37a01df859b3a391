package microkernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// a joiner observes the exact value a thread passed to ThreadExit.
func TestThreadJoinReturnsExitValue(t *testing.T) {
	k, p := newTestKernel(t)
	ctx := context.Background()

	tid := k.CreateThread(ctx, p, func(ctx context.Context, argl int, args []byte) int {
		return 42
	}, 0, nil)

	exitval, err := k.ThreadJoin(ctx, p, tid)
	require.NoError(t, err)
	require.Equal(t, 42, exitval)

	// second join on the same tid fails: once refcount hits 0 the PTCB is
	// unlinked and unfindable.
	_, err = k.ThreadJoin(ctx, p, tid)
	require.Error(t, err)
}

func TestThreadDetachBeforeExitFailsJoin(t *testing.T) {
	k, p := newTestKernel(t)
	ctx := context.Background()

	release := make(chan struct{})
	tid := k.CreateThread(ctx, p, func(ctx context.Context, argl int, args []byte) int {
		<-release
		return 7
	}, 0, nil)

	joinResult := make(chan error, 1)
	joinStarted := make(chan struct{})
	go func() {
		close(joinStarted)
		_, err := k.ThreadJoin(ctx, p, tid)
		joinResult <- err
	}()
	<-joinStarted
	time.Sleep(20 * time.Millisecond) // let the joiner block on exit_cv

	require.NoError(t, k.ThreadDetach(p, tid))

	err := <-joinResult
	require.Error(t, err)

	close(release)
}

func TestThreadSelfAndSelfJoinRejected(t *testing.T) {
	k, p := newTestKernel(t)
	ctx := context.Background()

	done := make(chan error, 1)
	_ = k.CreateThread(ctx, p, func(ctx context.Context, argl int, args []byte) int {
		self := ThreadSelf(ctx)
		require.NotNil(t, self)
		_, err := k.ThreadJoin(ctx, p, self)
		done <- err
		return 0
	}, 0, nil)

	require.Error(t, <-done)
}

func TestThreadDetachUnknownTidFails(t *testing.T) {
	k, p := newTestKernel(t)
	other := k.NewProcess(nil)
	ctx := context.Background()

	tid := k.CreateThread(ctx, other, func(ctx context.Context, argl int, args []byte) int {
		return 0
	}, 0, nil)
	_, err := k.ThreadJoin(ctx, other, tid) // drain it from other's process normally
	require.NoError(t, err)

	require.Error(t, k.ThreadDetach(p, tid))
}

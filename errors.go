package microkernel

import (
	"net"

	"github.com/pkg/errors"
)

// Sentinel errors returned across the system-call surface: small exported
// errors.New values rather than typed error hierarchies.
var (
	ErrInvalidArgument    = errors.New("microkernel: invalid argument")
	ErrResourceExhausted  = errors.New("microkernel: resource exhausted")
	ErrClosedPipe         = errors.New("microkernel: pipe closed")
	ErrPeerClosed         = errors.New("microkernel: peer closed")
	ErrEndOfStream        = errors.New("microkernel: end of stream")
	ErrNotOwner           = errors.New("microkernel: tid not owned by caller")
	ErrAlreadyExited      = errors.New("microkernel: target already exited or detached")
	ErrWrongSocketType    = errors.New("microkernel: wrong socket type for operation")
	ErrPortInUse          = errors.New("microkernel: port already has a listener")
	ErrListenerClosed     = errors.New("microkernel: listener closed")
	ErrSelfJoin           = errors.New("microkernel: cannot join self")
	ErrNoSuchThread       = errors.New("microkernel: no such thread in process")
)

// timeoutError is a net.Error-shaped timeout type, used for Connect's
// timeout expiry.
type timeoutError struct{}

func (timeoutError) Error() string   { return "microkernel: connect timeout" }
func (timeoutError) Temporary() bool { return true }
func (timeoutError) Timeout() bool   { return true }

// ErrTimeout is returned by Connect when the rendezvous is not admitted
// before the requested deadline.
var ErrTimeout net.Error = &timeoutError{}

// wrapf annotates an internal error with call-site context.
func wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

package protosock

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCode is the engine-level error code carried by SockError.
type ErrCode int

const (
	ENone      ErrCode = 0
	ECONNSETUP ErrCode = 1000 // connection could not be set up
	ECONNREJ   ErrCode = 1002 // connection rejected by the peer
	ESOCKFAIL  ErrCode = 1003 // socket could not be created or bound
	ECONNFAIL  ErrCode = 2000 // established connection failed
	ECONNLOST  ErrCode = 2001 // connection broken mid-transfer
	ENOCONN    ErrCode = 2002 // operation requires a connection
	EINVOP     ErrCode = 4000 // operation invalid in the current state
	EINVPARAM  ErrCode = 4001 // invalid parameter value
	ERESOURCE  ErrCode = 5000 // resource allocation failure
	EASYNCRCV  ErrCode = 6002 // non-blocking receive: no data yet
)

// ErrAgain marks transient non-blocking unavailability. It is a distinguished
// condition, not a failure: callers must test for it before treating a
// read/accept result as fatal.
var ErrAgain = errors.New("protosock: operation not ready, try again")

// SockError wraps the engine's (code, message) pair together with the name of
// the operation that failed.
type SockError struct {
	Code ErrCode
	Msg  string
	Op   string
}

func (e *SockError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: [%d] %s", e.Op, e.Code, e.Msg)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Msg)
}

// lastError emulates the engine's process-wide last-error facility. Every
// failing engine call records its (code, message) pair here; readers must
// clear it after retrieval or stale state leaks into the next operation.
var (
	lastErrMu sync.Mutex
	lastErr   SockError
)

func setLastError(code ErrCode, msg string) {
	lastErrMu.Lock()
	lastErr = SockError{Code: code, Msg: msg}
	lastErrMu.Unlock()
}

// LastError returns a copy of the most recently recorded engine error.
func LastError() SockError {
	lastErrMu.Lock()
	defer lastErrMu.Unlock()
	return lastErr
}

// ClearLastError resets the last-error state.
func ClearLastError() {
	lastErrMu.Lock()
	lastErr = SockError{}
	lastErrMu.Unlock()
}

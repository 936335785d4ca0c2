package packet

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	ErrTimeout = errors.New("receive timed out")
)

// NewReceiver returns a function reading one T from fd. The returned
// timestamp is the kernel receive time when kernelTs is set (see
// EnableTimestamping), otherwise the wall clock right after the read.
// Datagrams of the wrong size or failing validation yield an error wrapping
// ErrMalformed; the socket is still usable afterwards.
func NewReceiver[T any](fd int, kernelTs bool) func() (T, Timestamp, unix.Sockaddr, error) {
	// one extra byte so that oversized datagrams are detected rather than truncated to a valid size
	tBuf := make([]byte, Size[T]()+1)
	var ctlBuf []byte
	if kernelTs {
		ctlBuf = make([]byte, ctlBufSize)
	}

	return func() (T, Timestamp, unix.Sockaddr, error) {
		var zero T
	again:
		tN, ctlN, _, from, err := unix.Recvmsg(fd, tBuf, ctlBuf, 0)
		if err != nil {
			switch err {
			case unix.EINTR:
				goto again
			case unix.EAGAIN:
				return zero, 0, nil, fmt.Errorf("recvmsg: %w", ErrTimeout)
			}
			return zero, 0, nil, fmt.Errorf("recvmsg: %w", err)
		}

		var ts Timestamp
		if kernelTs {
			if ts, err = decodeTimestamp(ctlBuf[:ctlN]); err != nil {
				return zero, 0, from, err
			}
		} else {
			ts = Now()
		}

		t, err := Decode[T](tBuf[:tN])
		if err != nil {
			return zero, ts, from, err
		}
		return t, ts, from, nil
	}
}

type RecvPacket[T any] struct {
	Data  T
	Ts    Timestamp
	From  unix.Sockaddr
	Error error
}

// NewAsyncReceiver reads from fd on a separate goroutine. Malformed packets
// are delivered with their error and reading continues; any other error is
// delivered and then the channel is closed.
func NewAsyncReceiver[T any](fd, chDepth int, kernelTs bool) <-chan (RecvPacket[T]) {
	ch := make(chan (RecvPacket[T]), chDepth)
	go func() {
		defer close(ch)
		recv := NewReceiver[T](fd, kernelTs)
		for {
			data, ts, from, err := recv()
			ch <- RecvPacket[T]{data, ts, from, err}
			if err != nil && !errors.Is(err, ErrMalformed) {
				return
			}
		}
	}()
	return ch
}

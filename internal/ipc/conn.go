package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/nullhaven/overseerd/internal/value"
)

// maxFrame bounds a single message's in-band payload; a length prefix
// larger than this is treated as a protocol error rather than an
// allocation hazard.
const maxFrame = 4 << 20

// maxAncillaryFDs bounds how many descriptors a single message may carry;
// generous enough for the largest plausible socket-group manifest.
const maxAncillaryFDs = 64

// ErrWouldBlock is returned by WriteFrame when the socket's send buffer is
// full; callers queue the frame and arm the connection's writable source.
var ErrWouldBlock = errors.New("ipc: write would block")

// ReadFrame blocks (via the runtime's integrated poller, not an OS
// thread) until one complete length-prefixed message, with its ancillary
// descriptors, has arrived on conn. It decodes the message and returns
// the resulting tree.
func ReadFrame(conn *net.UnixConn) (value.Value, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return value.Null(), err
	}

	var payload []byte
	var fds []int
	var opErr error

	readErr := raw.Read(func(fd uintptr) bool {
		payload, fds, opErr = recvOneFrame(int(fd))
		if opErr == syscall.EAGAIN || opErr == syscall.EWOULDBLOCK {
			return false // ask the runtime to wait for readability again
		}
		return true
	})
	if readErr != nil {
		return value.Null(), readErr
	}
	if opErr != nil {
		return value.Null(), opErr
	}

	for _, fd := range fds {
		_ = unix.SetNonblock(fd, false)
		unix.CloseOnExec(fd)
	}

	return decodeTree(payload, fds)
}

// recvOneFrame performs exactly one non-blocking attempt to read a full
// frame: a 4-byte peeked length prefix followed by a single recvmsg sized
// to that length, so that any ancillary SCM_RIGHTS data sent alongside
// the frame lands on this same call.
func recvOneFrame(fd int) ([]byte, []int, error) {
	var lenBuf [4]byte
	n, _, _, _, err := unix.Recvmsg(fd, lenBuf[:], nil, unix.MSG_PEEK)
	if err != nil {
		return nil, nil, err
	}
	if n == 0 {
		return nil, nil, fmt.Errorf("ipc: connection closed")
	}
	if n < 4 {
		return nil, nil, syscall.EAGAIN
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > maxFrame {
		return nil, nil, fmt.Errorf("ipc: frame too large (%d bytes)", length)
	}

	full := make([]byte, 4+int(length))
	oob := make([]byte, unix.CmsgSpace(maxAncillaryFDs*4))

	rn, oobn, _, _, err := unix.Recvmsg(fd, full, oob, 0)
	if err != nil {
		return nil, nil, err
	}
	if rn != len(full) {
		return nil, nil, fmt.Errorf("ipc: short read: wanted %d got %d", len(full), rn)
	}

	fds, err := parseAncillaryFDs(oob[:oobn])
	if err != nil {
		return nil, nil, err
	}
	return full[4:], fds, nil
}

func parseAncillaryFDs(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	var fds []int
	for _, m := range msgs {
		got, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		fds = append(fds, got...)
	}
	return fds, nil
}

// WriteFrame makes exactly one non-blocking attempt to write v as a
// length-prefixed frame, with its FD leaves transferred as ancillary
// SCM_RIGHTS data. Returns ErrWouldBlock if the socket buffer is full;
// the caller is responsible for queuing and arming the writable source.
func WriteFrame(conn *net.UnixConn, v value.Value) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var opErr error
	writeErr := raw.Write(func(fd uintptr) bool {
		opErr = sendFrame(int(fd), v)
		return true // single attempt regardless of outcome; caller queues on ErrWouldBlock
	})
	if writeErr != nil {
		return writeErr
	}
	return opErr
}

// sendFrame performs exactly one non-blocking sendmsg of v encoded as a
// length-prefixed frame, with its FD leaves riding along as ancillary
// SCM_RIGHTS data. It is the shared primitive behind both WriteFrame's
// single-attempt semantics and Session's retry-on-writable loop.
func sendFrame(fd int, v value.Value) error {
	payload, fds, err := encodeTree(v)
	if err != nil {
		return err
	}

	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)

	var rights []byte
	if len(fds) > 0 {
		rights = unix.UnixRights(fds...)
	}

	sendErr := unix.Sendmsg(fd, frame, rights, nil, unix.MSG_DONTWAIT)
	if sendErr == syscall.EAGAIN || sendErr == syscall.EWOULDBLOCK {
		return ErrWouldBlock
	}
	return sendErr
}

package ipc

import (
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/nullhaven/overseerd/internal/value"
)

// Session is one accepted control-socket connection. Reads happen on
// the connection's own goroutine (the Go translation of a kernel
// fd-readable event source); writes are serialized through outbox so a
// reply produced off the reading goroutine (an async job-state
// notification, a deferred batch-query answer) never races a concurrent
// write on the same net.UnixConn.
type Session struct {
	Conn *net.UnixConn

	// ID uniquely names this connection for logging and metrics; it has
	// no wire meaning.
	ID uuid.UUID

	// TrustedJob is set only for a connection accepted over the
	// service-ipc trust channel (spec §4.4 check-in), naming which job's
	// manifest a check-in call may read.
	TrustedJob string

	mu           sync.Mutex
	batchDisable bool
	closed       bool
	outbox       chan value.Value
}

// NewSession wraps conn, starting its dedicated write-serializing
// goroutine.
func NewSession(conn *net.UnixConn) *Session {
	s := &Session{
		Conn:   conn,
		ID:     uuid.New(),
		outbox: make(chan value.Value, 32),
	}
	go s.writeLoop()
	return s
}

// Send enqueues v on the session's 32-entry outbox for the write
// goroutine to deliver (spec §4.4: "queued" on EAGAIN). The caller does
// not wait for the socket write itself, but blocks while the outbox is
// full.
func (s *Session) Send(v value.Value) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.outbox <- v
}

func (s *Session) writeLoop() {
	for v := range s.outbox {
		if err := blockingWriteFrame(s.Conn, v); err != nil {
			s.Close()
			return
		}
	}
}

// blockingWriteFrame retries the send from inside a single runtime
// poller write-readiness callback: each wakeup re-attempts the whole
// frame write, returning false (park until writable again) only on
// EAGAIN — the Go equivalent of arming a writable-event source and
// waiting for it to fire, without busy-looping in userspace or nesting
// a second SyscallConn callback inside the first.
func blockingWriteFrame(conn *net.UnixConn, v value.Value) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var opErr error
	writeErr := raw.Write(func(fd uintptr) bool {
		opErr = sendFrame(int(fd), v)
		return opErr != ErrWouldBlock
	})
	if writeErr != nil {
		return writeErr
	}
	return opErr
}

// SetBatchDisable toggles this connection's own batch-disable flag,
// returning whether it changed (so the caller only adjusts the loop's
// global disabler count on a real transition).
func (s *Session) SetBatchDisable(disable bool) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = s.batchDisable != disable
	s.batchDisable = disable
	return changed
}

// BatchDisabled reports this connection's current batch-disable flag.
func (s *Session) BatchDisabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchDisable
}

// Close shuts down the connection and its write goroutine.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.outbox)
	_ = s.Conn.Close()
}

package ipc

import (
	"errors"
	"io"
	"net"
	"os"

	"github.com/rs/zerolog"

	"github.com/nullhaven/overseerd/internal/eventloop"
	"github.com/nullhaven/overseerd/internal/metrics"
)

// Server listens on the control socket and hands each accepted
// connection to the Dispatcher, one read-goroutine per connection
// feeding decoded messages back onto the event loop's main queue (spec
// §4.1, §4.4).
type Server struct {
	listener *net.UnixListener
	disp     *Dispatcher
	loop     *eventloop.Loop
	log      zerolog.Logger
}

// Listen creates (replacing any stale socket file) and binds the
// control socket at path.
func Listen(path string, disp *Dispatcher, loop *eventloop.Loop, log zerolog.Logger) (*Server, error) {
	_ = os.Remove(path)
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, err
	}
	return &Server{listener: ln, disp: disp, loop: loop, log: log}, nil
}

// Addr returns the socket path the server is bound to.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		sess := NewSession(conn)
		go s.readLoop(sess)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.listener.Close() }

// readLoop blocks reading frames off sess's connection (netpoller-
// integrated, not OS-thread-blocking) and submits each decoded message
// to the event loop's main queue so dispatch happens on the single
// supervisor goroutine, matching spec §5's concurrency model.
func (s *Server) readLoop(sess *Session) {
	metrics.IPCConnectionsActive.Inc()
	defer metrics.IPCConnectionsActive.Dec()
	defer sess.Close()
	connLog := s.log.With().Str("conn", sess.ID.String()).Logger()
	for {
		msg, err := ReadFrame(sess.Conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				connLog.Debug().Err(err).Msg("ipc: connection read error")
			}
			return
		}

		s.loop.Submit(eventloop.Event{
			Kind: eventloop.KindIPCMessage,
			Callback: func(eventloop.Event) {
				reply := s.disp.Dispatch(sess, msg)
				sess.Send(reply)
			},
		})
	}
}

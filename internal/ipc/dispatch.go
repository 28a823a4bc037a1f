package ipc

import (
	"github.com/nullhaven/overseerd/internal/ipcerr"
	"github.com/nullhaven/overseerd/internal/metrics"
	"github.com/nullhaven/overseerd/internal/value"
)

// Handler processes one verb's argument for a given connection and
// produces a reply tree, matching spec §4.4's "handle synchronously;
// produce a reply tree" dispatch contract.
type Handler func(conn *Session, arg value.Value) value.Value

// Dispatcher maps verb names to Handlers, falling back to NotImplemented
// for anything unregistered.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher returns an empty Dispatcher; verbs are registered by the
// supervisor wiring layer via Register.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds verb to fn, overwriting any previous binding.
func (d *Dispatcher) Register(verb string, fn Handler) {
	d.handlers[verb] = fn
}

// Dispatch decodes msg per spec §4.4: a bare string is a no-argument
// verb; a one-entry mapping is verb -> argument. Anything else is
// InvalidArgument. An unregistered verb replies NotImplemented.
func (d *Dispatcher) Dispatch(sess *Session, msg value.Value) value.Value {
	var verb string
	var arg value.Value

	switch msg.Kind {
	case value.KindString:
		verb = msg.Str
		arg = value.Null()
	case value.KindMap:
		if len(msg.Map) != 1 {
			return errReply(ipcerr.New(ipcerr.InvalidArgument, "message must have exactly one verb key"))
		}
		for k, v := range msg.Map {
			verb = k
			arg = v
		}
	default:
		return errReply(ipcerr.New(ipcerr.InvalidArgument, "message must be a string or a single-key mapping"))
	}

	fn, ok := d.handlers[verb]
	if !ok {
		metrics.IPCRequestsTotal.WithLabelValues(verb, "not_implemented").Inc()
		return errReply(ipcerr.New(ipcerr.NotImplemented, "unknown verb: "+verb))
	}
	result := fn(sess, arg)
	metrics.IPCRequestsTotal.WithLabelValues(verb, "ok").Inc()
	return result
}

// errReply wraps any error into the conventional {"errno": N} reply
// shape used by every verb whose "Reply" column in spec §4.4 is a bare
// errno.
func errReply(err error) value.Value {
	return value.Map(map[string]value.Value{
		"errno": value.Int(int64(ipcerr.AsErrno(err))),
	})
}

// okReply is errReply(nil): errno 0.
func okReply() value.Value { return errReply(nil) }

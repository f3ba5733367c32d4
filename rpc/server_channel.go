package rpc

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ananas-project/ananas/reactor"
)

// ServiceLookup resolves a service name to the Service that owns it,
// the way a Server's registry does; a ServerChannel only needs this
// narrow view of the registry, not the whole Server.
type ServiceLookup func(name string) (*Service, bool)

// ServerChannel sits on top of one inbound *reactor.Connection,
// decodes framed Requests, dispatches them to the registered Service's
// Method, and writes back a framed Response.
type ServerChannel struct {
	log    *zap.Logger
	loop   *reactor.Loop
	conn   *reactor.Connection
	lookup ServiceLookup

	// onServiceUsed/onConnClosed feed Server.Stats()'s per-service live
	// connection count; both are nil-safe no-ops when unset (e.g. in
	// tests that construct a ServerChannel directly).
	onServiceUsed func(service string)
	onConnClosed  func(services map[string]bool)
	usedServices  map[string]bool
}

// NewServerChannel wraps conn (already Connected on loop, accepted by
// a Listener) as a ServerChannel dispatching against lookup.
func NewServerChannel(loop *reactor.Loop, conn *reactor.Connection, lookup ServiceLookup, log *zap.Logger) *ServerChannel {
	if log == nil {
		log = zap.NewNop()
	}
	sc := &ServerChannel{log: log, loop: loop, conn: conn, lookup: lookup, usedServices: make(map[string]bool)}
	conn.OnMessage = sc.onMessage
	return sc
}

// SetAccounting wires the hooks a Server uses to maintain
// Server.Stats(); onClosed fires once, with the set of service names
// this connection ever invoked, right before the connection's own
// OnDisconnect (if any) runs.
func (sc *ServerChannel) SetAccounting(onUsed func(service string), onClosed func(services map[string]bool)) {
	sc.onServiceUsed = onUsed
	sc.onConnClosed = onClosed

	prevDisconnect := sc.conn.OnDisconnect
	sc.conn.OnDisconnect = func(c *reactor.Connection) {
		if sc.onConnClosed != nil {
			sc.onConnClosed(sc.usedServices)
		}
		if prevDisconnect != nil {
			prevDisconnect(c)
		}
	}
}

func (sc *ServerChannel) onMessage(_ *reactor.Connection, data []byte) int {
	f, n, err := tryDecodeFrame(data)
	if err != nil {
		sc.log.Warn("rpc: server channel decode failure, closing connection", zap.Error(err))
		sc.conn.ActiveClose()
		return 0
	}
	if f == nil {
		return 0
	}
	sc.dispatch(f)
	return n
}

// serverResponseWriter is the ResponseWriter a dispatch hands to a
// Handler; it may be called from any goroutine (a Handler that
// offloaded itself to a pool.Pool calls back from a worker), so
// writing the reply always re-enters the owning Loop via Execute, and
// only the first of Done/Fail has any effect.
type serverResponseWriter struct {
	sc        *ServerChannel
	requestID int64
	written   atomic.Bool
}

func (rw *serverResponseWriter) Done(rsp Message) {
	if !rw.written.CompareAndSwap(false, true) {
		return
	}
	rw.sc.writeResponse(rw.requestID, rsp, nil)
}

func (rw *serverResponseWriter) Fail(err error) {
	if !rw.written.CompareAndSwap(false, true) {
		return
	}
	rw.sc.writeResponse(rw.requestID, nil, err)
}

// writeResponse builds and sends the Response frame for requestID on
// the loop goroutine; requestID == 0 (a Notify) never gets a wire
// reply, matching ClientChannel's one-way Call path.
func (sc *ServerChannel) writeResponse(requestID int64, rsp Message, rpcErr error) {
	sc.loop.Execute(func() {
		if requestID == 0 {
			return
		}
		reply := &Frame{Kind: KindResponse, RequestID: requestID}
		if rpcErr != nil {
			reply.ErrorCode = errorCode(rpcErr)
			reply.ErrorMsg = rpcErr.Error()
		} else {
			payload, err := rsp.Marshal()
			if err != nil {
				reply.ErrorCode = errorCode(ErrEncodeFail)
				reply.ErrorMsg = ErrEncodeFail.Error()
			} else {
				reply.Payload = payload
			}
		}

		wire, err := encodeFrame(reply)
		if err != nil {
			sc.log.Error("rpc: failed to encode response frame", zap.Error(err))
			return
		}
		sc.conn.SendPacket(wire)
	})
}

// dispatch resolves f's service/method and invokes the handler,
// recovering a panic as ErrThrowInMethod. NoSuchService/NoSuchMethod/
// EmptyRequest/ThrowInMethod reply with a framed error and keep the
// connection open; a payload that fails to decode, or whose method
// can't be determined at all, is a protocol violation and closes the
// connection instead (closesConnection), since the stream itself may
// now be unparseable.
func (sc *ServerChannel) dispatch(f *Frame) {
	rw := &serverResponseWriter{sc: sc, requestID: f.RequestID}

	svc, ok := sc.lookup(f.ServiceName)
	if !ok {
		rw.Fail(ErrNoSuchService)
		return
	}
	if len(f.Payload) == 0 {
		rw.Fail(ErrEmptyRequest)
		return
	}

	method, req, ok := sc.resolveMethod(svc, f)
	if !ok {
		return
	}

	sc.markServiceUsed(f.ServiceName)
	sc.invokeHandler(method.Handler, req, rw)
}

// resolveMethod decodes f's payload into the right request type and
// returns the Method to run it with. When f.MethodName names a
// registered method, that method's own NewRequest decodes the
// payload directly. Otherwise, if svc has a Selector (the bypassed-
// codec case), the payload is decoded once with svc.DecodeDefault and
// Selector picks the method from the decoded message. Any decode
// failure, or a Selector that names no registered method, is a
// protocol violation: it closes the connection and returns ok=false.
func (sc *ServerChannel) resolveMethod(svc *Service, f *Frame) (Method, Message, bool) {
	if f.MethodName != "" {
		method, ok := svc.Method(f.MethodName)
		if !ok {
			rw := &serverResponseWriter{sc: sc, requestID: f.RequestID}
			rw.Fail(ErrNoSuchMethod)
			return Method{}, nil, false
		}
		req := method.NewRequest()
		if err := req.Unmarshal(f.Payload); err != nil {
			sc.closeOnProtocolError(ErrDecodeFail)
			return Method{}, nil, false
		}
		return method, req, true
	}

	if svc.Selector == nil || svc.DecodeDefault == nil {
		rw := &serverResponseWriter{sc: sc, requestID: f.RequestID}
		rw.Fail(ErrNoSuchMethod)
		return Method{}, nil, false
	}

	req := svc.DecodeDefault()
	if err := req.Unmarshal(f.Payload); err != nil {
		sc.closeOnProtocolError(ErrDecodeFail)
		return Method{}, nil, false
	}
	method, ok := svc.Method(svc.Selector(req))
	if !ok {
		sc.closeOnProtocolError(ErrMethodUndetermined)
		return Method{}, nil, false
	}
	return method, req, true
}

func (sc *ServerChannel) markServiceUsed(serviceName string) {
	if sc.usedServices[serviceName] {
		return
	}
	sc.usedServices[serviceName] = true
	if sc.onServiceUsed != nil {
		sc.onServiceUsed(serviceName)
	}
}

// closeOnProtocolError closes the connection if err is one of the
// taxonomy's non-recoverable errors (closesConnection); it is always
// called with such an error here, so the check is just documentation
// of which half of the taxonomy this path belongs to.
func (sc *ServerChannel) closeOnProtocolError(err error) {
	if !closesConnection(err) {
		return
	}
	sc.log.Warn("rpc: protocol violation, closing connection", zap.Error(err))
	sc.conn.ActiveClose()
}

func (sc *ServerChannel) invokeHandler(h Handler, req Message, rw ResponseWriter) {
	defer func() {
		if r := recover(); r != nil {
			sc.log.Error("rpc: method handler panicked", zap.Any("recovered", r))
			rw.Fail(ErrThrowInMethod)
		}
	}()
	h(req, rw)
}

// errorCode maps one of this package's sentinel errors to the int32
// wire code a Response carries; anything unrecognized (a handler's own
// error, for instance) is reported as ErrThrowInMethod's code so the
// caller at least learns "the method failed"; the error's own text
// still travels in the Response's ErrorMsg.
func errorCode(err error) int32 {
	switch err {
	case ErrNoSuchService:
		return 1
	case ErrNoSuchMethod:
		return 2
	case ErrEmptyRequest:
		return 3
	case ErrDecodeFail:
		return 4
	case ErrThrowInMethod:
		return 5
	default:
		return 5
	}
}

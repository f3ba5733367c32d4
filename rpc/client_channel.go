package rpc

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ananas-project/ananas/future"
	"github.com/ananas-project/ananas/reactor"
)

// requestContext tracks one in-flight call: how to decode a matching
// Response's payload into the caller's response value, and how to
// settle the promise Call returned a future for.
type requestContext struct {
	decode func(payload []byte) error
	fail   func(err error)
}

// ClientChannel sits on top of one outbound *reactor.Connection and
// demultiplexes framed Responses back to the Call that is waiting for
// them by request id.
type ClientChannel struct {
	log  *zap.Logger
	loop *reactor.Loop
	conn *reactor.Connection

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]*requestContext
	closed  bool
}

// NewClientChannel wraps conn (already Connected on loop) as a
// ClientChannel; it wires conn's OnMessage/OnDisconnect to this
// channel's framing and pending-call bookkeeping.
func NewClientChannel(loop *reactor.Loop, conn *reactor.Connection, log *zap.Logger) *ClientChannel {
	if log == nil {
		log = zap.NewNop()
	}
	cc := &ClientChannel{
		log:     log,
		loop:    loop,
		conn:    conn,
		pending: make(map[int64]*requestContext),
	}
	conn.OnMessage = cc.onMessage
	conn.OnDisconnect = cc.onDisconnect
	return cc
}

func (cc *ClientChannel) onMessage(_ *reactor.Connection, data []byte) int {
	f, n, err := tryDecodeFrame(data)
	if err != nil {
		cc.log.Warn("rpc: client channel decode failure, closing connection", zap.Error(err))
		cc.conn.ActiveClose()
		return 0
	}
	if f == nil {
		return 0 // not a whole frame yet
	}
	cc.dispatchResponse(f)
	return n
}

func (cc *ClientChannel) dispatchResponse(f *Frame) {
	cc.mu.Lock()
	rc, ok := cc.pending[f.RequestID]
	if ok {
		delete(cc.pending, f.RequestID)
	}
	cc.mu.Unlock()
	if !ok {
		return
	}

	if f.ErrorCode != 0 {
		rc.fail(remoteError{code: f.ErrorCode, msg: f.ErrorMsg})
		return
	}
	if err := rc.decode(f.Payload); err != nil {
		rc.fail(ErrDecodeFail)
		return
	}
	rc.fail(nil)
}

// onDisconnect fails every pending call with ErrConnectionReset —
// exactly the bulk-abandon behaviour a dropped connection requires.
func (cc *ClientChannel) onDisconnect(*reactor.Connection) {
	cc.mu.Lock()
	cc.closed = true
	pending := cc.pending
	cc.pending = make(map[int64]*requestContext)
	cc.mu.Unlock()

	for _, rc := range pending {
		rc.fail(ErrConnectionReset)
	}
}

// remoteError wraps a Response's error code/message so a caller can
// distinguish "the peer ran the method and it returned rpc.Err*" from
// a local transport failure.
type remoteError struct {
	code int32
	msg  string
}

func (e remoteError) Error() string { return e.msg }

// Call invokes method on service, encoding req and decoding the
// reply into a freshly constructed rsp via newRsp. A nil newRsp marks
// a one-way Notify: the request is sent and the returned future
// resolves immediately with a zero value, with no request-id
// bookkeeping at all.
func Call[RSP Message](cc *ClientChannel, service, method string, req Message, newRsp func() RSP) *future.Future[RSP] {
	return callWithDeadline(cc, service, method, req, newRsp, 0)
}

// CallWithTimeout is Call plus an OnTimeout race: if d elapses before
// a Response arrives, the future resolves with future.ErrTimeout and the
// pending entry is dropped so a late Response is ignored rather than
// leaking in the pending map forever.
func CallWithTimeout[RSP Message](cc *ClientChannel, service, method string, req Message, newRsp func() RSP, d time.Duration) *future.Future[RSP] {
	return callWithDeadline(cc, service, method, req, newRsp, d)
}

func callWithDeadline[RSP Message](cc *ClientChannel, service, method string, req Message, newRsp func() RSP, d time.Duration) *future.Future[RSP] {
	prom := future.NewPromise[RSP]()
	fut, _ := prom.Future()

	payload, err := req.Marshal()
	if err != nil {
		prom.SetError(ErrEncodeFail)
		return fut
	}

	if newRsp == nil {
		cc.sendNotify(service, method, payload)
		var zero RSP
		prom.SetValue(zero)
		return fut
	}

	id := cc.nextID.Add(1)
	rsp := newRsp()

	rc := &requestContext{
		decode: func(payload []byte) error { return rsp.Unmarshal(payload) },
		fail: func(err error) {
			if err != nil {
				prom.SetError(err)
			} else {
				prom.SetValue(rsp)
			}
		},
	}

	cc.mu.Lock()
	if cc.closed {
		cc.mu.Unlock()
		prom.SetError(ErrConnectionLost)
		return fut
	}
	cc.pending[id] = rc
	cc.mu.Unlock()

	frame := &Frame{Kind: KindRequest, RequestID: id, ServiceName: service, MethodName: method, Payload: payload}
	wire, err := encodeFrame(frame)
	if err != nil {
		cc.mu.Lock()
		delete(cc.pending, id)
		cc.mu.Unlock()
		prom.SetError(ErrEncodeFail)
		return fut
	}
	cc.loop.Execute(func() { cc.conn.SendPacket(wire) })

	if d > 0 {
		fut.OnTimeout(d, cc.loop.Executor(), func() {
			cc.mu.Lock()
			delete(cc.pending, id)
			cc.mu.Unlock()
		})
	}
	return fut
}

func (cc *ClientChannel) sendNotify(service, method string, payload []byte) {
	frame := &Frame{Kind: KindRequest, RequestID: 0, ServiceName: service, MethodName: method, Payload: payload}
	wire, err := encodeFrame(frame)
	if err != nil {
		return
	}
	cc.loop.Execute(func() { cc.conn.SendPacket(wire) })
}

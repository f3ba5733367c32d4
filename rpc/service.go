package rpc

import "sync"

// ResponseWriter is how a Handler reports its outcome. Done/Fail may
// be called from any goroutine — a handler that wants to run off the
// loop thread (e.g. submitted to a pool.Pool) captures rw and calls
// back later; both methods re-enter the owning *reactor.Loop via
// Execute before the response frame is encoded and written, and only
// the first call of either has any effect.
type ResponseWriter interface {
	Done(rsp Message)
	Fail(err error)
}

// Handler processes one decoded request, reporting its outcome
// through rw exactly once. A panic inside a Handler is recovered by
// the ServerChannel and turned into ErrThrowInMethod.
type Handler func(req Message, rw ResponseWriter)

// Method is one callable RPC method: a constructor for its request
// type (so the server channel can allocate the right concrete type
// before decoding into it) and the handler that processes it.
type Method struct {
	Name       string
	NewRequest func() Message
	Handler    Handler
}

// Service is a named group of Methods, the Go analogue of a
// google.protobuf.Service instance registered with an RpcService in
// the original.
type Service struct {
	Name string

	mu      sync.RWMutex
	methods map[string]Method

	// Selector and DecodeDefault handle the bypassed-codec case
	// (spec.md §"Client pipeline (send)"): a custom frame-to-bytes
	// layer that doesn't carry a MethodName. When set, a Frame that
	// arrives with an empty MethodName is decoded with DecodeDefault
	// instead of a per-method request type, and Selector is asked
	// which registered Method the decoded message belongs to.
	Selector      MethodSelector
	DecodeDefault func() Message
}

// NewService creates an empty, named Service.
func NewService(name string) *Service {
	return &Service{Name: name, methods: make(map[string]Method)}
}

// AddMethod registers m under its own Name.
func (s *Service) AddMethod(m Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[m.Name] = m
}

// Method looks up a registered method by name.
func (s *Service) Method(name string) (Method, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.methods[name]
	return m, ok
}

// MethodSelector lets a Service determine which of its Methods a
// decoded request belongs to when the frame's MethodName field is
// bypassed by a custom codec (see Service.Selector); most callers
// never need this since ClientChannel always fills MethodName.
type MethodSelector func(req Message) string

package rpc

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ananas-project/ananas/reactor"
)

// ServerConfig controls optional Server behaviour.
type ServerConfig struct {
	// DisableHealthService skips auto-registering the built-in Health
	// service under HealthServiceName.
	DisableHealthService bool
}

// Server owns a registry of Services and a *reactor.Group of worker
// loops; each accepted connection is handed to the group's next loop
// round-robin and wrapped in a ServerChannel dispatching against the
// registry.
type Server struct {
	log   *zap.Logger
	group *reactor.Group

	mu       sync.RWMutex
	services map[string]*Service
	conns    map[string]*int64 // service name -> live connection count

	listeners []*reactor.Listener
}

// NewServer creates a Server driven by group's loops. Unless
// cfg.DisableHealthService, the built-in health service is registered
// automatically.
func NewServer(group *reactor.Group, cfg ServerConfig, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		log:      log,
		group:    group,
		services: make(map[string]*Service),
		conns:    make(map[string]*int64),
	}
	if !cfg.DisableHealthService {
		s.Register(NewHealthService())
	}
	return s
}

// Register adds svc to the registry under svc.Name, replacing any
// previous service registered with the same name.
func (s *Server) Register(svc *Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.Name] = svc
	if _, ok := s.conns[svc.Name]; !ok {
		var n int64
		s.conns[svc.Name] = &n
	}
}

func (s *Server) lookup(name string) (*Service, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[name]
	return svc, ok
}

// Listen binds addr and starts accepting connections, handing each one
// to the next loop in the server's Group.
func (s *Server) Listen(addr string) error {
	loop := s.group.Next()
	listener, err := reactor.Listen(loop, addr, s.log)
	if err != nil {
		return err
	}
	listener.OnAccept = func(fd int, peer reactor.Endpoint) {
		target := s.group.Next()
		target.Execute(func() {
			s.acceptOn(target, fd, peer)
		})
	}
	listener.OnAcceptError = func(err error) {
		s.log.Error("rpc: listener failed", zap.Error(err))
	}

	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()
	return nil
}

func (s *Server) acceptOn(loop *reactor.Loop, fd int, peer reactor.Endpoint) {
	conn := reactor.NewConnection(loop, fd, peer, s.log)
	sc := NewServerChannel(loop, conn, s.lookup, s.log)
	sc.SetAccounting(s.trackServiceUse, func(services map[string]bool) {
		s.log.Debug("rpc: connection closed", zap.Stringer("peer", peer))
		s.releaseServiceUse(services)
	})

	if err := loop.Register(conn); err != nil {
		s.log.Error("rpc: failed to register accepted connection", zap.Error(err))
		return
	}
}

func (s *Server) trackServiceUse(service string) {
	s.mu.RLock()
	n, ok := s.conns[service]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(n, 1)
	}
}

func (s *Server) releaseServiceUse(services map[string]bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name := range services {
		if n, ok := s.conns[name]; ok {
			atomic.AddInt64(n, -1)
		}
	}
}

// Close unregisters every listener this server owns.
func (s *Server) Close() error {
	s.mu.Lock()
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	var firstErr error
	for _, l := range listeners {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats reports, per service name, how many currently open connections
// have invoked that service at least once — a coarse keepalive signal
// a caller can use to notice a service has gone quiet.
func (s *Server) Stats() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.conns))
	for name, n := range s.conns {
		out[name] = atomic.LoadInt64(n)
	}
	return out
}

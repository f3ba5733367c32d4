package rpc

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ananas-project/ananas/future"
	"github.com/ananas-project/ananas/reactor"
)

// ServiceStub resolves endpoints for one remote service (via a
// Resolver or a fixed list) and caches one ClientChannel per
// (loop, endpoint) pair, dialing lazily on first use.
type ServiceStub struct {
	log      *zap.Logger
	service  string
	resolver Resolver

	connectTimeout time.Duration

	mu       sync.Mutex
	channels map[cacheKey]*future.Future[*ClientChannel]
}

type cacheKey struct {
	loop *reactor.Loop
	peer reactor.Endpoint
}

// NewServiceStub creates a stub for service, resolved through
// resolver (e.g. a StaticResolver for a hardcoded endpoint list).
func NewServiceStub(service string, resolver Resolver, log *zap.Logger) *ServiceStub {
	if log == nil {
		log = zap.NewNop()
	}
	return &ServiceStub{
		log:            log,
		service:        service,
		resolver:       resolver,
		connectTimeout: reactor.DefaultConnectTimeout,
		channels:       make(map[cacheKey]*future.Future[*ClientChannel]),
	}
}

// Channel returns a ClientChannel to one of the service's endpoints,
// dialing it from loop on first use and caching the result for
// subsequent calls on the same loop. Resolution picks the resolver's
// first endpoint; a caller that needs load balancing across several
// endpoints should run multiple ServiceStubs, one per endpoint.
func (s *ServiceStub) Channel(loop *reactor.Loop) *future.Future[*ClientChannel] {
	endpoints, err := s.resolver.Resolve(s.service)
	if err != nil {
		return future.NewFailed[*ClientChannel](err)
	}
	if len(endpoints) == 0 {
		return future.NewFailed[*ClientChannel](ErrNoAvailableEndpoint)
	}
	return s.channelFor(loop, endpoints[0])
}

func (s *ServiceStub) channelFor(loop *reactor.Loop, peer reactor.Endpoint) *future.Future[*ClientChannel] {
	key := cacheKey{loop: loop, peer: peer}

	s.mu.Lock()
	if fut, ok := s.channels[key]; ok {
		s.mu.Unlock()
		return fut
	}

	prom := future.NewPromise[*ClientChannel]()
	fut, _ := prom.Future()
	s.channels[key] = fut
	s.mu.Unlock()

	connector, err := reactor.Connect(loop, peer, s.connectTimeout, s.log)
	if err != nil {
		s.evict(key)
		prom.SetError(err)
		return fut
	}

	connector.OnConnected = func(fd int, peer reactor.Endpoint) {
		conn := reactor.NewConnection(loop, fd, peer, s.log)
		cc := NewClientChannel(loop, conn, s.log)

		origDisconnect := conn.OnDisconnect
		conn.OnDisconnect = func(c *reactor.Connection) {
			s.evict(key)
			if origDisconnect != nil {
				origDisconnect(c)
			}
		}

		if err := loop.Register(conn); err != nil {
			s.evict(key)
			prom.SetError(err)
			return
		}
		prom.SetValue(cc)
	}
	connector.OnFail = func(_ reactor.Endpoint, err error) {
		s.evict(key)
		prom.SetError(err)
	}

	return fut
}

func (s *ServiceStub) evict(key cacheKey) {
	s.mu.Lock()
	delete(s.channels, key)
	s.mu.Unlock()
}

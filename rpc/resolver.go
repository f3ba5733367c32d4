package rpc

import "github.com/ananas-project/ananas/reactor"

// Resolver decouples a ServiceStub from how endpoints for a service
// name are discovered. The name-service wire protocol itself
// (protobuf_rpc/name_service_protocol/* in the original) is out of
// scope; Resolver is the narrow seam a caller plugs a real one into.
type Resolver interface {
	Resolve(service string) ([]reactor.Endpoint, error)
}

// StaticResolver resolves every service name to the same fixed
// endpoint list, for callers that already know where their peers are.
type StaticResolver struct {
	Endpoints []reactor.Endpoint
}

func (r StaticResolver) Resolve(string) ([]reactor.Endpoint, error) {
	if len(r.Endpoints) == 0 {
		return nil, ErrNoAvailableEndpoint
	}
	return r.Endpoints, nil
}

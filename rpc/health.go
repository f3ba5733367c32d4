package rpc

import "google.golang.org/protobuf/encoding/protowire"

// HealthServiceName is the name a Server registers the built-in
// health service under, grounded on protobuf_rpc/HealthService.cc's
// trivial Ping method.
const HealthServiceName = "ananas.rpc.Health"

const healthEchoField = protowire.Number(1)

// PingRequest/PingResponse both just carry an opaque echo string —
// enough to prove round-trip liveness through the whole channel
// stack without needing a real protoc-generated type.
type PingRequest struct{ Echo string }

func (r *PingRequest) Marshal() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, healthEchoField, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(r.Echo))
	return b, nil
}

func (r *PingRequest) Unmarshal(data []byte) error {
	return unmarshalEcho(data, &r.Echo)
}

type PingResponse struct{ Echo string }

func (r *PingResponse) Marshal() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, healthEchoField, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(r.Echo))
	return b, nil
}

func (r *PingResponse) Unmarshal(data []byte) error {
	return unmarshalEcho(data, &r.Echo)
}

func unmarshalEcho(data []byte, out *string) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrDecodeFail
		}
		data = data[n:]
		if num == healthEchoField {
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ErrDecodeFail
			}
			*out = string(v)
			data = data[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return ErrDecodeFail
		}
		data = data[n:]
	}
	return nil
}

// NewHealthService builds the Service a Server registers by default
// unless disabled; its single Ping method just echoes the request.
func NewHealthService() *Service {
	s := NewService(HealthServiceName)
	s.AddMethod(Method{
		Name:       "Ping",
		NewRequest: func() Message { return &PingRequest{} },
		Handler: func(req Message, rw ResponseWriter) {
			ping := req.(*PingRequest)
			rw.Done(&PingResponse{Echo: ping.Echo})
		},
	})
	return s
}

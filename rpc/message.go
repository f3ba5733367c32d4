package rpc

// Message is the narrow marshalling contract a request/response
// payload must satisfy. Real protoc-generated types satisfy this via
// proto.Marshal/proto.Unmarshal trivially; it is declared here rather
// than importing proto.Message directly so this package's built-in
// services (health.go) don't need a full protoreflect implementation
// for two one-field messages.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

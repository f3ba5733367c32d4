// Package rpc implements the length-prefixed request/response channel
// layer on top of reactor.Connection: a wire Frame (hand-written on
// protowire, since no protoc-generated stubs are available here),
// client/server channel split, request-id demultiplexing, and method
// dispatch.
package rpc

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Kind discriminates a Frame's oneof — Request or Response — the way
// the original's protobuf RpcMessage{ oneof { Request; Response } }
// does.
type Kind uint32

const (
	KindRequest Kind = iota
	KindResponse
)

const (
	fieldKind         = protowire.Number(1)
	fieldRequestID    = protowire.Number(2)
	fieldServiceName  = protowire.Number(3)
	fieldMethodName   = protowire.Number(4)
	fieldPayload      = protowire.Number(5)
	fieldErrorCode    = protowire.Number(6)
	fieldErrorMessage = protowire.Number(7)
)

// Frame is the decoded wire envelope carried by every message on an
// rpc connection, after the 4-byte length prefix has been stripped.
type Frame struct {
	Kind        Kind
	RequestID   int64
	ServiceName string // request only
	MethodName  string // request only
	Payload     []byte // request: marshalled request message; response: marshalled response message (absent on error)
	ErrorCode   int32  // response only; zero means success
	ErrorMsg    string // response only
}

// Marshal encodes f as a protobuf-wire-compatible byte string (no
// length prefix — see wire.go for the framing layer that adds one).
func (f *Frame) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Kind))
	b = protowire.AppendTag(b, fieldRequestID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.RequestID))

	if f.Kind == KindRequest {
		if f.ServiceName != "" {
			b = protowire.AppendTag(b, fieldServiceName, protowire.BytesType)
			b = protowire.AppendBytes(b, []byte(f.ServiceName))
		}
		if f.MethodName != "" {
			b = protowire.AppendTag(b, fieldMethodName, protowire.BytesType)
			b = protowire.AppendBytes(b, []byte(f.MethodName))
		}
	}
	if len(f.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Payload)
	}
	if f.Kind == KindResponse {
		if f.ErrorCode != 0 {
			b = protowire.AppendTag(b, fieldErrorCode, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(uint32(f.ErrorCode)))
		}
		if f.ErrorMsg != "" {
			b = protowire.AppendTag(b, fieldErrorMessage, protowire.BytesType)
			b = protowire.AppendBytes(b, []byte(f.ErrorMsg))
		}
	}
	return b
}

// ErrMalformedFrame is returned by UnmarshalFrame when the bytes
// don't parse as a valid wire-format message.
var ErrMalformedFrame = errors.New("rpc: malformed frame")

// UnmarshalFrame decodes a Frame previously produced by Marshal.
// Unknown fields are skipped, matching standard protobuf
// forward-compatibility rules.
func UnmarshalFrame(data []byte) (*Frame, error) {
	f := &Frame{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, ErrMalformedFrame
		}
		data = data[n:]

		switch num {
		case fieldKind:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			f.Kind = Kind(v)
			data = data[n:]
		case fieldRequestID:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			f.RequestID = int64(v)
			data = data[n:]
		case fieldServiceName:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			f.ServiceName = string(v)
			data = data[n:]
		case fieldMethodName:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			f.MethodName = string(v)
			data = data[n:]
		case fieldPayload:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			f.Payload = append([]byte(nil), v...)
			data = data[n:]
		case fieldErrorCode:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			f.ErrorCode = int32(uint32(v))
			data = data[n:]
		case fieldErrorMessage:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			f.ErrorMsg = string(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, ErrMalformedFrame
			}
			data = data[n:]
		}
	}
	return f, nil
}

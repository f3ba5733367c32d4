package rpc

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// lengthPrefixSize is the size of the little-endian length prefix
// that precedes every Frame on the wire.
const lengthPrefixSize = 4

// minFrameLen/maxFrameLen bound the total on-wire size (prefix
// included); anything outside this range is a protocol violation and
// the connection carrying it is closed.
const (
	minFrameLen = lengthPrefixSize
	maxFrameLen = 100 << 20
)

// ErrFrameTooSmall and ErrFrameTooLarge are the two protocol
// violations that end a connection rather than just failing one
// call.
var (
	ErrFrameTooSmall = errors.New("rpc: frame length <= prefix size")
	ErrFrameTooLarge = errors.New("rpc: frame length exceeds maximum")
)

// encodeFrame renders f as "4-byte LE total length (prefix included)
// + marshalled Frame".
func encodeFrame(f *Frame) ([]byte, error) {
	body := f.Marshal()
	total := lengthPrefixSize + len(body)
	if total >= maxFrameLen {
		return nil, ErrFrameTooLarge
	}

	out := make([]byte, total)
	binary.LittleEndian.PutUint32(out, uint32(total))
	copy(out[lengthPrefixSize:], body)
	return out, nil
}

// tryDecodeFrame attempts to split one length-prefixed Frame off the
// front of buf. It returns the decoded Frame, the number of bytes it
// consumed; if buf doesn't yet hold a whole frame it returns a nil
// Frame with consumed 0 and a nil error. A
// malformed length (too small or absurdly large) is a protocol error
// rather than "not enough data yet".
func tryDecodeFrame(buf []byte) (f *Frame, consumed int, err error) {
	if len(buf) < lengthPrefixSize {
		return nil, 0, nil
	}
	total := int(binary.LittleEndian.Uint32(buf))
	if total <= minFrameLen {
		return nil, 0, ErrFrameTooSmall
	}
	if total >= maxFrameLen {
		return nil, 0, ErrFrameTooLarge
	}
	if len(buf) < total {
		return nil, 0, nil
	}

	f, err = UnmarshalFrame(buf[lengthPrefixSize:total])
	if err != nil {
		return nil, 0, err
	}
	return f, total, nil
}

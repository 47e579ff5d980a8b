package gopro

import (
	"errors"
	"fmt"
)

// GoPro BLE packets are at most 20 bytes on the wire. Logical payloads larger
// than one packet are split into a first-of-multi frame carrying the total
// length followed by continuation frames.
const MaxPacketSize = 20

// Header layout, first byte of every frame:
//
//	bit 7 set            -> continuation frame
//	bits 6..5 = 01       -> first-of-multi, 13-bit length in bits 4..0 + next byte
//	bits 6..5 = 11       -> first-of-multi, 16-bit length in the next two bytes
//	bits 7..5 = 000      -> single packet, length in bits 4..0
const (
	hdrContinuation = 0x80
	hdrExtendedMask = 0x60
	hdrFirstMask    = 0x20
	hdrLengthMask   = 0x1F

	// Largest payload that still fits a single packet: one header byte
	// plus 18 data bytes leaves the frame under the 20-byte cap.
	maxSinglePayload = 18

	// 13-bit length limit for the short first-of-multi header.
	maxShortLength = 1<<13 - 1
)

var (
	// ErrPayloadTooLarge is returned for payloads beyond the 16-bit length field.
	ErrPayloadTooLarge = errors.New("payload too large for GoPro framing")

	// ErrOrphanContinuation marks a continuation frame that arrived with no
	// open reassembly buffer. The camera emits these occasionally after an
	// unrelated message completes; callers log and drop, they do not fail.
	ErrOrphanContinuation = errors.New("continuation frame without open reassembly buffer")

	// ErrShortFrame is returned when a frame is too short for its own header.
	ErrShortFrame = errors.New("frame shorter than its header")
)

// Fragment splits a logical payload into wire frames. The empty payload
// encodes as a single zero-length frame.
func Fragment(payload []byte) ([][]byte, error) {
	n := len(payload)

	if n == 0 {
		return [][]byte{{0x00}}, nil
	}

	if n <= maxSinglePayload {
		frame := make([]byte, 0, n+1)
		frame = append(frame, byte(n))
		frame = append(frame, payload...)
		return [][]byte{frame}, nil
	}

	var header []byte
	switch {
	case n < maxShortLength:
		v := uint16(n) | 0x2000
		header = []byte{byte(v >> 8), byte(v)}
	case n < 1<<16-1:
		header = []byte{hdrExtendedMask, byte(n >> 8), byte(n)}
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}

	var frames [][]byte
	pos := 0
	first := true
	for pos < n {
		var frame []byte
		if first {
			frame = append(frame, header...)
			first = false
		} else {
			frame = append(frame, hdrContinuation)
		}
		space := MaxPacketSize - len(frame)
		chunk := payload[pos:min(pos+space, n)]
		frame = append(frame, chunk...)
		frames = append(frames, frame)
		pos += len(chunk)
	}
	return frames, nil
}

// Reassembler accumulates frames for a single characteristic. Each
// characteristic carries its own independent message stream, so callers keep
// one Reassembler per characteristic UUID.
type Reassembler struct {
	expected int
	buf      []byte
	open     bool
}

// Reset discards any partially accumulated message.
func (r *Reassembler) Reset() {
	r.expected = 0
	r.buf = nil
	r.open = false
}

// Feed consumes one raw frame. When the frame completes a logical payload the
// payload is returned with done=true. A continuation with no open buffer
// returns ErrOrphanContinuation; the reassembly state of the characteristic
// is unchanged and the caller should drop the frame.
func (r *Reassembler) Feed(raw []byte) (payload []byte, done bool, err error) {
	if len(raw) == 0 {
		return nil, false, ErrShortFrame
	}
	header := raw[0]

	switch {
	case header&hdrContinuation != 0:
		if !r.open {
			return nil, false, ErrOrphanContinuation
		}
		r.buf = append(r.buf, raw[1:]...)
		return r.finishIfComplete()

	case header&hdrExtendedMask == hdrExtendedMask:
		if len(raw) < 3 {
			return nil, false, fmt.Errorf("%w: extended first-of-multi", ErrShortFrame)
		}
		r.open = true
		r.expected = int(raw[1])<<8 | int(raw[2])
		r.buf = append([]byte(nil), raw[3:]...)
		return r.finishIfComplete()

	case header&hdrFirstMask != 0:
		if len(raw) < 2 {
			return nil, false, fmt.Errorf("%w: first-of-multi", ErrShortFrame)
		}
		r.open = true
		r.expected = int(header&hdrLengthMask)<<8 | int(raw[1])
		r.buf = append([]byte(nil), raw[2:]...)
		return r.finishIfComplete()

	default:
		n := int(header & hdrLengthMask)
		if len(raw)-1 < n {
			return nil, false, fmt.Errorf("%w: single packet claims %d bytes", ErrShortFrame, n)
		}
		return raw[1 : 1+n], true, nil
	}
}

// finishIfComplete emits the payload once enough bytes have accumulated. A
// first fragment that alone satisfies the total length completes immediately
// without waiting for a continuation.
func (r *Reassembler) finishIfComplete() ([]byte, bool, error) {
	if len(r.buf) < r.expected {
		return nil, false, nil
	}
	payload := r.buf[:r.expected]
	r.Reset()
	return payload, true, nil
}

// Pending reports whether a partial message is buffered.
func (r *Reassembler) Pending() bool {
	return r.open
}
